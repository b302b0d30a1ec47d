// Package registry manages groups, cycles and member records. It owns
// identity linkage (one external identity to at most one member) and the
// cycle calendar invariants; the contribution ledger lives elsewhere.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kitty/internal/core"
)

// Store is the persistence the registry needs. Implementations must
// enforce identity uniqueness atomically on CreateMember and return
// core.ErrDuplicateIdentity on violation.
type Store interface {
	CreateGroup(ctx context.Context, g core.Group) error
	GetGroup(ctx context.Context, id string) (core.Group, error)
	CreateCycle(ctx context.Context, c core.Cycle) error
	GetCycle(ctx context.Context, id string) (core.Cycle, error)
	CyclesByGroup(ctx context.Context, groupID string) ([]core.Cycle, error)
	CreateMember(ctx context.Context, m core.Member) error
	GetMember(ctx context.Context, id string) (core.Member, error)
	ListMembers(ctx context.Context, groupID string) ([]core.Member, error)
	SetMemberActive(ctx context.Context, id string, active bool) error
}

// Service exposes registry operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateGroup registers a new savings group.
func (s *Service) CreateGroup(ctx context.Context, name, description string, expected core.Money) (core.Group, error) {
	g := core.Group{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Expected:    expected,
		CreatedAt:   s.now().UTC(),
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}
	slog.InfoContext(ctx, "Group created", "group_id", g.ID, "name", g.Name)
	return g, nil
}

// GetGroup returns a group by ID, or core.ErrNotFound.
func (s *Service) GetGroup(ctx context.Context, id string) (core.Group, error) {
	return s.store.GetGroup(ctx, id)
}

// AddCycle appends a new cycle to a group's calendar. The cycle number is
// assigned sequentially; a zero expected amount inherits the group default.
// Overlapping an existing cycle fails with core.ErrCycleOverlap.
func (s *Service) AddCycle(ctx context.Context, groupID string, start, end core.Date, expected core.Money) (core.Cycle, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return core.Cycle{}, fmt.Errorf("resolve group: %w", err)
	}
	existing, err := s.store.CyclesByGroup(ctx, groupID)
	if err != nil {
		return core.Cycle{}, fmt.Errorf("list cycles: %w", err)
	}

	if expected.Cents == 0 {
		expected = group.Expected
	}
	c := core.Cycle{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Number:    len(existing) + 1,
		StartDate: start,
		EndDate:   end,
		Expected:  expected,
		Status:    statusForDates(start, end, core.DateOf(s.now())),
	}
	if err := c.Validate(); err != nil {
		return core.Cycle{}, err
	}
	for _, other := range existing {
		if c.Overlaps(other) {
			return core.Cycle{}, fmt.Errorf("cycle %d (%s..%s): %w",
				other.Number, other.StartDate.Format("2006-01-02"), other.EndDate.Format("2006-01-02"),
				core.ErrCycleOverlap)
		}
	}
	if err := s.store.CreateCycle(ctx, c); err != nil {
		return core.Cycle{}, fmt.Errorf("create cycle: %w", err)
	}
	slog.InfoContext(ctx, "Cycle added",
		"group_id", groupID, "cycle_id", c.ID, "number", c.Number,
		"expected_cents", c.Expected.Cents, "status", string(c.Status))
	return c, nil
}

// GetCycle returns a cycle by ID, or core.ErrNotFound.
func (s *Service) GetCycle(ctx context.Context, id string) (core.Cycle, error) {
	return s.store.GetCycle(ctx, id)
}

// CyclesByGroup returns a group's cycles ordered by number.
func (s *Service) CyclesByGroup(ctx context.Context, groupID string) ([]core.Cycle, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("resolve group: %w", err)
	}
	return s.store.CyclesByGroup(ctx, groupID)
}

// RegisterMember links an identity to a group. Each identity may hold at
// most one member record; a second registration fails with
// core.ErrDuplicateIdentity and leaves the registry unchanged.
func (s *Service) RegisterMember(ctx context.Context, identityID, groupID, fullName, phone string, joinDate core.Date) (core.Member, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return core.Member{}, fmt.Errorf("resolve group: %w", err)
	}
	m := core.Member{
		ID:          uuid.New().String(),
		IdentityID:  identityID,
		GroupID:     groupID,
		FullName:    fullName,
		PhoneNumber: phone,
		JoinDate:    joinDate,
		Active:      true,
	}
	if err := m.Validate(); err != nil {
		return core.Member{}, err
	}
	if err := s.store.CreateMember(ctx, m); err != nil {
		return core.Member{}, fmt.Errorf("create member: %w", err)
	}
	slog.InfoContext(ctx, "Member registered",
		"member_id", m.ID, "group_id", groupID, "identity_id", identityID)
	return m, nil
}

// GetMember returns a member by ID, or core.ErrNotFound.
func (s *Service) GetMember(ctx context.Context, id string) (core.Member, error) {
	return s.store.GetMember(ctx, id)
}

// ListMembers returns a group's members ordered by join date.
func (s *Service) ListMembers(ctx context.Context, groupID string) ([]core.Member, error) {
	return s.store.ListMembers(ctx, groupID)
}

// DeactivateMember marks a member inactive. History is kept: the member's
// contributions remain in the ledger untouched.
func (s *Service) DeactivateMember(ctx context.Context, id string) error {
	if err := s.store.SetMemberActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate member: %w", err)
	}
	slog.InfoContext(ctx, "Member deactivated", "member_id", id)
	return nil
}

func statusForDates(start, end, today core.Date) core.CycleStatus {
	switch {
	case today.Before(start.Time):
		return core.CyclePlanned
	case today.After(end.Time):
		return core.CycleCompleted
	default:
		return core.CycleActive
	}
}
