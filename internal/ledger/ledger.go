// Package ledger is the append-only contribution record. Entries are
// write-once facts: there is no update or delete path anywhere in the
// package, which is what keeps the ledger auditable.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kitty/internal/core"
)

// Filter narrows a ledger listing. Zero-value fields are ignored.
type Filter struct {
	MemberID string
	CycleID  string
	GroupID  string
	// From and To bound RecordedAt, inclusive. Zero times are open ends.
	From time.Time
	To   time.Time
}

// Store persists contributions.
//
// InsertContribution must resolve the member and cycle references and
// append the row in a single transaction (atomic insert, never
// read-modify-write), returning core.ErrUnknownMember or
// core.ErrUnknownCycle when a reference does not resolve. The stored row
// comes back with its assigned ID and denormalized group reference.
type Store interface {
	InsertContribution(ctx context.Context, c core.Contribution) (core.Contribution, error)
	ListContributions(ctx context.Context, f Filter) ([]core.Contribution, error)
}

// Service exposes ledger operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// RecordContribution validates and appends a ledger entry. A negative
// amount fails with core.ErrInvalidAmount before anything is written, so
// a failed call leaves the store unchanged.
func (s *Service) RecordContribution(ctx context.Context, memberID, cycleID string, amount core.Money, method core.PaymentMethod, recorder string) (core.Contribution, error) {
	if method == "" {
		method = core.MethodBank
	}
	c := core.Contribution{
		MemberID:   memberID,
		CycleID:    cycleID,
		Amount:     amount,
		Method:     method,
		RecordedBy: recorder,
		RecordedAt: s.now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return core.Contribution{}, err
	}

	stored, err := s.store.InsertContribution(ctx, c)
	if err != nil {
		return core.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}

	slog.InfoContext(ctx, "Contribution recorded",
		"contribution_id", stored.ID,
		"member_id", stored.MemberID,
		"cycle_id", stored.CycleID,
		"amount_cents", stored.Amount.Cents,
		"method", string(stored.Method),
		"recorded_by", stored.RecordedBy)
	return stored, nil
}

// ListContributions returns matching entries ordered by RecordedAt
// ascending, IDs breaking ties. The sequence is finite and a repeated
// call with the same filter restarts from the beginning.
func (s *Service) ListContributions(ctx context.Context, f Filter) ([]core.Contribution, error) {
	entries, err := s.store.ListContributions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return entries, nil
}
