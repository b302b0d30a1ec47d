// Package memory is an in-process store used by the memory backend and
// by unit tests. It implements the same store contracts as the SQLite
// repository, guarded by a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"

	"kitty/internal/core"
	"kitty/internal/ledger"
)

type Store struct {
	mu            sync.Mutex
	groups        map[string]core.Group
	cycles        map[string]core.Cycle
	members       map[string]core.Member
	byIdentity    map[string]string // identity ID -> member ID
	contributions []core.Contribution
	nextID        int64
}

func New() *Store {
	return &Store{
		groups:     make(map[string]core.Group),
		cycles:     make(map[string]core.Cycle),
		members:    make(map[string]core.Member),
		byIdentity: make(map[string]string),
		nextID:     1,
	}
}

func (s *Store) CreateGroup(_ context.Context, g core.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, core.ErrNotFound
	}
	return g, nil
}

func (s *Store) CreateCycle(_ context.Context, c core.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[c.GroupID]; !ok {
		return core.ErrUnknownGroup
	}
	s.cycles[c.ID] = c
	return nil
}

func (s *Store) GetCycle(_ context.Context, id string) (core.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return core.Cycle{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) CyclesByGroup(_ context.Context, groupID string) ([]core.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Cycle
	for _, c := range s.cycles {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// UpdateCycleStatus transitions a cycle's lifecycle status. Used by the
// cycle worker; contribution rows are never touched.
func (s *Store) UpdateCycleStatus(_ context.Context, id string, status core.CycleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return core.ErrNotFound
	}
	c.Status = status
	s.cycles[id] = c
	return nil
}

func (s *Store) CreateMember(_ context.Context, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byIdentity[m.IdentityID]; taken {
		return core.ErrDuplicateIdentity
	}
	s.members[m.ID] = m
	s.byIdentity[m.IdentityID] = m.ID
	return nil
}

func (s *Store) GetMember(_ context.Context, id string) (core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return core.Member{}, core.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMembers(_ context.Context, groupID string) ([]core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Member
	for _, m := range s.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinDate.Equal(out[j].JoinDate.Time) {
			return out[i].JoinDate.Before(out[j].JoinDate.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SetMemberActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return core.ErrNotFound
	}
	m.Active = active
	s.members[id] = m
	return nil
}

// InsertContribution resolves references and appends the entry under one
// lock acquisition, mirroring the single-transaction insert contract.
func (s *Store) InsertContribution(_ context.Context, c core.Contribution) (core.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[c.MemberID]; !ok {
		return core.Contribution{}, core.ErrUnknownMember
	}
	cycle, ok := s.cycles[c.CycleID]
	if !ok {
		return core.Contribution{}, core.ErrUnknownCycle
	}
	c.ID = s.nextID
	s.nextID++
	c.GroupID = cycle.GroupID
	s.contributions = append(s.contributions, c)
	return c, nil
}

func (s *Store) ListContributions(_ context.Context, f ledger.Filter) ([]core.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Contribution
	for _, c := range s.contributions {
		if f.MemberID != "" && c.MemberID != f.MemberID {
			continue
		}
		if f.CycleID != "" && c.CycleID != f.CycleID {
			continue
		}
		if f.GroupID != "" && c.GroupID != f.GroupID {
			continue
		}
		if !f.From.IsZero() && c.RecordedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && c.RecordedAt.After(f.To) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Len reports the number of ledger entries, for tests asserting that
// failed writes leave the store unchanged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contributions)
}

// MemberCount reports the number of member records.
func (s *Store) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
