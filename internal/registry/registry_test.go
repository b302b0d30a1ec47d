package registry_test

import (
	"context"
	"errors"
	"testing"

	"kitty/internal/core"
	"kitty/internal/registry"
	"kitty/internal/storage/memory"
)

func newService(t *testing.T) (*registry.Service, *memory.Store, core.Group) {
	t.Helper()
	store := memory.New()
	svc := registry.New(store)
	group, err := svc.CreateGroup(context.Background(), "Fund", "village savings", core.Money{Cents: 10000})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return svc, store, group
}

func TestCreateGroupRequiresName(t *testing.T) {
	svc := registry.New(memory.New())
	_, err := svc.CreateGroup(context.Background(), "  ", "", core.Money{Cents: 100})
	if !errors.Is(err, core.ErrEmptyName) {
		t.Fatalf("err = %v, want ErrEmptyName", err)
	}
}

func TestRegisterMember(t *testing.T) {
	svc, _, group := newService(t)
	ctx := context.Background()

	m, err := svc.RegisterMember(ctx, "id-1", group.ID, "Alice", "+255700000001", core.NewDate(2026, 1, 1))
	if err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}
	if m.ID == "" || !m.Active {
		t.Fatalf("unexpected member: %+v", m)
	}

	got, err := svc.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.IdentityID != "id-1" || got.FullName != "Alice" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestDuplicateIdentityLeavesRegistryUnchanged(t *testing.T) {
	svc, store, group := newService(t)
	ctx := context.Background()

	if _, err := svc.RegisterMember(ctx, "id-1", group.ID, "Alice", "", core.NewDate(2026, 1, 1)); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	_, err := svc.RegisterMember(ctx, "id-1", group.ID, "Alice Again", "", core.NewDate(2026, 2, 1))
	if !errors.Is(err, core.ErrDuplicateIdentity) {
		t.Fatalf("err = %v, want ErrDuplicateIdentity", err)
	}
	if store.MemberCount() != 1 {
		t.Fatalf("registry has %d members, want 1", store.MemberCount())
	}
}

func TestRegisterMemberUnknownGroup(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.RegisterMember(context.Background(), "id-2", "ghost", "Bob", "", core.NewDate(2026, 1, 1))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeactivateMember(t *testing.T) {
	svc, _, group := newService(t)
	ctx := context.Background()

	m, err := svc.RegisterMember(ctx, "id-1", group.ID, "Alice", "", core.NewDate(2026, 1, 1))
	if err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}
	if err := svc.DeactivateMember(ctx, m.ID); err != nil {
		t.Fatalf("DeactivateMember: %v", err)
	}

	got, err := svc.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember after deactivation: %v", err)
	}
	if got.Active {
		t.Error("member still active after deactivation")
	}
}

func TestAddCycleSequentialNumbers(t *testing.T) {
	svc, _, group := newService(t)
	ctx := context.Background()

	c1, err := svc.AddCycle(ctx, group.ID, core.NewDate(2026, 1, 1), core.NewDate(2026, 1, 31), core.Money{})
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	c2, err := svc.AddCycle(ctx, group.ID, core.NewDate(2026, 2, 1), core.NewDate(2026, 2, 28), core.Money{Cents: 5000})
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if c1.Number != 1 || c2.Number != 2 {
		t.Errorf("cycle numbers = %d, %d; want 1, 2", c1.Number, c2.Number)
	}
	if c1.Expected.Cents != 10000 {
		t.Errorf("first cycle Expected = %d, want group default 10000", c1.Expected.Cents)
	}
	if c2.Expected.Cents != 5000 {
		t.Errorf("second cycle Expected = %d, want explicit 5000", c2.Expected.Cents)
	}
}

func TestAddCycleRejectsOverlap(t *testing.T) {
	svc, _, group := newService(t)
	ctx := context.Background()

	if _, err := svc.AddCycle(ctx, group.ID, core.NewDate(2026, 1, 1), core.NewDate(2026, 1, 31), core.Money{}); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	tests := []struct {
		name       string
		start, end core.Date
	}{
		{"contained", core.NewDate(2026, 1, 10), core.NewDate(2026, 1, 20)},
		{"straddles start", core.NewDate(2025, 12, 20), core.NewDate(2026, 1, 5)},
		{"straddles end", core.NewDate(2026, 1, 25), core.NewDate(2026, 2, 10)},
		{"same range", core.NewDate(2026, 1, 1), core.NewDate(2026, 1, 31)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddCycle(ctx, group.ID, tt.start, tt.end, core.Money{})
			if !errors.Is(err, core.ErrCycleOverlap) {
				t.Errorf("err = %v, want ErrCycleOverlap", err)
			}
		})
	}

	// Adjacent, non-overlapping cycle is fine.
	if _, err := svc.AddCycle(ctx, group.ID, core.NewDate(2026, 2, 1), core.NewDate(2026, 2, 28), core.Money{}); err != nil {
		t.Errorf("adjacent cycle rejected: %v", err)
	}
}

func TestCyclesByGroup(t *testing.T) {
	svc, _, group := newService(t)
	ctx := context.Background()

	for m := 1; m <= 3; m++ {
		if _, err := svc.AddCycle(ctx, group.ID,
			core.NewDate(2026, m, 1), core.NewDate(2026, m, 28), core.Money{}); err != nil {
			t.Fatalf("add cycle %d: %v", m, err)
		}
	}

	cycles, err := svc.CyclesByGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("CyclesByGroup: %v", err)
	}
	if len(cycles) != 3 {
		t.Fatalf("got %d cycles, want 3", len(cycles))
	}
	for i, c := range cycles {
		if c.Number != i+1 {
			t.Errorf("cycles[%d].Number = %d, want %d", i, c.Number, i+1)
		}
	}

	if _, err := svc.CyclesByGroup(ctx, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown group: err = %v, want ErrNotFound", err)
	}
}
