package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kitty/internal/core"
	"kitty/internal/ledger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "kitty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedGroup(t *testing.T, repo *SQLiteRepository) core.Group {
	t.Helper()
	g := core.Group{
		ID:        "g-1",
		Name:      "Village Fund",
		Expected:  core.Money{Cents: 10000},
		CreatedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return g
}

func seedCycle(t *testing.T, repo *SQLiteRepository, groupID string, number int, status core.CycleStatus) core.Cycle {
	t.Helper()
	c := core.Cycle{
		ID:        "c-" + string(rune('0'+number)),
		GroupID:   groupID,
		Number:    number,
		StartDate: core.NewDate(2026, number, 1),
		EndDate:   core.NewDate(2026, number, 28),
		Expected:  core.Money{Cents: 10000},
		Status:    status,
	}
	if err := repo.CreateCycle(context.Background(), c); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	return c
}

func seedMember(t *testing.T, repo *SQLiteRepository, id, identityID, groupID string) core.Member {
	t.Helper()
	m := core.Member{
		ID:         id,
		IdentityID: identityID,
		GroupID:    groupID,
		FullName:   "Member " + id,
		JoinDate:   core.NewDate(2025, 12, 1),
		Active:     true,
	}
	if err := repo.CreateMember(context.Background(), m); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	return m
}

func TestGroupRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)

	got, err := repo.GetGroup(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if got.Name != g.Name || got.Expected.Cents != g.Expected.Cents {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(g.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, g.CreatedAt)
	}

	if _, err := repo.GetGroup(context.Background(), "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing group: err = %v, want ErrNotFound", err)
	}
}

func TestCycleRoundTripAndOrdering(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	seedCycle(t, repo, g.ID, 2, core.CyclePlanned)
	seedCycle(t, repo, g.ID, 1, core.CycleActive)

	cycles, err := repo.CyclesByGroup(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("CyclesByGroup: %v", err)
	}
	if len(cycles) != 2 || cycles[0].Number != 1 || cycles[1].Number != 2 {
		t.Fatalf("unexpected order: %+v", cycles)
	}
	if !cycles[0].StartDate.Equal(core.NewDate(2026, 1, 1).Time) {
		t.Errorf("StartDate = %v, want 2026-01-01", cycles[0].StartDate)
	}
}

func TestDuplicateIdentityRejected(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	seedMember(t, repo, "m-1", "id-1", g.ID)

	err := repo.CreateMember(context.Background(), core.Member{
		ID:         "m-2",
		IdentityID: "id-1",
		GroupID:    g.ID,
		FullName:   "Duplicate",
		JoinDate:   core.NewDate(2026, 1, 1),
		Active:     true,
	})
	if !errors.Is(err, core.ErrDuplicateIdentity) {
		t.Fatalf("err = %v, want ErrDuplicateIdentity", err)
	}

	members, err := repo.ListMembers(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("got %d members after rejected insert, want 1", len(members))
	}
}

func TestSetMemberActive(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	m := seedMember(t, repo, "m-1", "id-1", g.ID)

	if err := repo.SetMemberActive(context.Background(), m.ID, false); err != nil {
		t.Fatalf("SetMemberActive: %v", err)
	}
	got, err := repo.GetMember(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.Active {
		t.Error("member still active")
	}

	if err := repo.SetMemberActive(context.Background(), "ghost", false); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing member: err = %v, want ErrNotFound", err)
	}
}

func TestInsertContribution(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	c := seedCycle(t, repo, g.ID, 1, core.CycleActive)
	m := seedMember(t, repo, "m-1", "id-1", g.ID)
	ctx := context.Background()

	stored, err := repo.InsertContribution(ctx, core.Contribution{
		MemberID:   m.ID,
		CycleID:    c.ID,
		Amount:     core.Money{Cents: 4000},
		Method:     core.MethodCash,
		RecordedBy: "treasurer",
		RecordedAt: time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	if stored.ID == 0 {
		t.Error("expected assigned rowid")
	}
	if stored.GroupID != g.ID {
		t.Errorf("GroupID = %s, want %s (denormalized)", stored.GroupID, g.ID)
	}

	got, err := repo.GetContribution(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetContribution: %v", err)
	}
	if got.Amount.Cents != 4000 || got.Method != core.MethodCash {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if !got.RecordedAt.Equal(stored.RecordedAt) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, stored.RecordedAt)
	}
}

func TestInsertContributionUnknownRefs(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	c := seedCycle(t, repo, g.ID, 1, core.CycleActive)
	m := seedMember(t, repo, "m-1", "id-1", g.ID)
	ctx := context.Background()

	_, err := repo.InsertContribution(ctx, core.Contribution{
		MemberID: "ghost", CycleID: c.ID,
		Amount: core.Money{Cents: 100}, Method: core.MethodBank,
		RecordedBy: "t", RecordedAt: time.Now(),
	})
	if !errors.Is(err, core.ErrUnknownMember) {
		t.Errorf("unknown member: err = %v, want ErrUnknownMember", err)
	}

	_, err = repo.InsertContribution(ctx, core.Contribution{
		MemberID: m.ID, CycleID: "ghost",
		Amount: core.Money{Cents: 100}, Method: core.MethodBank,
		RecordedBy: "t", RecordedAt: time.Now(),
	})
	if !errors.Is(err, core.ErrUnknownCycle) {
		t.Errorf("unknown cycle: err = %v, want ErrUnknownCycle", err)
	}

	entries, err := repo.ListContributions(ctx, ledger.Filter{})
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger has %d entries after failed inserts, want 0", len(entries))
	}
}

func TestListContributionsFilterAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	c := seedCycle(t, repo, g.ID, 1, core.CycleActive)
	m1 := seedMember(t, repo, "m-1", "id-1", g.ID)
	m2 := seedMember(t, repo, "m-2", "id-2", g.ID)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i, memberID := range []string{m2.ID, m1.ID, m1.ID} {
		_, err := repo.InsertContribution(ctx, core.Contribution{
			MemberID: memberID, CycleID: c.ID,
			Amount: core.Money{Cents: int64(100 * (i + 1))}, Method: core.MethodBank,
			RecordedBy: "t", RecordedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := repo.ListContributions(ctx, ledger.Filter{GroupID: g.ID})
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].RecordedAt.Before(all[i-1].RecordedAt) {
			t.Errorf("entries out of order at %d", i)
		}
	}

	m1Only, err := repo.ListContributions(ctx, ledger.Filter{MemberID: m1.ID})
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(m1Only) != 2 {
		t.Errorf("member filter: got %d entries, want 2", len(m1Only))
	}

	windowed, err := repo.ListContributions(ctx, ledger.Filter{
		From: base.Add(30 * time.Minute),
		To:   base.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(windowed) != 1 {
		t.Errorf("time window: got %d entries, want 1", len(windowed))
	}
}

func TestSyncBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	c := seedCycle(t, repo, g.ID, 1, core.CycleActive)
	m := seedMember(t, repo, "m-1", "id-1", g.ID)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		stored, err := repo.InsertContribution(ctx, core.Contribution{
			MemberID: m.ID, CycleID: c.ID,
			Amount: core.Money{Cents: 100}, Method: core.MethodBank,
			RecordedBy: "t", RecordedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, stored.ID)
	}

	pending, err := repo.PendingSyncContributions(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSyncContributions: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}

	if err := repo.MarkSynced(ctx, ids[0]); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := repo.MarkSyncError(ctx, ids[1]); err != nil {
		t.Fatalf("MarkSyncError: %v", err)
	}

	pending, err = repo.PendingSyncContributions(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSyncContributions: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Fatalf("pending after marks = %+v, want only id %d", pending, ids[2])
	}

	limited, err := repo.PendingSyncContributions(ctx, 0)
	if err != nil {
		t.Fatalf("PendingSyncContributions limit 0: %v", err)
	}
	if len(limited) != 0 {
		t.Errorf("limit 0 returned %d entries", len(limited))
	}
}

func TestCyclesDueForTransition(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	ctx := context.Background()

	// Cycle 1: ended, still active -> due for completion.
	seedCycle(t, repo, g.ID, 1, core.CycleActive)
	// Cycle 2: planned, started -> due for activation.
	seedCycle(t, repo, g.ID, 2, core.CyclePlanned)
	// Cycle 3: planned, in the future -> not due.
	c3 := core.Cycle{
		ID: "c-future", GroupID: g.ID, Number: 3,
		StartDate: core.NewDate(2026, 6, 1), EndDate: core.NewDate(2026, 6, 28),
		Expected: core.Money{Cents: 10000}, Status: core.CyclePlanned,
	}
	if err := repo.CreateCycle(ctx, c3); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}

	due, err := repo.CyclesDueForTransition(ctx, core.NewDate(2026, 2, 10))
	if err != nil {
		t.Fatalf("CyclesDueForTransition: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due cycles, want 2: %+v", len(due), due)
	}
	if due[0].Number != 1 || due[1].Number != 2 {
		t.Errorf("due cycles = %d, %d; want 1, 2", due[0].Number, due[1].Number)
	}
}

func TestUpdateCycleStatus(t *testing.T) {
	repo := newTestRepo(t)
	g := seedGroup(t, repo)
	c := seedCycle(t, repo, g.ID, 1, core.CycleActive)
	ctx := context.Background()

	if err := repo.UpdateCycleStatus(ctx, c.ID, core.CycleCompleted); err != nil {
		t.Fatalf("UpdateCycleStatus: %v", err)
	}
	got, err := repo.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != core.CycleCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	if err := repo.UpdateCycleStatus(ctx, "ghost", core.CycleActive); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing cycle: err = %v, want ErrNotFound", err)
	}
}
