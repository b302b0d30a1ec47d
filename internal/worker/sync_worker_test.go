package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kitty/internal/amqp"
	"kitty/internal/core"
	"kitty/internal/mirror"
	"kitty/internal/report"
	"kitty/internal/storage"
)

type fakeMirror struct {
	rows      []mirror.ContributionRow
	snapshots []mirror.ArrearsSnapshot
	appendErr error
}

func (m *fakeMirror) AppendContribution(_ context.Context, row mirror.ContributionRow) (string, error) {
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.rows = append(m.rows, row)
	return "Ledger!A1", nil
}

func (m *fakeMirror) WriteArrearsSnapshot(_ context.Context, snap mirror.ArrearsSnapshot) error {
	m.snapshots = append(m.snapshots, snap)
	return nil
}

type testEnv struct {
	repo   *storage.SQLiteRepository
	mirror *fakeMirror
	worker *SyncWorker

	group  core.Group
	cycle  core.Cycle
	member core.Member
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kitty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	group := core.Group{ID: "g-1", Name: "Fund", Expected: core.Money{Cents: 10000}, CreatedAt: time.Now().UTC()}
	if err := repo.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	cycle := core.Cycle{
		ID: "c-1", GroupID: group.ID, Number: 1,
		StartDate: core.NewDate(2026, 1, 1), EndDate: core.NewDate(2026, 1, 31),
		Expected: core.Money{Cents: 10000}, Status: core.CycleActive,
	}
	if err := repo.CreateCycle(ctx, cycle); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	member := core.Member{
		ID: "m-1", IdentityID: "id-1", GroupID: group.ID,
		FullName: "Alice", JoinDate: core.NewDate(2025, 12, 1), Active: true,
	}
	if err := repo.CreateMember(ctx, member); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}

	fm := &fakeMirror{}
	w := NewSyncWorker(repo, fm, fm, report.NewEngine(repo, repo), 10)
	return &testEnv{repo: repo, mirror: fm, worker: w, group: group, cycle: cycle, member: member}
}

func (e *testEnv) insert(t *testing.T, cents int64) core.Contribution {
	t.Helper()
	c, err := e.repo.InsertContribution(context.Background(), core.Contribution{
		MemberID: e.member.ID, CycleID: e.cycle.ID,
		Amount: core.Money{Cents: cents}, Method: core.MethodCash,
		RecordedBy: "treasurer", RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	return c
}

func TestHandleSyncMessageMirrorsCommittedRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.insert(t, 4000)

	msg := amqp.NewContributionSyncMessage(c.ID)
	if err := env.worker.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}

	if len(env.mirror.rows) != 1 {
		t.Fatalf("mirrored %d rows, want 1", len(env.mirror.rows))
	}
	row := env.mirror.rows[0]
	if row.MemberName != "Alice" || row.GroupName != "Fund" || row.CycleNumber != 1 {
		t.Errorf("row denormalized wrong: %+v", row)
	}
	if row.Amount.Cents != 4000 {
		t.Errorf("row amount = %d, want 4000", row.Amount.Cents)
	}

	pending, err := env.repo.PendingSyncContributions(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSyncContributions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d entries still pending after sync", len(pending))
	}
}

func TestHandleSyncMessageUnknownContribution(t *testing.T) {
	env := newTestEnv(t)
	err := env.worker.HandleSyncMessage(context.Background(), amqp.NewContributionSyncMessage(999))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendFailureMarksErrorAndReturns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.insert(t, 100)
	env.mirror.appendErr = errors.New("sheets unavailable")

	if err := env.worker.HandleSyncMessage(ctx, amqp.NewContributionSyncMessage(c.ID)); err == nil {
		t.Fatal("expected error from failed append")
	}

	// The entry left the pending pool (it is marked errored) so the sweep
	// does not hot-loop on a broken mirror.
	pending, err := env.repo.PendingSyncContributions(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSyncContributions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d entries pending after marked error, want 0", len(pending))
	}
}

func TestProcessPendingContributionsSweepsBacklog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.insert(t, 100)
	env.insert(t, 200)
	env.insert(t, 300)

	if err := env.worker.ProcessPendingContributions(ctx); err != nil {
		t.Fatalf("ProcessPendingContributions: %v", err)
	}
	if len(env.mirror.rows) != 3 {
		t.Fatalf("mirrored %d rows, want 3", len(env.mirror.rows))
	}

	// Second sweep finds nothing left.
	if err := env.worker.ProcessPendingContributions(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(env.mirror.rows) != 3 {
		t.Errorf("second sweep re-mirrored rows: %d total", len(env.mirror.rows))
	}
}

func TestHandleCycleClosedWritesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.insert(t, 4000) // arrears 60.00

	msg := amqp.NewCycleClosedMessage(env.cycle.ID, env.group.ID)
	if err := env.worker.HandleCycleClosed(ctx, msg); err != nil {
		t.Fatalf("HandleCycleClosed: %v", err)
	}

	if len(env.mirror.snapshots) != 1 {
		t.Fatalf("wrote %d snapshots, want 1", len(env.mirror.snapshots))
	}
	snap := env.mirror.snapshots[0]
	if snap.GroupName != "Fund" || snap.CycleNumber != 1 {
		t.Errorf("snapshot header wrong: %+v", snap)
	}
	if len(snap.Rows) != 1 || snap.Rows[0].Arrears.Cents != 6000 {
		t.Errorf("snapshot rows = %+v, want one row with 6000 arrears", snap.Rows)
	}
}

func TestNilMirrorSkipsQuietly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.insert(t, 100)

	w := NewSyncWorker(env.repo, nil, nil, report.NewEngine(env.repo, env.repo), 10)
	if err := w.HandleSyncMessage(ctx, amqp.NewContributionSyncMessage(c.ID)); err != nil {
		t.Fatalf("HandleSyncMessage with nil mirror: %v", err)
	}
	if err := w.HandleCycleClosed(ctx, amqp.NewCycleClosedMessage(env.cycle.ID, env.group.ID)); err != nil {
		t.Fatalf("HandleCycleClosed with nil snapshot writer: %v", err)
	}
}
