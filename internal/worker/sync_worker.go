// Package worker mirrors committed ledger entries to the treasurer's
// spreadsheet and snapshots arrears when cycles close. It consumes queue
// messages when they arrive and sweeps the pending backlog periodically,
// so a lost message only delays a mirror, never loses it.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kitty/internal/amqp"
	"kitty/internal/core"
	"kitty/internal/mirror"
	"kitty/internal/report"
	"kitty/internal/storage"
)

type SyncWorker struct {
	storage   *storage.SQLiteRepository
	mirror    mirror.ContributionMirror
	snapshots mirror.SnapshotWriter
	reports   *report.Engine
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, m mirror.ContributionMirror, snapshots mirror.SnapshotWriter, reports *report.Engine, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		mirror:    m,
		snapshots: snapshots,
		reports:   reports,
		batchSize: batchSize,
	}
}

// HandleSyncMessage mirrors a single contribution from a queue message.
// The full row is fetched from the database, never taken from the
// message, so the mirror always reflects the committed entry.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.ContributionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "contribution_id", msg.ContributionID)

	c, err := w.storage.GetContribution(ctx, msg.ContributionID)
	if err != nil {
		return fmt.Errorf("get contribution from storage: %w", err)
	}
	return w.syncOne(ctx, c)
}

// HandleCycleClosed writes an arrears snapshot for a completed cycle.
func (w *SyncWorker) HandleCycleClosed(ctx context.Context, msg *amqp.CycleClosedMessage) error {
	slog.InfoContext(ctx, "Processing cycle closed message",
		"cycle_id", msg.CycleID, "group_id", msg.GroupID)

	if w.snapshots == nil {
		slog.WarnContext(ctx, "No snapshot writer configured, skipping arrears snapshot",
			"cycle_id", msg.CycleID)
		return nil
	}

	entries, err := w.reports.ArrearsReport(ctx, msg.GroupID, msg.CycleID)
	if err != nil {
		return fmt.Errorf("compute arrears report: %w", err)
	}
	group, err := w.storage.GetGroup(ctx, msg.GroupID)
	if err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}
	cycle, err := w.storage.GetCycle(ctx, msg.CycleID)
	if err != nil {
		return fmt.Errorf("resolve cycle: %w", err)
	}

	snap := mirror.ArrearsSnapshot{
		GroupName:   group.Name,
		CycleNumber: cycle.Number,
		TakenAt:     time.Now().UTC(),
	}
	for _, e := range entries {
		snap.Rows = append(snap.Rows, mirror.ArrearsRow{
			MemberName: e.Member.FullName,
			Arrears:    e.Arrears,
		})
	}

	if err := w.snapshots.WriteArrearsSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("write arrears snapshot: %w", err)
	}
	return nil
}

// ProcessPendingContributions sweeps the backlog of entries that are not
// yet mirrored, in batches. Called periodically and at startup to cover
// messages lost between commit and publish.
func (w *SyncWorker) ProcessPendingContributions(ctx context.Context) error {
	pending, err := w.storage.PendingSyncContributions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending sync contributions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending sync backlog", "count", len(pending))
	for _, c := range pending {
		if err := w.syncOne(ctx, c); err != nil {
			slog.ErrorContext(ctx, "Failed to sync pending contribution",
				"contribution_id", c.ID, "error", err)
			// keep going; the entry stays pending or errored for the next sweep
		}
	}
	return nil
}

// StartupSyncCheck drains whatever the previous run left behind.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	slog.InfoContext(ctx, "Performing startup sync check")
	return w.ProcessPendingContributions(ctx)
}

func (w *SyncWorker) syncOne(ctx context.Context, c core.Contribution) error {
	if w.mirror == nil {
		slog.WarnContext(ctx, "No contribution mirror configured, skipping", "contribution_id", c.ID)
		return nil
	}

	row, err := w.displayRow(ctx, c)
	if err != nil {
		return err
	}

	ref, err := w.mirror.AppendContribution(ctx, row)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, c.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				"contribution_id", c.ID, "error", markErr)
		}
		return fmt.Errorf("append contribution to mirror: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, c.ID); err != nil {
		return fmt.Errorf("mark contribution synced: %w", err)
	}
	slog.InfoContext(ctx, "Contribution mirrored",
		"contribution_id", c.ID, "ref", ref)
	return nil
}

// displayRow denormalizes a ledger entry for the spreadsheet.
func (w *SyncWorker) displayRow(ctx context.Context, c core.Contribution) (mirror.ContributionRow, error) {
	member, err := w.storage.GetMember(ctx, c.MemberID)
	if err != nil {
		return mirror.ContributionRow{}, fmt.Errorf("resolve member: %w", err)
	}
	cycle, err := w.storage.GetCycle(ctx, c.CycleID)
	if err != nil {
		return mirror.ContributionRow{}, fmt.Errorf("resolve cycle: %w", err)
	}
	group, err := w.storage.GetGroup(ctx, c.GroupID)
	if err != nil {
		return mirror.ContributionRow{}, fmt.Errorf("resolve group: %w", err)
	}

	return mirror.ContributionRow{
		ID:          c.ID,
		MemberName:  member.FullName,
		GroupName:   group.Name,
		CycleNumber: cycle.Number,
		Amount:      c.Amount,
		Method:      c.Method,
		RecordedBy:  c.RecordedBy,
		RecordedAt:  c.RecordedAt,
	}, nil
}
