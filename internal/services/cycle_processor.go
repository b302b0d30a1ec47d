package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kitty/internal/core"
)

// CycleStore is the storage slice the processor needs.
type CycleStore interface {
	CyclesDueForTransition(ctx context.Context, today core.Date) ([]core.Cycle, error)
	UpdateCycleStatus(ctx context.Context, id string, status core.CycleStatus) error
}

// ClosedPublisher announces completed cycles to the sync queue.
type ClosedPublisher interface {
	PublishCycleClosed(ctx context.Context, cycleID, groupID string) error
}

// CycleProcessor advances cycle lifecycle states on schedule: planned
// cycles whose start date has arrived become active, cycles whose end
// date has passed become completed. Completed cycles are announced so the
// mirror worker can snapshot arrears. Contribution rows are never touched.
type CycleProcessor struct {
	store     CycleStore
	publisher ClosedPublisher
}

func NewCycleProcessor(store CycleStore, publisher ClosedPublisher) *CycleProcessor {
	return &CycleProcessor{store: store, publisher: publisher}
}

// ProcessCycles transitions all due cycles and returns how many changed.
func (p *CycleProcessor) ProcessCycles(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	today := core.DateOf(now)
	due, err := p.store.CyclesDueForTransition(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list due cycles: %w", err)
	}

	slog.InfoContext(ctx, "Processing cycle transitions",
		"due", len(due), "date", today.Format("2006-01-02"))

	transitioned := 0
	for _, c := range due {
		next := nextStatus(c, today)
		if next == c.Status {
			continue
		}

		if err := p.store.UpdateCycleStatus(ctx, c.ID, next); err != nil {
			slog.ErrorContext(ctx, "Failed to transition cycle",
				"cycle_id", c.ID, "from", string(c.Status), "to", string(next), "error", err)
			continue
		}
		transitioned++
		slog.InfoContext(ctx, "Cycle transitioned",
			"cycle_id", c.ID, "group_id", c.GroupID, "number", c.Number,
			"from", string(c.Status), "to", string(next))

		if next != core.CycleCompleted {
			continue
		}
		if p.publisher == nil {
			slog.WarnContext(ctx, "No publisher configured, skipping cycle closed message", "cycle_id", c.ID)
			continue
		}
		if err := p.publisher.PublishCycleClosed(ctx, c.ID, c.GroupID); err != nil {
			// The next sweep re-publishes nothing for completed cycles,
			// so log loudly; the treasurer can still pull the report on demand.
			slog.ErrorContext(ctx, "Failed to publish cycle closed message",
				"cycle_id", c.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Cycle processing complete",
		"transitioned", transitioned, "checked", len(due))
	return transitioned, nil
}

func nextStatus(c core.Cycle, today core.Date) core.CycleStatus {
	if today.After(c.EndDate.Time) {
		return core.CycleCompleted
	}
	if c.Status == core.CyclePlanned && !today.Before(c.StartDate.Time) {
		return core.CycleActive
	}
	return c.Status
}
