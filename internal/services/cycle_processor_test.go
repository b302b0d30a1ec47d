package services

import (
	"context"
	"testing"
	"time"

	"kitty/internal/core"
)

type fakeCycleStore struct {
	due      []core.Cycle
	statuses map[string]core.CycleStatus
}

func (s *fakeCycleStore) CyclesDueForTransition(_ context.Context, _ core.Date) ([]core.Cycle, error) {
	return s.due, nil
}

func (s *fakeCycleStore) UpdateCycleStatus(_ context.Context, id string, status core.CycleStatus) error {
	s.statuses[id] = status
	return nil
}

type closedCapture struct {
	cycles []string
}

func (c *closedCapture) PublishCycleClosed(_ context.Context, cycleID, _ string) error {
	c.cycles = append(c.cycles, cycleID)
	return nil
}

func cycleAt(id string, status core.CycleStatus, start, end core.Date) core.Cycle {
	return core.Cycle{
		ID: id, GroupID: "g-1", Number: 1,
		StartDate: start, EndDate: end,
		Expected: core.Money{Cents: 10000}, Status: status,
	}
}

func TestProcessCyclesTransitions(t *testing.T) {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	store := &fakeCycleStore{
		due: []core.Cycle{
			// Ended in January, still active: complete it.
			cycleAt("c-ended", core.CycleActive, core.NewDate(2026, 1, 1), core.NewDate(2026, 1, 31)),
			// Started, still planned: activate it.
			cycleAt("c-started", core.CyclePlanned, core.NewDate(2026, 2, 1), core.NewDate(2026, 2, 28)),
		},
		statuses: make(map[string]core.CycleStatus),
	}
	pub := &closedCapture{}
	processor := NewCycleProcessor(store, pub)

	changed, err := processor.ProcessCycles(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessCycles: %v", err)
	}
	if changed != 2 {
		t.Fatalf("transitioned %d cycles, want 2", changed)
	}
	if store.statuses["c-ended"] != core.CycleCompleted {
		t.Errorf("c-ended = %s, want completed", store.statuses["c-ended"])
	}
	if store.statuses["c-started"] != core.CycleActive {
		t.Errorf("c-started = %s, want active", store.statuses["c-started"])
	}

	// Only the completed cycle is announced.
	if len(pub.cycles) != 1 || pub.cycles[0] != "c-ended" {
		t.Errorf("published cycles = %v, want [c-ended]", pub.cycles)
	}
}

func TestProcessCyclesSkipsUnchanged(t *testing.T) {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	store := &fakeCycleStore{
		due: []core.Cycle{
			// Already active and still running: nothing to do.
			cycleAt("c-running", core.CycleActive, core.NewDate(2026, 2, 1), core.NewDate(2026, 2, 28)),
		},
		statuses: make(map[string]core.CycleStatus),
	}
	processor := NewCycleProcessor(store, nil)

	changed, err := processor.ProcessCycles(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessCycles: %v", err)
	}
	if changed != 0 {
		t.Fatalf("transitioned %d cycles, want 0", changed)
	}
	if len(store.statuses) != 0 {
		t.Errorf("unexpected status writes: %v", store.statuses)
	}
}

func TestNextStatus(t *testing.T) {
	start := core.NewDate(2026, 3, 1)
	end := core.NewDate(2026, 3, 31)

	tests := []struct {
		name   string
		status core.CycleStatus
		today  core.Date
		want   core.CycleStatus
	}{
		{"planned before start", core.CyclePlanned, core.NewDate(2026, 2, 20), core.CyclePlanned},
		{"planned on start day", core.CyclePlanned, start, core.CycleActive},
		{"planned after end", core.CyclePlanned, core.NewDate(2026, 4, 1), core.CycleCompleted},
		{"active mid-cycle", core.CycleActive, core.NewDate(2026, 3, 15), core.CycleActive},
		{"active on end day", core.CycleActive, end, core.CycleActive},
		{"active past end", core.CycleActive, core.NewDate(2026, 4, 1), core.CycleCompleted},
		{"completed stays completed", core.CycleCompleted, core.NewDate(2026, 5, 1), core.CycleCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cycleAt("c", tt.status, start, end)
			if got := nextStatus(c, tt.today); got != tt.want {
				t.Errorf("nextStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
