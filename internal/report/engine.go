// Package report computes balances, group totals and arrears reports.
// Every figure is recomputed from the ledger on read; nothing here caches
// running totals, so reports can never drift from the ledger.
package report

import (
	"context"
	"fmt"

	"kitty/internal/core"
	"kitty/internal/ledger"
)

// RegistryReader is the slice of the registry the engine needs.
type RegistryReader interface {
	GetMember(ctx context.Context, id string) (core.Member, error)
	GetCycle(ctx context.Context, id string) (core.Cycle, error)
	ListMembers(ctx context.Context, groupID string) ([]core.Member, error)
}

// LedgerReader lists contribution entries.
type LedgerReader interface {
	ListContributions(ctx context.Context, f ledger.Filter) ([]core.Contribution, error)
}

// Engine is the aggregation engine over the registry and the ledger.
type Engine struct {
	registry RegistryReader
	ledger   LedgerReader
}

func NewEngine(registry RegistryReader, ledger LedgerReader) *Engine {
	return &Engine{registry: registry, ledger: ledger}
}

// MemberBalance sums a member's contributions within a cycle and derives
// expected and arrears figures. Arrears = max(0, expected - contributed).
func (e *Engine) MemberBalance(ctx context.Context, memberID, cycleID string) (core.MemberBalance, error) {
	member, err := e.registry.GetMember(ctx, memberID)
	if err != nil {
		return core.MemberBalance{}, fmt.Errorf("resolve member: %w", err)
	}
	cycle, err := e.registry.GetCycle(ctx, cycleID)
	if err != nil {
		return core.MemberBalance{}, fmt.Errorf("resolve cycle: %w", err)
	}
	entries, err := e.ledger.ListContributions(ctx, ledger.Filter{MemberID: memberID, CycleID: cycleID})
	if err != nil {
		return core.MemberBalance{}, err
	}
	return core.Balance(member, cycle, entries), nil
}

// GroupTotal sums a cycle across all active members of the group.
// Contributions by since-deactivated members stay in the ledger but do
// not count toward the active-member total.
func (e *Engine) GroupTotal(ctx context.Context, groupID, cycleID string) (core.GroupTotal, error) {
	cycle, err := e.cycleInGroup(ctx, groupID, cycleID)
	if err != nil {
		return core.GroupTotal{}, err
	}
	members, err := e.registry.ListMembers(ctx, groupID)
	if err != nil {
		return core.GroupTotal{}, fmt.Errorf("list members: %w", err)
	}
	entries, err := e.ledger.ListContributions(ctx, ledger.Filter{GroupID: groupID, CycleID: cycleID})
	if err != nil {
		return core.GroupTotal{}, err
	}

	byMember := sumByMember(entries)
	total := core.GroupTotal{GroupID: groupID, CycleID: cycleID}
	for _, m := range members {
		if !m.Active {
			continue
		}
		total.MemberCount++
		total.TotalContributed.Cents += byMember[m.ID]
		total.TotalExpected.Cents += core.ExpectedFor(m, cycle).Cents
	}
	return total, nil
}

// ArrearsReport lists each active member's shortfall for a cycle, sorted
// descending by arrears with ties broken by member ID ascending.
func (e *Engine) ArrearsReport(ctx context.Context, groupID, cycleID string) ([]core.ArrearsEntry, error) {
	cycle, err := e.cycleInGroup(ctx, groupID, cycleID)
	if err != nil {
		return nil, err
	}
	members, err := e.registry.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	entries, err := e.ledger.ListContributions(ctx, ledger.Filter{GroupID: groupID, CycleID: cycleID})
	if err != nil {
		return nil, err
	}

	byMember := sumByMember(entries)
	report := make([]core.ArrearsEntry, 0, len(members))
	for _, m := range members {
		if !m.Active {
			continue
		}
		arrears := core.ExpectedFor(m, cycle).Cents - byMember[m.ID]
		if arrears < 0 {
			arrears = 0
		}
		report = append(report, core.ArrearsEntry{Member: m, Arrears: core.Money{Cents: arrears}})
	}
	core.SortArrears(report)
	return report, nil
}

// cycleInGroup resolves a cycle and checks it belongs to the group.
func (e *Engine) cycleInGroup(ctx context.Context, groupID, cycleID string) (core.Cycle, error) {
	cycle, err := e.registry.GetCycle(ctx, cycleID)
	if err != nil {
		return core.Cycle{}, fmt.Errorf("resolve cycle: %w", err)
	}
	if cycle.GroupID != groupID {
		return core.Cycle{}, fmt.Errorf("cycle %s not in group %s: %w", cycleID, groupID, core.ErrNotFound)
	}
	return cycle, nil
}

func sumByMember(entries []core.Contribution) map[string]int64 {
	sums := make(map[string]int64, len(entries))
	for _, e := range entries {
		sums[e.MemberID] += e.Amount.Cents
	}
	return sums
}
