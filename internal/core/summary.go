package core

import "sort"

// MemberBalance is the computed standing of one member within a cycle.
type MemberBalance struct {
	MemberID    string
	CycleID     string
	Contributed Money
	Expected    Money
	Arrears     Money
}

// GroupTotal summarizes a cycle across the active members of a group.
type GroupTotal struct {
	GroupID          string
	CycleID          string
	TotalContributed Money
	TotalExpected    Money
	MemberCount      int
}

// ArrearsEntry is one row of an arrears report.
type ArrearsEntry struct {
	Member  Member
	Arrears Money
}

// ExpectedFor returns the amount a member owes for a cycle.
//
// Members who joined after the cycle's start date owe nothing for that
// cycle: the expected amount is prorated to zero for periods already
// underway at join time. Obligations begin with the first cycle starting
// on or after the join date.
func ExpectedFor(m Member, c Cycle) Money {
	if m.JoinDate.After(c.StartDate.Time) {
		return Money{}
	}
	return c.Expected
}

// Balance computes a member's standing for a cycle from the raw
// contribution rows. Arrears never go negative: overpayment clamps to zero.
func Balance(m Member, c Cycle, contributions []Contribution) MemberBalance {
	var contributed int64
	for _, e := range contributions {
		if e.MemberID == m.ID && e.CycleID == c.ID {
			contributed += e.Amount.Cents
		}
	}
	expected := ExpectedFor(m, c)
	arrears := expected.Cents - contributed
	if arrears < 0 {
		arrears = 0
	}
	return MemberBalance{
		MemberID:    m.ID,
		CycleID:     c.ID,
		Contributed: Money{Cents: contributed},
		Expected:    expected,
		Arrears:     Money{Cents: arrears},
	}
}

// SortArrears orders report rows by arrears descending, ties broken by
// member ID ascending. Sorting is stable with respect to that key pair.
func SortArrears(entries []ArrearsEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Arrears.Cents != entries[j].Arrears.Cents {
			return entries[i].Arrears.Cents > entries[j].Arrears.Cents
		}
		return entries[i].Member.ID < entries[j].Member.ID
	})
}
