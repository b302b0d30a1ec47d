// Package mirror defines the outbound ports for the treasurer-facing
// spreadsheet copy of the ledger. The database remains the source of
// truth; the mirror is a human-readable view that can always be rebuilt
// from the pending-sync sweep.
package mirror

import (
	"context"
	"time"

	"kitty/internal/core"
)

// ContributionRow is one mirrored ledger line, denormalized for display.
type ContributionRow struct {
	ID          int64
	MemberName  string
	GroupName   string
	CycleNumber int
	Amount      core.Money
	Method      core.PaymentMethod
	RecordedBy  string
	RecordedAt  time.Time
}

// ArrearsRow is one line of an arrears snapshot.
type ArrearsRow struct {
	MemberName string
	Arrears    core.Money
}

// ArrearsSnapshot is the treasurer's view of a closed cycle.
type ArrearsSnapshot struct {
	GroupName   string
	CycleNumber int
	TakenAt     time.Time
	Rows        []ArrearsRow
}

type (
	// ContributionMirror appends ledger rows to the external copy and
	// returns an opaque reference to the written row.
	ContributionMirror interface {
		AppendContribution(ctx context.Context, row ContributionRow) (ref string, err error)
	}

	// SnapshotWriter replaces the arrears sheet with a fresh snapshot.
	SnapshotWriter interface {
		WriteArrearsSnapshot(ctx context.Context, snap ArrearsSnapshot) error
	}
)
