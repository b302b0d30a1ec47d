package core

import (
	"errors"
	"strings"
	"time"
)

// Cycle lifecycle statuses.
const (
	CyclePlanned   CycleStatus = "planned"
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
)

// Payment methods accepted on a contribution.
const (
	MethodBank   PaymentMethod = "bank"
	MethodCash   PaymentMethod = "cash"
	MethodMobile PaymentMethod = "mobile"
	MethodOther  PaymentMethod = "other"
)

type (
	CycleStatus   string
	PaymentMethod string

	// Group is a collection of members sharing a savings pool.
	Group struct {
		ID          string
		Name        string
		Description string
		// Expected is the default per-member contribution for new cycles.
		Expected  Money
		CreatedAt time.Time
	}

	// Cycle is a bounded contribution period within a group.
	// Cycles within a group never overlap.
	Cycle struct {
		ID      string
		GroupID string
		// Number is the sequential cycle number within the group (1, 2, 3...).
		Number    int
		StartDate Date
		EndDate   Date
		Expected  Money
		Status    CycleStatus
	}

	// Member links one external identity to one group.
	// IdentityID is unique across all members: no shared accounts.
	Member struct {
		ID          string
		IdentityID  string
		GroupID     string
		FullName    string
		PhoneNumber string
		JoinDate    Date
		Active      bool
	}

	// Contribution is an immutable ledger entry. Once written it is never
	// mutated or deleted; corrections are new offsetting entries.
	Contribution struct {
		ID       int64
		MemberID string
		CycleID  string
		// GroupID is denormalized from the cycle to speed up group queries.
		GroupID    string
		Amount     Money
		Method     PaymentMethod
		RecordedBy string
		RecordedAt time.Time
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateIdentity = errors.New("identity already registered")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnknownMember     = errors.New("unknown member")
	ErrUnknownCycle      = errors.New("unknown cycle")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrCycleOverlap      = errors.New("cycle overlaps an existing cycle")
	ErrEmptyName         = errors.New("empty name")
)

// Date is a calendar day in UTC. The time-of-day part is always zero.
type Date struct {
	time.Time
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (s CycleStatus) Valid() bool {
	switch s {
	case CyclePlanned, CycleActive, CycleCompleted:
		return true
	}
	return false
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBank, MethodCash, MethodMobile, MethodOther:
		return true
	}
	return false
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if len(g.Name) > 100 {
		return errors.New("group name too long (max 100 characters)")
	}
	if g.Expected.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Cycle) Validate() error {
	if c.GroupID == "" {
		return ErrUnknownGroup
	}
	if c.Number < 1 {
		return errors.New("cycle number must be positive")
	}
	if err := c.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if err := c.EndDate.Validate(); err != nil {
		return errors.New("invalid end date: " + err.Error())
	}
	if c.EndDate.Before(c.StartDate.Time) {
		return errors.New("end date must not precede start date")
	}
	if c.Expected.Cents < 0 {
		return ErrInvalidAmount
	}
	if !c.Status.Valid() {
		return errors.New("invalid cycle status")
	}
	return nil
}

// Overlaps reports whether two cycles share any day.
func (c Cycle) Overlaps(other Cycle) bool {
	return !c.StartDate.After(other.EndDate.Time) && !other.StartDate.After(c.EndDate.Time)
}

// Contains reports whether day falls within the cycle, inclusive of both ends.
func (c Cycle) Contains(day Date) bool {
	return !day.Before(c.StartDate.Time) && !day.After(c.EndDate.Time)
}

func (m Member) Validate() error {
	if strings.TrimSpace(m.IdentityID) == "" {
		return errors.New("empty identity reference")
	}
	if m.GroupID == "" {
		return ErrUnknownGroup
	}
	if strings.TrimSpace(m.FullName) == "" {
		return ErrEmptyName
	}
	if len(m.FullName) > 255 {
		return errors.New("full name too long (max 255 characters)")
	}
	return m.JoinDate.Validate()
}

func (c Contribution) Validate() error {
	if c.MemberID == "" {
		return ErrUnknownMember
	}
	if c.CycleID == "" {
		return ErrUnknownCycle
	}
	if c.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if !c.Method.Valid() {
		return errors.New("invalid payment method")
	}
	if strings.TrimSpace(c.RecordedBy) == "" {
		return errors.New("empty recorder")
	}
	return nil
}
