// Package storage provides the SQLite-backed store behind the registry
// and the ledger. The contribution table is append-only: the money
// columns are written once and never updated; only the spreadsheet-sync
// bookkeeping columns change afterwards.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kitty/internal/core"
	"kitty/internal/ledger"
)

// Fixed-width layouts so that lexicographic ordering in SQLite matches
// chronological ordering.
const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05.000000000"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- registry store ---

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, expected_cents, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.Expected.Cents, g.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	var (
		g         core.Group
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, expected_cents, created_at FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.Expected.Cents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, core.ErrNotFound
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	g.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return g, nil
}

func (r *SQLiteRepository) CreateCycle(ctx context.Context, c core.Cycle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cycles (id, group_id, number, start_date, end_date, expected_cents, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GroupID, c.Number,
		c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout),
		c.Expected.Cents, string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCycle(ctx context.Context, id string) (core.Cycle, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, group_id, number, start_date, end_date, expected_cents, status FROM cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Cycle{}, core.ErrNotFound
	}
	if err != nil {
		return core.Cycle{}, fmt.Errorf("get cycle: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) CyclesByGroup(ctx context.Context, groupID string) ([]core.Cycle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, group_id, number, start_date, end_date, expected_cents, status
		 FROM cycles WHERE group_id = ? ORDER BY number`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// UpdateCycleStatus transitions a cycle's lifecycle status.
func (r *SQLiteRepository) UpdateCycleStatus(ctx context.Context, id string, status core.CycleStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cycles SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update cycle status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// CyclesDueForTransition returns planned cycles whose start date has
// arrived and non-completed cycles whose end date has passed, for the
// cycle worker to transition.
func (r *SQLiteRepository) CyclesDueForTransition(ctx context.Context, today core.Date) ([]core.Cycle, error) {
	day := today.Format(dateLayout)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, group_id, number, start_date, end_date, expected_cents, status
		 FROM cycles
		 WHERE (status = 'planned' AND start_date <= ?)
		    OR (status != 'completed' AND end_date < ?)
		 ORDER BY group_id, number`, day, day)
	if err != nil {
		return nil, fmt.Errorf("list due cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func (r *SQLiteRepository) CreateMember(ctx context.Context, m core.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, identity_id, group_id, full_name, phone_number, join_date, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.IdentityID, m.GroupID, m.FullName, m.PhoneNumber,
		m.JoinDate.Format(dateLayout), boolToInt(m.Active),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: members.identity_id") {
			return core.ErrDuplicateIdentity
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMember(ctx context.Context, id string) (core.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, identity_id, group_id, full_name, phone_number, join_date, active
		 FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, core.ErrNotFound
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, groupID string) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity_id, group_id, full_name, phone_number, join_date, active
		 FROM members WHERE group_id = ? ORDER BY join_date, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []core.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) SetMemberActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- ledger store ---

// InsertContribution resolves the member and cycle references and appends
// the row in a single transaction (atomic insert, no read-modify-write of
// any running total).
func (r *SQLiteRepository) InsertContribution(ctx context.Context, c core.Contribution) (core.Contribution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Contribution{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var memberGroup string
	err = tx.QueryRowContext(ctx, `SELECT group_id FROM members WHERE id = ?`, c.MemberID).Scan(&memberGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Contribution{}, core.ErrUnknownMember
	}
	if err != nil {
		return core.Contribution{}, fmt.Errorf("resolve member: %w", err)
	}

	var cycleGroup string
	err = tx.QueryRowContext(ctx, `SELECT group_id FROM cycles WHERE id = ?`, c.CycleID).Scan(&cycleGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Contribution{}, core.ErrUnknownCycle
	}
	if err != nil {
		return core.Contribution{}, fmt.Errorf("resolve cycle: %w", err)
	}

	c.GroupID = cycleGroup
	res, err := tx.ExecContext(ctx,
		`INSERT INTO contributions (member_id, cycle_id, group_id, amount_cents, method, recorded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.MemberID, c.CycleID, c.GroupID, c.Amount.Cents, string(c.Method),
		c.RecordedBy, c.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return core.Contribution{}, fmt.Errorf("insert contribution: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.Contribution{}, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Contribution{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Contribution saved to SQLite",
		"id", c.ID, "member_id", c.MemberID, "cycle_id", c.CycleID, "amount_cents", c.Amount.Cents)
	return c, nil
}

func (r *SQLiteRepository) ListContributions(ctx context.Context, f ledger.Filter) ([]core.Contribution, error) {
	query := `SELECT id, member_id, cycle_id, group_id, amount_cents, method, recorded_by, recorded_at
	          FROM contributions WHERE 1=1`
	var args []any
	if f.MemberID != "" {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.CycleID != "" {
		query += " AND cycle_id = ?"
		args = append(args, f.CycleID)
	}
	if f.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, f.GroupID)
	}
	if !f.From.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		query += " AND recorded_at <= ?"
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	query += " ORDER BY recorded_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()
	return collectContributions(rows)
}

// GetContribution retrieves a single ledger entry by ID.
func (r *SQLiteRepository) GetContribution(ctx context.Context, id int64) (core.Contribution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, member_id, cycle_id, group_id, amount_cents, method, recorded_by, recorded_at
		 FROM contributions WHERE id = ?`, id)
	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Contribution{}, core.ErrNotFound
	}
	if err != nil {
		return core.Contribution{}, fmt.Errorf("get contribution: %w", err)
	}
	return c, nil
}

// --- spreadsheet sync bookkeeping ---

// PendingSyncContributions returns up to limit entries that still need to
// be mirrored to the treasurer's spreadsheet, oldest first.
func (r *SQLiteRepository) PendingSyncContributions(ctx context.Context, limit int) ([]core.Contribution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, cycle_id, group_id, amount_cents, method, recorded_by, recorded_at
		 FROM contributions WHERE sync_status = 'pending' ORDER BY id LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending sync contributions: %w", err)
	}
	defer rows.Close()
	return collectContributions(rows)
}

// MarkSynced records a successful mirror of a ledger entry.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contributions SET sync_status = 'synced', synced_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark contribution synced: %w", err)
	}
	return nil
}

// MarkSyncError flags a failed mirror attempt. The entry stays eligible
// for the periodic retry sweep until attempts run out downstream.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contributions SET sync_status = 'error', sync_attempts = sync_attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark contribution sync error: %w", err)
	}
	slog.WarnContext(ctx, "Contribution marked with sync error", "id", id)
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (core.Cycle, error) {
	var (
		c          core.Cycle
		start, end string
		status     string
	)
	if err := row.Scan(&c.ID, &c.GroupID, &c.Number, &start, &end, &c.Expected.Cents, &status); err != nil {
		return core.Cycle{}, err
	}
	c.StartDate = parseDate(start)
	c.EndDate = parseDate(end)
	c.Status = core.CycleStatus(status)
	return c, nil
}

func scanMember(row rowScanner) (core.Member, error) {
	var (
		m      core.Member
		join   string
		active int
	)
	if err := row.Scan(&m.ID, &m.IdentityID, &m.GroupID, &m.FullName, &m.PhoneNumber, &join, &active); err != nil {
		return core.Member{}, err
	}
	m.JoinDate = parseDate(join)
	m.Active = active != 0
	return m, nil
}

func scanContribution(row rowScanner) (core.Contribution, error) {
	var (
		c          core.Contribution
		method     string
		recordedAt string
	)
	if err := row.Scan(&c.ID, &c.MemberID, &c.CycleID, &c.GroupID, &c.Amount.Cents, &method, &c.RecordedBy, &recordedAt); err != nil {
		return core.Contribution{}, err
	}
	c.Method = core.PaymentMethod(method)
	c.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
	c.RecordedAt = c.RecordedAt.UTC()
	return c, nil
}

func collectCycles(rows *sql.Rows) ([]core.Cycle, error) {
	var out []core.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

func collectContributions(rows *sql.Rows) ([]core.Contribution, error) {
	var out []core.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return out, nil
}

func parseDate(s string) core.Date {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}
	}
	return core.Date{Time: t}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
