// Package google mirrors the contribution ledger into a Google
// spreadsheet using service-account credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"kitty/internal/mirror"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerSheet   string
	arrearsSheet  string
}

// Ensure interface conformance
var (
	_ mirror.ContributionMirror = (*Client)(nil)
	_ mirror.SnapshotWriter     = (*Client)(nil)
)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID plus service-account credentials via
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional sheet names: LEDGER_SHEET_NAME (default "Ledger"),
// ARREARS_SHEET_NAME (default "Arrears").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	ledgerSheet := strings.TrimSpace(os.Getenv("LEDGER_SHEET_NAME"))
	if ledgerSheet == "" {
		ledgerSheet = "Ledger"
	}
	arrearsSheet := strings.TrimSpace(os.Getenv("ARREARS_SHEET_NAME"))
	if arrearsSheet == "" {
		arrearsSheet = "Arrears"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		ledgerSheet:   ledgerSheet,
		arrearsSheet:  arrearsSheet,
	}, nil
}

// newSheetsService initializes a Sheets service with service-account
// credentials from the environment.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	inlineJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	credFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inlineJSON == "" && credFile == "" {
		credFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inlineJSON != "":
		credentialsJSON = []byte(inlineJSON)
	case credFile != "":
		b, err := os.ReadFile(credFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendContribution appends one ledger row to the ledger sheet and
// returns the updated range as the row reference.
func (c *Client) AppendContribution(ctx context.Context, row mirror.ContributionRow) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	vr := &gsheet.ValueRange{Values: [][]any{{
		row.ID,
		row.RecordedAt.UTC().Format("2006-01-02 15:04"),
		row.GroupName,
		row.CycleNumber,
		row.MemberName,
		row.Amount.String(),
		string(row.Method),
		row.RecordedBy,
	}}}

	rng := fmt.Sprintf("%s!A:H", c.ledgerSheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.ledgerSheet, err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Contribution mirrored to spreadsheet",
		"contribution_id", row.ID, "sheet", c.ledgerSheet, "ref", ref)
	return ref, nil
}

// WriteArrearsSnapshot replaces the arrears sheet contents with the
// snapshot of a closed cycle.
func (c *Client) WriteArrearsSnapshot(ctx context.Context, snap mirror.ArrearsSnapshot) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:D", c.arrearsSheet)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", c.arrearsSheet, err)
	}

	values := [][]any{
		{"Group", snap.GroupName, "Cycle", snap.CycleNumber},
		{"Snapshot taken", snap.TakenAt.UTC().Format(time.RFC3339), "", ""},
		{"Member", "Arrears", "", ""},
	}
	for _, row := range snap.Rows {
		values = append(values, []any{row.MemberName, row.Arrears.String(), "", ""})
	}

	vr := &gsheet.ValueRange{Values: values}
	start := fmt.Sprintf("%s!A1", c.arrearsSheet)
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, start, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write snapshot to sheet %s: %w", c.arrearsSheet, err)
	}

	slog.InfoContext(ctx, "Arrears snapshot written",
		"group", snap.GroupName, "cycle", snap.CycleNumber, "rows", len(snap.Rows))
	return nil
}
