// Package google mirrors accepted expense records into a Google Sheets
// spreadsheet, one row per record, in a sheet named "<year> <base>".
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/services"
)

// DefaultSheetName is the base sheet name when none is configured.
const DefaultSheetName = "Expenses"

// Header is the column layout of mirrored rows.
var Header = []string{"Date", "Session", "Sender", "Item", "Amount", "Note", "Timestamp", "ID"}

// Ensure interface conformance
var _ services.RecordMirror = (*Mirror)(nil)

// Config selects the spreadsheet and the service account.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountFile string
	ServiceAccountJSON string
}

// valuesAppender is the one Sheets call the mirror makes.
type valuesAppender interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

type sheetsAppender struct {
	svc *gsheet.Service
}

func (a sheetsAppender) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := a.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Mirror appends records to the spreadsheet.
type Mirror struct {
	appender      valuesAppender
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

// New creates a mirror authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Mirror, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newMirror(sheetsAppender{svc: svc}, cfg, logger), nil
}

func newMirror(appender valuesAppender, cfg Config, logger *log.Logger) *Mirror {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = DefaultSheetName
	}
	return &Mirror{
		appender:      appender,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		sheetBase:     base,
		logger:        logger,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Inline JSON wins over the file; GOOGLE_APPLICATION_CREDENTIALS is the fallback.
func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.ServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(cfg.ServiceAccountFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		logger.DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		logger.DebugContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		var err error
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created")
	return service, nil
}

// Append writes rec as one row of the sheet for its year.
func (m *Mirror) Append(ctx context.Context, rec core.ExpenseRecord) error {
	if m.appender == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := yearPrefixedName(m.sheetBase, rec.Date.Year())
	rng := fmt.Sprintf("%s!A:H", quoteSheet(sheet))
	if err := m.appender.Append(ctx, m.spreadsheetID, rng, [][]any{Row(rec)}); err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	m.logger.DebugContext(ctx, "Mirrored record",
		log.FieldRecordID, rec.ID,
		log.FieldOperation, log.OpAppend,
		"sheet", sheet)
	return nil
}

// Row renders rec in Header order. The amount is a plain decimal string so
// USER_ENTERED parses it as a number.
func Row(rec core.ExpenseRecord) []any {
	sender := rec.SenderName
	if sender == "" {
		sender = rec.SenderID
	}
	return []any{
		rec.Date.String(),
		rec.Session,
		sender,
		rec.Item,
		core.FormatAmount(rec.Amount),
		rec.Note,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.ID,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quoteSheet quotes a sheet name for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
