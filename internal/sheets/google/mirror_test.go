package google

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
)

type fakeAppender struct {
	spreadsheetID string
	rng           string
	rows          [][]any
	err           error
}

func (f *fakeAppender) Append(_ context.Context, spreadsheetID, rng string, rows [][]any) error {
	f.spreadsheetID, f.rng, f.rows = spreadsheetID, rng, rows
	return f.err
}

func sampleRecord() core.ExpenseRecord {
	return core.ExpenseRecord{
		ID:         "rec-1",
		Session:    "group-1",
		SenderID:   "u1",
		SenderName: "Ann",
		Item:       "coffee",
		Amount:     decimal.RequireFromString("3.5"),
		Note:       "oat milk",
		Date:       core.NewDate(2025, 3, 14),
		Timestamp:  time.Date(2025, 3, 14, 9, 30, 0, 0, time.FixedZone("CST", 8*3600)),
	}
}

func TestRow(t *testing.T) {
	row := Row(sampleRecord())
	want := []any{"2025-03-14", "group-1", "Ann", "coffee", "3.50", "oat milk", "2025-03-14T01:30:00Z", "rec-1"}
	if len(row) != len(Header) {
		t.Fatalf("row has %d cells, header has %d", len(row), len(Header))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d (%s) = %v, want %v", i, Header[i], row[i], want[i])
		}
	}

	rec := sampleRecord()
	rec.SenderName = ""
	if got := Row(rec)[2]; got != "u1" {
		t.Errorf("sender falls back to id, got %v", got)
	}
}

func TestMirrorAppend(t *testing.T) {
	fake := &fakeAppender{}
	m := newMirror(fake, Config{SpreadsheetID: " sheet-id "}, log.Discard())

	if err := m.Append(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if fake.spreadsheetID != "sheet-id" {
		t.Errorf("spreadsheet = %q", fake.spreadsheetID)
	}
	if fake.rng != "'2025 Expenses'!A:H" {
		t.Errorf("range = %q", fake.rng)
	}
	if len(fake.rows) != 1 || fake.rows[0][7] != "rec-1" {
		t.Errorf("rows = %v", fake.rows)
	}
}

func TestMirrorAppendError(t *testing.T) {
	fake := &fakeAppender{err: errors.New("quota exceeded")}
	m := newMirror(fake, Config{SpreadsheetID: "id", SheetName: "2024 Ledger"}, log.Discard())

	err := m.Append(context.Background(), sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "2024 Ledger") {
		t.Errorf("Append() error = %v", err)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Expenses", 2025, "2025 Expenses"},
		{"  Expenses ", 2025, "2025 Expenses"},
		{"2023 Expenses", 2025, "2023 Expenses"},
		{"1234Expenses", 2025, "2025 1234Expenses"},
		{"", 2025, ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "id"}, nil)
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}
