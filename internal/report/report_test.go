package report

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
)

func rec(item, amount, sender, note string) core.ExpenseRecord {
	return core.ExpenseRecord{
		Item:       item,
		Amount:     decimal.RequireFromString(amount),
		SenderName: sender,
		Note:       note,
	}
}

func TestFormatReport(t *testing.T) {
	records := []core.ExpenseRecord{
		rec("coffee", "3.5", "Ann", ""),
		rec("lunch", "12", "", "with Bob"),
	}
	got := FormatReport("Daily report", "2025-06-15", records, "元", 10)
	want := strings.Join([]string{
		"Daily report",
		"Period: 2025-06-15",
		"",
		"1. coffee - 3.50 (Ann)",
		"2. lunch - 12.00 [with Bob]",
		"",
		"Total: 15.50 元 (2 records)",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected report:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatReportTruncates(t *testing.T) {
	var records []core.ExpenseRecord
	for i := 0; i < 5; i++ {
		records = append(records, rec("x", "1.005", "", ""))
	}
	got := FormatReport("T", "P", records, "$", 2)

	if strings.Count(got, ". x - ") != 2 {
		t.Fatalf("expected 2 itemized lines:\n%s", got)
	}
	if !strings.Contains(got, "... +3 more") {
		t.Fatalf("missing truncation line:\n%s", got)
	}
	// the total covers hidden records too
	if !strings.HasSuffix(got, "Total: 5.03 $ (5 records)") {
		t.Fatalf("unexpected total:\n%s", got)
	}
}

func TestFormatReportEmpty(t *testing.T) {
	got := FormatReport("Monthly report", "2025-06-01 to 2025-06-30", nil, "元", 100)
	if got != "Monthly report\nPeriod: 2025-06-01 to 2025-06-30\nNo records." {
		t.Fatalf("unexpected empty report %q", got)
	}
}

func TestFormatSummary(t *testing.T) {
	cats := []core.CategoryTotal{
		{Label: "tea", Count: 1, Total: decimal.NewFromInt(10)},
		{Label: "coffee", Count: 2, Total: decimal.NewFromInt(8)},
	}
	got := FormatSummary(cats, "元")
	lines := strings.Split(got, "\n")
	if lines[0] != "1. tea - 10.00 (1 record, 55.6%)" {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[1] != "2. coffee - 8.00 (2 records, 44.4%)" {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if lines[len(lines)-1] != "Total: 18.00 元 (3 records)" {
		t.Fatalf("total = %q", lines[len(lines)-1])
	}
}

func TestFormatterSummaryEmpty(t *testing.T) {
	f := NewFormatter("", 0)
	if f.Currency != DefaultCurrency || f.MaxItems != DefaultMaxItems {
		t.Fatalf("defaults not applied: %+v", f)
	}
	got := f.Summary("Summary", core.NewDate(2025, 6, 1), core.NewDate(2025, 6, 30), nil)
	if !strings.HasSuffix(got, "No records.") {
		t.Fatalf("unexpected %q", got)
	}
}

func TestPeriodLabel(t *testing.T) {
	d := core.NewDate(2025, 6, 1)
	if PeriodLabel(d, d) != "2025-06-01" {
		t.Fatal("single day label")
	}
	if PeriodLabel(d, d.MonthEnd()) != "2025-06-01 to 2025-06-30" {
		t.Fatal("range label")
	}
}
