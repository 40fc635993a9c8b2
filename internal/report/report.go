// Package report renders query results as plain text.
package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
)

// Defaults from the original deployment.
const (
	DefaultCurrency = "元"
	DefaultMaxItems = 100
)

var hundred = decimal.NewFromInt(100)

// FormatReport renders an itemized bill. At most maxItems records are
// listed; the total and count always cover every record.
func FormatReport(title, period string, records []core.ExpenseRecord, currency string, maxItems int) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\nPeriod: ")
	b.WriteString(period)
	if len(records) == 0 {
		b.WriteString("\nNo records.")
		return b.String()
	}
	if maxItems < 1 {
		maxItems = 1
	}

	b.WriteString("\n\n")
	total := decimal.Zero
	for i, r := range records {
		total = total.Add(r.Amount)
		if i >= maxItems {
			continue
		}
		fmt.Fprintf(&b, "%d. %s - %s", i+1, r.Item, core.FormatAmount(r.Amount))
		if r.Note != "" {
			fmt.Fprintf(&b, " [%s]", r.Note)
		}
		if r.SenderName != "" {
			fmt.Fprintf(&b, " (%s)", r.SenderName)
		}
		b.WriteByte('\n')
	}
	if extra := len(records) - maxItems; extra > 0 {
		fmt.Fprintf(&b, "... +%d more\n", extra)
	}
	b.WriteByte('\n')
	b.WriteString(totalLine(total, currency, len(records)))
	return b.String()
}

// FormatSummary renders one line per category in the given order (callers
// pass it sorted by descending total) followed by the grand total.
func FormatSummary(categories []core.CategoryTotal, currency string) string {
	total := decimal.Zero
	count := 0
	for _, c := range categories {
		total = total.Add(c.Total)
		count += c.Count
	}

	var b strings.Builder
	for i, c := range categories {
		fmt.Fprintf(&b, "%d. %s - %s (%s, %s%%)\n",
			i+1, c.Label, core.FormatAmount(c.Total), plural(c.Count), share(c.Total, total))
	}
	if len(categories) > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(totalLine(total, currency, count))
	return b.String()
}

// PeriodLabel renders an inclusive date range, or a single date.
func PeriodLabel(start, end core.Date) string {
	if start == end {
		return start.String()
	}
	return start.String() + " to " + end.String()
}

func totalLine(total decimal.Decimal, currency string, n int) string {
	return fmt.Sprintf("Total: %s %s (%s)", core.FormatAmount(total), currency, plural(n))
}

func share(part, whole decimal.Decimal) string {
	if !whole.IsPositive() {
		return "0.0"
	}
	return part.Mul(hundred).Div(whole).StringFixed(1)
}

func plural(n int) string {
	if n == 1 {
		return "1 record"
	}
	return fmt.Sprintf("%d records", n)
}

// Formatter carries the currency and item limit so callers only pass data.
type Formatter struct {
	Currency string
	MaxItems int
}

// NewFormatter fills unset fields with defaults.
func NewFormatter(currency string, maxItems int) Formatter {
	if currency == "" {
		currency = DefaultCurrency
	}
	if maxItems < 1 {
		maxItems = DefaultMaxItems
	}
	return Formatter{Currency: currency, MaxItems: maxItems}
}

// Report renders an itemized bill for [start, end].
func (f Formatter) Report(title string, start, end core.Date, records []core.ExpenseRecord) string {
	return FormatReport(title, PeriodLabel(start, end), records, f.Currency, f.MaxItems)
}

// Summary renders a titled category summary for [start, end].
func (f Formatter) Summary(title string, start, end core.Date, categories []core.CategoryTotal) string {
	header := title + "\nPeriod: " + PeriodLabel(start, end)
	if len(categories) == 0 {
		return header + "\nNo records."
	}
	return header + "\n\n" + FormatSummary(categories, f.Currency)
}
