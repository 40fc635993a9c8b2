package ledger

import "bookkeeper/internal/core"

// DefaultDedupWindow is how many of the most recent records a candidate is
// compared against.
const DefaultDedupWindow = 30

// Gate rejects a candidate that repeats a recent record from the same
// source message.
type Gate struct {
	Window int
}

// IsDuplicate reports whether candidate matches one of the last Window
// records on session, source message, item and amount. A candidate without
// a source message ID never matches.
func (g Gate) IsDuplicate(candidate core.ExpenseRecord, records []core.ExpenseRecord) bool {
	if candidate.SourceMessageID == "" || g.Window <= 0 {
		return false
	}
	start := max(0, len(records)-g.Window)
	for i := len(records) - 1; i >= start; i-- {
		r := records[i]
		if r.SourceMessageID == candidate.SourceMessageID &&
			r.Session == candidate.Session &&
			r.Item == candidate.Item &&
			r.Amount.Equal(candidate.Amount) {
			return true
		}
	}
	return false
}
