package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ScopeToday Scope = "today"
	ScopeMonth Scope = "month"
)

const (
	// SkipDuplicate is reported when the dedup window already holds the fact.
	SkipDuplicate SkipReason = "duplicate"
)

type (
	// Scope bounds a query or an ordinal delete.
	Scope string

	// SkipReason explains why AddExpense did not store a record.
	SkipReason string

	// ExpenseRecord is one recorded spending fact.
	ExpenseRecord struct {
		ID              string          `json:"id"`
		Session         string          `json:"session"`
		SenderID        string          `json:"sender_id"`
		SenderName      string          `json:"sender_name,omitempty"`
		Item            string          `json:"item"`
		Amount          decimal.Decimal `json:"amount"`
		Note            string          `json:"note,omitempty"`
		Date            Date            `json:"date"`
		Timestamp       time.Time       `json:"timestamp"`
		SourceMessageID string          `json:"source_message_id,omitempty"`
	}

	// ExpenseInput carries a candidate fact into the store.
	ExpenseInput struct {
		Session         string
		SenderID        string
		SenderName      string
		Item            string
		Amount          decimal.Decimal
		Note            string
		SourceMessageID string
	}

	// CategoryTotal aggregates the records sharing one item label.
	CategoryTotal struct {
		Label string
		Count int
		Total decimal.Decimal
	}

	// State is the persisted document: records, whitelist and settings
	// replaced as one unit.
	State struct {
		Records     []ExpenseRecord `json:"records"`
		Whitelist   Whitelist       `json:"whitelist"`
		Schedule    ScheduleConfig  `json:"schedule"`
		AutoExtract bool            `json:"auto_extract"`
	}
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrNoState         = errors.New("no persisted state")
	ErrForbidden       = errors.New("forbidden")
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeToday || s == ScopeMonth
}

// ParseScope accepts "today" and "month" (case-insensitive).
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidArgument, s)
	}
	return scope, nil
}

// Range returns the inclusive date bounds of the scope around today.
func (s Scope) Range(today Date) (Date, Date) {
	if s == ScopeMonth {
		return today.MonthStart(), today.MonthEnd()
	}
	return today, today
}

// Clone returns a deep copy safe to hand to another goroutine.
func (st State) Clone() State {
	out := st
	out.Records = append([]ExpenseRecord(nil), st.Records...)
	out.Whitelist.SenderIDs = append([]string(nil), st.Whitelist.SenderIDs...)
	return out
}

// ErrInvalidAmount, ErrEmptyItem and ErrEmptySession are the InvalidArgument
// cases of a fact.
var (
	ErrInvalidAmount = fmt.Errorf("%w: amount", ErrInvalidArgument)
	ErrEmptyItem     = fmt.Errorf("%w: empty item", ErrInvalidArgument)
	ErrEmptySession  = fmt.Errorf("%w: empty session", ErrInvalidArgument)
)

// Normalize cleans the input and checks the acceptance rules: a session to
// report to, a non-empty item and a finite amount greater than zero.
func (in ExpenseInput) Normalize() (ExpenseInput, error) {
	out := in
	out.Session = strings.TrimSpace(in.Session)
	out.SenderID = strings.TrimSpace(in.SenderID)
	out.SenderName = NormalizeText(in.SenderName)
	out.Note = NormalizeText(in.Note)
	out.SourceMessageID = strings.TrimSpace(in.SourceMessageID)
	if out.Session == "" {
		return ExpenseInput{}, ErrEmptySession
	}
	out.Item = NormalizeItem(in.Item)
	if out.Item == "" {
		return ExpenseInput{}, ErrEmptyItem
	}
	amount, err := NormalizeAmount(in.Amount)
	if err != nil {
		return ExpenseInput{}, err
	}
	out.Amount = amount
	return out, nil
}
