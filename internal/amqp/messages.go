package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
)

// ReplyStatus is the outcome reported back to the fact producer.
type ReplyStatus string

const (
	ReplyAccepted  ReplyStatus = "accepted"
	ReplyDuplicate ReplyStatus = "duplicate"
	ReplyInvalid   ReplyStatus = "invalid"
	ReplyForbidden ReplyStatus = "forbidden"
	ReplySkipped   ReplyStatus = "skipped"
	ReplyError     ReplyStatus = "error"
)

// ExpenseFactMessage is an expense extracted upstream from a conversation.
// The producer has already resolved who sent it and whether they are admin.
type ExpenseFactMessage struct {
	Session    string      `json:"session"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	IsAdmin    bool        `json:"is_admin,omitempty"`
	Item       string      `json:"item"`
	Amount     json.Number `json:"amount"`
	Note       string      `json:"note,omitempty"`
	MessageID  string      `json:"message_id,omitempty"`
	// Auto marks facts inferred without an explicit command. They are
	// dropped while auto-extract is off.
	Auto bool `json:"auto,omitempty"`
}

// Validate checks the envelope. Item and amount rules are the ledger's.
func (m *ExpenseFactMessage) Validate() error {
	if strings.TrimSpace(m.Session) == "" {
		return fmt.Errorf("%w: session is required", core.ErrInvalidArgument)
	}
	if m.Amount == "" {
		return fmt.Errorf("%w: amount is required", core.ErrInvalidArgument)
	}
	return nil
}

// ParsedAmount converts the wire number into a cent-rounded amount.
func (m *ExpenseFactMessage) ParsedAmount() (decimal.Decimal, error) {
	return core.ParseAmount(m.Amount.String())
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseFactMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseFactMessageFromJSON decodes a fact. Amounts must be JSON numbers.
func ExpenseFactMessageFromJSON(data []byte) (*ExpenseFactMessage, error) {
	var msg ExpenseFactMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ExpenseFactReply is published to the ReplyTo queue of a fact delivery.
type ExpenseFactReply struct {
	Status   ReplyStatus `json:"status"`
	Message  string      `json:"message,omitempty"`
	RecordID string      `json:"record_id,omitempty"`
}

// ToJSON converts the reply to JSON bytes
func (r *ExpenseFactReply) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ExpenseFactReplyFromJSON decodes a reply.
func ExpenseFactReplyFromJSON(data []byte) (*ExpenseFactReply, error) {
	var reply ExpenseFactReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ReportMessage carries one rendered report for a session.
type ReportMessage struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReportMessage creates a report message with a fresh ID.
func NewReportMessage(session, text string) *ReportMessage {
	return &ReportMessage{
		ID:        uuid.NewString(),
		Session:   session,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportMessageFromJSON decodes a report message.
func ReportMessageFromJSON(data []byte) (*ReportMessage, error) {
	var msg ReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
