package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/services"
)

type createExpenseRequest struct {
	Item      string      `json:"item"`
	Amount    json.Number `json:"amount"`
	Note      string      `json:"note"`
	MessageID string      `json:"message_id"`
	Auto      bool        `json:"auto"`
}

type recordResponse struct {
	ID         string `json:"id"`
	Session    string `json:"session"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Item       string `json:"item"`
	Amount     string `json:"amount"`
	Note       string `json:"note,omitempty"`
	Date       string `json:"date"`
	Timestamp  string `json:"timestamp"`
}

type createExpenseResponse struct {
	Status    services.AddStatus `json:"status"`
	Message   string             `json:"message"`
	Persisted bool               `json:"persisted"`
	Record    *recordResponse    `json:"record,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func toRecordResponse(rec core.ExpenseRecord) *recordResponse {
	return &recordResponse{
		ID:         rec.ID,
		Session:    rec.Session,
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		Item:       rec.Item,
		Amount:     core.FormatAmount(rec.Amount),
		Note:       rec.Note,
		Date:       rec.Date.String(),
		Timestamp:  rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	var req createExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := core.ParseAmount(req.Amount.String())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.svc.AddExpense(r.Context(), caller, services.ExpenseFact{
		Item:      req.Item,
		Amount:    amount,
		Note:      req.Note,
		MessageID: sanitizeInput(req.MessageID),
	}, req.Auto)

	if err != nil && errors.Is(err, core.ErrPersistence) && out.Status == services.StatusAccepted {
		// accepted in memory only; the caller must know the write is not durable
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Expense accepted but not persisted",
			log.FieldRecordID, out.Record.ID,
			log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, createExpenseResponse{
			Status:  out.Status,
			Message: out.Message,
			Record:  toRecordResponse(out.Record),
			Error:   err.Error(),
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := createExpenseResponse{Status: out.Status, Message: out.Message, Persisted: true}
	status := http.StatusOK
	switch out.Status {
	case services.StatusAccepted:
		status = http.StatusCreated
		resp.Record = toRecordResponse(out.Record)
	case services.StatusDuplicate:
		resp.Record = toRecordResponse(out.Record)
	case services.StatusSkipped:
		resp.Persisted = false
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	scope, err := core.ParseScope(r.PathValue("scope"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: ordinal must be a number", core.ErrInvalidArgument))
		return
	}

	rec, err := s.svc.Delete(r.Context(), caller, scope, ordinal)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		writeError(w, r, err)
		return
	}
	resp := createExpenseResponse{
		Message:   "Deleted: " + rec.Item + " " + core.FormatAmount(rec.Amount),
		Persisted: err == nil,
		Record:    toRecordResponse(rec),
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	writeText(w, s.svc.Today(caller))
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	writeText(w, s.svc.Month(caller))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	text, err := s.svc.Summary(caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, text)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	caller, ok := sessionCaller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := core.ParseDate(strings.TrimSpace(q.Get("start")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := core.ParseDate(strings.TrimSpace(q.Get("end")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := s.svc.Range(caller, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, text)
}
