package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/services"
)

// Identity headers set by the trusted upstream.
const (
	HeaderSession    = "X-Session"
	HeaderSenderID   = "X-Sender-ID"
	HeaderSenderName = "X-Sender-Name"
	HeaderAdmin      = "X-Admin"
	HeaderRequestID  = "X-Request-ID"
)

const maxBodyBytes = 64 << 10

// callerFromRequest reads the identity headers. X-Admin accepts the
// strconv.ParseBool forms; anything else is false.
func callerFromRequest(r *http.Request) services.Caller {
	admin, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderAdmin)))
	return services.Caller{
		Session:    sanitizeInput(r.Header.Get(HeaderSession)),
		SenderID:   sanitizeInput(r.Header.Get(HeaderSenderID)),
		SenderName: sanitizeInput(r.Header.Get(HeaderSenderName)),
		IsAdmin:    admin,
	}
}

// sessionCaller is callerFromRequest for session-scoped endpoints. A missing
// session would otherwise select every session.
func sessionCaller(w http.ResponseWriter, r *http.Request) (services.Caller, bool) {
	caller := callerFromRequest(r)
	if caller.Session == "" {
		writeError(w, r, fmt.Errorf("%w: missing %s header", core.ErrInvalidArgument, HeaderSession))
		return caller, false
	}
	return caller, true
}

// senderKey keys the write limiter by sender, falling back to the client IP.
func senderKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderSenderID)); id != "" {
		return "sender:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestID reuses an upstream request ID or generates one.
func requestID(r *http.Request) string {
	if id := sanitizeInput(r.Header.Get(HeaderRequestID)); id != "" {
		return id
	}
	return generateRequestID()
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// decodeJSON decodes a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", core.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the core error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent())
		log.LogError(r.Context(), log.FromContext(r.Context()), "Request failed", err, "", fields)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
