package http

import (
	"fmt"
	"net/http"

	"bookkeeper/internal/core"
)

// scheduleRequest is a partial update; omitted fields keep their value.
type scheduleRequest struct {
	DailyEnabled   *bool   `json:"daily_enabled"`
	DailyTime      *string `json:"daily_time"`
	MonthlyEnabled *bool   `json:"monthly_enabled"`
	MonthlyDay     *int    `json:"monthly_day"`
	MonthlyTime    *string `json:"monthly_time"`
	Timezone       *string `json:"timezone"`
}

type scheduleResponse struct {
	DailyEnabled   bool   `json:"daily_enabled"`
	DailyTime      string `json:"daily_time"`
	MonthlyEnabled bool   `json:"monthly_enabled"`
	MonthlyDay     int    `json:"monthly_day"`
	MonthlyTime    string `json:"monthly_time"`
	Timezone       string `json:"timezone"`
}

func toScheduleResponse(cfg core.ScheduleConfig) scheduleResponse {
	return scheduleResponse{
		DailyEnabled:   cfg.DailyEnabled,
		DailyTime:      cfg.DailyTime.String(),
		MonthlyEnabled: cfg.MonthlyEnabled,
		MonthlyDay:     cfg.MonthlyDay,
		MonthlyTime:    cfg.MonthlyTime.String(),
		Timezone:       cfg.Timezone,
	}
}

// apply overlays the request onto cfg.
func (req scheduleRequest) apply(cfg core.ScheduleConfig) (core.ScheduleConfig, error) {
	if req.DailyEnabled != nil {
		cfg.DailyEnabled = *req.DailyEnabled
	}
	if req.DailyTime != nil {
		t, err := core.ParseClockTime(*req.DailyTime)
		if err != nil {
			return cfg, fmt.Errorf("%w: daily_time: %v", core.ErrInvalidArgument, err)
		}
		cfg.DailyTime = t
	}
	if req.MonthlyEnabled != nil {
		cfg.MonthlyEnabled = *req.MonthlyEnabled
	}
	if req.MonthlyDay != nil {
		cfg.MonthlyDay = *req.MonthlyDay
	}
	if req.MonthlyTime != nil {
		t, err := core.ParseClockTime(*req.MonthlyTime)
		if err != nil {
			return cfg, fmt.Errorf("%w: monthly_time: %v", core.ErrInvalidArgument, err)
		}
		cfg.MonthlyTime = t
	}
	if req.Timezone != nil {
		cfg.Timezone = *req.Timezone
		if core.IsSystemTimezone(cfg.Timezone) {
			cfg.Timezone = ""
		}
	}
	return cfg, nil
}

type timezoneRequest struct {
	Timezone string `json:"timezone"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type whitelistRequest struct {
	Enabled     *bool `json:"enabled"`
	AdminBypass *bool `json:"admin_bypass"`
}

type whitelistResponse struct {
	Enabled     bool     `json:"enabled"`
	AdminBypass bool     `json:"admin_bypass"`
	SenderIDs   []string `json:"sender_ids"`
}

type changedResponse struct {
	SenderID string `json:"sender_id"`
	Changed  bool   `json:"changed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	text, err := s.svc.Status(callerFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, text)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if !callerFromRequest(r).IsAdmin {
		writeError(w, r, fmt.Errorf("%w: admin only", core.ErrForbidden))
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s.svc.Schedule()))
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := req.apply(s.svc.Schedule())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetSchedule(r.Context(), caller, cfg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s.svc.Schedule()))
}

func (s *Server) handleSetTimezone(w http.ResponseWriter, r *http.Request) {
	var req timezoneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetTimezone(r.Context(), callerFromRequest(r), req.Timezone); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s.svc.Schedule()))
}

func (s *Server) handleSetAutoExtract(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetAutoExtract(r.Context(), callerFromRequest(r), req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	wl, err := s.svc.Whitelist(callerFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWhitelistResponse(wl))
}

func (s *Server) handleSetWhitelist(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	current, err := s.svc.Whitelist(caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	enabled, bypass := current.Enabled, current.AdminBypass
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if req.AdminBypass != nil {
		bypass = *req.AdminBypass
	}
	if err := s.svc.SetWhitelist(r.Context(), caller, enabled, bypass); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := s.svc.Whitelist(caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWhitelistResponse(wl))
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	added, err := s.svc.AddToWhitelist(r.Context(), callerFromRequest(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, changedResponse{SenderID: id, Changed: added})
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	removed, err := s.svc.RemoveFromWhitelist(r.Context(), callerFromRequest(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, fmt.Errorf("%w: sender %q is not whitelisted", core.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{SenderID: id, Changed: true})
}

func toWhitelistResponse(wl core.Whitelist) whitelistResponse {
	ids := wl.SenderIDs
	if ids == nil {
		ids = []string{}
	}
	return whitelistResponse{Enabled: wl.Enabled, AdminBypass: wl.AdminBypass, SenderIDs: ids}
}
