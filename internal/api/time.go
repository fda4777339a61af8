package api

import (
	"net/http"
	"time"

	"example.com/worktrack/internal/domain"
)

// StartTimeRequest is the payload for POST /time/start.
type StartTimeRequest struct {
	DeviceID  *string    `json:"deviceId,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// StopTimeRequest is the payload for POST /time/stop.
type StopTimeRequest struct {
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

// TimeEntryView exposes a time entry.
type TimeEntryView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	DeviceID  *string    `json:"deviceId,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	Source    string     `json:"source"`
}

// LiveSessionView is one row of GET /time/active.
type LiveSessionView struct {
	EntryID         string     `json:"entryId"`
	UserID          string     `json:"userId"`
	Role            string     `json:"role"`
	DeviceID        *string    `json:"deviceId,omitempty"`
	DeviceName      *string    `json:"deviceName,omitempty"`
	Platform        *string    `json:"platform,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	Status          string     `json:"status"`
	LastActivityAt  *time.Time `json:"lastActivityAt"`
	LastApp         *string    `json:"lastApp"`
	LastWindowTitle *string    `json:"lastWindowTitle"`
	LastURL         *string    `json:"lastUrl"`
}

// SessionDetailView is the drill-down of one time entry.
type SessionDetailView struct {
	Entry       TimeEntryView    `json:"entry"`
	WindowEnd   time.Time        `json:"windowEnd"`
	Activity    []ActivityView   `json:"activity"`
	Screenshots []ScreenshotView `json:"screenshots"`
}

func (h *Handler) startTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req StartTimeRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	entry, err := h.service.StartTime(r.Context(), actor, domain.StartInput{DeviceID: req.DeviceID, StartedAt: req.StartedAt})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeEntryView(*entry))
}

func (h *Handler) stopTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req StopTimeRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	entry, err := h.service.StopTime(r.Context(), actor, req.EndedAt)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryView(*entry))
}

func (h *Handler) listTime(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	entries, err := h.service.ListTime(r.Context(), actor, r.URL.Query().Get("userId"), window)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]TimeEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTimeEntryView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) activeSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	sessions, err := h.service.ActiveSessions(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]LiveSessionView, 0, len(sessions))
	for _, s := range sessions {
		row := LiveSessionView{
			EntryID:    s.EntryID,
			UserID:     s.UserID,
			Role:       s.Role,
			DeviceID:   s.DeviceID,
			DeviceName: s.DeviceName,
			Platform:   s.Platform,
			StartedAt:  s.StartedAt,
			Status:     string(s.Status),
		}
		if last := s.LastActivity; last != nil {
			row.LastActivityAt = &last.EndedAt
			row.LastApp = &last.AppName
			row.LastWindowTitle = last.WindowTitle
			row.LastURL = last.URL
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) sessionDetail(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	detail, err := h.service.SessionDetail(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	activity := make([]ActivityView, 0, len(detail.Activity))
	for _, ev := range detail.Activity {
		activity = append(activity, toActivityView(ev))
	}
	writeJSON(w, http.StatusOK, SessionDetailView{
		Entry:       toTimeEntryView(detail.Entry),
		WindowEnd:   detail.WindowEnd,
		Activity:    activity,
		Screenshots: toScreenshotViews(detail.Screenshots),
	})
}

func toTimeEntryView(e domain.TimeEntry) TimeEntryView {
	return TimeEntryView{
		ID:        e.ID,
		UserID:    e.UserID,
		DeviceID:  e.DeviceID,
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
		Source:    e.Source,
	}
}
