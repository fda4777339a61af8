package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/worktrack/internal/domain"
)

// CapturePolicyView is the body of GET/PUT /policies/capture/{userId}.
type CapturePolicyView struct {
	UserID          string    `json:"userId"`
	IntervalSeconds int       `json:"intervalSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CapturePolicyRequest is the payload for PUT /policies/capture/{userId}.
type CapturePolicyRequest struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// RetentionPolicyView exposes the tenant retention windows. Null means indefinite.
type RetentionPolicyView struct {
	TimeRetentionDays       *int `json:"timeRetentionDays"`
	ActivityRetentionDays   *int `json:"activityRetentionDays"`
	ScreenshotRetentionDays *int `json:"screenshotRetentionDays"`
}

// DeviceRequest is the payload for POST /devices/register.
type DeviceRequest struct {
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// DeviceView exposes a registered device.
type DeviceView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// AuditView exposes one audit log entry.
type AuditView struct {
	ID          int64           `json:"id"`
	ActorUserID *string         `json:"actorUserId"`
	Action      string          `json:"action"`
	Entity      string          `json:"entity"`
	EntityID    *string         `json:"entityId"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (h *Handler) getCapturePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	policy, err := h.service.CapturePolicy(r.Context(), actor, r.PathValue("userId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCapturePolicyView(*policy))
}

func (h *Handler) putCapturePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req CapturePolicyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	policy, err := h.service.SetCapturePolicy(r.Context(), actor, r.PathValue("userId"), req.IntervalSeconds)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCapturePolicyView(*policy))
}

func (h *Handler) getRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	policy, err := h.service.RetentionPolicy(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRetentionView(*policy))
}

func (h *Handler) putRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	var update domain.RetentionUpdate
	fields := map[string]*domain.OptionalDays{
		"timeRetentionDays":       &update.Time,
		"activityRetentionDays":   &update.Activity,
		"screenshotRetentionDays": &update.Screenshot,
	}
	for name, target := range fields {
		value, present := raw[name]
		if !present {
			continue
		}
		days, err := parseOptionalDays(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("%s: %v", name, err))
			return
		}
		*target = days
	}

	policy, err := h.service.UpdateRetentionPolicy(r.Context(), actor, update)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRetentionView(*policy))
}

// parseOptionalDays turns a present JSON value into a set field; null clears it.
func parseOptionalDays(value json.RawMessage) (domain.OptionalDays, error) {
	if string(value) == "null" {
		return domain.OptionalDays{Set: true}, nil
	}
	var days int
	if err := json.Unmarshal(value, &days); err != nil {
		return domain.OptionalDays{}, errors.New("must be an integer or null")
	}
	return domain.OptionalDays{Set: true, Days: &days}, nil
}

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req DeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	device, err := h.service.RegisterDevice(r.Context(), actor, req.DeviceName, req.Platform)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceView{
		ID:         device.ID,
		Name:       device.Name,
		Platform:   device.Platform,
		LastSeenAt: device.LastSeenAt,
	})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	entries, err := h.service.ListAudit(r.Context(), actor, window, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		view := AuditView{
			ID:          e.ID,
			ActorUserID: e.ActorUserID,
			Action:      e.Action,
			Entity:      e.Entity,
			EntityID:    e.EntityID,
			CreatedAt:   e.CreatedAt,
		}
		if len(e.Metadata) > 0 && json.Valid(e.Metadata) {
			view.Metadata = json.RawMessage(e.Metadata)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func toCapturePolicyView(p domain.CapturePolicy) CapturePolicyView {
	return CapturePolicyView{UserID: p.UserID, IntervalSeconds: p.IntervalSeconds, UpdatedAt: p.UpdatedAt}
}

func toRetentionView(p domain.RetentionPolicy) RetentionPolicyView {
	return RetentionPolicyView{
		TimeRetentionDays:       p.TimeRetentionDays,
		ActivityRetentionDays:   p.ActivityRetentionDays,
		ScreenshotRetentionDays: p.ScreenshotRetentionDays,
	}
}
