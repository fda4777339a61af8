package api

import (
	"errors"
	"net/http"
	"time"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/observability"
	"example.com/worktrack/internal/persistence"
)

// ActivityEventRequest is one segment inside POST /activity/batch.
type ActivityEventRequest struct {
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	AppName     string    `json:"appName"`
	WindowTitle *string   `json:"windowTitle,omitempty"`
	URL         *string   `json:"url,omitempty"`
	DeviceID    *string   `json:"deviceId,omitempty"`
	Idle        bool      `json:"idle"`
}

// ActivityBatchRequest is the payload for POST /activity/batch.
type ActivityBatchRequest struct {
	Events []ActivityEventRequest `json:"events"`
}

// ActivityBatchResponse acknowledges a stored batch.
type ActivityBatchResponse struct {
	Inserted int `json:"inserted"`
}

// ActivityView exposes a stored activity event.
type ActivityView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DeviceID    *string   `json:"deviceId,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	AppName     string    `json:"appName"`
	WindowTitle *string   `json:"windowTitle,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Idle        bool      `json:"idle"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListActivityResponse packages one page of activity.
type ListActivityResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req ActivityBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		observability.RecordBatchRejected("decode")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	inputs := make([]domain.ActivityInput, 0, len(req.Events))
	for _, ev := range req.Events {
		inputs = append(inputs, domain.ActivityInput{
			StartedAt:   ev.StartedAt,
			EndedAt:     ev.EndedAt,
			AppName:     ev.AppName,
			WindowTitle: ev.WindowTitle,
			URL:         ev.URL,
			DeviceID:    ev.DeviceID,
			Idle:        ev.Idle,
		})
	}

	inserted, err := h.service.Ingest(r.Context(), actor.TenantID, actor.UserID, inputs)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			observability.RecordBatchRejected("validation")
		} else {
			observability.RecordBatchRejected("store")
		}
		h.writeDomainError(w, r, err)
		return
	}

	observability.RecordBatchIngested(inserted, time.Now())
	writeJSON(w, http.StatusCreated, ActivityBatchResponse{Inserted: inserted})
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	events, next, err := h.service.ListActivity(r.Context(), actor, r.URL.Query().Get("userId"), window, cursor, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(events))
	for _, ev := range events {
		items = append(items, toActivityView(ev))
	}
	writeJSON(w, http.StatusOK, ListActivityResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func toActivityView(ev domain.ActivityEvent) ActivityView {
	return ActivityView{
		ID:          ev.ID,
		UserID:      ev.UserID,
		DeviceID:    ev.DeviceID,
		StartedAt:   ev.StartedAt,
		EndedAt:     ev.EndedAt,
		AppName:     ev.AppName,
		WindowTitle: ev.WindowTitle,
		URL:         ev.URL,
		Idle:        ev.Idle,
		CreatedAt:   ev.CreatedAt,
	}
}
