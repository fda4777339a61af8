package api

import (
	"net/http"
	"time"

	"example.com/worktrack/internal/domain"
)

// PresignRequest is the payload for POST /screenshots/presign.
type PresignRequest struct {
	DeviceID *string    `json:"deviceId,omitempty"`
	TakenAt  *time.Time `json:"takenAt,omitempty"`
}

// PresignResponse hands the agent a direct upload target.
type PresignResponse struct {
	ScreenshotID string     `json:"screenshotId"`
	UploadURL    string     `json:"uploadUrl"`
	StorageKey   string     `json:"storageKey"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// CompleteRequest is the payload for POST /screenshots/complete/{id}.
type CompleteRequest struct {
	SizeBytes *int64 `json:"sizeBytes,omitempty"`
}

// ScreenshotView exposes a screenshot record.
type ScreenshotView struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	DeviceID   *string    `json:"deviceId,omitempty"`
	TakenAt    time.Time  `json:"takenAt"`
	StorageKey string     `json:"storageKey"`
	SizeBytes  *int64     `json:"sizeBytes"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (h *Handler) presignScreenshot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req PresignRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	res, err := h.service.Presign(r.Context(), actor, domain.PresignInput{DeviceID: req.DeviceID, TakenAt: req.TakenAt})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PresignResponse{
		ScreenshotID: res.ScreenshotID,
		UploadURL:    res.UploadURL,
		StorageKey:   res.StorageKey,
		ExpiresAt:    res.ExpiresAt,
	})
}

func (h *Handler) completeScreenshot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req CompleteRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	shot, err := h.service.CompleteScreenshot(r.Context(), actor, r.PathValue("id"), req.SizeBytes)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScreenshotView(*shot))
}

func (h *Handler) listScreenshots(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	shots, err := h.service.ListScreenshots(r.Context(), actor, r.URL.Query().Get("userId"), window)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScreenshotViews(shots))
}

func toScreenshotView(s domain.Screenshot) ScreenshotView {
	return ScreenshotView{
		ID:         s.ID,
		UserID:     s.UserID,
		DeviceID:   s.DeviceID,
		TakenAt:    s.TakenAt,
		StorageKey: s.StorageKey,
		SizeBytes:  s.SizeBytes,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
	}
}

func toScreenshotViews(shots []domain.Screenshot) []ScreenshotView {
	out := make([]ScreenshotView, 0, len(shots))
	for _, s := range shots {
		out = append(out, toScreenshotView(s))
	}
	return out
}
