// Package api exposes the HTTP surface of the tracking service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"example.com/worktrack/internal/auth"
	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/observability"
	"example.com/worktrack/internal/persistence"
)

const maxBodyBytes = 8 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler. A nil logger falls back to slog.Default.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "POST /activity/batch", h.ingestBatch)
	h.handle(mux, "GET /activity", h.listActivity)

	h.handle(mux, "POST /screenshots/presign", h.presignScreenshot)
	h.handle(mux, "POST /screenshots/complete/{id}", h.completeScreenshot)
	h.handle(mux, "GET /screenshots", h.listScreenshots)

	h.handle(mux, "POST /time/start", h.startTime)
	h.handle(mux, "POST /time/stop", h.stopTime)
	h.handle(mux, "GET /time/active", h.activeSessions)
	h.handle(mux, "GET /time/{id}/session", h.sessionDetail)
	h.handle(mux, "GET /time", h.listTime)

	h.handle(mux, "GET /policies/capture/{userId}", h.getCapturePolicy)
	h.handle(mux, "PUT /policies/capture/{userId}", h.putCapturePolicy)
	h.handle(mux, "GET /policies/retention", h.getRetentionPolicy)
	h.handle(mux, "PUT /policies/retention", h.putRetentionPolicy)

	h.handle(mux, "POST /devices/register", h.registerDevice)
	h.handle(mux, "GET /audit", h.listAudit)

	h.handle(mux, "GET /users", h.listUsers)
	h.handle(mux, "PATCH /users/{id}", h.updateUser)

	mux.HandleFunc("GET /healthz", healthz)
}

func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, h.logger, fn))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records latency per route pattern and logs the outcome.
func instrument(route string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		observability.ObserveRequest(route, rec.status, elapsed)
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
	})
}

// actorFrom extracts the authenticated caller or writes a 401.
func actorFrom(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return auth.Actor{}, false
	}
	return claims.Actor(), true
}

// decodeBody reads a JSON body, transparently inflating gzip-encoded payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	var body io.Reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return err
		}
		defer zr.Close()
		body = io.LimitReader(zr, 4*maxBodyBytes)
	}
	return json.NewDecoder(body).Decode(dst)
}

// decodeOptionalBody accepts an empty body as "no fields set".
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := decodeBody(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseWindow(r *http.Request) (domain.TimeRange, error) {
	var window domain.TimeRange
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, errors.New("from must be an RFC 3339 timestamp")
		}
		window.From = t.UTC()
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return window, errors.New("to must be an RFC 3339 timestamp")
		}
		window.To = t.UTC()
	}
	return window, nil
}

func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

// writeDomainError maps the domain error taxonomy onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, persistence.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		writeError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
