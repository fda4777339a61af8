package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"example.com/worktrack/internal/auth"
)

// Ingest validates and persists one agent batch for (tenantID, userID).
// Either every event is stored or none is. No client idempotency key is
// accepted, so a batch resubmitted after a lost acknowledgement is stored
// twice.
func (s *Service) Ingest(ctx context.Context, tenantID, userID string, inputs []ActivityInput) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: no events to ingest", ErrValidation)
	}
	if len(inputs) > MaxBatchSize {
		return 0, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrValidation, len(inputs), MaxBatchSize)
	}

	now := s.clock()
	events := make([]ActivityEvent, 0, len(inputs))
	for i, in := range inputs {
		if in.StartedAt.IsZero() || in.EndedAt.IsZero() {
			return 0, fmt.Errorf("%w: event %d is missing a timestamp", ErrValidation, i)
		}
		if in.EndedAt.Before(in.StartedAt) {
			return 0, fmt.Errorf("%w: event %d ends before it starts", ErrValidation, i)
		}
		if strings.TrimSpace(in.AppName) == "" {
			return 0, fmt.Errorf("%w: event %d has no app name", ErrValidation, i)
		}
		events = append(events, ActivityEvent{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			UserID:      userID,
			DeviceID:    in.DeviceID,
			StartedAt:   in.StartedAt.UTC(),
			EndedAt:     in.EndedAt.UTC(),
			AppName:     in.AppName,
			WindowTitle: in.WindowTitle,
			URL:         in.URL,
			Idle:        in.Idle,
			CreatedAt:   now,
		})
	}

	if err := s.activity.InsertBatch(ctx, tenantID, userID, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// ListActivity returns a user's activity newest first, subject to visibility.
func (s *Service) ListActivity(ctx context.Context, actor auth.Actor, userID string, window TimeRange, cursor *Cursor, limit int) ([]ActivityEvent, *Cursor, error) {
	target := targetOrSelf(actor, userID)
	if err := s.authorizeView(ctx, actor, target); err != nil {
		return nil, nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.activity.ListByUser(ctx, actor.TenantID, target, window, cursor, limit)
}
