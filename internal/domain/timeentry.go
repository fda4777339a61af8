package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/worktrack/internal/auth"
)

// StartInput is the payload of a clock-in.
type StartInput struct {
	DeviceID  *string
	StartedAt *time.Time
}

// StartTime opens a time entry for the actor.
func (s *Service) StartTime(ctx context.Context, actor auth.Actor, in StartInput) (*TimeEntry, error) {
	startedAt := s.clock()
	if in.StartedAt != nil {
		startedAt = in.StartedAt.UTC()
	}
	entry := TimeEntry{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		UserID:    actor.UserID,
		DeviceID:  in.DeviceID,
		StartedAt: startedAt,
		Source:    "manual",
	}
	if err := s.entries.Start(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// StopTime closes the actor's open time entry.
func (s *Service) StopTime(ctx context.Context, actor auth.Actor, endedAt *time.Time) (*TimeEntry, error) {
	end := s.clock()
	if endedAt != nil {
		end = endedAt.UTC()
	}
	return s.entries.StopOpen(ctx, actor.TenantID, actor.UserID, end)
}

// ListTime returns a user's time entries newest first, subject to visibility.
func (s *Service) ListTime(ctx context.Context, actor auth.Actor, userID string, window TimeRange) ([]TimeEntry, error) {
	target := targetOrSelf(actor, userID)
	if err := s.authorizeView(ctx, actor, target); err != nil {
		return nil, err
	}
	return s.entries.ListByUser(ctx, actor.TenantID, target, window, 500)
}
