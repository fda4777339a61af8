package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/worktrack/internal/auth"
)

// PresignInput is the payload of an upload-target request.
type PresignInput struct {
	DeviceID *string
	TakenAt  *time.Time
}

// PresignResult is returned to the agent so it can upload directly to storage.
type PresignResult struct {
	ScreenshotID string
	UploadURL    string
	StorageKey   string
	ExpiresAt    *time.Time
}

// StorageKey derives the object key for a capture:
// tenant/user/yyyy/mm/dd/<random>.jpg, with the date in UTC.
func StorageKey(tenantID, userID string, takenAt time.Time, random string) string {
	t := takenAt.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.jpg", tenantID, userID, t.Year(), int(t.Month()), t.Day(), random)
}

// Presign records a pending screenshot and returns a direct upload target.
// Every call yields a fresh storage key, so a retried upload never reuses
// an earlier record.
func (s *Service) Presign(ctx context.Context, actor auth.Actor, in PresignInput) (*PresignResult, error) {
	if s.store == nil {
		return nil, errors.New("object storage not configured")
	}
	takenAt := s.clock()
	if in.TakenAt != nil {
		takenAt = in.TakenAt.UTC()
	}

	key := StorageKey(actor.TenantID, actor.UserID, takenAt, uuid.NewString())
	expiresAt, err := s.screenshotExpiry(ctx, actor.TenantID, takenAt)
	if err != nil {
		return nil, err
	}

	uploadURL, err := s.store.PresignPut(ctx, key, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	shot := Screenshot{
		ID:         uuid.NewString(),
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		DeviceID:   in.DeviceID,
		TakenAt:    takenAt,
		StorageKey: key,
		ExpiresAt:  expiresAt,
		CreatedAt:  s.clock(),
	}
	if err := s.screenshots.Create(ctx, shot); err != nil {
		return nil, err
	}

	return &PresignResult{
		ScreenshotID: shot.ID,
		UploadURL:    uploadURL,
		StorageKey:   key,
		ExpiresAt:    expiresAt,
	}, nil
}

// screenshotExpiry is fixed at creation from the policy in force at that
// moment and is never recomputed.
func (s *Service) screenshotExpiry(ctx context.Context, tenantID string, takenAt time.Time) (*time.Time, error) {
	policy, err := s.policies.GetRetention(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	days := defaultScreenshotRetention
	if policy != nil {
		if policy.ScreenshotRetentionDays == nil {
			return nil, nil
		}
		days = *policy.ScreenshotRetentionDays
	}
	expires := takenAt.AddDate(0, 0, days)
	return &expires, nil
}

// CompleteScreenshot confirms an upload and records its size.
func (s *Service) CompleteScreenshot(ctx context.Context, actor auth.Actor, screenshotID string, sizeBytes *int64) (*Screenshot, error) {
	if sizeBytes != nil && *sizeBytes < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrValidation)
	}
	return s.screenshots.Complete(ctx, actor.TenantID, actor.UserID, screenshotID, sizeBytes)
}

// ListScreenshots returns a user's screenshots newest first, subject to visibility.
func (s *Service) ListScreenshots(ctx context.Context, actor auth.Actor, userID string, window TimeRange) ([]Screenshot, error) {
	target := targetOrSelf(actor, userID)
	if err := s.authorizeView(ctx, actor, target); err != nil {
		return nil, err
	}
	return s.screenshots.ListByUser(ctx, actor.TenantID, target, window, 200)
}

// PurgeExpired deletes up to limit screenshots whose expiry has passed,
// first from object storage and then from the store. Objects that fail to
// delete are logged and their rows are still removed.
func (s *Service) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if s.store == nil {
		return 0, errors.New("object storage not configured")
	}
	expired, err := s.screenshots.ListExpired(ctx, s.clock(), limit)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, shot := range expired {
		if err := s.store.Delete(ctx, shot.StorageKey); err != nil {
			s.logger.Warn("failed to delete screenshot object", "key", shot.StorageKey, "error", err)
		}
		ids = append(ids, shot.ID)
	}
	if err := s.screenshots.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
