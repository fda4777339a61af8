package domain

import (
	"context"
	"fmt"

	"example.com/worktrack/internal/auth"
)

const (
	MinCaptureIntervalSeconds = 60
	MaxCaptureIntervalSeconds = 3600
	maxRetentionDays          = 3650
)

// CapturePolicy returns the screenshot interval configured for userID.
// Members may read their own policy; privileged roles may read anyone's.
func (s *Service) CapturePolicy(ctx context.Context, actor auth.Actor, userID string) (*CapturePolicy, error) {
	if actor.UserID != userID && !actor.Role.Privileged() {
		return nil, fmt.Errorf("%w: capture policy of another user", ErrForbidden)
	}
	policy, err := s.policies.GetCapture(ctx, actor.TenantID, userID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("%w: capture policy", ErrNotFound)
	}
	return policy, nil
}

// SetCapturePolicy stores the screenshot interval for userID.
func (s *Service) SetCapturePolicy(ctx context.Context, actor auth.Actor, userID string, intervalSeconds int) (*CapturePolicy, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}
	if intervalSeconds < MinCaptureIntervalSeconds || intervalSeconds > MaxCaptureIntervalSeconds {
		return nil, fmt.Errorf("%w: interval must be between %d and %d seconds", ErrValidation, MinCaptureIntervalSeconds, MaxCaptureIntervalSeconds)
	}
	policy := CapturePolicy{
		TenantID:        actor.TenantID,
		UserID:          userID,
		IntervalSeconds: intervalSeconds,
		UpdatedAt:       s.clock(),
	}
	if err := s.policies.UpsertCapture(ctx, policy, actor.UserID); err != nil {
		return nil, err
	}
	return &policy, nil
}

// RetentionPolicy returns the tenant's retention windows, falling back to
// the default of 15 days for screenshots and indefinite for the rest.
func (s *Service) RetentionPolicy(ctx context.Context, actor auth.Actor) (*RetentionPolicy, error) {
	policy, err := s.policies.GetRetention(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		days := defaultScreenshotRetention
		return &RetentionPolicy{TenantID: actor.TenantID, ScreenshotRetentionDays: &days}, nil
	}
	return policy, nil
}

// RetentionUpdate carries the fields to change. A field whose Set flag is
// false is left untouched; Set with a nil value clears it to indefinite.
type RetentionUpdate struct {
	Time       OptionalDays
	Activity   OptionalDays
	Screenshot OptionalDays
}

// OptionalDays distinguishes "not provided" from "explicitly null".
type OptionalDays struct {
	Set  bool
	Days *int
}

// UpdateRetentionPolicy merges update into the tenant's retention policy.
// Existing screenshots keep the expiry computed when they were created.
func (s *Service) UpdateRetentionPolicy(ctx context.Context, actor auth.Actor, update RetentionUpdate) (*RetentionPolicy, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}
	for _, field := range []OptionalDays{update.Time, update.Activity, update.Screenshot} {
		if field.Set && field.Days != nil && (*field.Days < 1 || *field.Days > maxRetentionDays) {
			return nil, fmt.Errorf("%w: retention days must be between 1 and %d", ErrValidation, maxRetentionDays)
		}
	}

	current, err := s.RetentionPolicy(ctx, actor)
	if err != nil {
		return nil, err
	}
	next := *current
	if update.Time.Set {
		next.TimeRetentionDays = update.Time.Days
	}
	if update.Activity.Set {
		next.ActivityRetentionDays = update.Activity.Days
	}
	if update.Screenshot.Set {
		next.ScreenshotRetentionDays = update.Screenshot.Days
	}
	if err := s.policies.UpsertRetention(ctx, next, actor.UserID); err != nil {
		return nil, err
	}
	return &next, nil
}
