// Package domain defines the server-side business logic: activity
// ingestion, time tracking, screenshot bookkeeping, policies and the
// session projections built from them.
package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"example.com/worktrack/internal/auth"
)

const (
	// MaxBatchSize bounds a single ingestion call.
	MaxBatchSize = 1000

	defaultPresignTTL          = 5 * time.Minute
	defaultScreenshotRetention = 15
)

// Service orchestrates the tracking workflows over the repositories.
type Service struct {
	activity    ActivityRepository
	entries     TimeEntryRepository
	screenshots ScreenshotRepository
	policies    PolicyRepository
	memberships MembershipRepository
	devices     DeviceRepository
	audit       AuditRepository
	store       ObjectStore

	authz      auth.Authorizer
	presignTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithAuthorizer overrides the visibility rule applied to every read.
func WithAuthorizer(authz auth.Authorizer) Option {
	return func(s *Service) { s.authz = authz }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPresignTTL sets how long upload URLs stay valid.
func WithPresignTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.presignTTL = ttl
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service.
func NewService(repos Repositories, store ObjectStore, opts ...Option) *Service {
	s := &Service{
		activity:    repos.Activity,
		entries:     repos.TimeEntries,
		screenshots: repos.Screenshots,
		policies:    repos.Policies,
		memberships: repos.Memberships,
		devices:     repos.Devices,
		audit:       repos.Audit,
		store:       store,
		authz:       auth.RoleAuthorizer{},
		presignTTL:  defaultPresignTTL,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// authorizeView applies the shared visibility rule for reading targetUserID's records.
func (s *Service) authorizeView(ctx context.Context, actor auth.Actor, targetUserID string) error {
	selfView := false
	if !actor.Role.Privileged() && actor.UserID == targetUserID {
		membership, err := s.memberships.Get(ctx, actor.TenantID, actor.UserID)
		if err != nil {
			return err
		}
		selfView = membership != nil && membership.CanViewOwnHistory
	}
	if !s.authz.CanView(actor.Role, actor.UserID, targetUserID, selfView) {
		return fmt.Errorf("%w: not allowed to view records of user %s", ErrForbidden, targetUserID)
	}
	return nil
}

func requirePrivileged(actor auth.Actor) error {
	if !actor.Role.Privileged() {
		return fmt.Errorf("%w: role %s may not change tenant policy", ErrForbidden, actor.Role)
	}
	return nil
}

func targetOrSelf(actor auth.Actor, userID string) string {
	if userID == "" {
		return actor.UserID
	}
	return userID
}
