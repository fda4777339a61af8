package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"example.com/worktrack/internal/auth"
)

// RegisterDevice creates or refreshes the actor's device with the given
// name. Re-registering the same name keeps the existing id.
func (s *Service) RegisterDevice(ctx context.Context, actor auth.Actor, name, platform string) (*Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: device name is required", ErrValidation)
	}
	return s.devices.Upsert(ctx, Device{
		ID:         uuid.NewString(),
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		Name:       name,
		Platform:   strings.TrimSpace(platform),
		LastSeenAt: s.clock(),
	})
}

// ListAudit returns recent audit entries for the actor's tenant.
func (s *Service) ListAudit(ctx context.Context, actor auth.Actor, window TimeRange, limit int) ([]AuditEntry, error) {
	if !actor.Role.CanObserveLive() {
		return nil, fmt.Errorf("%w: audit log", ErrForbidden)
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.audit.List(ctx, actor.TenantID, window, limit)
}
