package domain

import (
	"context"
	"fmt"
	"strings"

	"example.com/worktrack/internal/auth"
)

// MembershipUpdate carries the fields to change. Nil fields are left untouched.
type MembershipUpdate struct {
	Role              *string
	CanViewOwnHistory *bool
}

// ListMembers returns the memberships of the actor's tenant.
func (s *Service) ListMembers(ctx context.Context, actor auth.Actor) ([]Membership, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}
	return s.memberships.List(ctx, actor.TenantID)
}

// UpdateMembership merges update into userID's membership, creating it as
// an employee without history access when the user has none yet. Managers
// may toggle history access; changing a role needs owner or admin.
func (s *Service) UpdateMembership(ctx context.Context, actor auth.Actor, userID string, update MembershipUpdate) (*Membership, error) {
	if err := requirePrivileged(actor); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if update.Role == nil && update.CanViewOwnHistory == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	current, err := s.memberships.Get(ctx, actor.TenantID, userID)
	if err != nil {
		return nil, err
	}
	m := Membership{TenantID: actor.TenantID, UserID: userID, Role: string(auth.RoleEmployee)}
	if current != nil {
		m = *current
	}

	if update.Role != nil {
		role, ok := auth.LookupRole(*update.Role)
		if !ok {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, *update.Role)
		}
		if string(role) != m.Role && !actor.Role.CanAssignRoles() {
			return nil, fmt.Errorf("%w: role %s may not assign roles", ErrForbidden, actor.Role)
		}
		m.Role = string(role)
	}
	if update.CanViewOwnHistory != nil {
		m.CanViewOwnHistory = *update.CanViewOwnHistory
	}

	if err := s.memberships.Upsert(ctx, m, actor.UserID); err != nil {
		return nil, err
	}
	return &m, nil
}
