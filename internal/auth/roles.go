package auth

import "strings"

// Role is a tenant membership role.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleAuditor  Role = "auditor"
	RoleEmployee Role = "employee"
)

// ParseRole normalises a role claim. Unknown values collapse to employee,
// the least privileged role.
func ParseRole(value string) Role {
	if r, ok := LookupRole(value); ok {
		return r
	}
	return RoleEmployee
}

// LookupRole is the strict form of ParseRole used for role assignments.
func LookupRole(value string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(value))); r {
	case RoleOwner, RoleAdmin, RoleManager, RoleAuditor, RoleEmployee:
		return r, true
	default:
		return "", false
	}
}

// Privileged reports whether the role may read and manage other members' records.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleManager
}

// CanAssignRoles reports whether the role may change another member's role.
func (r Role) CanAssignRoles() bool {
	return r == RoleOwner || r == RoleAdmin
}

// CanObserveLive reports whether the role may see the tenant-wide live view.
func (r Role) CanObserveLive() bool {
	return r.Privileged() || r == RoleAuditor
}

// Actor is the authenticated caller of a domain operation.
type Actor struct {
	TenantID string
	UserID   string
	Role     Role
}
