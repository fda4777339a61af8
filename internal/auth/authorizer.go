package auth

// Authorizer decides whether an actor may read another user's records.
// Every read endpoint (activity, screenshots, time entries, session
// drill-down) goes through the same capability.
type Authorizer interface {
	CanView(actorRole Role, actorID, targetID string, selfViewEnabled bool) bool
}

// RoleAuthorizer is the default Authorizer. Privileged roles see every
// member of their tenant. Everyone else sees only their own records and
// only while the tenant has enabled self-viewing for them.
type RoleAuthorizer struct{}

// CanView implements Authorizer.
func (RoleAuthorizer) CanView(actorRole Role, actorID, targetID string, selfViewEnabled bool) bool {
	if actorRole.Privileged() {
		return true
	}
	if actorID == "" || actorID != targetID {
		return false
	}
	return selfViewEnabled
}
