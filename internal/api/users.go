package api

import (
	"net/http"

	"example.com/worktrack/internal/domain"
)

// MemberView exposes one tenant membership.
type MemberView struct {
	UserID            string `json:"userId"`
	Role              string `json:"role"`
	CanViewOwnHistory bool   `json:"canViewOwnHistory"`
}

// MemberUpdateRequest is the payload for PATCH /users/{id}. Omitted fields
// are left unchanged.
type MemberUpdateRequest struct {
	Role              *string `json:"role"`
	CanViewOwnHistory *bool   `json:"canViewOwnHistory"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	views := make([]MemberView, 0, len(members))
	for _, m := range members {
		views = append(views, toMemberView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req MemberUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	member, err := h.service.UpdateMembership(r.Context(), actor, r.PathValue("id"), domain.MembershipUpdate{
		Role:              req.Role,
		CanViewOwnHistory: req.CanViewOwnHistory,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberView(*member))
}

func toMemberView(m domain.Membership) MemberView {
	return MemberView{UserID: m.UserID, Role: m.Role, CanViewOwnHistory: m.CanViewOwnHistory}
}
