package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/platform/events"
)

// AuditSink stores audit entries keyed by the outbox event that produced them.
type AuditSink interface {
	InsertOnce(ctx context.Context, entry domain.AuditEntry, sourceEventID int64) error
}

// AuditHandler turns time entry, policy and membership events into audit
// log entries.
// Other event types are acknowledged without side effects.
type AuditHandler struct {
	sink AuditSink
}

// NewAuditHandler constructs a handler writing to sink.
func NewAuditHandler(sink AuditSink) *AuditHandler {
	return &AuditHandler{sink: sink}
}

// Handle implements Handler.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	entry, ok, err := auditEntryFor(msg)
	if err != nil || !ok {
		return err
	}
	return h.sink.InsertOnce(ctx, entry, msg.EventID)
}

func auditEntryFor(msg Message) (domain.AuditEntry, bool, error) {
	switch msg.EventType {
	case events.TypeTimeEntryStarted, events.TypeTimeEntryStopped:
		var payload events.TimeEntryChanged
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return domain.AuditEntry{}, false, fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		action := "time_entry.start"
		occurred := payload.StartedAt
		if msg.EventType == events.TypeTimeEntryStopped {
			action = "time_entry.stop"
			if payload.EndedAt != nil {
				occurred = *payload.EndedAt
			}
		}
		return domain.AuditEntry{
			TenantID:    payload.TenantID,
			ActorUserID: &payload.UserID,
			Action:      action,
			Entity:      "timeEntry",
			EntityID:    &payload.EntryID,
			CreatedAt:   occurred,
		}, true, nil

	case events.TypePolicyUpdated:
		var payload events.PolicyUpdated
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return domain.AuditEntry{}, false, fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		metadata, err := json.Marshal(payload.Values)
		if err != nil {
			return domain.AuditEntry{}, false, err
		}
		createdAt := payload.OccurredAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		return domain.AuditEntry{
			TenantID:    payload.TenantID,
			ActorUserID: &payload.ActorUserID,
			Action:      "policy." + payload.Policy + ".update",
			Entity:      payload.Policy + "Policy",
			EntityID:    &payload.SubjectID,
			Metadata:    metadata,
			CreatedAt:   createdAt,
		}, true, nil

	case events.TypeMembershipUpdated:
		var payload events.MembershipUpdated
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return domain.AuditEntry{}, false, fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		metadata, err := json.Marshal(map[string]any{
			"role":                 payload.Role,
			"can_view_own_history": payload.CanViewOwnHistory,
		})
		if err != nil {
			return domain.AuditEntry{}, false, err
		}
		createdAt := payload.OccurredAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		return domain.AuditEntry{
			TenantID:    payload.TenantID,
			ActorUserID: &payload.ActorUserID,
			Action:      "membership.update",
			Entity:      "membership",
			EntityID:    &payload.UserID,
			Metadata:    metadata,
			CreatedAt:   createdAt,
		}, true, nil
	}
	return domain.AuditEntry{}, false, nil
}
