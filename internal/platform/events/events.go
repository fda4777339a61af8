// Package events defines the payloads published through the outbox.
package events

import "time"

// Event type names carried in the outbox and in Kafka headers.
const (
	TypeActivityIngested   = "activity.ingested"
	TypeTimeEntryStarted   = "time_entry.started"
	TypeTimeEntryStopped   = "time_entry.stopped"
	TypeScreenshotUploaded = "screenshot.uploaded"
	TypePolicyUpdated      = "policy.updated"
	TypeMembershipUpdated  = "membership.updated"
)

// ActivityIngested summarises one accepted agent batch.
type ActivityIngested struct {
	BatchID    string    `json:"batch_id"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	EventCount int       `json:"event_count"`
	FirstStart time.Time `json:"first_start"`
	LastEnd    time.Time `json:"last_end"`
}

// TimeEntryChanged is emitted when a time entry opens or closes.
type TimeEntryChanged struct {
	EntryID   string     `json:"entry_id"`
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id"`
	DeviceID  *string    `json:"device_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Source    string     `json:"source"`
}

// ScreenshotUploaded is emitted when an agent confirms an upload.
type ScreenshotUploaded struct {
	ScreenshotID string    `json:"screenshot_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	StorageKey   string    `json:"storage_key"`
	SizeBytes    *int64    `json:"size_bytes,omitempty"`
	TakenAt      time.Time `json:"taken_at"`
}

// PolicyUpdated records a change to a retention or capture policy.
type PolicyUpdated struct {
	TenantID    string         `json:"tenant_id"`
	ActorUserID string         `json:"actor_user_id"`
	Policy      string         `json:"policy"`
	SubjectID   string         `json:"subject_id"`
	Values      map[string]any `json:"values"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// MembershipUpdated records a role or history-access change for a member.
type MembershipUpdated struct {
	TenantID          string    `json:"tenant_id"`
	ActorUserID       string    `json:"actor_user_id"`
	UserID            string    `json:"user_id"`
	Role              string    `json:"role"`
	CanViewOwnHistory bool      `json:"can_view_own_history"`
	OccurredAt        time.Time `json:"occurred_at"`
}
