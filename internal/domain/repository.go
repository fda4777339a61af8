package domain

import (
	"context"
	"time"
)

// ActivityRepository persists ingested activity events.
type ActivityRepository interface {
	// InsertBatch stores all events in one transaction or none of them.
	InsertBatch(ctx context.Context, tenantID, userID string, events []ActivityEvent) error
	ListByUser(ctx context.Context, tenantID, userID string, window TimeRange, cursor *Cursor, limit int) ([]ActivityEvent, *Cursor, error)
	// LatestByUser returns the event with the greatest ended_at, or nil.
	LatestByUser(ctx context.Context, tenantID, userID string) (*ActivityEvent, error)
	// Within returns events fully contained in [from, to], oldest first.
	Within(ctx context.Context, tenantID, userID string, from, to time.Time) ([]ActivityEvent, error)
}

// TimeEntryRepository persists clock-in records.
type TimeEntryRepository interface {
	// Start inserts entry, returning ErrStateConflict when the user already
	// has an open entry. The check runs in the same transaction as the insert.
	Start(ctx context.Context, entry TimeEntry) error
	// StopOpen closes the user's open entry at endedAt. It returns
	// ErrStateConflict when none is open and ErrValidation when endedAt
	// precedes the entry's start.
	StopOpen(ctx context.Context, tenantID, userID string, endedAt time.Time) (*TimeEntry, error)
	Get(ctx context.Context, tenantID, entryID string) (*TimeEntry, error)
	ListByUser(ctx context.Context, tenantID, userID string, window TimeRange, limit int) ([]TimeEntry, error)
	ListOpen(ctx context.Context, tenantID string) ([]TimeEntry, error)
}

// ScreenshotRepository persists screenshot metadata.
type ScreenshotRepository interface {
	Create(ctx context.Context, shot Screenshot) error
	// Complete records the uploaded size on a shot owned by userID.
	Complete(ctx context.Context, tenantID, userID, screenshotID string, sizeBytes *int64) (*Screenshot, error)
	ListByUser(ctx context.Context, tenantID, userID string, window TimeRange, limit int) ([]Screenshot, error)
	Within(ctx context.Context, tenantID, userID string, from, to time.Time) ([]Screenshot, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Screenshot, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// PolicyRepository persists retention and capture policies.
type PolicyRepository interface {
	GetRetention(ctx context.Context, tenantID string) (*RetentionPolicy, error)
	UpsertRetention(ctx context.Context, policy RetentionPolicy, actorUserID string) error
	GetCapture(ctx context.Context, tenantID, userID string) (*CapturePolicy, error)
	UpsertCapture(ctx context.Context, policy CapturePolicy, actorUserID string) error
}

// MembershipRepository stores tenant memberships.
type MembershipRepository interface {
	Get(ctx context.Context, tenantID, userID string) (*Membership, error)
	// List returns the tenant's memberships ordered by user id.
	List(ctx context.Context, tenantID string) ([]Membership, error)
	// Upsert creates or replaces the membership and records actorUserID as
	// the author of the change.
	Upsert(ctx context.Context, m Membership, actorUserID string) error
}

// DeviceRepository persists agent installations.
type DeviceRepository interface {
	Upsert(ctx context.Context, device Device) (*Device, error)
	Get(ctx context.Context, tenantID, deviceID string) (*Device, error)
}

// AuditRepository stores and lists audit entries.
type AuditRepository interface {
	Insert(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, tenantID string, window TimeRange, limit int) ([]AuditEntry, error)
}

// ObjectStore is the blob storage capability. Bytes never pass through
// this service: agents upload directly to the presigned URL.
type ObjectStore interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Repositories bundles the persistence dependencies of Service.
type Repositories struct {
	Activity    ActivityRepository
	TimeEntries TimeEntryRepository
	Screenshots ScreenshotRepository
	Policies    PolicyRepository
	Memberships MembershipRepository
	Devices     DeviceRepository
	Audit       AuditRepository
}
