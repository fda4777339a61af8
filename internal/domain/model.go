package domain

import "time"

// ActivityEvent is the tenant-scoped persisted form of an agent activity segment.
type ActivityEvent struct {
	ID          string
	TenantID    string
	UserID      string
	DeviceID    *string
	StartedAt   time.Time
	EndedAt     time.Time
	AppName     string
	WindowTitle *string
	URL         *string
	Idle        bool
	CreatedAt   time.Time
}

// ActivityInput is one segment as submitted by an agent batch.
type ActivityInput struct {
	StartedAt   time.Time
	EndedAt     time.Time
	AppName     string
	WindowTitle *string
	URL         *string
	DeviceID    *string
	Idle        bool
}

// TimeEntry is a clock-in record. EndedAt is nil while the entry is open.
type TimeEntry struct {
	ID        string
	TenantID  string
	UserID    string
	DeviceID  *string
	StartedAt time.Time
	EndedAt   *time.Time
	Source    string
}

// Open reports whether the entry has no recorded clock-out.
func (e TimeEntry) Open() bool { return e.EndedAt == nil }

// Screenshot references an uploaded capture in object storage.
type Screenshot struct {
	ID         string
	TenantID   string
	UserID     string
	DeviceID   *string
	TakenAt    time.Time
	StorageKey string
	SizeBytes  *int64
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// RetentionPolicy holds per-tenant retention windows in days. Nil means
// records are kept indefinitely.
type RetentionPolicy struct {
	TenantID                string
	TimeRetentionDays       *int
	ActivityRetentionDays   *int
	ScreenshotRetentionDays *int
}

// CapturePolicy controls the screenshot interval for one user.
type CapturePolicy struct {
	TenantID        string
	UserID          string
	IntervalSeconds int
	UpdatedAt       time.Time
}

// Membership links a user to a tenant.
type Membership struct {
	TenantID          string
	UserID            string
	Role              string
	CanViewOwnHistory bool
}

// Device is a registered agent installation.
type Device struct {
	ID         string
	TenantID   string
	UserID     string
	Name       string
	Platform   string
	LastSeenAt time.Time
}

// AuditEntry records a privileged or state-changing action.
type AuditEntry struct {
	ID          int64
	TenantID    string
	ActorUserID *string
	Action      string
	Entity      string
	EntityID    *string
	Metadata    []byte
	CreatedAt   time.Time
}

// TimeRange bounds a listing. Zero values leave that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}
