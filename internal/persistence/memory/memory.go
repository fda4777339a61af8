// Package memory provides in-process implementations of the domain
// repositories for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/worktrack/internal/domain"
)

// Store keeps every aggregate in maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	activity    []domain.ActivityEvent
	entries     map[string]domain.TimeEntry
	screenshots map[string]domain.Screenshot
	retention   map[string]domain.RetentionPolicy
	capture     map[string]domain.CapturePolicy
	memberships map[string]domain.Membership
	devices     map[string]domain.Device
	audit       []domain.AuditEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entries:     make(map[string]domain.TimeEntry),
		screenshots: make(map[string]domain.Screenshot),
		retention:   make(map[string]domain.RetentionPolicy),
		capture:     make(map[string]domain.CapturePolicy),
		memberships: make(map[string]domain.Membership),
		devices:     make(map[string]domain.Device),
	}
}

// Repositories exposes the store through the domain interfaces.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Activity:    activityRepo{s},
		TimeEntries: timeEntryRepo{s},
		Screenshots: screenshotRepo{s},
		Policies:    policyRepo{s},
		Memberships: membershipRepo{s},
		Devices:     deviceRepo{s},
		Audit:       auditRepo{s},
	}
}

// PutMembership seeds a membership row.
func (s *Store) PutMembership(m domain.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[key(m.TenantID, m.UserID)] = m
}

// ActivityCount returns the number of stored events for a tenant/user.
func (s *Store) ActivityCount(tenantID, userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ev := range s.activity {
		if ev.TenantID == tenantID && ev.UserID == userID {
			n++
		}
	}
	return n
}

// Screenshot returns a stored screenshot by id.
func (s *Store) Screenshot(id string) (domain.Screenshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shot, ok := s.screenshots[id]
	return shot, ok
}

func key(parts ...string) string {
	return fmt.Sprint(parts)
}

type activityRepo struct{ s *Store }

func (r activityRepo) InsertBatch(_ context.Context, _, _ string, events []domain.ActivityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.activity = append(r.s.activity, events...)
	return nil
}

func (r activityRepo) ListByUser(_ context.Context, tenantID, userID string, window domain.TimeRange, cursor *domain.Cursor, limit int) ([]domain.ActivityEvent, *domain.Cursor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.ActivityEvent
	for _, ev := range r.s.activity {
		if ev.TenantID != tenantID || ev.UserID != userID || !window.Contains(ev.StartedAt) {
			continue
		}
		if cursor != nil && !before(ev, *cursor) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	var next *domain.Cursor
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return out, next, nil
}

func before(ev domain.ActivityEvent, c domain.Cursor) bool {
	if ev.StartedAt.Equal(c.StartedAt) {
		return ev.ID < c.ID
	}
	return ev.StartedAt.Before(c.StartedAt)
}

func (r activityRepo) LatestByUser(_ context.Context, tenantID, userID string) (*domain.ActivityEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.ActivityEvent
	for i := range r.s.activity {
		ev := r.s.activity[i]
		if ev.TenantID != tenantID || ev.UserID != userID {
			continue
		}
		if latest == nil || ev.EndedAt.After(latest.EndedAt) {
			copied := ev
			latest = &copied
		}
	}
	return latest, nil
}

func (r activityRepo) Within(_ context.Context, tenantID, userID string, from, to time.Time) ([]domain.ActivityEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ActivityEvent
	for _, ev := range r.s.activity {
		if ev.TenantID == tenantID && ev.UserID == userID && !ev.StartedAt.Before(from) && !ev.EndedAt.After(to) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type timeEntryRepo struct{ s *Store }

func (r timeEntryRepo) Start(_ context.Context, entry domain.TimeEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.TenantID == entry.TenantID && e.UserID == entry.UserID && e.Open() {
			return fmt.Errorf("%w: there is already an open time entry", domain.ErrStateConflict)
		}
	}
	r.s.entries[entry.ID] = entry
	return nil
}

func (r timeEntryRepo) StopOpen(_ context.Context, tenantID, userID string, endedAt time.Time) (*domain.TimeEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, e := range r.s.entries {
		if e.TenantID != tenantID || e.UserID != userID || !e.Open() {
			continue
		}
		if endedAt.Before(e.StartedAt) {
			return nil, fmt.Errorf("%w: end time is before start time", domain.ErrValidation)
		}
		end := endedAt
		e.EndedAt = &end
		r.s.entries[id] = e
		return &e, nil
	}
	return nil, fmt.Errorf("%w: no open time entry", domain.ErrStateConflict)
}

func (r timeEntryRepo) Get(_ context.Context, tenantID, entryID string) (*domain.TimeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return nil, nil
	}
	return &e, nil
}

func (r timeEntryRepo) ListByUser(_ context.Context, tenantID, userID string, window domain.TimeRange, limit int) ([]domain.TimeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.TimeEntry
	for _, e := range r.s.entries {
		if e.TenantID == tenantID && e.UserID == userID && window.Contains(e.StartedAt) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r timeEntryRepo) ListOpen(_ context.Context, tenantID string) ([]domain.TimeEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.TimeEntry
	for _, e := range r.s.entries {
		if e.TenantID == tenantID && e.Open() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

type screenshotRepo struct{ s *Store }

func (r screenshotRepo) Create(_ context.Context, shot domain.Screenshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.screenshots[shot.ID] = shot
	return nil
}

func (r screenshotRepo) Complete(_ context.Context, tenantID, userID, screenshotID string, sizeBytes *int64) (*domain.Screenshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shot, ok := r.s.screenshots[screenshotID]
	if !ok || shot.TenantID != tenantID || shot.UserID != userID {
		return nil, fmt.Errorf("%w: screenshot %s", domain.ErrNotFound, screenshotID)
	}
	if sizeBytes != nil {
		size := *sizeBytes
		shot.SizeBytes = &size
	}
	r.s.screenshots[screenshotID] = shot
	return &shot, nil
}

func (r screenshotRepo) ListByUser(_ context.Context, tenantID, userID string, window domain.TimeRange, limit int) ([]domain.Screenshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Screenshot
	for _, shot := range r.s.screenshots {
		if shot.TenantID == tenantID && shot.UserID == userID && window.Contains(shot.TakenAt) {
			out = append(out, shot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r screenshotRepo) Within(_ context.Context, tenantID, userID string, from, to time.Time) ([]domain.Screenshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Screenshot
	for _, shot := range r.s.screenshots {
		if shot.TenantID == tenantID && shot.UserID == userID && !shot.TakenAt.Before(from) && !shot.TakenAt.After(to) {
			out = append(out, shot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

func (r screenshotRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Screenshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Screenshot
	for _, shot := range r.s.screenshots {
		if shot.ExpiresAt != nil && !shot.ExpiresAt.After(now) {
			out = append(out, shot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r screenshotRepo) DeleteByIDs(_ context.Context, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		delete(r.s.screenshots, id)
	}
	return nil
}

type policyRepo struct{ s *Store }

func (r policyRepo) GetRetention(_ context.Context, tenantID string) (*domain.RetentionPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.retention[tenantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r policyRepo) UpsertRetention(_ context.Context, policy domain.RetentionPolicy, actorUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.retention[policy.TenantID] = policy
	r.s.appendAudit(policy.TenantID, actorUserID, "policy.retention.update", "retentionPolicy", policy.TenantID)
	return nil
}

func (r policyRepo) GetCapture(_ context.Context, tenantID, userID string) (*domain.CapturePolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.capture[key(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r policyRepo) UpsertCapture(_ context.Context, policy domain.CapturePolicy, actorUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.capture[key(policy.TenantID, policy.UserID)] = policy
	r.s.appendAudit(policy.TenantID, actorUserID, "policy.capture.update", "capturePolicy", policy.UserID)
	return nil
}

func (s *Store) appendAudit(tenantID, actor, action, entity, entityID string) {
	s.audit = append(s.audit, domain.AuditEntry{
		ID:          int64(len(s.audit) + 1),
		TenantID:    tenantID,
		ActorUserID: &actor,
		Action:      action,
		Entity:      entity,
		EntityID:    &entityID,
		CreatedAt:   time.Now().UTC(),
	})
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) Get(_ context.Context, tenantID, userID string) (*domain.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.memberships[key(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r membershipRepo) List(_ context.Context, tenantID string) ([]domain.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Membership
	for _, m := range r.s.memberships {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r membershipRepo) Upsert(_ context.Context, m domain.Membership, actorUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.memberships[key(m.TenantID, m.UserID)] = m
	r.s.appendAudit(m.TenantID, actorUserID, "membership.update", "membership", m.UserID)
	return nil
}

type deviceRepo struct{ s *Store }

func (r deviceRepo) Upsert(_ context.Context, device domain.Device) (*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.devices {
		if existing.TenantID == device.TenantID && existing.UserID == device.UserID && existing.Name == device.Name {
			existing.Platform = device.Platform
			existing.LastSeenAt = device.LastSeenAt
			r.s.devices[id] = existing
			return &existing, nil
		}
	}
	r.s.devices[device.ID] = device
	return &device, nil
}

func (r deviceRepo) Get(_ context.Context, tenantID, deviceID string) (*domain.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.devices[deviceID]
	if !ok || d.TenantID != tenantID {
		return nil, nil
	}
	return &d, nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(_ context.Context, entry domain.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = int64(len(r.s.audit) + 1)
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r auditRepo) List(_ context.Context, tenantID string, window domain.TimeRange, limit int) ([]domain.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		entry := r.s.audit[i]
		if entry.TenantID == tenantID && window.Contains(entry.CreatedAt) {
			out = append(out, entry)
		}
	}
	return out, nil
}
