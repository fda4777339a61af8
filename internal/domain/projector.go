package domain

import (
	"context"
	"fmt"
	"time"

	"example.com/worktrack/internal/auth"
)

// ActivityStatus is the badge shown for a session in the live view.
type ActivityStatus string

const (
	StatusActive     ActivityStatus = "active"
	StatusIdle       ActivityStatus = "idle"
	StatusNoActivity ActivityStatus = "no_activity"
)

// StatusOf derives the badge from the latest known activity event.
func StatusOf(event *ActivityEvent) ActivityStatus {
	switch {
	case event == nil:
		return StatusNoActivity
	case event.Idle:
		return StatusIdle
	default:
		return StatusActive
	}
}

// LiveSession is one row of the "who's working on what" view.
type LiveSession struct {
	EntryID    string
	UserID     string
	Role       string
	DeviceID   *string
	DeviceName *string
	Platform   *string
	StartedAt  time.Time
	Status     ActivityStatus
	// LastActivity is the user's most recent event by end time, whether
	// or not it falls inside the open entry.
	LastActivity *ActivityEvent
}

// SessionDetail is the historical drill-down of one time entry.
type SessionDetail struct {
	Entry       TimeEntry
	WindowEnd   time.Time
	Activity    []ActivityEvent
	Screenshots []Screenshot
}

// ActiveSessions joins every open time entry in the actor's tenant with
// the latest activity event of its user.
func (s *Service) ActiveSessions(ctx context.Context, actor auth.Actor) ([]LiveSession, error) {
	if !actor.Role.CanObserveLive() {
		return nil, fmt.Errorf("%w: live sessions", ErrForbidden)
	}

	entries, err := s.entries.ListOpen(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}

	rows := make([]LiveSession, 0, len(entries))
	for _, entry := range entries {
		latest, err := s.activity.LatestByUser(ctx, actor.TenantID, entry.UserID)
		if err != nil {
			return nil, err
		}

		row := LiveSession{
			EntryID:      entry.ID,
			UserID:       entry.UserID,
			Role:         string(auth.RoleEmployee),
			DeviceID:     entry.DeviceID,
			StartedAt:    entry.StartedAt,
			Status:       StatusOf(latest),
			LastActivity: latest,
		}

		membership, err := s.memberships.Get(ctx, actor.TenantID, entry.UserID)
		if err != nil {
			return nil, err
		}
		if membership != nil && membership.Role != "" {
			row.Role = membership.Role
		}

		if entry.DeviceID != nil {
			device, err := s.devices.Get(ctx, actor.TenantID, *entry.DeviceID)
			if err != nil {
				return nil, err
			}
			if device != nil {
				row.DeviceName = &device.Name
				row.Platform = &device.Platform
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SessionDetail returns the activity and screenshots recorded strictly
// within [entry.StartedAt, entry.EndedAt], using now for an open entry.
func (s *Service) SessionDetail(ctx context.Context, actor auth.Actor, entryID string) (*SessionDetail, error) {
	entry, err := s.entries.Get(ctx, actor.TenantID, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: time entry %s", ErrNotFound, entryID)
	}
	if err := s.authorizeView(ctx, actor, entry.UserID); err != nil {
		return nil, err
	}

	end := s.clock()
	if entry.EndedAt != nil {
		end = *entry.EndedAt
	}

	activity, err := s.activity.Within(ctx, actor.TenantID, entry.UserID, entry.StartedAt, end)
	if err != nil {
		return nil, err
	}
	shots, err := s.screenshots.Within(ctx, actor.TenantID, entry.UserID, entry.StartedAt, end)
	if err != nil {
		return nil, err
	}

	return &SessionDetail{
		Entry:       *entry,
		WindowEnd:   end,
		Activity:    activity,
		Screenshots: shots,
	}, nil
}
