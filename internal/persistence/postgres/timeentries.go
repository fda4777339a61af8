package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/platform/events"
)

const timeEntryColumns = `entry_id::text, tenant_id::text, user_id::text, device_id::text, started_at, ended_at, source`

// TimeEntryRepository persists clock-in records. At most one open entry
// per (tenant, user) is enforced by the time_entries_one_open_idx index.
type TimeEntryRepository struct {
	pool *pgxpool.Pool
}

// Start inserts an open entry, failing with ErrStateConflict when one is already open.
func (r *TimeEntryRepository) Start(ctx context.Context, entry domain.TimeEntry) error {
	err := withTenantTx(ctx, r.pool, entry.TenantID, func(tx pgx.Tx) error {
		var open int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM time_entries WHERE tenant_id=$1 AND user_id=$2 AND ended_at IS NULL`,
			entry.TenantID, entry.UserID,
		).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: there is already an open time entry", domain.ErrStateConflict)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO time_entries (entry_id, tenant_id, user_id, device_id, started_at, source) VALUES ($1,$2,$3,$4,$5,$6)`,
			entry.ID, entry.TenantID, entry.UserID, entry.DeviceID, entry.StartedAt, entry.Source,
		); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, timeEntryEvent(events.TypeTimeEntryStarted, entry))
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: there is already an open time entry", domain.ErrStateConflict)
	}
	return err
}

// StopOpen closes the user's open entry at endedAt.
func (r *TimeEntryRepository) StopOpen(ctx context.Context, tenantID, userID string, endedAt time.Time) (*domain.TimeEntry, error) {
	var stopped domain.TimeEntry
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+timeEntryColumns+` FROM time_entries
             WHERE tenant_id=$1 AND user_id=$2 AND ended_at IS NULL
             FOR UPDATE`,
			tenantID, userID,
		)
		if err != nil {
			return err
		}
		entry, err := pgx.CollectExactlyOneRow(rows, scanTimeEntry)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: no open time entry", domain.ErrStateConflict)
		}
		if err != nil {
			return err
		}
		if endedAt.Before(entry.StartedAt) {
			return fmt.Errorf("%w: end time is before start time", domain.ErrValidation)
		}

		if _, err := tx.Exec(ctx, `UPDATE time_entries SET ended_at=$1 WHERE entry_id=$2`, endedAt, entry.ID); err != nil {
			return err
		}
		entry.EndedAt = &endedAt
		stopped = entry
		return insertOutbox(ctx, tx, timeEntryEvent(events.TypeTimeEntryStopped, entry))
	})
	if err != nil {
		return nil, err
	}
	return &stopped, nil
}

// Get returns the entry or nil when it does not exist in the tenant.
func (r *TimeEntryRepository) Get(ctx context.Context, tenantID, entryID string) (*domain.TimeEntry, error) {
	var found *domain.TimeEntry
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE tenant_id=$1 AND entry_id::text=$2`, tenantID, entryID)
		if err != nil {
			return err
		}
		entry, err := pgx.CollectExactlyOneRow(rows, scanTimeEntry)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &entry
		return nil
	})
	return found, err
}

// ListByUser returns entries started within window, newest first.
func (r *TimeEntryRepository) ListByUser(ctx context.Context, tenantID, userID string, window domain.TimeRange, limit int) ([]domain.TimeEntry, error) {
	const query = `SELECT ` + timeEntryColumns + ` FROM time_entries
        WHERE tenant_id=$1 AND user_id=$2
          AND ($3::timestamptz IS NULL OR started_at >= $3)
          AND ($4::timestamptz IS NULL OR started_at <= $4)
        ORDER BY started_at DESC
        LIMIT $5`

	var results []domain.TimeEntry
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID, timeBound(window.From), timeBound(window.To), limit)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanTimeEntry)
		return err
	})
	return results, err
}

// ListOpen returns every open entry in the tenant, newest first.
func (r *TimeEntryRepository) ListOpen(ctx context.Context, tenantID string) ([]domain.TimeEntry, error) {
	var results []domain.TimeEntry
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE tenant_id=$1 AND ended_at IS NULL ORDER BY started_at DESC`, tenantID)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanTimeEntry)
		return err
	})
	return results, err
}

func scanTimeEntry(row pgx.CollectableRow) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.UserID, &e.DeviceID, &e.StartedAt, &e.EndedAt, &e.Source)
	return e, err
}

func timeEntryEvent(eventType string, entry domain.TimeEntry) outboxRecord {
	return outboxRecord{
		tenantID:      entry.TenantID,
		aggregateType: "time_entry",
		aggregateID:   entry.ID,
		eventType:     eventType,
		partitionKey:  userPartition(entry.TenantID, entry.UserID),
		dedupeKey:     entry.ID + ":" + eventType,
		payload: events.TimeEntryChanged{
			EntryID:   entry.ID,
			TenantID:  entry.TenantID,
			UserID:    entry.UserID,
			DeviceID:  entry.DeviceID,
			StartedAt: entry.StartedAt,
			EndedAt:   entry.EndedAt,
			Source:    entry.Source,
		},
	}
}
