package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/platform/events"
)

const activityColumns = `event_id::text, tenant_id::text, user_id::text, device_id::text, started_at, ended_at, app_name, window_title, url, idle, created_at`

// ActivityRepository persists agent activity segments.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// InsertBatch copies the whole batch and records one activity.ingested
// event in the same transaction.
func (r *ActivityRepository) InsertBatch(ctx context.Context, tenantID, userID string, batch []domain.ActivityEvent) error {
	if len(batch) == 0 {
		return nil
	}
	tenantUUID, err := uuid.Parse(tenantID)
	if err != nil {
		return fmt.Errorf("%w: tenant id: %v", domain.ErrValidation, err)
	}
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("%w: user id: %v", domain.ErrValidation, err)
	}
	rows := make([][]any, 0, len(batch))
	for _, ev := range batch {
		id, err := uuid.Parse(ev.ID)
		if err != nil {
			return fmt.Errorf("%w: event id: %v", domain.ErrValidation, err)
		}
		var deviceID *uuid.UUID
		if ev.DeviceID != nil {
			parsed, err := uuid.Parse(*ev.DeviceID)
			if err != nil {
				return fmt.Errorf("%w: device id: %v", domain.ErrValidation, err)
			}
			deviceID = &parsed
		}
		rows = append(rows, []any{id, tenantUUID, userUUID, deviceID, ev.StartedAt, ev.EndedAt, ev.AppName, ev.WindowTitle, ev.URL, ev.Idle, ev.CreatedAt})
	}

	return withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		columns := []string{"event_id", "tenant_id", "user_id", "device_id", "started_at", "ended_at", "app_name", "window_title", "url", "idle", "created_at"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"activity_events"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return err
		}

		first, last := batch[0].StartedAt, batch[0].EndedAt
		for _, ev := range batch[1:] {
			if ev.StartedAt.Before(first) {
				first = ev.StartedAt
			}
			if ev.EndedAt.After(last) {
				last = ev.EndedAt
			}
		}
		batchID := uuid.NewString()
		return insertOutbox(ctx, tx, outboxRecord{
			tenantID:      tenantID,
			aggregateType: "activity_batch",
			aggregateID:   batchID,
			eventType:     events.TypeActivityIngested,
			partitionKey:  userPartition(tenantID, userID),
			payload: events.ActivityIngested{
				BatchID:    batchID,
				TenantID:   tenantID,
				UserID:     userID,
				EventCount: len(batch),
				FirstStart: first,
				LastEnd:    last,
			},
		})
	})
}

// ListByUser pages through a user's activity ordered by (started_at, event_id) descending.
func (r *ActivityRepository) ListByUser(ctx context.Context, tenantID, userID string, window domain.TimeRange, cursor *domain.Cursor, limit int) ([]domain.ActivityEvent, *domain.Cursor, error) {
	args := []any{tenantID, userID, timeBound(window.From), timeBound(window.To), limit}
	query := `SELECT ` + activityColumns + `
        FROM activity_events
        WHERE tenant_id=$1 AND user_id=$2
          AND ($3::timestamptz IS NULL OR started_at >= $3)
          AND ($4::timestamptz IS NULL OR started_at <= $4)`
	if cursor != nil {
		query += ` AND (started_at, event_id) < ($6, $7::uuid)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, event_id DESC LIMIT $5`

	var results []domain.ActivityEvent
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanActivity)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

// LatestByUser returns the user's most recently ended segment, or nil.
func (r *ActivityRepository) LatestByUser(ctx context.Context, tenantID, userID string) (*domain.ActivityEvent, error) {
	const query = `SELECT ` + activityColumns + `
        FROM activity_events
        WHERE tenant_id=$1 AND user_id=$2
        ORDER BY ended_at DESC
        LIMIT 1`

	var latest *domain.ActivityEvent
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID)
		if err != nil {
			return err
		}
		ev, err := pgx.CollectExactlyOneRow(rows, scanActivity)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		latest = &ev
		return nil
	})
	return latest, err
}

// Within returns segments fully contained in [from, to], oldest first.
func (r *ActivityRepository) Within(ctx context.Context, tenantID, userID string, from, to time.Time) ([]domain.ActivityEvent, error) {
	const query = `SELECT ` + activityColumns + `
        FROM activity_events
        WHERE tenant_id=$1 AND user_id=$2 AND started_at >= $3 AND ended_at <= $4
        ORDER BY started_at`

	var results []domain.ActivityEvent
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID, from, to)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanActivity)
		return err
	})
	return results, err
}

func scanActivity(row pgx.CollectableRow) (domain.ActivityEvent, error) {
	var ev domain.ActivityEvent
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.UserID, &ev.DeviceID, &ev.StartedAt, &ev.EndedAt, &ev.AppName, &ev.WindowTitle, &ev.URL, &ev.Idle, &ev.CreatedAt)
	return ev, err
}
