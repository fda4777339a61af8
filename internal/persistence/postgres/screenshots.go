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

const screenshotColumns = `screenshot_id::text, tenant_id::text, user_id::text, device_id::text, taken_at, storage_key, size_bytes, expires_at, created_at`

// ScreenshotRepository persists screenshot metadata. Image bytes live in object storage.
type ScreenshotRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a pending screenshot row.
func (r *ScreenshotRepository) Create(ctx context.Context, shot domain.Screenshot) error {
	return withTenantTx(ctx, r.pool, shot.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO screenshots (screenshot_id, tenant_id, user_id, device_id, taken_at, storage_key, expires_at, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			shot.ID, shot.TenantID, shot.UserID, shot.DeviceID, shot.TakenAt, shot.StorageKey, shot.ExpiresAt, shot.CreatedAt,
		)
		return err
	})
}

// Complete records the uploaded size of the caller's own screenshot.
func (r *ScreenshotRepository) Complete(ctx context.Context, tenantID, userID, screenshotID string, sizeBytes *int64) (*domain.Screenshot, error) {
	var shot domain.Screenshot
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE screenshots SET size_bytes = COALESCE($4, size_bytes)
             WHERE tenant_id=$1 AND user_id=$2 AND screenshot_id::text=$3
             RETURNING `+screenshotColumns,
			tenantID, userID, screenshotID, sizeBytes,
		)
		if err != nil {
			return err
		}
		shot, err = pgx.CollectExactlyOneRow(rows, scanScreenshot)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: screenshot %s", domain.ErrNotFound, screenshotID)
		}
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, outboxRecord{
			tenantID:      tenantID,
			aggregateType: "screenshot",
			aggregateID:   shot.ID,
			eventType:     events.TypeScreenshotUploaded,
			partitionKey:  userPartition(tenantID, userID),
			payload: events.ScreenshotUploaded{
				ScreenshotID: shot.ID,
				TenantID:     tenantID,
				UserID:       userID,
				StorageKey:   shot.StorageKey,
				SizeBytes:    shot.SizeBytes,
				TakenAt:      shot.TakenAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &shot, nil
}

// ListByUser returns screenshots taken within window, newest first.
func (r *ScreenshotRepository) ListByUser(ctx context.Context, tenantID, userID string, window domain.TimeRange, limit int) ([]domain.Screenshot, error) {
	const query = `SELECT ` + screenshotColumns + ` FROM screenshots
        WHERE tenant_id=$1 AND user_id=$2
          AND ($3::timestamptz IS NULL OR taken_at >= $3)
          AND ($4::timestamptz IS NULL OR taken_at <= $4)
        ORDER BY taken_at DESC
        LIMIT $5`
	return r.query(ctx, tenantID, query, tenantID, userID, timeBound(window.From), timeBound(window.To), limit)
}

// Within returns screenshots taken in [from, to], oldest first.
func (r *ScreenshotRepository) Within(ctx context.Context, tenantID, userID string, from, to time.Time) ([]domain.Screenshot, error) {
	const query = `SELECT ` + screenshotColumns + ` FROM screenshots
        WHERE tenant_id=$1 AND user_id=$2 AND taken_at >= $3 AND taken_at <= $4
        ORDER BY taken_at`
	return r.query(ctx, tenantID, query, tenantID, userID, from, to)
}

func (r *ScreenshotRepository) query(ctx context.Context, tenantID, query string, args ...any) ([]domain.Screenshot, error) {
	var results []domain.Screenshot
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, scanScreenshot)
		return err
	})
	return results, err
}

// ListExpired scans across tenants and therefore runs outside a tenant
// transaction. The purge job's database role needs BYPASSRLS.
func (r *ScreenshotRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Screenshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots
         WHERE expires_at IS NOT NULL AND expires_at <= $1
         ORDER BY expires_at
         LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanScreenshot)
}

// DeleteByIDs removes screenshot rows regardless of tenant.
func (r *ScreenshotRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM screenshots WHERE screenshot_id::text = ANY($1)`, ids)
	return err
}

func scanScreenshot(row pgx.CollectableRow) (domain.Screenshot, error) {
	var s domain.Screenshot
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.DeviceID, &s.TakenAt, &s.StorageKey, &s.SizeBytes, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}
