// Package postgres implements the domain repositories on Postgres. Every
// tenant-scoped statement runs in a transaction that sets app.tenant_id so
// row-level security policies apply.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/outbox"
)

const uniqueViolation = "23505"

// New returns every repository backed by pool.
func New(pool *pgxpool.Pool) domain.Repositories {
	return domain.Repositories{
		Activity:    &ActivityRepository{pool: pool},
		TimeEntries: &TimeEntryRepository{pool: pool},
		Screenshots: &ScreenshotRepository{pool: pool},
		Policies:    &PolicyRepository{pool: pool},
		Memberships: &MembershipRepository{pool: pool},
		Devices:     &DeviceRepository{pool: pool},
		Audit:       NewAuditRepository(pool),
	}
}

func withTenantTx(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// outboxRecord is one event written alongside the state change that caused it.
type outboxRecord struct {
	tenantID      string
	aggregateType string
	aggregateID   string
	eventType     string
	partitionKey  string
	dedupeKey     string
	payload       any
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec outboxRecord) error {
	route, err := outbox.Lookup(rec.eventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rec.payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		rec.tenantID,
		rec.aggregateType,
		rec.aggregateID,
		rec.eventType,
		route.Topic,
		route.SchemaSubject,
		rec.partitionKey,
		body,
		nullIfEmpty(rec.dedupeKey),
	)
	return err
}

func userPartition(tenantID, userID string) string {
	return fmt.Sprintf("%s:%s", tenantID, userID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeBound returns nil for the zero time so open-ended ranges bind as NULL.
func timeBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
