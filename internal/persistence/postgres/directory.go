package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worktrack/internal/domain"
	"example.com/worktrack/internal/platform/events"
)

// MembershipRepository persists tenant memberships. Changes emit a
// membership.updated event that the consumer turns into an audit entry.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// Get returns the membership or nil.
func (r *MembershipRepository) Get(ctx context.Context, tenantID, userID string) (*domain.Membership, error) {
	var found *domain.Membership
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		m := domain.Membership{}
		err := tx.QueryRow(ctx,
			`SELECT tenant_id::text, user_id::text, role, can_view_own_history FROM memberships WHERE tenant_id=$1 AND user_id=$2`,
			tenantID, userID,
		).Scan(&m.TenantID, &m.UserID, &m.Role, &m.CanViewOwnHistory)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &m
		return nil
	})
	return found, err
}

// List returns the tenant's memberships ordered by user id.
func (r *MembershipRepository) List(ctx context.Context, tenantID string) ([]domain.Membership, error) {
	var results []domain.Membership
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id::text, user_id::text, role, can_view_own_history
             FROM memberships WHERE tenant_id=$1 ORDER BY user_id`,
			tenantID,
		)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Membership, error) {
			var m domain.Membership
			err := row.Scan(&m.TenantID, &m.UserID, &m.Role, &m.CanViewOwnHistory)
			return m, err
		})
		return err
	})
	return results, err
}

// Upsert creates or replaces the membership.
func (r *MembershipRepository) Upsert(ctx context.Context, m domain.Membership, actorUserID string) error {
	return withTenantTx(ctx, r.pool, m.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memberships (tenant_id, user_id, role, can_view_own_history)
             VALUES ($1,$2,$3,$4)
             ON CONFLICT (tenant_id, user_id) DO UPDATE SET
                role = EXCLUDED.role,
                can_view_own_history = EXCLUDED.can_view_own_history`,
			m.TenantID, m.UserID, m.Role, m.CanViewOwnHistory,
		); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, outboxRecord{
			tenantID:      m.TenantID,
			aggregateType: "membership",
			aggregateID:   m.UserID,
			eventType:     events.TypeMembershipUpdated,
			partitionKey:  m.TenantID,
			payload: events.MembershipUpdated{
				TenantID:          m.TenantID,
				ActorUserID:       actorUserID,
				UserID:            m.UserID,
				Role:              m.Role,
				CanViewOwnHistory: m.CanViewOwnHistory,
				OccurredAt:        time.Now().UTC(),
			},
		})
	})
}

// DeviceRepository persists agent installations.
type DeviceRepository struct {
	pool *pgxpool.Pool
}

// Upsert inserts the device or refreshes the existing row with the same
// (tenant, user, name), keeping its id.
func (r *DeviceRepository) Upsert(ctx context.Context, device domain.Device) (*domain.Device, error) {
	var stored domain.Device
	err := withTenantTx(ctx, r.pool, device.TenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO devices (device_id, tenant_id, user_id, name, platform, last_seen_at)
             VALUES ($1,$2,$3,$4,$5,$6)
             ON CONFLICT (tenant_id, user_id, name) DO UPDATE SET
                platform = EXCLUDED.platform,
                last_seen_at = EXCLUDED.last_seen_at
             RETURNING device_id::text, tenant_id::text, user_id::text, name, platform, last_seen_at`,
			device.ID, device.TenantID, device.UserID, device.Name, device.Platform, device.LastSeenAt,
		).Scan(&stored.ID, &stored.TenantID, &stored.UserID, &stored.Name, &stored.Platform, &stored.LastSeenAt)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get returns the device or nil.
func (r *DeviceRepository) Get(ctx context.Context, tenantID, deviceID string) (*domain.Device, error) {
	var found *domain.Device
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		d := domain.Device{}
		err := tx.QueryRow(ctx,
			`SELECT device_id::text, tenant_id::text, user_id::text, name, platform, last_seen_at
             FROM devices WHERE tenant_id=$1 AND device_id::text=$2`,
			tenantID, deviceID,
		).Scan(&d.ID, &d.TenantID, &d.UserID, &d.Name, &d.Platform, &d.LastSeenAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &d
		return nil
	})
	return found, err
}

// AuditRepository persists the tenant audit log.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds the audit store used by the consumer.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Insert appends an entry.
func (r *AuditRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	return withTenantTx(ctx, r.pool, entry.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO audit_log (tenant_id, actor_user_id, action, entity, entity_id, metadata, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entry.TenantID, entry.ActorUserID, entry.Action, entry.Entity, entry.EntityID, entry.Metadata, entry.CreatedAt,
		)
		return err
	})
}

// InsertOnce appends an entry derived from outbox event sourceEventID.
// Redelivered events are ignored.
func (r *AuditRepository) InsertOnce(ctx context.Context, entry domain.AuditEntry, sourceEventID int64) error {
	return withTenantTx(ctx, r.pool, entry.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO audit_log (tenant_id, actor_user_id, action, entity, entity_id, metadata, source_event_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
             ON CONFLICT (source_event_id) DO NOTHING`,
			entry.TenantID, entry.ActorUserID, entry.Action, entry.Entity, entry.EntityID, entry.Metadata, sourceEventID, entry.CreatedAt,
		)
		return err
	})
}

// List returns entries created within window, newest first.
func (r *AuditRepository) List(ctx context.Context, tenantID string, window domain.TimeRange, limit int) ([]domain.AuditEntry, error) {
	var results []domain.AuditEntry
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT audit_id, tenant_id::text, actor_user_id::text, action, entity, entity_id, metadata, created_at
             FROM audit_log
             WHERE tenant_id=$1
               AND ($2::timestamptz IS NULL OR created_at >= $2)
               AND ($3::timestamptz IS NULL OR created_at <= $3)
             ORDER BY created_at DESC, audit_id DESC
             LIMIT $4`,
			tenantID, timeBound(window.From), timeBound(window.To), limit,
		)
		if err != nil {
			return err
		}
		results, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
			var e domain.AuditEntry
			err := row.Scan(&e.ID, &e.TenantID, &e.ActorUserID, &e.Action, &e.Entity, &e.EntityID, &e.Metadata, &e.CreatedAt)
			return e, err
		})
		return err
	})
	return results, err
}
