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

// PolicyRepository persists tenant retention and per-user capture policies.
// Each change emits a policy.updated event that the consumer turns into an
// audit log entry.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// GetRetention returns the tenant's retention row, or nil when none exists.
func (r *PolicyRepository) GetRetention(ctx context.Context, tenantID string) (*domain.RetentionPolicy, error) {
	var policy *domain.RetentionPolicy
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		p := domain.RetentionPolicy{}
		err := tx.QueryRow(ctx,
			`SELECT tenant_id::text, time_retention_days, activity_retention_days, screenshot_retention_days
             FROM retention_policies WHERE tenant_id=$1`, tenantID,
		).Scan(&p.TenantID, &p.TimeRetentionDays, &p.ActivityRetentionDays, &p.ScreenshotRetentionDays)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		policy = &p
		return nil
	})
	return policy, err
}

// UpsertRetention replaces the tenant's retention row.
func (r *PolicyRepository) UpsertRetention(ctx context.Context, policy domain.RetentionPolicy, actorUserID string) error {
	return withTenantTx(ctx, r.pool, policy.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO retention_policies (tenant_id, time_retention_days, activity_retention_days, screenshot_retention_days, updated_at)
             VALUES ($1,$2,$3,$4,NOW())
             ON CONFLICT (tenant_id) DO UPDATE SET
                time_retention_days = EXCLUDED.time_retention_days,
                activity_retention_days = EXCLUDED.activity_retention_days,
                screenshot_retention_days = EXCLUDED.screenshot_retention_days,
                updated_at = NOW()`,
			policy.TenantID, policy.TimeRetentionDays, policy.ActivityRetentionDays, policy.ScreenshotRetentionDays,
		); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, policyEvent(policy.TenantID, actorUserID, "retention", policy.TenantID, map[string]any{
			"time_retention_days":       policy.TimeRetentionDays,
			"activity_retention_days":   policy.ActivityRetentionDays,
			"screenshot_retention_days": policy.ScreenshotRetentionDays,
		}))
	})
}

// GetCapture returns the user's capture policy, or nil when none exists.
func (r *PolicyRepository) GetCapture(ctx context.Context, tenantID, userID string) (*domain.CapturePolicy, error) {
	var policy *domain.CapturePolicy
	err := withTenantTx(ctx, r.pool, tenantID, func(tx pgx.Tx) error {
		p := domain.CapturePolicy{}
		err := tx.QueryRow(ctx,
			`SELECT tenant_id::text, user_id::text, interval_seconds, updated_at
             FROM capture_policies WHERE tenant_id=$1 AND user_id=$2`, tenantID, userID,
		).Scan(&p.TenantID, &p.UserID, &p.IntervalSeconds, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		policy = &p
		return nil
	})
	return policy, err
}

// UpsertCapture replaces the user's capture policy.
func (r *PolicyRepository) UpsertCapture(ctx context.Context, policy domain.CapturePolicy, actorUserID string) error {
	return withTenantTx(ctx, r.pool, policy.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO capture_policies (tenant_id, user_id, interval_seconds, updated_at)
             VALUES ($1,$2,$3,$4)
             ON CONFLICT (tenant_id, user_id) DO UPDATE SET
                interval_seconds = EXCLUDED.interval_seconds,
                updated_at = EXCLUDED.updated_at`,
			policy.TenantID, policy.UserID, policy.IntervalSeconds, policy.UpdatedAt,
		); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, policyEvent(policy.TenantID, actorUserID, "capture", policy.UserID, map[string]any{
			"interval_seconds": policy.IntervalSeconds,
		}))
	})
}

func policyEvent(tenantID, actorUserID, kind, subjectID string, values map[string]any) outboxRecord {
	return outboxRecord{
		tenantID:      tenantID,
		aggregateType: kind + "_policy",
		aggregateID:   subjectID,
		eventType:     events.TypePolicyUpdated,
		partitionKey:  tenantID,
		payload: events.PolicyUpdated{
			TenantID:    tenantID,
			ActorUserID: actorUserID,
			Policy:      kind,
			SubjectID:   subjectID,
			Values:      values,
			OccurredAt:  time.Now().UTC(),
		},
	}
}
