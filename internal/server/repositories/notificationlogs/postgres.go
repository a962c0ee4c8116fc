// Package notificationlogs persists notification logs. Create is the dedup
// point: partial unique indexes on (beneficiary_id, vault_id) for pending
// and scheduled rows let only one in-flight log exist per recipient, with
// account_creation logs deduplicated separately from alerts and invitations.
package notificationlogs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	SELECT id, keepsake_id, beneficiary_id, vault_id, type, status, scheduled_for,
		sent_at, failure_reason, retry_count, created_at, updated_at
	FROM notification_logs`

// Create inserts a new log. If another in-flight log already exists for the
// same recipient and vault it returns common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, n *models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (id, keepsake_id, beneficiary_id, vault_id, type, status,
			scheduled_for, sent_at, failure_reason, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		n.ID, n.KeepsakeID, n.BeneficiaryID, n.VaultID, n.Type, n.Status,
		n.ScheduledFor, n.SentAt, n.FailureReason, n.RetryCount, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorAlreadyExists)
}

// Save upserts the mutable fields of an existing log by id.
func (r *PostgresRepository) Save(ctx context.Context, n *models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (id, keepsake_id, beneficiary_id, vault_id, type, status,
			scheduled_for, sent_at, failure_reason, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			scheduled_for = EXCLUDED.scheduled_for,
			sent_at = EXCLUDED.sent_at,
			failure_reason = EXCLUDED.failure_reason,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
	`
	res, err := r.db.ExecContext(ctx, query,
		n.ID, n.KeepsakeID, n.BeneficiaryID, n.VaultID, n.Type, n.Status,
		n.ScheduledFor, n.SentAt, n.FailureReason, n.RetryCount, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, nil)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.NotificationLog, error) {
	n, err := scanLog(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// FindInFlight returns the pending or scheduled log for the recipient in
// the same dedup class as typ, or common.ErrorNotFound.
func (r *PostgresRepository) FindInFlight(ctx context.Context, beneficiaryID, vaultID string, typ models.NotificationType) (*models.NotificationLog, error) {
	n, err := scanLog(r.db.QueryRowContext(ctx, selectColumns+`
		WHERE beneficiary_id = $1 AND vault_id = $2 AND status IN ('pending', 'scheduled')
			AND (type = 'account_creation') = ($3 = 'account_creation')
		LIMIT 1`, beneficiaryID, vaultID, typ))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// FindRecoverable returns logs whose job may have been lost: pending logs
// created before cutoff, scheduled logs due before cutoff, and failed logs
// below the retry cap last touched before cutoff.
func (r *PostgresRepository) FindRecoverable(ctx context.Context, cutoff time.Time, limit int) ([]*models.NotificationLog, error) {
	return r.query(ctx, selectColumns+`
		WHERE (status = 'pending' AND created_at <= $1)
			OR (status = 'scheduled' AND scheduled_for <= $1)
			OR (status = 'failed' AND retry_count < $2 AND updated_at <= $1)
		ORDER BY scheduled_for
		LIMIT $3`, cutoff, models.MaxNotificationRetries, limit)
}

func (r *PostgresRepository) ListByVault(ctx context.Context, vaultID string) ([]*models.NotificationLog, error) {
	return r.query(ctx, selectColumns+` WHERE vault_id = $1 ORDER BY id`, vaultID)
}

// CancelInFlightForVault marks every pending or scheduled log of the vault
// cancelled. Workers re-check status before sending.
func (r *PostgresRepository) CancelInFlightForVault(ctx context.Context, vaultID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_logs SET status = 'cancelled', updated_at = $2
		WHERE vault_id = $1 AND status IN ('pending', 'scheduled')`, vaultID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.NotificationLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.NotificationLog
	for rows.Next() {
		n, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(s scanner) (*models.NotificationLog, error) {
	var n models.NotificationLog
	if err := s.Scan(
		&n.ID, &n.KeepsakeID, &n.BeneficiaryID, &n.VaultID, &n.Type, &n.Status, &n.ScheduledFor,
		&n.SentAt, &n.FailureReason, &n.RetryCount, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
