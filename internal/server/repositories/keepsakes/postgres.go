// Package keepsakes provides PostgreSQL-backed persistence for keepsakes,
// including the guarded status update used by delivery.
package keepsakes

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

// PostgresRepository implements keepsake storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	SELECT id, vault_id, type, title, ciphertext, nonce, trigger_condition,
		reveal_delay_days, reveal_date, scheduled_at, media_key, status,
		created_at, updated_at, deleted_at
	FROM keepsakes`

// Save upserts a keepsake by id. A delivered row is never overwritten, so a
// stale copy cannot roll a delivery back; that case yields ErrVersionConflict.
func (r *PostgresRepository) Save(ctx context.Context, k *models.Keepsake) error {
	query := `
		INSERT INTO keepsakes (id, vault_id, type, title, ciphertext, nonce, trigger_condition,
			reveal_delay_days, reveal_date, scheduled_at, media_key, status, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id)
		DO UPDATE SET
			title = EXCLUDED.title,
			ciphertext = EXCLUDED.ciphertext,
			nonce = EXCLUDED.nonce,
			trigger_condition = EXCLUDED.trigger_condition,
			reveal_delay_days = EXCLUDED.reveal_delay_days,
			reveal_date = EXCLUDED.reveal_date,
			scheduled_at = EXCLUDED.scheduled_at,
			media_key = EXCLUDED.media_key,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
			WHERE keepsakes.status <> 'delivered';
	`
	res, err := r.db.ExecContext(ctx, query,
		k.ID, k.VaultID, k.Type, k.Title, k.Content.Ciphertext, k.Content.Nonce, k.Trigger,
		k.RevealDelayDays, k.RevealDate, k.ScheduledAt, k.MediaKey, k.Status,
		k.CreatedAt, k.UpdatedAt, k.DeletedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrVersionConflict)
}

// FindByID returns a non-deleted keepsake or common.ErrorNotFound.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Keepsake, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1 AND deleted_at IS NULL`, id)
	k, err := scanKeepsake(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

func (r *PostgresRepository) ListByVault(ctx context.Context, vaultID string) ([]*models.Keepsake, error) {
	return r.query(ctx, selectColumns+`
		WHERE vault_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, vaultID)
}

// FindScheduledByTrigger returns the vault's scheduled keepsakes for one trigger.
func (r *PostgresRepository) FindScheduledByTrigger(ctx context.Context, vaultID string, trigger models.TriggerCondition) ([]*models.Keepsake, error) {
	return r.query(ctx, selectColumns+`
		WHERE vault_id = $1 AND trigger_condition = $2 AND status = 'scheduled' AND deleted_at IS NULL
		ORDER BY created_at`, vaultID, trigger)
}

// FindDueOnDate returns scheduled on_date keepsakes across all vaults whose
// reveal moment (schedule or reveal date, plus delay days) is not after now.
func (r *PostgresRepository) FindDueOnDate(ctx context.Context, now time.Time) ([]*models.Keepsake, error) {
	return r.query(ctx, selectColumns+`
		WHERE trigger_condition = 'on_date' AND status = 'scheduled' AND deleted_at IS NULL
			AND COALESCE(scheduled_at, reveal_date) IS NOT NULL
			AND COALESCE(scheduled_at, reveal_date) + make_interval(days => COALESCE(reveal_delay_days, 0)) <= $1
		ORDER BY created_at`, now)
}

func (r *PostgresRepository) FindDeliveredByVault(ctx context.Context, vaultID string) ([]*models.Keepsake, error) {
	return r.query(ctx, selectColumns+`
		WHERE vault_id = $1 AND status = 'delivered' AND deleted_at IS NULL
		ORDER BY updated_at`, vaultID)
}

// MarkDelivered transitions scheduled -> delivered only if the row is still
// scheduled. Losing the race yields common.ErrVersionConflict.
func (r *PostgresRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE keepsakes SET status = 'delivered', updated_at = $2
		WHERE id = $1 AND status = 'scheduled' AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrVersionConflict)
}

// FindVaultsAwaitingDeathDelivery returns unsealed vaults that still hold
// scheduled on_death keepsakes.
func (r *PostgresRepository) FindVaultsAwaitingDeathDelivery(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT k.vault_id
		FROM keepsakes k
		JOIN vaults v ON v.id = k.vault_id
		WHERE v.status = 'unsealed' AND k.trigger_condition = 'on_death'
			AND k.status = 'scheduled' AND k.deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindUnnotifiedDeliveries returns keepsakes delivered before cutoff whose
// notifications were never recorded as scheduled.
func (r *PostgresRepository) FindUnnotifiedDeliveries(ctx context.Context, cutoff time.Time, limit int) ([]*models.Keepsake, error) {
	return r.query(ctx, selectColumns+`
		WHERE status = 'delivered' AND notified_at IS NULL AND deleted_at IS NULL AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`, cutoff, limit)
}

// MarkNotified stamps the delivery as fanned out. Stamping twice is a no-op.
func (r *PostgresRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE keepsakes SET notified_at = $2
		WHERE id = $1 AND notified_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Keepsake, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Keepsake
	for rows.Next() {
		k, err := scanKeepsake(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKeepsake(s scanner) (*models.Keepsake, error) {
	var k models.Keepsake
	if err := s.Scan(
		&k.ID, &k.VaultID, &k.Type, &k.Title, &k.Content.Ciphertext, &k.Content.Nonce, &k.Trigger,
		&k.RevealDelayDays, &k.RevealDate, &k.ScheduledAt, &k.MediaKey, &k.Status,
		&k.CreatedAt, &k.UpdatedAt, &k.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &k, nil
}
