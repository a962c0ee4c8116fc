// Package invitations provides PostgreSQL-backed persistence for
// beneficiary invitations. Lookups are by id, by token, or by the
// (beneficiary, keepsake) pair.
package invitations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	SELECT id, beneficiary_id, keepsake_id, token, status, sent_at, viewed_at, accepted_at,
		expires_at, resent_by, resent_at, resend_count, created_at, updated_at
	FROM beneficiary_invitations`

// Save upserts an invitation by id.
func (r *PostgresRepository) Save(ctx context.Context, inv *models.BeneficiaryInvitation) error {
	query := `
		INSERT INTO beneficiary_invitations (id, beneficiary_id, keepsake_id, token, status, sent_at,
			viewed_at, accepted_at, expires_at, resent_by, resent_at, resend_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id)
		DO UPDATE SET
			token = EXCLUDED.token,
			status = EXCLUDED.status,
			sent_at = EXCLUDED.sent_at,
			viewed_at = EXCLUDED.viewed_at,
			accepted_at = EXCLUDED.accepted_at,
			expires_at = EXCLUDED.expires_at,
			resent_by = EXCLUDED.resent_by,
			resent_at = EXCLUDED.resent_at,
			resend_count = EXCLUDED.resend_count,
			updated_at = EXCLUDED.updated_at
	`
	res, err := r.db.ExecContext(ctx, query,
		inv.ID, inv.BeneficiaryID, inv.KeepsakeID, inv.Token, inv.Status, inv.SentAt,
		inv.ViewedAt, inv.AcceptedAt, inv.ExpiresAt, inv.ResentBy, inv.ResentAt, inv.ResendCount,
		inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, nil)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.BeneficiaryInvitation, error) {
	return r.findOne(ctx, selectColumns+` WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.BeneficiaryInvitation, error) {
	return r.findOne(ctx, selectColumns+` WHERE token = $1`, token)
}

// FindLatest returns the most recent invitation for the pair.
func (r *PostgresRepository) FindLatest(ctx context.Context, beneficiaryID, keepsakeID string) (*models.BeneficiaryInvitation, error) {
	return r.findOne(ctx, selectColumns+`
		WHERE beneficiary_id = $1 AND keepsake_id = $2
		ORDER BY created_at DESC LIMIT 1`, beneficiaryID, keepsakeID)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.BeneficiaryInvitation, error) {
	var inv models.BeneficiaryInvitation
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&inv.ID, &inv.BeneficiaryID, &inv.KeepsakeID, &inv.Token, &inv.Status, &inv.SentAt,
		&inv.ViewedAt, &inv.AcceptedAt, &inv.ExpiresAt, &inv.ResentBy, &inv.ResentAt, &inv.ResendCount,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &inv, nil
}
