// Package accesstokens persists beneficiary portal access tokens.
package accesstokens

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

// Save upserts a token. Only last_accessed_at changes after creation.
func (r *PostgresRepository) Save(ctx context.Context, t *models.BeneficiaryAccessToken) error {
	query := `
		INSERT INTO beneficiary_access_tokens (id, beneficiary_id, token, expires_at, last_accessed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET last_accessed_at = EXCLUDED.last_accessed_at
	`
	res, err := r.db.ExecContext(ctx, query, t.ID, t.BeneficiaryID, t.Token, t.ExpiresAt, t.LastAccessedAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, nil)
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.BeneficiaryAccessToken, error) {
	var t models.BeneficiaryAccessToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, beneficiary_id, token, expires_at, last_accessed_at, created_at
		FROM beneficiary_access_tokens WHERE token = $1`, token,
	).Scan(&t.ID, &t.BeneficiaryID, &t.Token, &t.ExpiresAt, &t.LastAccessedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &t, nil
}

// DeleteExpired removes tokens that expired before the given moment.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM beneficiary_access_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
