// Package vaults provides PostgreSQL-backed vault lookup. Vault creation is
// owned by account onboarding; this package only reads vaults and persists
// status changes.
package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

// PostgresRepository implements vault storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save upserts a vault. The salt is immutable once written.
func (r *PostgresRepository) Save(ctx context.Context, v *models.Vault) error {
	query := `
		INSERT INTO vaults (id, user_id, salt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`
	res, err := r.db.ExecContext(ctx, query, v.ID, v.UserID, v.Salt, v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, nil)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Vault, error) {
	return r.findOne(ctx, `SELECT id, user_id, salt, status, created_at, updated_at FROM vaults WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByUserID(ctx context.Context, userID string) (*models.Vault, error) {
	return r.findOne(ctx, `SELECT id, user_id, salt, status, created_at, updated_at FROM vaults WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg string) (*models.Vault, error) {
	var v models.Vault
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&v.ID, &v.UserID, &v.Salt, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &v, nil
}
