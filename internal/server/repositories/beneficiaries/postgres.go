// Package beneficiaries provides PostgreSQL-backed beneficiary lookup and
// trusted-person assignment.
package beneficiaries

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

// Save upserts a beneficiary. The trusted-person flag is not written here;
// use SetTrustedPerson.
func (r *PostgresRepository) Save(ctx context.Context, b *models.Beneficiary) error {
	query := `
		INSERT INTO beneficiaries (id, vault_id, email, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name
			WHERE beneficiaries.vault_id = EXCLUDED.vault_id
	`
	res, err := r.db.ExecContext(ctx, query, b.ID, b.VaultID, b.Email, b.FullName, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrVersionConflict)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Beneficiary, error) {
	var b models.Beneficiary
	err := r.db.QueryRowContext(ctx, `
		SELECT id, vault_id, email, full_name, is_trusted_person, created_at
		FROM beneficiaries WHERE id = $1`, id,
	).Scan(&b.ID, &b.VaultID, &b.Email, &b.FullName, &b.IsTrustedPerson, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) FindByVaultID(ctx context.Context, vaultID string) ([]*models.Beneficiary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, vault_id, email, full_name, is_trusted_person, created_at
		FROM beneficiaries WHERE vault_id = $1
		ORDER BY created_at`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Beneficiary
	for rows.Next() {
		var b models.Beneficiary
		if err := rows.Scan(&b.ID, &b.VaultID, &b.Email, &b.FullName, &b.IsTrustedPerson, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetTrustedPerson makes beneficiaryID the only trusted person of vaultID.
// Run it inside a transaction: the previous holder is cleared first, then
// the new one is set, and the partial unique index on (vault_id) rejects a
// concurrent assignment that slips in between.
func (r *PostgresRepository) SetTrustedPerson(ctx context.Context, vaultID, beneficiaryID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE beneficiaries SET is_trusted_person = FALSE
		WHERE vault_id = $1 AND is_trusted_person AND id <> $2`, vaultID, beneficiaryID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE beneficiaries SET is_trusted_person = TRUE
		WHERE id = $1 AND vault_id = $2`, beneficiaryID, vaultID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrBeneficiaryNotFound)
}
