// Package notificationconfigs persists per-vault notification delays.
package notificationconfigs

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

func (r *PostgresRepository) Save(ctx context.Context, c *models.NotificationConfig) error {
	query := `
		INSERT INTO notification_configs (vault_id, trusted_person_delay_hours, beneficiary_delay_hours, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vault_id)
		DO UPDATE SET
			trusted_person_delay_hours = EXCLUDED.trusted_person_delay_hours,
			beneficiary_delay_hours = EXCLUDED.beneficiary_delay_hours,
			updated_at = EXCLUDED.updated_at
	`
	res, err := r.db.ExecContext(ctx, query, c.VaultID, c.TrustedPersonDelayHours, c.BeneficiaryDelayHours, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, nil)
}

// FindByVaultID returns common.ErrorNotFound when the vault has no config;
// callers fall back to the server defaults.
func (r *PostgresRepository) FindByVaultID(ctx context.Context, vaultID string) (*models.NotificationConfig, error) {
	var c models.NotificationConfig
	err := r.db.QueryRowContext(ctx, `
		SELECT vault_id, trusted_person_delay_hours, beneficiary_delay_hours, updated_at
		FROM notification_configs WHERE vault_id = $1`, vaultID,
	).Scan(&c.VaultID, &c.TrustedPersonDelayHours, &c.BeneficiaryDelayHours, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}
