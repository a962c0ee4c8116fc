package beneficiaries

import (
	"context"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, b *models.Beneficiary) error
	FindByID(ctx context.Context, id string) (*models.Beneficiary, error)
	FindByVaultID(ctx context.Context, vaultID string) ([]*models.Beneficiary, error)
	SetTrustedPerson(ctx context.Context, vaultID, beneficiaryID string) error
}
