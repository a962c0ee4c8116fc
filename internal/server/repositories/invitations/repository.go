package invitations

import (
	"context"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, inv *models.BeneficiaryInvitation) error
	FindByID(ctx context.Context, id string) (*models.BeneficiaryInvitation, error)
	FindByToken(ctx context.Context, token string) (*models.BeneficiaryInvitation, error)
	FindLatest(ctx context.Context, beneficiaryID, keepsakeID string) (*models.BeneficiaryInvitation, error)
}
