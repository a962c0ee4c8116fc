package vaults

import (
	"context"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, v *models.Vault) error
	FindByID(ctx context.Context, id string) (*models.Vault, error)
	FindByUserID(ctx context.Context, userID string) (*models.Vault, error)
}
