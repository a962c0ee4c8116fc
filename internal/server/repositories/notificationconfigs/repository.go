package notificationconfigs

import (
	"context"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, c *models.NotificationConfig) error
	FindByVaultID(ctx context.Context, vaultID string) (*models.NotificationConfig, error)
}
