package keepsakes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, k *models.Keepsake) error
	FindByID(ctx context.Context, id string) (*models.Keepsake, error)
	ListByVault(ctx context.Context, vaultID string) ([]*models.Keepsake, error)
	FindScheduledByTrigger(ctx context.Context, vaultID string, trigger models.TriggerCondition) ([]*models.Keepsake, error)
	FindDueOnDate(ctx context.Context, now time.Time) ([]*models.Keepsake, error)
	FindDeliveredByVault(ctx context.Context, vaultID string) ([]*models.Keepsake, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	FindVaultsAwaitingDeathDelivery(ctx context.Context) ([]string, error)
	FindUnnotifiedDeliveries(ctx context.Context, cutoff time.Time, limit int) ([]*models.Keepsake, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}
