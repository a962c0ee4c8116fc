package notificationlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, n *models.NotificationLog) error
	Save(ctx context.Context, n *models.NotificationLog) error
	FindByID(ctx context.Context, id string) (*models.NotificationLog, error)
	FindInFlight(ctx context.Context, beneficiaryID, vaultID string, typ models.NotificationType) (*models.NotificationLog, error)
	FindRecoverable(ctx context.Context, cutoff time.Time, limit int) ([]*models.NotificationLog, error)
	ListByVault(ctx context.Context, vaultID string) ([]*models.NotificationLog, error)
	CancelInFlightForVault(ctx context.Context, vaultID string, at time.Time) (int64, error)
}
