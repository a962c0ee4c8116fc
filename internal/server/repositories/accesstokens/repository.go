package accesstokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, t *models.BeneficiaryAccessToken) error
	FindByToken(ctx context.Context, token string) (*models.BeneficiaryAccessToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
