package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/events"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// DeathService records death declarations made by a vault's trusted person.
type DeathService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   EventPublisher
	logger      logging.Logger
	now         func() time.Time
}

func NewDeathService(db *sql.DB, m repomanager.RepositoryManager, publisher EventPublisher, logger logging.Logger) *DeathService {
	return &DeathService{
		db:          db,
		repomanager: m,
		publisher:   publisher,
		logger:      logger.With("module", "death"),
		now:         time.Now,
	}
}

// DeclareDeath unseals the vault and publishes DeathDeclared, which starts
// death-trigger delivery. Declaring again on an unsealed vault re-publishes
// without touching the vault, so a lost event can be replayed.
func (s *DeathService) DeclareDeath(ctx context.Context, vaultID, trustedPersonID string) error {
	v, err := loadVault(ctx, s.repomanager, s.db, vaultID)
	if err != nil {
		return err
	}

	b, err := s.repomanager.Beneficiaries(s.db).FindByID(ctx, trustedPersonID)
	if err != nil {
		return notFoundAs(err, common.ErrBeneficiaryNotFound, "beneficiary")
	}
	if b.VaultID != v.ID || !b.IsTrustedPerson {
		return common.ErrNotTrustedPerson
	}

	now := s.now()
	if v.Status == models.VaultUnsealed {
		s.logger.Info(ctx, "death already declared, publishing again", "vault_id", v.ID, "trusted_person_id", b.ID)
	} else {
		if err := v.Unseal(now); err != nil {
			return err
		}
		if err := s.repomanager.Vaults(s.db).Save(ctx, v); err != nil {
			return fmt.Errorf("error saving vault: %w", err)
		}
		s.logger.Info(ctx, "death declared", "vault_id", v.ID, "trusted_person_id", b.ID)
	}

	return s.publisher.PublishDeathDeclared(ctx, events.DeathDeclared{
		VaultID:         v.ID,
		TrustedPersonID: b.ID,
		DeclaredAt:      now,
	})
}
