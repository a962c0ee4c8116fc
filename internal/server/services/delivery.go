package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/events"
	"github.com/dmitrijs2005/keepsake/internal/server/metrics"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// DeliveryResult lists the keepsakes delivered by one invocation.
type DeliveryResult struct {
	Delivered   int
	KeepsakeIDs []string
}

// DeliveryService moves scheduled keepsakes to delivered. Every entry point
// is idempotent per keepsake: already delivered keepsakes are never
// candidates, and the persisted transition is a compare-and-set.
type DeliveryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   EventPublisher
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time
}

func NewDeliveryService(db *sql.DB, m repomanager.RepositoryManager, publisher EventPublisher, mx *metrics.Metrics, logger logging.Logger) *DeliveryService {
	return &DeliveryService{
		db:          db,
		repomanager: m,
		publisher:   publisher,
		metrics:     mx,
		logger:      logger.With("module", "delivery"),
		now:         time.Now,
	}
}

// ExecuteForDeathTrigger delivers every scheduled on_death keepsake of the
// vault. A missing vault is an error; per-keepsake failures are logged and
// skipped.
func (s *DeliveryService) ExecuteForDeathTrigger(ctx context.Context, vaultID string) (*DeliveryResult, error) {
	if _, err := loadVault(ctx, s.repomanager, s.db, vaultID); err != nil {
		return nil, err
	}

	candidates, err := s.repomanager.Keepsakes(s.db).FindScheduledByTrigger(ctx, vaultID, models.TriggerOnDeath)
	if err != nil {
		return nil, fmt.Errorf("error loading keepsakes: %w", err)
	}

	res := s.deliverAll(ctx, candidates)
	s.logger.Info(ctx, "death trigger delivery finished",
		"vault_id", vaultID, "candidates", len(candidates), "delivered", res.Delivered)
	return res, nil
}

// ExecuteForDateTrigger delivers every on_date keepsake that is due,
// across all vaults.
func (s *DeliveryService) ExecuteForDateTrigger(ctx context.Context) (*DeliveryResult, error) {
	now := s.now()
	candidates, err := s.repomanager.Keepsakes(s.db).FindDueOnDate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("error loading due keepsakes: %w", err)
	}

	res := s.deliverAll(ctx, candidates)
	if len(candidates) > 0 {
		s.logger.Info(ctx, "date trigger delivery finished", "candidates", len(candidates), "delivered", res.Delivered)
	}
	return res, nil
}

// ManualDelivery delivers a manual keepsake on behalf of the vault owner.
func (s *DeliveryService) ManualDelivery(ctx context.Context, keepsakeID, userID string) (*models.Keepsake, error) {
	k, err := s.repomanager.Keepsakes(s.db).FindByID(ctx, keepsakeID)
	if err != nil {
		return nil, notFoundAs(err, common.ErrKeepsakeNotFound, "keepsake")
	}
	if k.Trigger != models.TriggerManual {
		return nil, common.ErrWrongTriggerType
	}

	v, err := loadVault(ctx, s.repomanager, s.db, k.VaultID)
	if err != nil {
		return nil, err
	}
	if v.UserID != userID {
		return nil, common.ErrNotOwner
	}

	if err := s.deliver(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

func (s *DeliveryService) deliverAll(ctx context.Context, candidates []*models.Keepsake) *DeliveryResult {
	res := &DeliveryResult{KeepsakeIDs: make([]string, 0, len(candidates))}
	for _, k := range candidates {
		if err := s.deliver(ctx, k); err != nil {
			s.logger.Warn(ctx, "keepsake delivery skipped", "keepsake_id", k.ID, "error", err)
			continue
		}
		res.KeepsakeIDs = append(res.KeepsakeIDs, k.ID)
	}
	res.Delivered = len(res.KeepsakeIDs)
	return res
}

// deliver transitions k, persists it with a compare-and-set and only then
// publishes the delivered fact.
func (s *DeliveryService) deliver(ctx context.Context, k *models.Keepsake) error {
	now := s.now()
	if err := k.Deliver(now); err != nil {
		return err
	}

	if err := s.repomanager.Keepsakes(s.db).MarkDelivered(ctx, k.ID, now); err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			return fmt.Errorf("%w: delivered concurrently", common.ErrAlreadyDelivered)
		}
		return fmt.Errorf("error persisting delivery: %w", err)
	}
	s.metrics.KeepsakeDelivered(string(k.Trigger))

	err := s.publisher.PublishDelivered(ctx, events.KeepsakeDelivered{
		KeepsakeID:  k.ID,
		VaultID:     k.VaultID,
		Trigger:     k.Trigger,
		DeliveredAt: now,
	})
	if err != nil {
		// the delivery itself stands
		s.logger.Error(ctx, "publish keepsake delivered failed", "keepsake_id", k.ID, "error", err)
	}
	return nil
}
