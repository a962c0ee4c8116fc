package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// Deliverer runs trigger deliveries. *DeliveryService implements it.
type Deliverer interface {
	ExecuteForDateTrigger(ctx context.Context) (*DeliveryResult, error)
	ExecuteForDeathTrigger(ctx context.Context, vaultID string) (*DeliveryResult, error)
}

// Notifier fans deliveries out and re-drives stalled notifications.
// *Orchestrator implements it.
type Notifier interface {
	ScheduleNotificationsForKeepsake(ctx context.Context, keepsakeID, vaultID string) (*ScheduleResult, error)
	RequeueStalled(ctx context.Context) (int, error)
}

// unnotifiedBatch bounds the deliveries replayed per tick.
const unnotifiedBatch = 100

// Scheduler periodically runs the date-trigger delivery, replays work whose
// event or job was lost, and purges expired beneficiary access tokens.
type Scheduler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	delivery    Deliverer
	notifier    Notifier
	interval    time.Duration
	grace       time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewScheduler(db *sql.DB, m repomanager.RepositoryManager, delivery Deliverer, notifier Notifier, interval, grace time.Duration, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Scheduler{
		db:          db,
		repomanager: m,
		delivery:    delivery,
		notifier:    notifier,
		interval:    interval,
		grace:       grace,
		logger:      logger.With("module", "scheduler"),
		now:         time.Now,
	}
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Starting scheduler", "interval", s.interval.String())
	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping scheduler...")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass. Errors are logged; the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.delivery.ExecuteForDateTrigger(ctx); err != nil {
		s.logger.Error(ctx, "date trigger scan failed", "error", err)
	}
	s.resumeDeathDeliveries(ctx)
	s.replayUnnotifiedDeliveries(ctx)

	if _, err := s.notifier.RequeueStalled(ctx); err != nil {
		s.logger.Error(ctx, "requeueing stalled notifications failed", "error", err)
	}

	n, err := s.repomanager.AccessTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error(ctx, "purging expired access tokens failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info(ctx, "expired access tokens purged", "count", n)
	}
}

// resumeDeathDeliveries re-runs death-trigger delivery for unsealed vaults
// that still hold scheduled on_death keepsakes.
func (s *Scheduler) resumeDeathDeliveries(ctx context.Context) {
	vaultIDs, err := s.repomanager.Keepsakes(s.db).FindVaultsAwaitingDeathDelivery(ctx)
	if err != nil {
		s.logger.Error(ctx, "loading unsealed vaults failed", "error", err)
		return
	}
	for _, id := range vaultIDs {
		s.logger.Warn(ctx, "resuming death trigger delivery", "vault_id", id)
		if _, err := s.delivery.ExecuteForDeathTrigger(ctx, id); err != nil {
			s.logger.Error(ctx, "death trigger delivery failed", "vault_id", id, "error", err)
		}
	}
}

// replayUnnotifiedDeliveries fans out deliveries whose KeepsakeDelivered
// event never led to scheduled notifications.
func (s *Scheduler) replayUnnotifiedDeliveries(ctx context.Context) {
	ks, err := s.repomanager.Keepsakes(s.db).FindUnnotifiedDeliveries(ctx, s.now().Add(-s.grace), unnotifiedBatch)
	if err != nil {
		s.logger.Error(ctx, "loading unnotified deliveries failed", "error", err)
		return
	}
	for _, k := range ks {
		s.logger.Warn(ctx, "replaying delivery notifications", "keepsake_id", k.ID, "vault_id", k.VaultID)
		if _, err := s.notifier.ScheduleNotificationsForKeepsake(ctx, k.ID, k.VaultID); err != nil {
			s.logger.Error(ctx, "replaying delivery notifications failed", "keepsake_id", k.ID, "error", err)
		}
	}
}

var (
	_ Deliverer = (*DeliveryService)(nil)
	_ Notifier  = (*Orchestrator)(nil)
)
