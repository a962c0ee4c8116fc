package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/metrics"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/queue"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// JobTypeNotification is the queue job type carrying a NotificationJob.
const JobTypeNotification = "notification.send"

// NotificationJob is the queue payload; the log is the source of truth.
type NotificationJob struct {
	LogID string `json:"log_id"`
}

// ScheduleResult counts per-recipient outcomes.
type ScheduleResult struct {
	Scheduled int
	Skipped   int
	Failed    int
}

// recoveryBatch bounds one RequeueStalled pass.
const recoveryBatch = 200

type scheduleOutcome int

const (
	outcomeScheduled scheduleOutcome = iota
	outcomeSkipped
)

// Orchestrator fans a delivery out into per-recipient notification jobs.
// Recipients are notified once per vault delivery event: the dedup key is
// (beneficiary, vault), not (beneficiary, keepsake). Account-created
// notices are deduplicated among themselves only.
type Orchestrator struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	queue         queue.Queue
	metrics       *metrics.Metrics
	logger        logging.Logger
	defaults      notificationDefaults
	recoveryGrace time.Duration
	now           func() time.Time
}

func NewOrchestrator(db *sql.DB, m repomanager.RepositoryManager, q queue.Queue, mx *metrics.Metrics, cfg *config.Config, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		db:            db,
		repomanager:   m,
		queue:         q,
		metrics:       mx,
		logger:        logger.With("module", "orchestrator"),
		defaults:      defaultsFrom(cfg),
		recoveryGrace: cfg.RecoveryGrace,
		now:           time.Now,
	}
}

// ScheduleNotificationsForKeepsake schedules a trusted-person alert for the
// vault's trusted person and an invitation for every other beneficiary.
// Per-recipient failures are counted and logged, never returned.
func (o *Orchestrator) ScheduleNotificationsForKeepsake(ctx context.Context, keepsakeID, vaultID string) (*ScheduleResult, error) {
	if _, err := loadVault(ctx, o.repomanager, o.db, vaultID); err != nil {
		return nil, err
	}

	cfg, err := o.loadConfig(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	beneficiaries, err := o.repomanager.Beneficiaries(o.db).FindByVaultID(ctx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("error loading beneficiaries: %w", err)
	}
	res := &ScheduleResult{}
	if len(beneficiaries) == 0 {
		o.logger.Info(ctx, "vault has no beneficiaries, nothing to notify", "vault_id", vaultID)
		o.markNotified(ctx, keepsakeID)
		return res, nil
	}

	var trusted, regular []*models.Beneficiary
	for _, b := range beneficiaries {
		if b.IsTrustedPerson {
			trusted = append(trusted, b)
		} else {
			regular = append(regular, b)
		}
	}

	o.scheduleGroup(ctx, res, trusted, models.NotificationTrustedPersonAlert, cfg, keepsakeID, vaultID)
	o.scheduleGroup(ctx, res, regular, models.NotificationBeneficiaryInvitation, cfg, keepsakeID, vaultID)

	o.logger.Info(ctx, "notifications scheduled",
		"keepsake_id", keepsakeID, "vault_id", vaultID,
		"scheduled", res.Scheduled, "skipped", res.Skipped, "failed", res.Failed)
	if res.Failed == 0 {
		o.markNotified(ctx, keepsakeID)
	}
	return res, nil
}

// RequeueStalled re-enqueues notifications whose job may have been lost:
// pending logs that never got a job, scheduled logs overdue by more than
// the recovery grace, and failed logs that can still retry. Jobs are keyed
// by log id, so a job that is still queued is not duplicated.
func (o *Orchestrator) RequeueStalled(ctx context.Context) (int, error) {
	now := o.now()
	logs := o.repomanager.NotificationLogs(o.db)
	stalled, err := logs.FindRecoverable(ctx, now.Add(-o.recoveryGrace), recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("error loading stalled notifications: %w", err)
	}

	requeued := 0
	for _, n := range stalled {
		if err := o.enqueue(ctx, n); err != nil {
			o.logger.Error(ctx, "requeueing notification failed", "notification_id", n.ID, "error", err)
			continue
		}
		if n.Status == models.NotificationPending {
			if err := n.MarkAsScheduled(now); err != nil {
				return requeued, err
			}
			if err := logs.Save(ctx, n); err != nil {
				o.logger.Error(ctx, "saving requeued notification failed", "notification_id", n.ID, "error", err)
			}
		}
		requeued++
	}
	if requeued > 0 {
		o.logger.Warn(ctx, "stalled notifications requeued", "count", requeued)
	}
	return requeued, nil
}

// ScheduleAccountCreated queues an immediate account-created notification
// after a beneficiary accepts an invitation.
func (o *Orchestrator) ScheduleAccountCreated(ctx context.Context, beneficiaryID, keepsakeID, vaultID string) error {
	_, err := o.scheduleFor(ctx, beneficiaryID, models.NotificationAccountCreation, 0, keepsakeID, vaultID)
	return err
}

// CancelForVault cancels every pending or scheduled notification of the
// vault. Already queued jobs see the cancelled status and do nothing.
func (o *Orchestrator) CancelForVault(ctx context.Context, vaultID string) (int64, error) {
	n, err := o.repomanager.NotificationLogs(o.db).CancelInFlightForVault(ctx, vaultID, o.now())
	if err != nil {
		return 0, fmt.Errorf("error cancelling notifications: %w", err)
	}
	o.logger.Info(ctx, "notifications cancelled", "vault_id", vaultID, "count", n)
	return n, nil
}

func (o *Orchestrator) loadConfig(ctx context.Context, vaultID string) (*models.NotificationConfig, error) {
	cfg, err := o.repomanager.NotificationConfigs(o.db).FindByVaultID(ctx, vaultID)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, common.ErrorNotFound) {
		return o.defaults.forVault(vaultID), nil
	}
	return nil, fmt.Errorf("error loading notification config: %w", err)
}

func (o *Orchestrator) markNotified(ctx context.Context, keepsakeID string) {
	if err := o.repomanager.Keepsakes(o.db).MarkNotified(ctx, keepsakeID, o.now()); err != nil {
		// the recovery sweep replays the fan-out
		o.logger.Error(ctx, "stamping keepsake notified failed", "keepsake_id", keepsakeID, "error", err)
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, n *models.NotificationLog) error {
	_, err := o.queue.Enqueue(ctx, JobTypeNotification, NotificationJob{LogID: n.ID}, queue.EnqueueOptions{
		UniqueID: n.ID,
		Delay:    n.ScheduledFor.Sub(o.now()),
	})
	return err
}

func (o *Orchestrator) scheduleGroup(ctx context.Context, res *ScheduleResult, group []*models.Beneficiary, typ models.NotificationType, cfg *models.NotificationConfig, keepsakeID, vaultID string) {
	delay := cfg.DelayFor(typ)
	for _, b := range group {
		outcome, err := o.scheduleFor(ctx, b.ID, typ, delay, keepsakeID, vaultID)
		switch {
		case err != nil:
			res.Failed++
			o.logger.Error(ctx, "scheduling notification failed",
				"beneficiary_id", b.ID, "vault_id", vaultID, "type", typ, "error", err)
		case outcome == outcomeSkipped:
			res.Skipped++
		default:
			res.Scheduled++
		}
	}
}

func (o *Orchestrator) scheduleFor(ctx context.Context, beneficiaryID string, typ models.NotificationType, delay time.Duration, keepsakeID, vaultID string) (scheduleOutcome, error) {
	logs := o.repomanager.NotificationLogs(o.db)

	if existing, err := logs.FindInFlight(ctx, beneficiaryID, vaultID, typ); err == nil {
		o.logger.Debug(ctx, "notification already in flight",
			"beneficiary_id", beneficiaryID, "vault_id", vaultID, "notification_id", existing.ID)
		o.metrics.NotificationDeduplicated(string(typ))
		return outcomeSkipped, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return 0, fmt.Errorf("error checking in-flight notifications: %w", err)
	}

	now := o.now()
	n, err := models.NewNotificationLog(typ, &keepsakeID, &beneficiaryID, &vaultID, now.Add(delay), now)
	if err != nil {
		return 0, err
	}

	// A concurrent scheduler may have won the race since FindInFlight;
	// the in-flight unique index turns that into ErrorAlreadyExists.
	if err := logs.Create(ctx, n); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			o.metrics.NotificationDeduplicated(string(typ))
			return outcomeSkipped, nil
		}
		return 0, fmt.Errorf("error creating notification log: %w", err)
	}

	// A log left pending is picked up by RequeueStalled.
	if err := o.enqueue(ctx, n); err != nil {
		return 0, fmt.Errorf("error enqueueing notification: %w", err)
	}

	if err := n.MarkAsScheduled(o.now()); err != nil {
		return 0, err
	}
	if err := logs.Save(ctx, n); err != nil {
		return 0, fmt.Errorf("error saving notification log: %w", err)
	}
	o.metrics.NotificationScheduled(string(typ))
	return outcomeScheduled, nil
}

// notificationDefaults are the delays used for vaults without a stored
// notification config.
type notificationDefaults struct {
	trustedPersonHours int
	beneficiaryHours   int
}

func defaultsFrom(cfg *config.Config) notificationDefaults {
	return notificationDefaults{
		trustedPersonHours: cfg.TrustedPersonDelayHours,
		beneficiaryHours:   cfg.BeneficiaryDelayHours,
	}
}

func (d notificationDefaults) forVault(vaultID string) *models.NotificationConfig {
	return &models.NotificationConfig{
		VaultID:                 vaultID,
		TrustedPersonDelayHours: d.trustedPersonHours,
		BeneficiaryDelayHours:   d.beneficiaryHours,
	}
}
