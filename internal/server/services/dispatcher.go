package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/auth"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/metrics"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/notify"
	"github.com/dmitrijs2005/keepsake/internal/server/queue"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// NotificationDispatcher is the queue handler for JobTypeNotification.
// It re-loads the log on every firing, so cancelling a log before its job
// runs is enough to stop the send.
type NotificationDispatcher struct {
	db                  *sql.DB
	repomanager         repomanager.RepositoryManager
	sender              notify.Sender
	metrics             *metrics.Metrics
	logger              logging.Logger
	jwtSecret           []byte
	accessTokenValidity time.Duration
	invitationValidity  time.Duration
	now                 func() time.Time
}

func NewNotificationDispatcher(db *sql.DB, m repomanager.RepositoryManager, sender notify.Sender, mx *metrics.Metrics, cfg *config.Config, logger logging.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		db:                  db,
		repomanager:         m,
		sender:              sender,
		metrics:             mx,
		logger:              logger.With("module", "dispatcher"),
		jwtSecret:           []byte(cfg.SecretKey),
		accessTokenValidity: cfg.AccessTokenValidity,
		invitationValidity:  cfg.InvitationValidity,
		now:                 time.Now,
	}
}

// Handle implements queue.Handler. A nil return acknowledges the job, an
// error wrapping queue.ErrPermanent drops it, any other error re-queues it.
func (d *NotificationDispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var p NotificationJob
	if err := job.Decode(&p); err != nil || p.LogID == "" {
		return fmt.Errorf("%w: bad payload for job %s", queue.ErrPermanent, job.ID)
	}

	logs := d.repomanager.NotificationLogs(d.db)
	n, err := logs.FindByID(ctx, p.LogID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: notification %s not found", queue.ErrPermanent, p.LogID)
		}
		return fmt.Errorf("error loading notification: %w", err)
	}

	switch {
	case n.Status == models.NotificationCancelled, n.Status == models.NotificationSent:
		d.logger.Debug(ctx, "notification no longer due", "notification_id", n.ID, "status", n.Status)
		return nil
	case n.Status == models.NotificationFailed && !n.CanRetry():
		return nil
	}

	sendErr := d.send(ctx, n)
	now := d.now()
	if sendErr == nil {
		n.MarkAsSent(now)
		if err := logs.Save(ctx, n); err != nil {
			// sent but not recorded; a retry would send twice
			d.logger.Error(ctx, "saving sent notification failed", "notification_id", n.ID, "error", err)
		}
		d.metrics.NotificationSent(string(n.Type))
		return nil
	}

	capErr := n.MarkAsFailed(sendErr.Error(), now)
	if err := logs.Save(ctx, n); err != nil {
		d.logger.Error(ctx, "saving failed notification failed", "notification_id", n.ID, "error", err)
	}
	d.metrics.NotificationFailed(string(n.Type), capErr != nil)

	if capErr != nil {
		d.logger.Error(ctx, "notification permanently failed",
			"notification_id", n.ID, "retries", n.RetryCount, "error", sendErr)
		return fmt.Errorf("%w: %v", queue.ErrPermanent, capErr)
	}
	d.logger.Warn(ctx, "notification send failed, will retry",
		"notification_id", n.ID, "retries", n.RetryCount, "error", sendErr)
	return sendErr
}

func (d *NotificationDispatcher) send(ctx context.Context, n *models.NotificationLog) error {
	if n.BeneficiaryID == nil {
		return fmt.Errorf("%w: notification has no recipient", common.ErrMissingID)
	}
	b, err := d.repomanager.Beneficiaries(d.db).FindByID(ctx, *n.BeneficiaryID)
	if err != nil {
		return notFoundAs(err, common.ErrBeneficiaryNotFound, "beneficiary")
	}
	vaultID, err := d.vaultOf(ctx, n)
	if err != nil {
		return err
	}
	to := notify.Recipient{BeneficiaryID: b.ID, Email: b.Email, FullName: b.FullName}

	switch n.Type {
	case models.NotificationTrustedPersonAlert:
		return d.sender.SendTrustedPersonAlert(ctx, to, vaultID)
	case models.NotificationAccountCreation:
		return d.sender.SendBeneficiaryAccountCreated(ctx, to, vaultID)
	case models.NotificationBeneficiaryInvitation:
		return d.sendInvitation(ctx, n, to, vaultID)
	default:
		return fmt.Errorf("%w: notification type %q", common.ErrInvalidType, n.Type)
	}
}

// sendInvitation issues (or reuses) the invitation for the keepsake plus a
// fresh portal access token, then hands both to the sender.
func (d *NotificationDispatcher) sendInvitation(ctx context.Context, n *models.NotificationLog, to notify.Recipient, vaultID string) error {
	if n.KeepsakeID == nil {
		return fmt.Errorf("%w: invitation needs a keepsake", common.ErrMissingID)
	}
	now := d.now()

	inv, err := d.repomanager.Invitations(d.db).FindLatest(ctx, to.BeneficiaryID, *n.KeepsakeID)
	switch {
	case err == nil && inv.Status == models.InvitationPending && !inv.IsExpired(now):
	case err == nil || errors.Is(err, common.ErrorNotFound):
		inv, err = models.NewBeneficiaryInvitation(to.BeneficiaryID, *n.KeepsakeID, now, d.invitationValidity)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("error loading invitation: %w", err)
	}

	access, err := issueAccessToken(to.BeneficiaryID, vaultID, now, d.accessTokenValidity, d.jwtSecret)
	if err != nil {
		return err
	}

	if err := dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := d.repomanager.Invitations(tx).Save(ctx, inv); err != nil {
			return fmt.Errorf("error saving invitation: %w", err)
		}
		if err := d.repomanager.AccessTokens(tx).Save(ctx, access); err != nil {
			return fmt.Errorf("error saving access token: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := d.sender.SendBeneficiaryInvitation(ctx, to, notify.InvitationLink{
		VaultID:         vaultID,
		InvitationToken: inv.Token,
		AccessToken:     access.Token,
		ExpiresAt:       access.ExpiresAt,
	}); err != nil {
		return err
	}

	inv.MarkAsSent(d.now())
	if err := d.repomanager.Invitations(d.db).Save(ctx, inv); err != nil {
		d.logger.Warn(ctx, "stamping invitation sent failed", "invitation_id", inv.ID, "error", err)
	}
	return nil
}

// issueAccessToken signs a portal token for the beneficiary. The caller
// persists it.
func issueAccessToken(beneficiaryID, vaultID string, now time.Time, validity time.Duration, secret []byte) (*models.BeneficiaryAccessToken, error) {
	expiresAt := now.Add(validity)
	token, err := auth.GenerateBeneficiaryToken(beneficiaryID, vaultID, expiresAt, secret)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}
	return models.NewBeneficiaryAccessToken(beneficiaryID, token, expiresAt, now), nil
}

func (d *NotificationDispatcher) vaultOf(ctx context.Context, n *models.NotificationLog) (string, error) {
	if n.VaultID != nil {
		return *n.VaultID, nil
	}
	k, err := d.repomanager.Keepsakes(d.db).FindByID(ctx, *n.KeepsakeID)
	if err != nil {
		return "", notFoundAs(err, common.ErrKeepsakeNotFound, "keepsake")
	}
	return k.VaultID, nil
}
