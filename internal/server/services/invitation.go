package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/notify"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// AccountNotifier schedules the account-created notification.
// *Orchestrator implements it.
type AccountNotifier interface {
	ScheduleAccountCreated(ctx context.Context, beneficiaryID, keepsakeID, vaultID string) error
}

// InvitationService drives the invitation lifecycle. Expired, already
// accepted, cancelled and resend-cap failures come back as distinct errors.
type InvitationService struct {
	db                  *sql.DB
	repomanager         repomanager.RepositoryManager
	sender              notify.Sender
	accounts            AccountNotifier
	logger              logging.Logger
	validity            time.Duration
	accessTokenValidity time.Duration
	jwtSecret           []byte
	now                 func() time.Time
}

func NewInvitationService(db *sql.DB, m repomanager.RepositoryManager, sender notify.Sender, accounts AccountNotifier, cfg *config.Config, logger logging.Logger) *InvitationService {
	return &InvitationService{
		db:                  db,
		repomanager:         m,
		sender:              sender,
		accounts:            accounts,
		logger:              logger.With("module", "invitations"),
		validity:            cfg.InvitationValidity,
		accessTokenValidity: cfg.AccessTokenValidity,
		jwtSecret:           []byte(cfg.SecretKey),
		now:                 time.Now,
	}
}

// View marks the invitation as viewed. An expired invitation is persisted
// as expired and ErrInvitationExpired is returned.
func (s *InvitationService) View(ctx context.Context, token string) (*models.BeneficiaryInvitation, error) {
	inv, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, inv, inv.MarkAsViewed); err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept accepts the invitation and schedules the account-created
// notification. Failing to schedule it does not undo the acceptance.
func (s *InvitationService) Accept(ctx context.Context, token string) (*models.BeneficiaryInvitation, error) {
	inv, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, inv, inv.Accept); err != nil {
		return nil, err
	}

	if s.accounts != nil {
		b, err := s.repomanager.Beneficiaries(s.db).FindByID(ctx, inv.BeneficiaryID)
		if err == nil {
			err = s.accounts.ScheduleAccountCreated(ctx, b.ID, inv.KeepsakeID, b.VaultID)
		}
		if err != nil {
			s.logger.Error(ctx, "scheduling account created notification failed", "invitation_id", inv.ID, "error", err)
		}
	}
	return inv, nil
}

// Resend rotates the token, issues a fresh portal access token and sends
// the invitation again. Only the owner of the beneficiary's vault may resend.
func (s *InvitationService) Resend(ctx context.Context, invitationID, userID string) (*models.BeneficiaryInvitation, error) {
	inv, b, err := s.findOwned(ctx, invitationID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := inv.Resend(userID, now, s.validity); err != nil {
		return nil, err
	}
	access, err := issueAccessToken(b.ID, b.VaultID, now, s.accessTokenValidity, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Invitations(tx).Save(ctx, inv); err != nil {
			return fmt.Errorf("error saving invitation: %w", err)
		}
		if err := s.repomanager.AccessTokens(tx).Save(ctx, access); err != nil {
			return fmt.Errorf("error saving access token: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	err = s.sender.SendBeneficiaryInvitation(ctx,
		notify.Recipient{BeneficiaryID: b.ID, Email: b.Email, FullName: b.FullName},
		notify.InvitationLink{
			VaultID:         b.VaultID,
			InvitationToken: inv.Token,
			AccessToken:     access.Token,
			ExpiresAt:       access.ExpiresAt,
		})
	if err != nil {
		return nil, fmt.Errorf("error sending invitation: %w", err)
	}

	inv.MarkAsSent(s.now())
	if err := s.repomanager.Invitations(s.db).Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("error saving invitation: %w", err)
	}
	return inv, nil
}

// Cancel cancels an invitation that has not been accepted.
func (s *InvitationService) Cancel(ctx context.Context, invitationID, userID string) (*models.BeneficiaryInvitation, error) {
	inv, _, err := s.findOwned(ctx, invitationID, userID)
	if err != nil {
		return nil, err
	}
	if err := inv.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.repomanager.Invitations(s.db).Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("error saving invitation: %w", err)
	}
	return inv, nil
}

// transition runs fn and saves the invitation. The expired auto-transition
// is persisted even though fn fails.
func (s *InvitationService) transition(ctx context.Context, inv *models.BeneficiaryInvitation, fn func(time.Time) error) error {
	before := inv.Status
	fnErr := fn(s.now())
	if fnErr != nil && inv.Status == before {
		return fnErr
	}
	if err := s.repomanager.Invitations(s.db).Save(ctx, inv); err != nil {
		return fmt.Errorf("error saving invitation: %w", err)
	}
	return fnErr
}

func (s *InvitationService) findByToken(ctx context.Context, token string) (*models.BeneficiaryInvitation, error) {
	if token == "" {
		return nil, common.ErrInvitationNotFound
	}
	inv, err := s.repomanager.Invitations(s.db).FindByToken(ctx, token)
	if err != nil {
		return nil, notFoundAs(err, common.ErrInvitationNotFound, "invitation")
	}
	return inv, nil
}

func (s *InvitationService) findOwned(ctx context.Context, invitationID, userID string) (*models.BeneficiaryInvitation, *models.Beneficiary, error) {
	inv, err := s.repomanager.Invitations(s.db).FindByID(ctx, invitationID)
	if err != nil {
		return nil, nil, notFoundAs(err, common.ErrInvitationNotFound, "invitation")
	}
	b, err := s.repomanager.Beneficiaries(s.db).FindByID(ctx, inv.BeneficiaryID)
	if err != nil {
		return nil, nil, notFoundAs(err, common.ErrBeneficiaryNotFound, "beneficiary")
	}
	v, err := loadVault(ctx, s.repomanager, s.db, b.VaultID)
	if err != nil {
		return nil, nil, err
	}
	if v.UserID != userID {
		return nil, nil, common.ErrNotOwner
	}
	return inv, b, nil
}

var _ AccountNotifier = (*Orchestrator)(nil)
