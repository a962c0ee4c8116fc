package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const vaultSaltSize = 32

// VaultService manages an owner's vault, its beneficiaries and its
// notification delays.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	defaults    notificationDefaults
	now         func() time.Time
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "vaults"),
		defaults:    defaultsFrom(cfg),
		now:         time.Now,
	}
}

// CreateVault creates the owner's vault with a fresh key salt. An owner has
// at most one vault.
func (s *VaultService) CreateVault(ctx context.Context, userID string) (*models.Vault, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id", common.ErrMissingID)
	}
	repo := s.repomanager.Vaults(s.db)
	if _, err := repo.FindByUserID(ctx, userID); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading vault: %w", err)
	}

	now := s.now()
	v := &models.Vault{
		ID:        uuid.NewString(),
		UserID:    userID,
		Salt:      common.GenerateRandByteArray(vaultSaltSize),
		Status:    models.VaultActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Save(ctx, v); err != nil {
		return nil, fmt.Errorf("error saving vault: %w", err)
	}
	return v, nil
}

// AddBeneficiary registers a recipient in the owner's vault.
func (s *VaultService) AddBeneficiary(ctx context.Context, userID, email, fullName string) (*models.Beneficiary, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, common.ErrInvalidEmail
	}

	b := &models.Beneficiary{
		ID:        uuid.NewString(),
		VaultID:   v.ID,
		Email:     addr.Address,
		FullName:  strings.TrimSpace(fullName),
		CreatedAt: s.now(),
	}
	if err := s.repomanager.Beneficiaries(s.db).Save(ctx, b); err != nil {
		return nil, fmt.Errorf("error saving beneficiary: %w", err)
	}
	return b, nil
}

// ListBeneficiaries returns the beneficiaries of the owner's vault.
func (s *VaultService) ListBeneficiaries(ctx context.Context, userID string) ([]*models.Beneficiary, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Beneficiaries(s.db).FindByVaultID(ctx, v.ID)
}

// SetTrustedPerson makes beneficiaryID the vault's only trusted person.
// Clearing the previous one and marking the new one happen in one
// transaction.
func (s *VaultService) SetTrustedPerson(ctx context.Context, userID, beneficiaryID string) error {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Beneficiaries(tx)
		b, err := repo.FindByID(ctx, beneficiaryID)
		if err != nil {
			return notFoundAs(err, common.ErrBeneficiaryNotFound, "beneficiary")
		}
		if b.VaultID != v.ID {
			return common.ErrBeneficiaryNotFound
		}
		if err := repo.SetTrustedPerson(ctx, v.ID, b.ID); err != nil {
			return fmt.Errorf("error setting trusted person: %w", err)
		}
		s.logger.Info(ctx, "trusted person set", "vault_id", v.ID, "beneficiary_id", b.ID)
		return nil
	})
}

// NotificationConfig returns the vault's delays, or the server defaults.
func (s *VaultService) NotificationConfig(ctx context.Context, userID string) (*models.NotificationConfig, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.repomanager.NotificationConfigs(s.db).FindByVaultID(ctx, v.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return s.defaults.forVault(v.ID), nil
	}
	return cfg, err
}

// UpdateNotificationConfig stores new delays after validating their range.
func (s *VaultService) UpdateNotificationConfig(ctx context.Context, userID string, trustedHours, beneficiaryHours int) (*models.NotificationConfig, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}
	cfg := &models.NotificationConfig{
		VaultID:                 v.ID,
		TrustedPersonDelayHours: trustedHours,
		BeneficiaryDelayHours:   beneficiaryHours,
		UpdatedAt:               s.now(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.repomanager.NotificationConfigs(s.db).Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("error saving notification config: %w", err)
	}
	return cfg, nil
}
