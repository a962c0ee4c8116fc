package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/auth"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keepsake/internal/server/storage"
)

// PortalKeepsake is a delivered keepsake as shown to a beneficiary.
type PortalKeepsake struct {
	ID          string
	Type        models.KeepsakeType
	Title       string
	Content     string
	MediaURL    string
	DeliveredAt time.Time
}

// PortalSession identifies an authenticated beneficiary.
type PortalSession struct {
	BeneficiaryID string
	VaultID       string
	ExpiresAt     time.Time
}

// PortalService serves delivered keepsakes to beneficiaries holding an
// access token. Access never extends the token's expiry.
type PortalService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       storage.BlobStore
	logger      logging.Logger
	jwtSecret   []byte
	pepper      []byte
	now         func() time.Time
}

func NewPortalService(db *sql.DB, m repomanager.RepositoryManager, blobs storage.BlobStore, cfg *config.Config, logger logging.Logger) *PortalService {
	return &PortalService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		logger:      logger.With("module", "portal"),
		jwtSecret:   []byte(cfg.SecretKey),
		pepper:      []byte(cfg.KeyPepper),
		now:         time.Now,
	}
}

// Authenticate checks the token signature and the stored token record,
// then records the access.
func (s *PortalService) Authenticate(ctx context.Context, token string) (*PortalSession, error) {
	claims, err := auth.ParseBeneficiaryToken(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.AccessTokens(s.db)
	stored, err := repo.FindByToken(ctx, token)
	if err != nil {
		return nil, notFoundAs(err, common.ErrInvalidToken, "access token")
	}
	now := s.now()
	if !stored.IsValid(now) {
		return nil, common.ErrTokenExpired
	}
	if stored.BeneficiaryID != claims.Subject {
		return nil, common.ErrInvalidToken
	}

	stored.RecordAccess(now)
	if err := repo.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("error recording access: %w", err)
	}
	return &PortalSession{BeneficiaryID: stored.BeneficiaryID, VaultID: claims.VaultID, ExpiresAt: stored.ExpiresAt}, nil
}

// ListKeepsakes returns the delivered keepsakes of the session's vault,
// decrypted. A decryption failure aborts the listing.
func (s *PortalService) ListKeepsakes(ctx context.Context, session *PortalSession) ([]PortalKeepsake, error) {
	b, err := s.repomanager.Beneficiaries(s.db).FindByID(ctx, session.BeneficiaryID)
	if err != nil {
		return nil, notFoundAs(err, common.ErrBeneficiaryNotFound, "beneficiary")
	}
	if b.VaultID != session.VaultID {
		return nil, common.ErrorUnauthorized
	}

	v, err := loadVault(ctx, s.repomanager, s.db, session.VaultID)
	if err != nil {
		return nil, err
	}
	list, err := s.repomanager.Keepsakes(s.db).FindDeliveredByVault(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading keepsakes: %w", err)
	}

	key := vaultKey(v, s.pepper)
	defer common.WipeByteArray(key)

	out := make([]PortalKeepsake, 0, len(list))
	for _, k := range list {
		content, err := k.Decrypt(key)
		if err != nil {
			s.logger.Error(ctx, "keepsake decryption failed", "keepsake_id", k.ID, "vault_id", v.ID, "error", err)
			return nil, err
		}
		item := PortalKeepsake{
			ID:          k.ID,
			Type:        k.Type,
			Title:       k.Title,
			Content:     content,
			DeliveredAt: k.UpdatedAt,
		}
		if k.MediaKey != nil && s.blobs != nil {
			u, err := s.blobs.PresignGet(ctx, *k.MediaKey)
			if err != nil {
				return nil, fmt.Errorf("error presigning media: %w", err)
			}
			item.MediaURL = u
		}
		out = append(out, item)
	}
	return out, nil
}
