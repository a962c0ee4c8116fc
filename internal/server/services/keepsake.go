package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keepsake/internal/server/storage"
)

// CreateKeepsakeInput is the owner's request. Status may be empty (draft)
// or scheduled.
type CreateKeepsakeInput struct {
	Type            models.KeepsakeType
	Title           string
	Content         string
	Trigger         models.TriggerCondition
	RevealDelayDays *int
	RevealDate      *time.Time
	ScheduledAt     *time.Time
	Status          models.KeepsakeStatus
}

// UpdateKeepsakeInput lists the fields to change; nil means unchanged.
type UpdateKeepsakeInput struct {
	Title           *string
	Content         *string
	Trigger         *models.TriggerCondition
	RevealDelayDays *int
	RevealDate      *time.Time
	ScheduledAt     *time.Time
}

// CreatedKeepsake is returned by Create. UploadURL is set for photo and
// video keepsakes when a blob store is configured.
type CreatedKeepsake struct {
	Keepsake  *models.Keepsake
	UploadURL string
}

// KeepsakeService implements the owner operations on keepsakes. The vault
// key is derived on each call and wiped afterwards.
type KeepsakeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       storage.BlobStore
	logger      logging.Logger
	pepper      []byte
	now         func() time.Time
}

func NewKeepsakeService(db *sql.DB, m repomanager.RepositoryManager, blobs storage.BlobStore, cfg *config.Config, logger logging.Logger) *KeepsakeService {
	return &KeepsakeService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		logger:      logger.With("module", "keepsakes"),
		pepper:      []byte(cfg.KeyPepper),
		now:         time.Now,
	}
}

func (s *KeepsakeService) Create(ctx context.Context, userID string, in CreateKeepsakeInput) (*CreatedKeepsake, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}

	key := vaultKey(v, s.pepper)
	defer common.WipeByteArray(key)

	now := s.now()
	k, err := models.NewKeepsake(models.NewKeepsakeParams{
		VaultID:         v.ID,
		Type:            in.Type,
		Title:           in.Title,
		Content:         in.Content,
		Key:             key,
		Trigger:         in.Trigger,
		RevealDelayDays: in.RevealDelayDays,
		RevealDate:      in.RevealDate,
		ScheduledAt:     in.ScheduledAt,
		Status:          in.Status,
	}, now)
	if err != nil {
		return nil, err
	}

	out := &CreatedKeepsake{Keepsake: k}
	if k.Type.HasMedia() && s.blobs != nil {
		mediaKey := storage.NewStorageKey(v.ID, now)
		u, err := s.blobs.PresignPut(ctx, mediaKey)
		if err != nil {
			return nil, fmt.Errorf("error presigning upload: %w", err)
		}
		k.MediaKey = &mediaKey
		out.UploadURL = u
	}

	if err := s.repomanager.Keepsakes(s.db).Save(ctx, k); err != nil {
		return nil, fmt.Errorf("error saving keepsake: %w", err)
	}
	return out, nil
}

func (s *KeepsakeService) List(ctx context.Context, userID string) ([]*models.Keepsake, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Keepsakes(s.db).ListByVault(ctx, v.ID)
}

// Get returns the keepsake together with its decrypted content.
func (s *KeepsakeService) Get(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, string, error) {
	v, k, err := s.owned(ctx, userID, keepsakeID)
	if err != nil {
		return nil, "", err
	}

	key := vaultKey(v, s.pepper)
	defer common.WipeByteArray(key)

	content, err := k.Decrypt(key)
	if err != nil {
		s.logger.Error(ctx, "keepsake decryption failed", "keepsake_id", k.ID, "vault_id", v.ID, "error", err)
		return nil, "", err
	}
	return k, content, nil
}

func (s *KeepsakeService) Update(ctx context.Context, userID, keepsakeID string, in UpdateKeepsakeInput) (*models.Keepsake, error) {
	v, k, err := s.owned(ctx, userID, keepsakeID)
	if err != nil {
		return nil, err
	}

	u := models.KeepsakeUpdate{
		Title:           in.Title,
		Trigger:         in.Trigger,
		RevealDelayDays: in.RevealDelayDays,
		RevealDate:      in.RevealDate,
		ScheduledAt:     in.ScheduledAt,
	}
	if in.Content != nil {
		key := vaultKey(v, s.pepper)
		defer common.WipeByteArray(key)
		u.Content = in.Content
		u.Key = key
	}

	if err := k.Update(u, s.now()); err != nil {
		return nil, err
	}
	return k, s.save(ctx, k)
}

func (s *KeepsakeService) Schedule(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, error) {
	return s.apply(ctx, userID, keepsakeID, func(k *models.Keepsake, now time.Time) error { return k.Schedule(now) })
}

func (s *KeepsakeService) Unschedule(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, error) {
	return s.apply(ctx, userID, keepsakeID, func(k *models.Keepsake, now time.Time) error { return k.Unschedule(now) })
}

func (s *KeepsakeService) Delete(ctx context.Context, userID, keepsakeID string) error {
	_, err := s.apply(ctx, userID, keepsakeID, func(k *models.Keepsake, now time.Time) error { return k.SoftDelete(now) })
	return err
}

func (s *KeepsakeService) apply(ctx context.Context, userID, keepsakeID string, fn func(*models.Keepsake, time.Time) error) (*models.Keepsake, error) {
	_, k, err := s.owned(ctx, userID, keepsakeID)
	if err != nil {
		return nil, err
	}
	if err := fn(k, s.now()); err != nil {
		return nil, err
	}
	return k, s.save(ctx, k)
}

func (s *KeepsakeService) save(ctx context.Context, k *models.Keepsake) error {
	if err := s.repomanager.Keepsakes(s.db).Save(ctx, k); err != nil {
		return fmt.Errorf("error saving keepsake: %w", err)
	}
	return nil
}

func (s *KeepsakeService) owned(ctx context.Context, userID, keepsakeID string) (*models.Vault, *models.Keepsake, error) {
	v, err := loadOwnedVault(ctx, s.repomanager, s.db, userID)
	if err != nil {
		return nil, nil, err
	}
	k, err := s.repomanager.Keepsakes(s.db).FindByID(ctx, keepsakeID)
	if err != nil {
		return nil, nil, notFoundAs(err, common.ErrKeepsakeNotFound, "keepsake")
	}
	if k.DeletedAt != nil {
		return nil, nil, common.ErrKeepsakeNotFound
	}
	if k.VaultID != v.ID {
		return nil, nil, common.ErrNotOwner
	}
	return v, k, nil
}
