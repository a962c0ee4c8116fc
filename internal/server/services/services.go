// Package services contains the server-side business logic: the keepsake
// owner operations, the delivery engine, the notification orchestrator and
// its job handler, invitations, the beneficiary portal and death
// declaration. Services hold a *sql.DB plus a RepositoryManager and bind
// repositories per call, so the same code runs inside dbx.WithTx.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/cryptox"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/events"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
)

// EventPublisher emits delivery facts. *events.Bus implements it.
type EventPublisher interface {
	PublishDelivered(ctx context.Context, e events.KeepsakeDelivered) error
	PublishDeathDeclared(ctx context.Context, e events.DeathDeclared) error
}

// notFoundAs maps the repository not-found error to a domain error and
// wraps everything else.
func notFoundAs(err error, domainErr error, what string) error {
	if errors.Is(err, common.ErrorNotFound) {
		return domainErr
	}
	return fmt.Errorf("error loading %s: %w", what, err)
}

func loadVault(ctx context.Context, rm repomanager.RepositoryManager, db dbx.DBTX, vaultID string) (*models.Vault, error) {
	v, err := rm.Vaults(db).FindByID(ctx, vaultID)
	if err != nil {
		return nil, notFoundAs(err, common.ErrVaultNotFound, "vault")
	}
	return v, nil
}

func loadOwnedVault(ctx context.Context, rm repomanager.RepositoryManager, db dbx.DBTX, userID string) (*models.Vault, error) {
	v, err := rm.Vaults(db).FindByUserID(ctx, userID)
	if err != nil {
		return nil, notFoundAs(err, common.ErrVaultNotFound, "vault")
	}
	return v, nil
}

func vaultKey(v *models.Vault, pepper []byte) []byte {
	return cryptox.DeriveVaultKey(v.Salt, pepper)
}
