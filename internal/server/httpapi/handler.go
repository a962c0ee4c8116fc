// Package httpapi exposes the keepsake services over HTTP with chi: owner
// routes behind a bearer token, and rate-limited public routes for death
// declaration, invitations and the beneficiary portal.
package httpapi

import (
	"context"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/services"
)

type KeepsakeService interface {
	Create(ctx context.Context, userID string, in services.CreateKeepsakeInput) (*services.CreatedKeepsake, error)
	List(ctx context.Context, userID string) ([]*models.Keepsake, error)
	Get(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, string, error)
	Update(ctx context.Context, userID, keepsakeID string, in services.UpdateKeepsakeInput) (*models.Keepsake, error)
	Schedule(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, error)
	Unschedule(ctx context.Context, userID, keepsakeID string) (*models.Keepsake, error)
	Delete(ctx context.Context, userID, keepsakeID string) error
}

type DeliveryService interface {
	ManualDelivery(ctx context.Context, keepsakeID, userID string) (*models.Keepsake, error)
}

type VaultService interface {
	CreateVault(ctx context.Context, userID string) (*models.Vault, error)
	AddBeneficiary(ctx context.Context, userID, email, fullName string) (*models.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, userID string) ([]*models.Beneficiary, error)
	SetTrustedPerson(ctx context.Context, userID, beneficiaryID string) error
	NotificationConfig(ctx context.Context, userID string) (*models.NotificationConfig, error)
	UpdateNotificationConfig(ctx context.Context, userID string, trustedHours, beneficiaryHours int) (*models.NotificationConfig, error)
}

type DeathService interface {
	DeclareDeath(ctx context.Context, vaultID, trustedPersonID string) error
}

type InvitationService interface {
	View(ctx context.Context, token string) (*models.BeneficiaryInvitation, error)
	Accept(ctx context.Context, token string) (*models.BeneficiaryInvitation, error)
	Resend(ctx context.Context, invitationID, userID string) (*models.BeneficiaryInvitation, error)
	Cancel(ctx context.Context, invitationID, userID string) (*models.BeneficiaryInvitation, error)
}

type PortalService interface {
	Authenticate(ctx context.Context, token string) (*services.PortalSession, error)
	ListKeepsakes(ctx context.Context, session *services.PortalSession) ([]services.PortalKeepsake, error)
}

// Services bundles what the router serves. Every field is required.
type Services struct {
	Keepsakes   KeepsakeService
	Delivery    DeliveryService
	Vaults      VaultService
	Death       DeathService
	Invitations InvitationService
	Portal      PortalService
}

type handler struct {
	svc    Services
	logger logging.Logger
}

var (
	_ KeepsakeService   = (*services.KeepsakeService)(nil)
	_ DeliveryService   = (*services.DeliveryService)(nil)
	_ VaultService      = (*services.VaultService)(nil)
	_ DeathService      = (*services.DeathService)(nil)
	_ InvitationService = (*services.InvitationService)(nil)
	_ PortalService     = (*services.PortalService)(nil)
)
