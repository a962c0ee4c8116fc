package httpapi

import (
	"time"

	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/services"
)

type createKeepsakeRequest struct {
	Type            models.KeepsakeType     `json:"type"`
	Title           string                  `json:"title"`
	Content         string                  `json:"content"`
	Trigger         models.TriggerCondition `json:"trigger_condition"`
	RevealDelayDays *int                    `json:"reveal_delay_days,omitempty"`
	RevealDate      *time.Time              `json:"reveal_date,omitempty"`
	ScheduledAt     *time.Time              `json:"scheduled_at,omitempty"`
	Status          models.KeepsakeStatus   `json:"status,omitempty"`
}

type updateKeepsakeRequest struct {
	Title           *string                  `json:"title,omitempty"`
	Content         *string                  `json:"content,omitempty"`
	Trigger         *models.TriggerCondition `json:"trigger_condition,omitempty"`
	RevealDelayDays *int                     `json:"reveal_delay_days,omitempty"`
	RevealDate      *time.Time               `json:"reveal_date,omitempty"`
	ScheduledAt     *time.Time               `json:"scheduled_at,omitempty"`
}

type keepsakeResponse struct {
	ID              string                  `json:"id"`
	VaultID         string                  `json:"vault_id"`
	Type            models.KeepsakeType     `json:"type"`
	Title           string                  `json:"title"`
	Content         string                  `json:"content,omitempty"`
	Trigger         models.TriggerCondition `json:"trigger_condition"`
	Status          models.KeepsakeStatus   `json:"status"`
	RevealDelayDays *int                    `json:"reveal_delay_days,omitempty"`
	RevealDate      *time.Time              `json:"reveal_date,omitempty"`
	ScheduledAt     *time.Time              `json:"scheduled_at,omitempty"`
	UploadURL       string                  `json:"upload_url,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func toKeepsakeResponse(k *models.Keepsake) keepsakeResponse {
	return keepsakeResponse{
		ID:              k.ID,
		VaultID:         k.VaultID,
		Type:            k.Type,
		Title:           k.Title,
		Trigger:         k.Trigger,
		Status:          k.Status,
		RevealDelayDays: k.RevealDelayDays,
		RevealDate:      k.RevealDate,
		ScheduledAt:     k.ScheduledAt,
		CreatedAt:       k.CreatedAt,
		UpdatedAt:       k.UpdatedAt,
	}
}

type vaultResponse struct {
	ID     string             `json:"id"`
	Status models.VaultStatus `json:"status"`
}

type beneficiaryRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type beneficiaryResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	IsTrustedPerson bool   `json:"is_trusted_person"`
}

func toBeneficiaryResponse(b *models.Beneficiary) beneficiaryResponse {
	return beneficiaryResponse{ID: b.ID, Email: b.Email, FullName: b.FullName, IsTrustedPerson: b.IsTrustedPerson}
}

type trustedPersonRequest struct {
	BeneficiaryID string `json:"beneficiary_id"`
}

type notificationConfigBody struct {
	TrustedPersonDelayHours int `json:"trusted_person_delay_hours"`
	BeneficiaryDelayHours   int `json:"beneficiary_delay_hours"`
}

type declareDeathRequest struct {
	TrustedPersonID string `json:"trusted_person_id"`
}

type invitationResponse struct {
	ID          string                  `json:"id"`
	Status      models.InvitationStatus `json:"status"`
	ExpiresAt   time.Time               `json:"expires_at"`
	ResendCount int                     `json:"resend_count"`
}

func toInvitationResponse(inv *models.BeneficiaryInvitation) invitationResponse {
	return invitationResponse{ID: inv.ID, Status: inv.Status, ExpiresAt: inv.ExpiresAt, ResendCount: inv.ResendCount}
}

type portalKeepsakeResponse struct {
	ID          string              `json:"id"`
	Type        models.KeepsakeType `json:"type"`
	Title       string              `json:"title"`
	Content     string              `json:"content"`
	MediaURL    string              `json:"media_url,omitempty"`
	DeliveredAt time.Time           `json:"delivered_at"`
}

func toPortalResponse(items []services.PortalKeepsake) []portalKeepsakeResponse {
	out := make([]portalKeepsakeResponse, 0, len(items))
	for _, it := range items {
		out = append(out, portalKeepsakeResponse(it))
	}
	return out
}
