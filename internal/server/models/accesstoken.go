package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultAccessTokenValidity = 7 * 24 * time.Hour

// BeneficiaryAccessToken grants temporary portal access to a beneficiary
// without an account. Validity is purely time based.
type BeneficiaryAccessToken struct {
	ID             string
	BeneficiaryID  string
	Token          string
	ExpiresAt      time.Time
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}

// NewBeneficiaryAccessToken wraps an already issued token string.
func NewBeneficiaryAccessToken(beneficiaryID, token string, expiresAt, now time.Time) *BeneficiaryAccessToken {
	return &BeneficiaryAccessToken{
		ID:            uuid.NewString(),
		BeneficiaryID: beneficiaryID,
		Token:         token,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	}
}

// IsValid reports now <= ExpiresAt.
func (t *BeneficiaryAccessToken) IsValid(now time.Time) bool {
	return !now.After(t.ExpiresAt)
}

// RecordAccess stamps the access time. It never extends ExpiresAt.
func (t *BeneficiaryAccessToken) RecordAccess(now time.Time) {
	t.LastAccessedAt = &now
}
