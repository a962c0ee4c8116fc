package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationViewed    InvitationStatus = "viewed"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

const (
	DefaultInvitationValidity = 30 * 24 * time.Hour
	MaxInvitationResends      = 5
)

// BeneficiaryInvitation links one beneficiary to one keepsake delivery.
// The token is single use and rotates on every resend.
type BeneficiaryInvitation struct {
	ID            string
	BeneficiaryID string
	KeepsakeID    string
	Token         string
	Status        InvitationStatus
	SentAt        *time.Time
	ViewedAt      *time.Time
	AcceptedAt    *time.Time
	ExpiresAt     time.Time
	ResentBy      *string
	ResentAt      *time.Time
	ResendCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewBeneficiaryInvitation creates a pending invitation with a fresh token.
// A non-positive validity falls back to DefaultInvitationValidity.
func NewBeneficiaryInvitation(beneficiaryID, keepsakeID string, now time.Time, validity time.Duration) (*BeneficiaryInvitation, error) {
	if beneficiaryID == "" || keepsakeID == "" {
		return nil, fmt.Errorf("%w: beneficiary and keepsake ids are required", common.ErrMissingID)
	}
	token, err := common.MakeRandHexString(common.TokenSize)
	if err != nil {
		return nil, err
	}
	return &BeneficiaryInvitation{
		ID:            uuid.NewString(),
		BeneficiaryID: beneficiaryID,
		KeepsakeID:    keepsakeID,
		Token:         token,
		Status:        InvitationPending,
		ExpiresAt:     now.Add(invitationValidity(validity)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsExpired is evaluated live against ExpiresAt.
func (i *BeneficiaryInvitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationExpired || now.After(i.ExpiresAt)
}

// expire stamps the EXPIRED state and returns the error callers surface.
func (i *BeneficiaryInvitation) expire(now time.Time) error {
	if i.Status != InvitationExpired {
		i.Status = InvitationExpired
		i.UpdatedAt = now
	}
	return common.ErrInvitationExpired
}

func (i *BeneficiaryInvitation) MarkAsSent(now time.Time) {
	i.SentAt = &now
	i.UpdatedAt = now
}

func (i *BeneficiaryInvitation) MarkAsViewed(now time.Time) error {
	if i.Status == InvitationExpired {
		return common.ErrInvitationExpired
	}
	if i.Status != InvitationPending {
		return fmt.Errorf("%w: must be pending to view", common.ErrInvalidStateTransition)
	}
	if i.IsExpired(now) {
		return i.expire(now)
	}
	i.Status = InvitationViewed
	i.ViewedAt = &now
	i.UpdatedAt = now
	return nil
}

func (i *BeneficiaryInvitation) Accept(now time.Time) error {
	switch i.Status {
	case InvitationAccepted:
		return common.ErrInvitationAlreadyAccepted
	case InvitationCancelled:
		return common.ErrInvitationCancelled
	}
	if i.IsExpired(now) {
		return i.expire(now)
	}
	i.Status = InvitationAccepted
	i.AcceptedAt = &now
	i.UpdatedAt = now
	return nil
}

// Resend rotates the token and restarts the validity window. The old
// token stops working immediately.
func (i *BeneficiaryInvitation) Resend(actorID string, now time.Time, validity time.Duration) error {
	switch i.Status {
	case InvitationAccepted:
		return common.ErrInvitationAlreadyAccepted
	case InvitationCancelled:
		return common.ErrInvitationCancelled
	}
	if i.ResendCount >= MaxInvitationResends {
		return common.ErrMaxResendExceeded
	}

	token, err := common.MakeRandHexString(common.TokenSize)
	if err != nil {
		return err
	}

	i.Token = token
	i.Status = InvitationPending
	i.ViewedAt = nil
	i.ExpiresAt = now.Add(invitationValidity(validity))
	i.ResendCount++
	i.ResentBy = &actorID
	i.ResentAt = &now
	i.UpdatedAt = now
	return nil
}

func (i *BeneficiaryInvitation) Cancel(now time.Time) error {
	switch i.Status {
	case InvitationAccepted:
		return common.ErrInvitationAlreadyAccepted
	case InvitationCancelled:
		return common.ErrInvitationCancelled
	}
	i.Status = InvitationCancelled
	i.UpdatedAt = now
	return nil
}

func invitationValidity(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInvitationValidity
	}
	return d
}
