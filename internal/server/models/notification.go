package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/ids"
)

type NotificationType string

const (
	NotificationTrustedPersonAlert    NotificationType = "trusted_person_alert"
	NotificationBeneficiaryInvitation NotificationType = "beneficiary_invitation"
	NotificationAccountCreation       NotificationType = "account_creation"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationScheduled NotificationStatus = "scheduled"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

// MaxNotificationRetries is the number of failures after which a log is
// terminal.
const MaxNotificationRetries = 3

// NotificationLog records one notification to one recipient.
// At least one of KeepsakeID and VaultID is set.
type NotificationLog struct {
	ID            string
	KeepsakeID    *string
	BeneficiaryID *string
	VaultID       *string
	Type          NotificationType
	Status        NotificationStatus
	ScheduledFor  time.Time
	SentAt        *time.Time
	FailureReason *string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewNotificationLog creates a pending log with a ULID id.
func NewNotificationLog(typ NotificationType, keepsakeID, beneficiaryID, vaultID *string, scheduledFor, now time.Time) (*NotificationLog, error) {
	if keepsakeID == nil && vaultID == nil {
		return nil, fmt.Errorf("%w: keepsake or vault id is required", common.ErrMissingID)
	}
	switch typ {
	case NotificationTrustedPersonAlert, NotificationBeneficiaryInvitation, NotificationAccountCreation:
	default:
		return nil, fmt.Errorf("%w: notification type %q", common.ErrInvalidType, typ)
	}
	return &NotificationLog{
		ID:            ids.New(),
		KeepsakeID:    keepsakeID,
		BeneficiaryID: beneficiaryID,
		VaultID:       vaultID,
		Type:          typ,
		Status:        NotificationPending,
		ScheduledFor:  scheduledFor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// InFlight reports whether the log still blocks a new notification to the
// same recipient for the same vault.
func (n *NotificationLog) InFlight() bool {
	return n.Status == NotificationPending || n.Status == NotificationScheduled
}

func (n *NotificationLog) MarkAsScheduled(now time.Time) error {
	if n.Status != NotificationPending {
		return fmt.Errorf("%w: must be pending to schedule", common.ErrInvalidStateTransition)
	}
	n.Status = NotificationScheduled
	n.UpdatedAt = now
	return nil
}

func (n *NotificationLog) MarkAsSent(now time.Time) {
	n.Status = NotificationSent
	n.SentAt = &now
	n.FailureReason = nil
	n.UpdatedAt = now
}

// MarkAsFailed records a failed attempt. Once RetryCount reaches
// MaxNotificationRetries it returns common.ErrMaxRetriesExceeded and the
// log must not be retried again. Sent, cancelled and exhausted logs are
// left untouched.
func (n *NotificationLog) MarkAsFailed(reason string, now time.Time) error {
	switch {
	case n.Status == NotificationSent, n.Status == NotificationCancelled:
		return fmt.Errorf("%w: %s notification cannot fail", common.ErrInvalidStateTransition, n.Status)
	case n.Status == NotificationFailed && !n.CanRetry():
		return fmt.Errorf("%w: %d attempts", common.ErrMaxRetriesExceeded, n.RetryCount)
	}
	n.Status = NotificationFailed
	n.FailureReason = &reason
	n.RetryCount++
	n.UpdatedAt = now
	if n.RetryCount >= MaxNotificationRetries {
		return fmt.Errorf("%w: %d attempts", common.ErrMaxRetriesExceeded, n.RetryCount)
	}
	return nil
}

// CanRetry is true only while the log is failed and below the cap.
func (n *NotificationLog) CanRetry() bool {
	return n.Status == NotificationFailed && n.RetryCount < MaxNotificationRetries
}

// Cancel stops a notification that has not fired yet.
func (n *NotificationLog) Cancel(now time.Time) error {
	if n.Status == NotificationSent {
		return fmt.Errorf("%w: sent notification cannot be cancelled", common.ErrInvalidStateTransition)
	}
	n.Status = NotificationCancelled
	n.UpdatedAt = now
	return nil
}

// NotificationConfig holds per-vault delays. Absent configs use the server
// defaults.
type NotificationConfig struct {
	VaultID                 string
	TrustedPersonDelayHours int
	BeneficiaryDelayHours   int
	UpdatedAt               time.Time
}

const MaxNotificationDelayHours = 8760

func (c *NotificationConfig) Validate() error {
	for _, h := range []int{c.TrustedPersonDelayHours, c.BeneficiaryDelayHours} {
		if h < 0 || h > MaxNotificationDelayHours {
			return fmt.Errorf("%w: %d hours, must be within [0, %d]", common.ErrInvalidDelay, h, MaxNotificationDelayHours)
		}
	}
	return nil
}

// DelayFor returns the configured delay for a notification type.
func (c *NotificationConfig) DelayFor(typ NotificationType) time.Duration {
	if typ == NotificationTrustedPersonAlert {
		return time.Duration(c.TrustedPersonDelayHours) * time.Hour
	}
	return time.Duration(c.BeneficiaryDelayHours) * time.Hour
}
