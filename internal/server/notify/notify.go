// Package notify defines the outbound notification port used by the
// notification worker.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
)

// Recipient identifies who a notification goes to.
type Recipient struct {
	BeneficiaryID string
	Email         string
	FullName      string
}

// InvitationLink carries what a beneficiary needs to open the portal.
type InvitationLink struct {
	VaultID         string
	InvitationToken string
	AccessToken     string
	ExpiresAt       time.Time
}

// Sender delivers notifications. An error is treated as transient by the
// worker and retried until the notification's retry cap is reached.
type Sender interface {
	SendTrustedPersonAlert(ctx context.Context, to Recipient, vaultID string) error
	SendBeneficiaryInvitation(ctx context.Context, to Recipient, link InvitationLink) error
	SendBeneficiaryAccountCreated(ctx context.Context, to Recipient, vaultID string) error
}

// LogSender writes every outgoing notification to the log instead of
// handing it to a mail transport.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "notify")}
}

func (s *LogSender) SendTrustedPersonAlert(ctx context.Context, to Recipient, vaultID string) error {
	s.logger.Info(ctx, "trusted person alert",
		"beneficiary_id", to.BeneficiaryID,
		"email", maskEmail(to.Email),
		"vault_id", vaultID,
	)
	return nil
}

func (s *LogSender) SendBeneficiaryInvitation(ctx context.Context, to Recipient, link InvitationLink) error {
	s.logger.Info(ctx, "beneficiary invitation",
		"beneficiary_id", to.BeneficiaryID,
		"email", maskEmail(to.Email),
		"vault_id", link.VaultID,
		"invitation", tokenPrefix(link.InvitationToken),
		"access_expires_at", link.ExpiresAt,
	)
	return nil
}

func (s *LogSender) SendBeneficiaryAccountCreated(ctx context.Context, to Recipient, vaultID string) error {
	s.logger.Info(ctx, "beneficiary account created",
		"beneficiary_id", to.BeneficiaryID,
		"email", maskEmail(to.Email),
		"vault_id", vaultID,
	)
	return nil
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// tokens never reach the log in full
func tokenPrefix(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}
