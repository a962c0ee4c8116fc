// Package common defines shared constants and sentinel errors used across
// the keepsake server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrInvalidKeyLength     = errors.New("invalid key length")
	ErrEmptyContent         = errors.New("empty content")
	ErrInvalidTitle         = errors.New("title must be between 1 and 255 characters")
	ErrMissingID            = errors.New("missing id")
	ErrInvalidType          = errors.New("invalid keepsake type")
	ErrInvalidTrigger       = errors.New("invalid trigger condition")
	ErrInvalidDelay         = errors.New("invalid delay")
	ErrPartialContentUpdate = errors.New("content and key must be supplied together")
	ErrInvalidEmail         = errors.New("invalid email address")

	// Crypto errors. Never retried.
	ErrDecryptionFailed = errors.New("decryption failed")

	// Lifecycle errors.
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrAlreadyDelivered          = errors.New("keepsake already delivered")
	ErrInvitationExpired         = errors.New("invitation expired")
	ErrInvitationAlreadyAccepted = errors.New("invitation already accepted")
	ErrInvitationCancelled       = errors.New("invitation cancelled")
	ErrMaxResendExceeded         = errors.New("maximum invitation resends exceeded")
	ErrMaxRetriesExceeded        = errors.New("maximum notification retries exceeded")

	// Lookup errors.
	ErrVaultNotFound       = errors.New("vault not found")
	ErrKeepsakeNotFound    = errors.New("keepsake not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrInvitationNotFound  = errors.New("invitation not found")

	// Authorization errors.
	ErrNotOwner         = errors.New("user does not own the vault")
	ErrWrongTriggerType = errors.New("keepsake trigger is not manual")
	ErrNotTrustedPerson = errors.New("beneficiary is not the vault's trusted person")
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
)
