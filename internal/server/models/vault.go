// Package models defines the keepsake domain aggregates and their
// lifecycle rules. Persistence lives in the repositories packages; the
// types here only enforce invariants and state transitions.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
)

type VaultStatus string

const (
	VaultActive              VaultStatus = "active"
	VaultPendingVerification VaultStatus = "pending_verification"
	VaultUnsealed            VaultStatus = "unsealed"
)

// Vault is the owner's container. Salt feeds content key derivation.
type Vault struct {
	ID        string
	UserID    string
	Salt      []byte
	Status    VaultStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unseal records a death declaration.
func (v *Vault) Unseal(now time.Time) error {
	if v.Status == VaultUnsealed {
		return fmt.Errorf("%w: vault must be active to unseal", common.ErrInvalidStateTransition)
	}
	v.Status = VaultUnsealed
	v.UpdatedAt = now
	return nil
}

// Beneficiary is a recipient of a vault's keepsakes. At most one
// beneficiary per vault is the trusted person.
type Beneficiary struct {
	ID              string
	VaultID         string
	Email           string
	FullName        string
	IsTrustedPerson bool
	CreatedAt       time.Time
}
