// Package auth issues and verifies the HS256 tokens used by the API:
// owner bearer tokens and beneficiary portal access tokens.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	KindOwner       = "owner"
	KindBeneficiary = "beneficiary"
)

// Claims carries the registered claims plus the token kind. For owner
// tokens Subject is the user id; for beneficiary tokens Subject is the
// beneficiary id and VaultID scopes portal access.
type Claims struct {
	jwt.RegisteredClaims
	Kind    string `json:"kind"`
	VaultID string `json:"vault_id,omitempty"`
}

// GenerateToken issues an owner token valid for validityDuration.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	return sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Kind: KindOwner,
	}, secretKey)
}

// GenerateBeneficiaryToken issues a portal token that expires exactly at
// expiresAt. Each call yields a distinct token.
func GenerateBeneficiaryToken(beneficiaryID, vaultID string, expiresAt time.Time, secretKey []byte) (string, error) {
	return sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   beneficiaryID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind:    KindBeneficiary,
		VaultID: vaultID,
	}, secretKey)
}

func sign(claims Claims, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetUserIDFromToken verifies an owner token and returns its user id.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims, err := parse(tokenString, secretKey, KindOwner)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ParseBeneficiaryToken verifies a portal token and returns its claims.
// Callers still check the stored token record, which is the source of truth
// for revocation and access recording.
func ParseBeneficiaryToken(tokenString string, secretKey []byte) (*Claims, error) {
	return parse(tokenString, secretKey, KindBeneficiary)
}

func parse(tokenString string, secretKey []byte, kind string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Kind != kind || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
