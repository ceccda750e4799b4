package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenManager handles token creation, validation, and management
type TokenManager struct {
	secretKey  []byte
	issuer     string
	defaultTTL time.Duration
}

// NewTokenManager creates a new token manager
func NewTokenManager(secretKey []byte, issuer string, defaultTTL time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:  secretKey,
		issuer:     issuer,
		defaultTTL: defaultTTL,
	}
}

// GenerateJWT creates a new JWT token for the given claims
func (tm *TokenManager) GenerateJWT(tenantID, userID string, permissions []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID:    tenantID,
		UserID:      userID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   userID,
			Audience:  []string{tenantID},
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.defaultTTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// RefreshToken creates a new token from existing valid claims
func (tm *TokenManager) RefreshToken(existingClaims *Claims) (string, error) {
	// Create new claims with updated timestamps
	now := time.Now()
	newClaims := &Claims{
		TenantID:    existingClaims.TenantID,
		UserID:      existingClaims.UserID,
		Permissions: existingClaims.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   existingClaims.UserID,
			Audience:  existingClaims.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.defaultTTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims)
	return token.SignedString(tm.secretKey)
}
