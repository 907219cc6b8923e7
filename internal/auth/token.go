package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stagllc/staginfra/internal/models"
)

// TokenManager issues and validates signed access and refresh tokens.
// Tokens are self-contained: validity is determined by signature and expiry
// alone, with no database round trip. The signing key is process-wide static
// state; rotating it invalidates every outstanding token.
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

// AccessTokenExpiry returns the configured access token lifetime.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssueAccessToken creates a short-lived access token carrying the user's
// email as subject and the user's roles.
func (tm *TokenManager) IssueAccessToken(user *models.User) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:  models.TokenTypeAccess,
		Roles: user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	})
}

// IssueRefreshToken creates a long-lived refresh token with minimal claims
// (subject only).
func (tm *TokenManager) IssueRefreshToken(user *models.User) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type: models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Email,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.refreshTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	})
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// ExtractClaims verifies the token signature and returns its claims.
// Expiry is deliberately NOT checked here so callers can distinguish a
// revoked token from a merely expired one; use IsExpired or ValidateToken.
// Returns models.ErrInvalidToken when the token is malformed or the
// signature does not verify.
func (tm *TokenManager) ExtractClaims(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithoutClaimsValidation())

	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Type == "" || claims.Subject == "" {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}

// ExtractSubject returns the subject (account email) of a signed token.
func (tm *TokenManager) ExtractSubject(tokenString string) (string, error) {
	claims, err := tm.ExtractClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsExpired reports whether a signed token has passed its expiry.
// Malformed or unverifiable tokens are treated as expired.
func (tm *TokenManager) IsExpired(tokenString string) bool {
	claims, err := tm.ExtractClaims(tokenString)
	if err != nil {
		return true
	}
	return claimsExpired(claims)
}

// ValidateToken verifies signature and expiry together; used by middleware.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.ExtractClaims(tokenString)
	if err != nil {
		return nil, err
	}
	if claimsExpired(claims) {
		return nil, models.ErrExpiredToken
	}
	return claims, nil
}

func claimsExpired(claims *models.TokenClaims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time)
}
