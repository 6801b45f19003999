package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired token has expired
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid token is invalid
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims carries the authenticated external user id
type Claims struct {
	ExternalUserID string `json:"uid"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies API tokens
type JWTManager struct {
	secret []byte
	issuer string
	expire time.Duration
}

// NewJWTManager creates a token manager
func NewJWTManager(secret, issuer string, expire time.Duration) *JWTManager {
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), issuer: issuer, expire: expire}
}

// Generate issues a token for the external user id
func (m *JWTManager) Generate(externalUserID string) (string, error) {
	now := time.Now()
	claims := Claims{
		ExternalUserID: externalUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token, returning its claims
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
