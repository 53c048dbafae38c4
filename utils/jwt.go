package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

var JWTSecret []byte

// SetJWTSecret installs the signing key used by GenerateToken and ParseToken.
func SetJWTSecret(secret string) {
	JWTSecret = []byte(secret)
}

type CustomClaims struct {
	MerchantID string `json:"merchant_id,omitempty"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if len(JWTSecret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := &CustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "omnipay-gateway",
		},
	}
	if role == RoleMerchant {
		claims.MerchantID = subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(JWTSecret)
}

// ParseToken validates signature, expiry and the revocation list.
func ParseToken(tokenString string) (*CustomClaims, error) {
	if len(JWTSecret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	if IsTokenBlacklisted(tokenString) {
		return nil, errors.New("token has been revoked")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
