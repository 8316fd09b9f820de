package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

// Revoked tokens are kept until they would have expired anyway.
var blacklistedTokens = cache.New(24*time.Hour, time.Hour)

// BlacklistToken revokes a token until its own expiry.
func BlacklistToken(tokenString string) {
	ttl := 24 * time.Hour
	claims := &CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err == nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	blacklistedTokens.Set(tokenString, struct{}{}, ttl)
}

func IsTokenBlacklisted(tokenString string) bool {
	_, found := blacklistedTokens.Get(tokenString)
	return found
}
