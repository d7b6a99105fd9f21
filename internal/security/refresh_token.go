package security

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	refreshTokenRawSize = 48
	tokenPrefixLen      = 8
)

// NewOpaqueToken returns a high-entropy refresh token with no embedded claims.
func NewOpaqueToken() (string, error) {
	var raw [refreshTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// TokenPrefix is the only part of a refresh token that may appear in logs or views.
func TokenPrefix(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}
