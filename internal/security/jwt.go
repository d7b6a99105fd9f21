package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicops/authcore/internal/domain"
)

const TokenTypeAccess = "access"

var ErrUnexpectedSigningMethod = errors.New("unexpected signing algorithm")

type Claims struct {
	TokenType      string `json:"token_type"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	OrganizationID string `json:"org_id,omitempty"`
	BranchID       string `json:"branch_id,omitempty"`
	// IssuedAtNanos refines iat, which only carries whole seconds.
	IssuedAtNanos int64 `json:"iat_ns,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the most precise issue instant the token carries, or the zero
// time when it has none.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAtNanos > 0 {
		return time.Unix(0, c.IssuedAtNanos).UTC()
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time.UTC()
	}
	return time.Time{}
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
	now          func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
		now:          time.Now,
	}
}

// WithClock replaces the time source used for iat/exp and for validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) SignAccessToken(p domain.Principal, ttl time.Duration) (string, error) {
	return m.SignAccessTokenWithJTI(p, ttl, uuid.NewString())
}

func (m *JWTManager) SignAccessTokenWithJTI(p domain.Principal, ttl time.Duration, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	now := m.now()
	claims := Claims{
		TokenType:      TokenTypeAccess,
		Email:          p.Email,
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		BranchID:       p.BranchID,
		IssuedAtNanos:  now.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   p.ID,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnexpectedSigningMethod
		}
		return m.accessSecret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return claims, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, errors.New("missing identity claims")
	}
	return claims, nil
}

// IsExpired reports whether a parse error was caused only by exp being in the past.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
