package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for missing, malformed, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to an authenticated user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (int, error)
}

// Manager issues and verifies signed bearer tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a Manager with the signing secret and token lifetime.
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// TTL returns the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

type claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// Issue signs a token for the given user.
func (m *Manager) Issue(userID int) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns the user id it was issued for.
func (m *Manager) Verify(_ context.Context, token string) (int, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return c.UserID, nil
}

var _ Verifier = (*Manager)(nil)
