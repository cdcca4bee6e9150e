package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"classroom-session-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims bind an export token to one session and the role that requested it.
type Claims struct {
	SessionCode string      `json:"code"`
	Role        domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies short-lived export tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager uses secret for HS256 signing. An empty secret is replaced by a random
// per-process key, which invalidates tokens on restart.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: key, ttl: ttl, now: time.Now}, nil
}

func (m *TokenManager) Issue(code string, role domain.Role) (string, error) {
	now := m.now()
	code = normalizeCode(code)
	claims := Claims{
		SessionCode: code,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   code,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse verifies a token and returns its claims.
func (m *TokenManager) Parse(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Authorize checks that raw grants access to the given session.
func (m *TokenManager) Authorize(raw, code string) (Claims, error) {
	claims, err := m.Parse(raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.SessionCode != normalizeCode(code) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
