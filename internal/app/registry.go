package app

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"classroom-session-service/internal/domain"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxCodeAttempts bounds collision retries; with 36^6 codes it is never reached in practice.
const maxCodeAttempts = 64

var errCodeSpaceExhausted = errors.New("could not generate a free session code")

// RandomCodes returns a generator of n-character upper-case base36 codes.
func RandomCodes(n int) func() string {
	max := big.NewInt(int64(len(codeAlphabet)))
	return func() string {
		var b strings.Builder
		b.Grow(n)
		for i := 0; i < n; i++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				panic(err)
			}
			b.WriteByte(codeAlphabet[idx.Int64()])
		}
		return b.String()
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// sessionParams are the already-sealed inputs of a new session.
type sessionParams struct {
	controllerCredential string
	presenterCredential  string
	hashed               bool
	theme                string
	deadline             *time.Time
}

// Registry owns every live session record. It is only touched from the engine loop.
type Registry struct {
	sessions map[string]*Session
	newCode  func() string
	now      func() time.Time
}

func NewRegistry(newCode func() string, now func() time.Time) *Registry {
	if newCode == nil {
		newCode = RandomCodes(6)
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		newCode:  newCode,
		now:      now,
	}
}

func (r *Registry) create(p sessionParams) (*Session, error) {
	code := ""
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := normalizeCode(r.newCode())
		if _, taken := r.sessions[candidate]; !taken && candidate != "" {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, errCodeSpaceExhausted
	}
	theme := p.theme
	if theme == "" {
		theme = "light"
	}
	s := newSession(code, r.now())
	s.controllerCredential = p.controllerCredential
	s.presenterCredential = p.presenterCredential
	s.hashed = p.hashed
	s.theme = theme
	s.deadline = p.deadline
	r.sessions[code] = s
	return s, nil
}

// Lookup returns the live session with the given code.
func (r *Registry) Lookup(code string) (*Session, error) {
	s, ok := r.sessions[normalizeCode(code)]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) delete(code string) {
	delete(r.sessions, code)
}

// expired lists sessions older than timeout. A non-positive timeout disables expiry.
func (r *Registry) expired(timeout time.Duration) []*Session {
	if timeout <= 0 {
		return nil
	}
	now := r.now()
	var out []*Session
	for _, s := range r.sessions {
		if now.Sub(s.createdAt) > timeout {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// checkSecret enforces the minimum secret length.
func checkSecret(field, secret string, minLen int) error {
	if secret == "" {
		return domain.Invalid(field, "is required")
	}
	if len([]rune(secret)) < minLen {
		return domain.Invalid(field, "is too short")
	}
	return nil
}
