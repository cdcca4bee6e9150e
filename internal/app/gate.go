package app

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"classroom-session-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Hasher turns secrets into stored credentials and compares them.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(stored, secret string) bool
}

// PlainHasher stores secrets as given and compares them in constant time.
type PlainHasher struct{}

func (PlainHasher) Hash(secret string) (string, error) { return secret, nil }

func (PlainHasher) Compare(stored, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}

// BcryptHasher stores bcrypt hashes.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (BcryptHasher) Compare(stored, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
}

// RateStore counts attempts per origin inside a window owned by the store.
type RateStore interface {
	// Hit records one attempt and returns the number of attempts in the current window.
	Hit(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// GateOptions configures a Gate.
type GateOptions struct {
	// HashNew makes newly sealed credentials use Hashed instead of plain storage.
	HashNew bool
	Hashed  Hasher
	// RateLimit disables attempt counting when false.
	RateLimit   bool
	MaxAttempts int
	Rates       RateStore
	Logger      *slog.Logger
}

// Gate verifies role and participant secrets and throttles repeated attempts per origin.
// Its methods may block (bcrypt, redis) and are only called off the engine loop.
type Gate struct {
	opts GateOptions
	log  *slog.Logger
}

func NewGate(opts GateOptions) *Gate {
	if opts.Hashed == nil {
		opts.Hashed = BcryptHasher{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gate{opts: opts, log: log}
}

func (g *Gate) hasher(hashed bool) Hasher {
	if hashed {
		return g.opts.Hashed
	}
	return PlainHasher{}
}

// Seal produces the stored form of a new secret and whether it is hashed.
func (g *Gate) Seal(secret string) (string, bool, error) {
	stored, err := g.hasher(g.opts.HashNew).Hash(secret)
	if err != nil {
		return "", false, err
	}
	return stored, g.opts.HashNew, nil
}

// SealAs produces the stored form using the scheme an existing session already uses.
func (g *Gate) SealAs(secret string, hashed bool) (string, error) {
	return g.hasher(hashed).Hash(secret)
}

// Authenticate compares a supplied secret with a stored credential.
func (g *Gate) Authenticate(stored string, hashed bool, secret string) error {
	if stored == "" || !g.hasher(hashed).Compare(stored, secret) {
		return domain.ErrWrongPassword
	}
	return nil
}

// CheckRate counts an attempt from origin and reports ErrRateLimited once the budget is spent.
// Store failures are logged and the attempt is allowed.
func (g *Gate) CheckRate(ctx context.Context, origin string) error {
	if !g.opts.RateLimit || g.opts.Rates == nil {
		return nil
	}
	n, err := g.opts.Rates.Hit(ctx, origin)
	if err != nil {
		g.log.Warn("rate store unavailable", "origin", origin, "error", err)
		return nil
	}
	if n > g.opts.MaxAttempts {
		g.log.Warn("rate limit reached", "origin", origin, "attempts", n)
		return domain.ErrRateLimited
	}
	return nil
}

// ResetRate clears the attempt counter of origin after a success.
func (g *Gate) ResetRate(ctx context.Context, origin string) {
	if !g.opts.RateLimit || g.opts.Rates == nil {
		return
	}
	if err := g.opts.Rates.Reset(ctx, origin); err != nil {
		g.log.Warn("rate reset failed", "origin", origin, "error", err)
	}
}

// cleanup lets stores that keep local state drop idle entries.
func (g *Gate) cleanup() {
	if c, ok := g.opts.Rates.(interface{ Cleanup() }); ok {
		c.Cleanup()
	}
}
