package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"classroom-session-service/internal/domain"
)

// ErrEngineStopped is returned to callers once Run has returned.
var ErrEngineStopped = errors.New("engine stopped")

// BankRepository loads question banks a session can be seeded from.
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// Options configures an Engine.
type Options struct {
	// SessionTimeout is the age after which the sweep ends a session. Zero disables expiry.
	SessionTimeout time.Duration
	// SweepInterval is how often expiry and rate-store cleanup run. Zero disables the sweep timer.
	SweepInterval   time.Duration
	MinSecretLength int
	Now             func() time.Time
	NewCode         func() string
	Logger          *slog.Logger
}

// Engine coordinates every session. All state is owned by the goroutine running Run;
// public methods enqueue closures onto that loop and wait for their reply.
type Engine struct {
	opts     Options
	log      *slog.Logger
	registry *Registry
	gate     *Gate
	router   *Router
	banks    BankRepository

	conns   map[string]*attachment
	inbox   chan func()
	stopped chan struct{}
}

// attachment tracks a live connection and the session role it holds, if any.
type attachment struct {
	origin string
	code   string
	role   domain.Role
}

func NewEngine(transport Transport, gate *Gate, banks BankRepository, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinSecretLength <= 0 {
		opts.MinSecretLength = 4
	}
	if gate == nil {
		gate = NewGate(GateOptions{Logger: opts.Logger})
	}
	return &Engine{
		opts:     opts,
		log:      opts.Logger,
		registry: NewRegistry(opts.NewCode, opts.Now),
		gate:     gate,
		router:   NewRouter(transport),
		banks:    banks,
		conns:    make(map[string]*attachment),
		inbox:    make(chan func(), 256),
		stopped:  make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	var tick <-chan time.Time
	if e.opts.SweepInterval > 0 {
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.log.Info("session engine started",
		"session_timeout", e.opts.SessionTimeout,
		"sweep_interval", e.opts.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("session engine stopped", "sessions", e.registry.Len())
			return nil
		case fn := <-e.inbox:
			e.safely(fn)
		case <-tick:
			e.safely(e.sweep)
		}
	}
}

// safely runs one handler; a panic is contained to that event.
func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (e *Engine) enqueue(ctx context.Context, fn func()) error {
	select {
	case e.inbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the loop and waits until it (or a continuation it scheduled) replies.
func call[T any](ctx context.Context, e *Engine, fn func(reply func(T, error))) (T, error) {
	var zero T
	done := make(chan result[T], 1)
	replied := false
	reply := func(v T, err error) {
		if replied {
			return
		}
		replied = true
		done <- result[T]{v, err}
	}
	err := e.enqueue(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				reply(zero, fmt.Errorf("internal error: %v", r))
				panic(r)
			}
		}()
		fn(reply)
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.stopped:
		return zero, ErrEngineStopped
	}
}

// do is call for handlers that reply with an error only.
func do(ctx context.Context, e *Engine, fn func() error) error {
	_, err := call(ctx, e, func(reply func(struct{}, error)) {
		reply(struct{}{}, fn())
	})
	return err
}

// await runs work off the loop and schedules then back onto it. Anything then touches
// may have changed in between and has to be looked up again.
func await[T any](e *Engine, work func() T, then func(T)) {
	go func() {
		v := work()
		select {
		case e.inbox <- func() { then(v) }:
		case <-e.stopped:
		}
	}()
}

// Connect registers a new transport connection.
func (e *Engine) Connect(ctx context.Context, connID, origin string) error {
	return do(ctx, e, func() error {
		e.conns[connID] = &attachment{origin: origin}
		return nil
	})
}

// Disconnect releases whatever role the connection held. Participants are kept for reconnection.
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	return do(ctx, e, func() error {
		a, ok := e.conns[connID]
		if !ok {
			return nil
		}
		delete(e.conns, connID)
		if a.code == "" {
			return nil
		}
		s, err := e.registry.Lookup(a.code)
		if err != nil {
			return nil
		}
		switch a.role {
		case domain.RoleController:
			if s.controllerConn == connID {
				s.controllerConn = ""
				e.log.Info("controller disconnected", "session", s.code)
			}
		case domain.RolePresenter:
			delete(s.presenters, connID)
		case domain.RoleAudience:
			if p, ok := s.participants[connID]; ok && p.connected {
				p.markDisconnected()
				e.log.Info("participant disconnected", "session", s.code, "name", p.name)
				e.router.Roster(s)
			}
		}
		return nil
	})
}

// attach binds a connection to a session role and its room, releasing any previous binding.
func (e *Engine) attach(connID string, s *Session, role domain.Role) {
	a := e.conns[connID]
	if a.code != "" && (a.code != s.code || a.role != role) {
		e.release(connID)
	}
	a.code = s.code
	a.role = role
	e.router.transport.Join(connID, s.code)
}

// release drops a connection's session binding without closing it.
func (e *Engine) release(connID string) {
	a, ok := e.conns[connID]
	if !ok || a.code == "" {
		return
	}
	if s, err := e.registry.Lookup(a.code); err == nil {
		switch a.role {
		case domain.RoleController:
			if s.controllerConn == connID {
				s.controllerConn = ""
			}
		case domain.RolePresenter:
			delete(s.presenters, connID)
		case domain.RoleAudience:
			if p, ok := s.participants[connID]; ok {
				p.markDisconnected()
			}
		}
	}
	e.router.transport.Leave(connID, a.code)
	a.code = ""
	a.role = ""
}

// evict releases a connection and asks the transport to close it.
func (e *Engine) evict(connID string) {
	a, ok := e.conns[connID]
	if !ok {
		return
	}
	if a.code != "" {
		e.router.transport.Leave(connID, a.code)
	}
	a.code = ""
	a.role = ""
	e.router.transport.Disconnect(connID)
}

// authorize resolves the session a connection acts on and checks its role.
func (e *Engine) authorize(connID, code string, roles ...domain.Role) (*Session, error) {
	a, ok := e.conns[connID]
	if !ok || a.code == "" || a.code != normalizeCode(code) {
		return nil, domain.ErrNotAttached
	}
	s, err := e.registry.Lookup(a.code)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if a.role != r {
			continue
		}
		if r == domain.RoleController && s.controllerConn != connID {
			return nil, domain.ErrForbidden
		}
		return s, nil
	}
	return nil, domain.ErrForbidden
}

func (e *Engine) controller(connID, code string) (*Session, error) {
	return e.authorize(connID, code, domain.RoleController)
}

// Snapshot returns a read-only copy of a session for exports.
func (e *Engine) Snapshot(ctx context.Context, code string) (domain.SessionSnapshot, error) {
	return call(ctx, e, func(reply func(domain.SessionSnapshot, error)) {
		s, err := e.registry.Lookup(code)
		if err != nil {
			reply(domain.SessionSnapshot{}, err)
			return
		}
		reply(s.snapshot(), nil)
	})
}

// Stats is a summary of engine load.
type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, e, func(reply func(Stats, error)) {
		reply(Stats{Sessions: e.registry.Len(), Connections: len(e.conns)}, nil)
	})
}

// Sweep runs expiry immediately instead of waiting for the timer.
func (e *Engine) Sweep(ctx context.Context) error {
	return do(ctx, e, func() error {
		e.sweep()
		return nil
	})
}

func (e *Engine) sweep() {
	for _, s := range e.registry.expired(e.opts.SessionTimeout) {
		e.log.Info("session expired", "session", s.code, "age", e.opts.Now().Sub(s.createdAt))
		e.endSession(s, "Session expired")
	}
	if e.gate != nil {
		e.gate.cleanup()
	}
}

// endSession tells everyone in the room, detaches every connection and drops the record.
func (e *Engine) endSession(s *Session, message string) {
	e.router.Emit(s, domain.EventSessionEnded, domain.Notice{Message: message}, ToEveryone)
	for id, a := range e.conns {
		if a.code != s.code {
			continue
		}
		e.router.transport.Leave(id, s.code)
		a.code = ""
		a.role = ""
	}
	e.registry.delete(s.code)
}
