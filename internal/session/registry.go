/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session maps game keys (chat channels) to guarded stages.
//
// Each session has its own guard. Turns take it without blocking and give
// up when it is already held, so a session never runs two turns at once and
// callers never queue behind each other. The reaper uses the same
// non-blocking acquisition and skips sessions that are mid-turn.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Seednode/towerbox/internal/stage"
)

const (
	DefaultIdleTimeout  = 24 * time.Hour
	DefaultReapInterval = time.Minute
)

type Config struct {
	// IdleTimeout is how long a session may go without activity before the
	// reaper removes it.
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type session struct {
	key   string
	guard sync.Mutex

	// guarded by guard
	stage *stage.Stage

	// guarded by Registry.mu
	lastActivity time.Time
}

type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	onEvict  []func(key string)
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Acquire creates the session for key if it does not exist yet and tries to
// take its guard. It returns false, without blocking, when another holder
// has the guard.
func (r *Registry) Acquire(key string) (*Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = &session{key: key, lastActivity: r.cfg.Now()}
		r.sessions[key] = s
		r.logger.Debug("session created", zap.String("channel", key))
	}

	if !s.guard.TryLock() {
		return nil, false
	}

	return &Lease{registry: r, session: s}, true
}

// OnEvict registers fn to be called with the key of every reaped session.
func (r *Registry) OnEvict(fn func(key string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onEvict = append(r.onEvict, fn)
}

// Reap removes every session that has been idle for at least the idle
// timeout and whose guard is free. It returns the removed keys.
func (r *Registry) Reap() []string {
	r.mu.Lock()
	now := r.cfg.Now()

	var evicted []string
	for key, s := range r.sessions {
		if !s.guard.TryLock() {
			continue
		}
		if now.Sub(s.lastActivity) >= r.cfg.IdleTimeout {
			delete(r.sessions, key)
			evicted = append(evicted, key)
		}
		s.guard.Unlock()
	}
	callbacks := slices.Clone(r.onEvict)
	r.mu.Unlock()

	slices.Sort(evicted)
	for _, key := range evicted {
		r.logger.Info("session reaped", zap.String("channel", key))
		for _, fn := range callbacks {
			fn(key)
		}
	}

	return evicted
}

// Run reaps idle sessions every reap interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Keys returns the session keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}

// LastActivity reports when the session was last touched.
func (r *Registry) LastActivity(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return time.Time{}, false
	}
	return s.lastActivity, true
}

// Lease is exclusive access to one session, held from Acquire until
// Release.
type Lease struct {
	registry *Registry
	session  *session
	released bool
}

func (l *Lease) Key() string {
	return l.session.key
}

// Stage returns the running game, or nil when none has been started.
func (l *Lease) Stage() *stage.Stage {
	return l.session.stage
}

func (l *Lease) SetStage(s *stage.Stage) {
	l.session.stage = s
}

func (l *Lease) ClearStage() {
	l.session.stage = nil
}

// Touch records activity on the session now.
func (l *Lease) Touch() {
	r := l.registry
	r.mu.Lock()
	l.session.lastActivity = r.cfg.Now()
	r.mu.Unlock()
}

// Release gives the guard back. Calling it more than once is a no-op.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.session.guard.Unlock()
}
