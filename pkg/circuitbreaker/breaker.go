// Package circuitbreaker implements a TTL fast-fail gate keyed by backing store.
//
// A key has exactly two states. A recorded failure blocks the key until its
// TTL has elapsed; a recorded success clears it immediately.
package circuitbreaker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	DefaultTTL = 20 * time.Second
	MinTTL     = time.Second
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	DefaultTTL    time.Duration
	TTLs          map[string]time.Duration
	OnStateChange func(key string, from State, to State)
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Registry is safe for concurrent use. Concurrent failures on the same key
// resolve as last writer wins.
type Registry struct {
	defaultTTL    time.Duration
	ttls          map[string]time.Duration
	onStateChange func(key string, from State, to State)
	logger        *zap.Logger
	now           func() time.Time

	mu          sync.Mutex
	lastFailure map[string]time.Time
}

func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		defaultTTL:    clampTTL(cfg.DefaultTTL),
		ttls:          make(map[string]time.Duration, len(cfg.TTLs)),
		onStateChange: cfg.OnStateChange,
		logger:        cfg.Logger,
		now:           cfg.Clock,
		lastFailure:   make(map[string]time.Time),
	}

	if cfg.DefaultTTL == 0 {
		r.defaultTTL = DefaultTTL
	}
	for key, ttl := range cfg.TTLs {
		if ttl == 0 {
			continue
		}
		r.ttls[key] = clampTTL(ttl)
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	return r
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

// TTL returns the fast-fail window for key.
func (r *Registry) TTL(key string) time.Duration {
	if ttl, ok := r.ttls[key]; ok {
		return ttl
	}
	return r.defaultTTL
}

// IsBlocked reports whether key failed within its TTL.
func (r *Registry) IsBlocked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.blockedLocked(key, r.now())
}

func (r *Registry) blockedLocked(key string, now time.Time) bool {
	failedAt, ok := r.lastFailure[key]
	if !ok {
		return false
	}
	return now.Sub(failedAt) <= r.TTL(key)
}

func (r *Registry) RecordFailure(key string) {
	r.mu.Lock()
	now := r.now()
	wasBlocked := r.blockedLocked(key, now)
	r.lastFailure[key] = now
	r.mu.Unlock()

	if !wasBlocked {
		r.changed(key, StateClosed, StateOpen)
	}
}

func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	now := r.now()
	wasBlocked := r.blockedLocked(key, now)
	delete(r.lastFailure, key)
	r.mu.Unlock()

	if wasBlocked {
		r.changed(key, StateOpen, StateClosed)
	}
}

// Execute runs fn unless key is blocked. A non-nil error from fn records a failure.
func (r *Registry) Execute(key string, fn func() error) error {
	if r.IsBlocked(key) {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		r.RecordFailure(key)
		return err
	}

	r.RecordSuccess(key)
	return nil
}

func (r *Registry) State(key string) State {
	if r.IsBlocked(key) {
		return StateOpen
	}
	return StateClosed
}

// Snapshot returns the state of every key that has a configured TTL or a recorded failure.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	keys := make(map[string]struct{}, len(r.ttls)+len(r.lastFailure))
	for key := range r.ttls {
		keys[key] = struct{}{}
	}
	for key := range r.lastFailure {
		keys[key] = struct{}{}
	}

	out := make(map[string]State, len(keys))
	for key := range keys {
		if r.blockedLocked(key, now) {
			out[key] = StateOpen
		} else {
			out[key] = StateClosed
		}
	}
	return out
}

// Keys lists the keys known to the registry in sorted order.
func (r *Registry) Keys() []string {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) changed(key string, from, to State) {
	if r.onStateChange != nil {
		r.onStateChange(key, from, to)
	}

	r.logger.Info("Circuit breaker state changed",
		zap.String("key", key),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Duration("ttl", r.TTL(key)),
	)
}
