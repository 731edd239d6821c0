package spanlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/pkg/ports"
)

// ErrLockUnavailable is returned when the distributed lock of a resource cannot be acquired.
var ErrLockUnavailable = errors.New("failed to acquire distributed lock")

// DefaultResourceTTL bounds how long a distributed resource lock survives a crashed holder.
const DefaultResourceTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager hands out per-key mutexes.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker ports.DistributedLocker // Optional distributed locker
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking of external resources.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithResourceTTL overrides DefaultResourceTTL.
func WithResourceTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:  make(map[string]*lockEntry),
		ttl:    DefaultResourceTTL,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock runs fn while holding the local lock for key.
// fn must only do bookkeeping; it must not block on external work.
func (m *Manager) WithLock(key string, fn func() error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()
	return fn()
}

// Active returns the number of keys currently holding a lock entry.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// AcquireResource takes the distributed lock for resource and returns its release func.
// Without a configured locker, or with an empty resource, release is a no-op.
func (m *Manager) AcquireResource(ctx context.Context, resource string) (release func(context.Context), err error) {
	if m.locker == nil || resource == "" {
		return func(context.Context) {}, nil
	}

	unlock, err := m.locker.Lock(ctx, resource, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrLockUnavailable, resource, err)
	}
	return func(ctx context.Context) {
		if err := unlock(ctx); err != nil {
			m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
				"resource", resource,
				"err", err,
			)
		}
	}, nil
}

// WithResource runs fn while holding the distributed lock for resource.
// Without a configured locker, or with an empty resource, fn runs unguarded.
func (m *Manager) WithResource(ctx context.Context, resource string, fn func(context.Context) error) error {
	release, err := m.AcquireResource(ctx, resource)
	if err != nil {
		return err
	}
	defer release(ctx)
	return fn(ctx)
}
