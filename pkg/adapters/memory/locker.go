package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/warden/pkg/ports"
	"github.com/google/uuid"
)

// DefaultRetryInterval is how often a contended lock is retried.
const DefaultRetryInterval = 10 * time.Millisecond

type lease struct {
	token   string
	expires time.Time
}

// Locker implements ports.DistributedLocker within one process.
// Leases expire after their TTL like their Redis counterparts.
// Safe for concurrent use.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	clock  func() time.Time
}

// NewLocker creates a new in-memory locker.
func NewLocker() *Locker {
	return &Locker{
		leases: make(map[string]lease),
		clock:  time.Now,
	}
}

// Lock acquires key for ttl, retrying until ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(DefaultRetryInterval)
	defer ticker.Stop()

	for {
		if l.tryLock(key, token, ttl) {
			return func(context.Context) error {
				l.mu.Lock()
				if cur, ok := l.leases[key]; ok && cur.token == token {
					delete(l.leases, key)
				}
				l.mu.Unlock()
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) tryLock(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return false
	}
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return true
}

// Held counts unexpired leases.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	n := 0
	for _, cur := range l.leases {
		if now.Before(cur.expires) {
			n++
		}
	}
	return n
}
