package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"golang.org/x/time/rate"
)

// Identity headers.
const (
	HeaderUser    = "X-Warden-User"
	HeaderRoles   = "X-Warden-Roles"
	HeaderTraceID = "X-Warden-Trace-Id"
)

// identify puts the calling actor and trace id on the request context.
// Requests without a user header stay anonymous.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if user := strings.TrimSpace(r.Header.Get(HeaderUser)); user != "" {
			actor := domain.Actor{
				ID:        user,
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			}
			for _, role := range strings.Split(r.Header.Get(HeaderRoles), ",") {
				if role = strings.TrimSpace(role); role != "" {
					actor.Roles = append(actor.Roles, role)
				}
			}
			ctx = domain.WithActor(ctx, actor)
		}
		if traceID := r.Header.Get(HeaderTraceID); traceID != "" {
			ctx = domain.WithTraceID(ctx, traceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Caller buckets idle longer than limiterIdle are swept once the table
// holds more than maxLimiters callers.
const (
	maxLimiters = 4096
	limiterIdle = 10 * time.Minute
)

type callerLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter keeps one token bucket per caller.
type limiter struct {
	mu       sync.Mutex
	limiters map[string]*callerLimiter
	rps      rate.Limit
	burst    int
	max      int
	clock    func() time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	return &limiter{
		limiters: make(map[string]*callerLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		max:      maxLimiters,
		clock:    time.Now,
	}
}

func (l *limiter) allow(key string) bool {
	now := l.clock()
	l.mu.Lock()
	c, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.max {
			l.sweepLocked(now)
		}
		c = &callerLimiter{lim: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = c
	}
	c.seen = now
	l.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

// sweepLocked drops idle callers. When every caller is recent the least
// recently seen one goes, so the table never exceeds max.
func (l *limiter) sweepLocked(now time.Time) {
	oldest := ""
	for key, c := range l.limiters {
		if now.Sub(c.seen) > limiterIdle {
			delete(l.limiters, key)
			continue
		}
		if oldest == "" || c.seen.Before(l.limiters[oldest].seen) {
			oldest = key
		}
	}
	if len(l.limiters) >= l.max && oldest != "" {
		delete(l.limiters, oldest)
	}
}

// middleware throttles mutating requests, keyed by actor or client address.
func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		if actor, ok := domain.ActorFrom(r.Context()); ok {
			key = "user:" + actor.ID
		}
		if !l.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderUser+", "+HeaderRoles+", "+HeaderTraceID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
