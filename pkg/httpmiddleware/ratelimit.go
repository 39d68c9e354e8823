package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// KeyFunc picks the rate limit bucket of a request.
type KeyFunc func(*http.Request) string

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// window counts requests in the current fixed window and the one before it.
// The effective count slides between them by elapsed time.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a per-key sliding window limiter.
type Limiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter allows limit requests per key in any period.
func NewLimiter(limit int, period time.Duration) *Limiter {
	return &Limiter{
		max:     limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

// Allow records a request for key at now if it fits the limit.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now.Truncate(l.period)}
		l.windows[key] = w
	}

	if since := now.Sub(w.start); since >= l.period {
		if since >= 2*l.period {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.period)
	}

	weight := max(1-now.Sub(w.start).Seconds()/l.period.Seconds(), 0)
	count := w.prev*weight + w.curr
	resetAt := w.start.Add(l.period)

	if count >= float64(l.max) {
		return Decision{ResetAt: resetAt}
	}
	w.curr++
	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(l.max)-count-1), 0),
		ResetAt:   resetAt,
	}
}

// Run evicts idle keys every two periods until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(2 * l.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.period {
			delete(l.windows, key)
		}
	}
}

// RateLimit rejects requests over the limit of their key with 429 and a
// {"success":false,"message":...} body. Every response carries the
// X-RateLimit-* headers. A nil key uses ClientIP.
func RateLimit(l *Limiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(key(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(time.Until(d.ResetAt), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
				e.Field("message", func(e *jx.Encoder) { e.Str("Rate limit exceeded.") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}

// ClientIP keys by the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
