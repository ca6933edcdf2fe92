package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fcmrelay/internal/shared"
	"fcmrelay/pkg/retry"
)

// ACL admits requests carrying one of the configured bearer tokens.
// An empty ACL admits everyone.
type ACL struct{ tokens [][]byte }

// NewACL creates an ACL for tokens; blank entries are ignored.
func NewACL(tokens []string) *ACL {
	a := &ACL{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// IsAllowed reports whether token is accepted.
func (a *ACL) IsAllowed(token string) bool {
	if len(a.tokens) == 0 {
		return true
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects requests without an accepted token.
func (a *ACL) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.IsAllowed(bearer(c)) {
			abortWith(c, http.StatusUnauthorized, shared.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ClientLimiter caps requests per second for each caller, keyed by token or
// client IP. Callers idle for longer than the idle window are forgotten, and
// at most maxClients callers are tracked at once.
type ClientLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	rps        rate.Limit
	burst      int
	idle       time.Duration
	maxClients int
	lastSweep  time.Time
	now        func() time.Time
}

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	defaultClientIdle = 10 * time.Minute
	defaultMaxClients = 10000
)

// NewClientLimiter creates a limiter; rps <= 0 disables it.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		clients:    make(map[string]*clientEntry),
		rps:        rate.Limit(rps),
		burst:      burst,
		idle:       defaultClientIdle,
		maxClients: defaultMaxClients,
		now:        time.Now,
	}
}

// Allow reports whether key may proceed now.
func (l *ClientLimiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	e, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.sweep(now)
			if len(l.clients) >= l.maxClients {
				l.evictOldest()
			}
		}
		e = &clientEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Len returns the number of tracked callers.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// sweep drops callers idle for the whole window. Must hold mu.
func (l *ClientLimiter) sweep(now time.Time) {
	for k, e := range l.clients {
		if now.Sub(e.seen) >= l.idle {
			delete(l.clients, k)
		}
	}
	l.lastSweep = now
}

// evictOldest drops the least recently seen caller. Must hold mu.
func (l *ClientLimiter) evictOldest() {
	var oldest string
	var at time.Time
	for k, e := range l.clients {
		if oldest == "" || e.seen.Before(at) {
			oldest, at = k, e.seen
		}
	}
	delete(l.clients, oldest)
}

// Middleware answers 429 once a caller exceeds its budget.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := bearer(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(key) {
			c.Header(retry.HeaderRetryAfter, "1")
			writeError(c, shared.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("dur", time.Since(start)),
			slog.String("client", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Error("http", attrs...)
		case status >= 400:
			log.Warn("http", attrs...)
		default:
			log.Info("http", attrs...)
		}
	}
}
