package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/mail-sms-gateway/pkg/apiresponses"
	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/system"
)

// Config holds the limits of one Limiter.
type Config struct {
	// Rate is the number of requests allowed per second and key.
	Rate float64
	// Burst is the maximum number of requests allowed in a burst.
	Burst int
	// CleanupInterval is how often idle keys are dropped.
	CleanupInterval time.Duration
	// MaxAge is how long a key is kept after its last request.
	MaxAge time.Duration
}

// AuthenticatedConfig holds separate limits for anonymous and authenticated callers.
type AuthenticatedConfig struct {
	Unauthenticated Config
	Authenticated   Config
	// SubjectKey is the gin context key holding the caller identity.
	SubjectKey string
}

// DefaultAPIConfig allows 20 req/s per key with a burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultAuthenticatedAPIConfig applies DefaultAPIConfig per IP and a more
// generous 50 req/s (burst 100) per authenticated subject.
func DefaultAuthenticatedAPIConfig() AuthenticatedConfig {
	return AuthenticatedConfig{
		Unauthenticated: DefaultAPIConfig(),
		Authenticated: Config{
			Rate:            50,
			Burst:           100,
			CleanupInterval: time.Minute,
			MaxAge:          10 * time.Minute,
		},
		SubjectKey: system.SubjectKey,
	}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per key and drops idle keys in the background.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	config   Config
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter and starts its cleanup loop. Call Stop to end it.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request for key fits its bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.config.Rate), l.config.Burst)}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Middleware limits requests per client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			reject(c, "Rate limit exceeded, please try again later")
			return
		}
		c.Next()
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.dropIdle(time.Now())
		}
	}
}

func (l *Limiter) dropIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if now.Sub(e.lastAccess) > l.config.MaxAge {
			delete(l.entries, key)
		}
	}
}

func reject(c *gin.Context, msg string) {
	metrics.APIRateLimited.Inc()
	apiresponses.RespondTooManyRequests(c, msg, 1)
}

// AuthenticatedRateLimiter limits authenticated callers per subject and
// everyone else per client IP. It must run after the authentication middleware.
type AuthenticatedRateLimiter struct {
	anonymous  *Limiter
	subjects   *Limiter
	subjectKey string
}

func NewAuthenticated(cfg AuthenticatedConfig) *AuthenticatedRateLimiter {
	if cfg.SubjectKey == "" {
		cfg.SubjectKey = system.SubjectKey
	}
	return &AuthenticatedRateLimiter{
		anonymous:  New(cfg.Unauthenticated),
		subjects:   New(cfg.Authenticated),
		subjectKey: cfg.SubjectKey,
	}
}

// Allow returns whether the request may proceed and whether it was
// counted against a subject rather than an IP.
func (a *AuthenticatedRateLimiter) Allow(c *gin.Context) (allowed, authenticated bool) {
	if v, ok := c.Get(a.subjectKey); ok {
		if subject, ok := v.(string); ok && subject != "" {
			return a.subjects.Allow(subject), true
		}
	}
	return a.anonymous.Allow(c.ClientIP()), false
}

func (a *AuthenticatedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, authenticated := a.Allow(c)
		if !allowed {
			msg := "Rate limit exceeded, please try again later"
			if !authenticated {
				msg = "Rate limit exceeded. Please authenticate for higher limits."
			}
			reject(c, msg)
			return
		}
		c.Next()
	}
}

// Stop ends both cleanup loops.
func (a *AuthenticatedRateLimiter) Stop() {
	a.anonymous.Stop()
	a.subjects.Stop()
}

// IPLen returns the number of tracked client IPs.
func (a *AuthenticatedRateLimiter) IPLen() int { return a.anonymous.Len() }

// SubjectLen returns the number of tracked subjects.
func (a *AuthenticatedRateLimiter) SubjectLen() int { return a.subjects.Len() }
