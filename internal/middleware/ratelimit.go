package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Limiter counts hits per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
	Max() int64
}

// RateLimit rejects clients that exceed the limiter's budget with 429.
// When the limiter itself fails the request is let through.
func RateLimit(limiter Limiter, log logrus.FieldLogger) gin.HandlerFunc {
	if limiter == nil {
		panic("middleware: RateLimit needs a limiter")
	}

	return func(c *gin.Context) {
		ok, remaining, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.WithError(err).WithField("ip", c.ClientIP()).Warn("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiter.Max(), 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// MemoryLimiter is the single-process fallback used when Redis is not
// configured. Windows are fixed and start at a key's first hit.
type MemoryLimiter struct {
	clock  clock.Clock
	max    int64
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int64
}

func NewMemoryLimiter(max int, win time.Duration, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLimiter{
		clock:   clk,
		max:     int64(max),
		window:  win,
		windows: make(map[string]*window),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.window {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++

	remaining := m.max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= m.max, remaining, nil
}

func (m *MemoryLimiter) Max() int64 { return m.max }

// Prune forgets expired windows.
func (m *MemoryLimiter) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.window {
			delete(m.windows, k)
		}
	}
}

// Run prunes expired windows every interval until ctx is done.
func (m *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}
