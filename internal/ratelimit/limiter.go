package ratelimit

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config describes one limiter tier.
type Config struct {
	// Name identifies the tier in logs and admin output.
	Name string
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int
	// Window is the fixed window duration. The window never slides: the
	// first request for a key fixes resetTime = now + Window for every
	// request in that window.
	Window time.Duration
	// SweepInterval controls how often expired entries are evicted.
	// Zero disables the background sweep.
	SweepInterval time.Duration
}

// Result is the outcome of a single limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Stats is a point-in-time view of the limiter for the admin endpoint.
type Stats struct {
	Name          string `json:"name"`
	MaxRequests   int    `json:"max_requests"`
	WindowMs      int64  `json:"window_ms"`
	TrackedKeys   int    `json:"tracked_keys"`
	ActiveEntries int    `json:"active_entries"`
}

type entry struct {
	count     int
	resetTime time.Time
}

// Limiter is a fixed-window request counter keyed by caller identifier.
// All state is in memory and lost on restart.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a limiter tier and, when a sweep interval is configured,
// starts the background eviction goroutine.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go l.sweepLoop(cfg.SweepInterval)
	}

	return l
}

// WithClock allows injection of a custom clock (primarily for testing).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// CheckLimit evaluates and, when allowed, consumes one request for key.
// The check and the increment happen under one lock so two concurrent
// requests cannot both take the last slot.
func (l *Limiter) CheckLimit(key string) Result {
	key = strings.ToLower(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetTime) {
		// Expiry always resets before the limit is evaluated.
		e = &entry{count: 0, resetTime: now.Add(l.cfg.Window)}
		l.entries[key] = e
	}

	if e.count >= l.cfg.MaxRequests {
		return Result{Allowed: false, Remaining: 0, ResetTime: e.resetTime}
	}

	e.count++
	return Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - e.count,
		ResetTime: e.resetTime,
	}
}

// Remaining reports how many requests key still has in its current window
// without consuming one.
func (l *Limiter) Remaining(key string) int {
	key = strings.ToLower(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetTime) {
		return l.cfg.MaxRequests
	}

	remaining := l.cfg.MaxRequests - e.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Stats evicts expired entries and returns a snapshot of the tier.
func (l *Limiter) Stats() Stats {
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Name:          l.cfg.Name,
		MaxRequests:   l.cfg.MaxRequests,
		WindowMs:      l.cfg.Window.Milliseconds(),
		TrackedKeys:   len(l.entries),
		ActiveEntries: len(l.entries),
	}
}

// Max returns the per-window request allowance of this tier.
func (l *Limiter) Max() int {
	return l.cfg.MaxRequests
}

// Stop terminates the background sweep goroutine. Safe to call more than
// once; entries remain usable afterwards.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep removes entries whose window has elapsed. Expired keys are collected
// first and deleted one by one, re-checking expiry, so a concurrent check
// that just re-armed an entry is never evicted.
func (l *Limiter) sweep() {
	now := l.now()

	l.mu.Lock()
	expired := make([]string, 0)
	for key, e := range l.entries {
		if now.After(e.resetTime) {
			expired = append(expired, key)
		}
	}
	l.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	for _, key := range expired {
		l.mu.Lock()
		if e, ok := l.entries[key]; ok && now.After(e.resetTime) {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}

	l.logger.Debug("rate limit sweep completed",
		zap.String("tier", l.cfg.Name),
		zap.Int("evicted", len(expired)),
	)
}
