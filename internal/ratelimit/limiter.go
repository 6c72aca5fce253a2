package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/pkg/metrics"
)

// Profile is the request budget of one subscription tier.
type Profile struct {
	Requests int
	Window   time.Duration
}

// DefaultProfiles returns the built-in tier budgets.
func DefaultProfiles() map[model.SubscriptionTier]Profile {
	return map[model.SubscriptionTier]Profile{
		model.TierAnonymous:  {Requests: 50, Window: 15 * time.Minute},
		model.TierFree:       {Requests: 100, Window: 15 * time.Minute},
		model.TierPro:        {Requests: 1000, Window: 15 * time.Minute},
		model.TierEnterprise: {Requests: 10000, Window: 15 * time.Minute},
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r *Result) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

type windowState struct {
	count   int
	resetAt time.Time
}

// Limiter is a process-local fixed-window counter keyed by identifier and
// route. The read-check-increment of a key happens under one lock, so two
// concurrent requests cannot both slip through at the boundary count.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*windowState
	profiles map[model.SubscriptionTier]Profile
	now      func() time.Time
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = lg
	}
}

func New(profiles map[model.SubscriptionTier]Profile, opts ...Option) *Limiter {
	merged := DefaultProfiles()
	for tier, p := range profiles {
		if p.Requests > 0 && p.Window > 0 {
			merged[tier.Normalize()] = p
		}
	}
	l := &Limiter{
		windows:  make(map[string]*windowState),
		profiles: merged,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.OrDefault(l.logger)
	return l
}

// Profile returns the budget applied to tier.
func (l *Limiter) Profile(tier model.SubscriptionTier) Profile {
	if p, ok := l.profiles[tier.Normalize()]; ok {
		return p
	}
	return l.profiles[model.TierFree]
}

// Key builds the counter key for an identifier and route.
func Key(identifier, route string) string {
	return identifier + "|" + route
}

// Allow counts one request for (identifier, route) against tier's budget.
// The window resets lazily: only the first request after resetAt starts a
// new one.
func (l *Limiter) Allow(identifier, route string, tier model.SubscriptionTier) *Result {
	profile := l.Profile(tier)
	key := Key(identifier, route)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowState{resetAt: now.Add(profile.Window)}
		l.windows[key] = w
	}
	w.count++

	remaining := profile.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := &Result{
		Allowed:   w.count <= profile.Requests,
		Limit:     profile.Requests,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = w.resetAt.Sub(now)
	}
	return res
}

// Sweep evicts every window whose reset time has passed and returns how many
// entries were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	metrics.RateLimitEntries.Set(float64(len(l.windows)))
	return removed
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start runs Sweep every interval until ctx is done or Stop is called.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug("rate limit windows evicted", "count", n)
				}
			}
		}
	}()
}

// Stop halts the sweeper started by Start and waits for it to exit.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	select {
	case <-l.done:
	case <-time.After(time.Second):
	}
}
