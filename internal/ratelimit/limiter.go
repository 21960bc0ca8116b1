// Package ratelimit implements the per-domain sliding-window request limiter
// with a minimum inter-request delay floor.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// Config holds limiter configuration.
type Config struct {
	// MaxRequests admitted per domain within Window.
	MaxRequests int
	// Window is the sliding interval over which MaxRequests applies.
	Window time.Duration
	// MinDelay is the floor between consecutive requests to one domain, even
	// while under the window budget.
	MinDelay time.Duration
}

// Decision is the non-mutating answer from CheckLimit.
type Decision struct {
	Allowed      bool `json:"allowed"`
	Remaining    int  `json:"remaining"`
	CurrentCount int  `json:"current_count"`
}

// Limiter tracks request budgets per normalized domain. Equivalent URLs
// (scheme, www., case, port variants) share one budget.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
	clock   scrape.Clock
}

type domainState struct {
	admitted []time.Time
	pacer    *rate.Limiter
}

// New creates a Limiter. Zero config values get conservative defaults.
func New(cfg Config, clock scrape.Clock) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Limiter{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		clock:   clock,
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// CheckLimit reports the current budget for a domain without consuming it.
func (l *Limiter) CheckLimit(domainOrURL string) Decision {
	domain := scrape.NormalizeDomain(domainOrURL)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.domains[domain]
	if !ok {
		return Decision{Allowed: true, Remaining: l.cfg.MaxRequests}
	}
	count := countInWindow(state.admitted, now, l.cfg.Window)
	remaining := l.cfg.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:      count < l.cfg.MaxRequests,
		Remaining:    remaining,
		CurrentCount: count,
	}
}

// WaitForSlot blocks until the domain budget admits the next request,
// enforcing both the sliding window and the minimum inter-request delay. No
// lock is held while sleeping, so other domains keep making progress.
func (l *Limiter) WaitForSlot(ctx context.Context, domainOrURL string) error {
	domain := scrape.NormalizeDomain(domainOrURL)
	state := l.state(domain)

	// Pace first: the delay floor applies even when the window has room.
	if err := state.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit pacing for %s: %w", domain, err)
	}

	for {
		now := l.clock.Now()
		l.mu.Lock()
		state.admitted = pruneWindow(state.admitted, now, l.cfg.Window)
		if len(state.admitted) < l.cfg.MaxRequests {
			state.admitted = append(state.admitted, now)
			l.mu.Unlock()
			return nil
		}
		wait := state.admitted[0].Add(l.cfg.Window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait for %s: %w", domain, ctx.Err())
		case <-timer.C:
		}
	}
}

// Reset drops all tracked state, primarily for tests and admin endpoints.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.domains = make(map[string]*domainState)
	l.mu.Unlock()
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.domains[domain]
	if !ok {
		pace := rate.Inf
		if l.cfg.MinDelay > 0 {
			pace = rate.Every(l.cfg.MinDelay)
		}
		state = &domainState{pacer: rate.NewLimiter(pace, 1)}
		l.domains[domain] = state
	}
	return state
}

func pruneWindow(admitted []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(admitted) && !admitted[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return admitted
	}
	return append(admitted[:0], admitted[i:]...)
}

func countInWindow(admitted []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range admitted {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
