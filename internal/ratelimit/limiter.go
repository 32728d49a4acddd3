// Package ratelimit implements a per-host token bucket governing outbound
// request pacing. Hosts accrue tokens at a configured rate up to a burst
// capacity; different hosts never block each other.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bioterminal/content-scraper/internal/metrics"
)

// Config holds rate limiter defaults applied to lazily created host buckets.
type Config struct {
	// DefaultRPS is the steady-state refill rate. Non-positive means 1.
	DefaultRPS float64
	// DefaultBurst is the bucket capacity. Non-positive means 10.
	DefaultBurst int
	// JitterFraction scales the refill interval into a post-acquire sleep
	// that desynchronizes concurrent callers. Zero selects the 0.1
	// default; negative disables jitter.
	JitterFraction float64
	// MaxJitter caps the jitter sleep regardless of rate.
	MaxJitter time.Duration
}

// HostStats is a point-in-time snapshot of one host bucket.
type HostStats struct {
	Host        string  `json:"host"`
	Tokens      float64 `json:"tokens"`
	Capacity    int     `json:"capacity"`
	Rate        float64 `json:"rate"`
	Utilization float64 `json:"utilization"`
}

// Limiter manages per-host token buckets. All methods are safe for
// concurrent use; bucket state for a host is serialized inside its
// rate.Limiter while distinct hosts proceed independently.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     Config

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Limiter with the given defaults.
func New(cfg Config) *Limiter {
	if cfg.DefaultRPS <= 0 {
		cfg.DefaultRPS = 1
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 10
	}
	switch {
	case cfg.JitterFraction == 0:
		cfg.JitterFraction = 0.1
	case cfg.JitterFraction < 0:
		cfg.JitterFraction = 0
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = 250 * time.Millisecond
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "unknown"
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.DefaultRPS), l.cfg.DefaultBurst)
		l.buckets[host] = b
	}
	return b
}

// Acquire blocks until one token is available for the URL's host, then
// applies the jitter delay. It fails only when the context ends first.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	return l.AcquireN(ctx, rawURL, 1)
}

// AcquireN acquires n tokens for the URL's host.
func (l *Limiter) AcquireN(ctx context.Context, rawURL string, n int) error {
	host := hostOf(rawURL)
	b := l.bucket(host)

	start := time.Now()
	if err := b.WaitN(ctx, n); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}

	l.jitter(ctx, b)
	return nil
}

// TryAcquire acquires one token for the URL's host, waiting at most
// maxWait. It reports false when the token cannot be obtained in time;
// callers treat that as "retry later", not as a failure. A non-positive
// maxWait makes the call non-blocking.
func (l *Limiter) TryAcquire(ctx context.Context, rawURL string, maxWait time.Duration) bool {
	host := hostOf(rawURL)
	b := l.bucket(host)

	if maxWait <= 0 {
		if !b.Allow() {
			return false
		}
		l.jitter(ctx, b)
		return true
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	start := time.Now()
	if err := b.Wait(waitCtx); err != nil {
		return false
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	l.jitter(ctx, b)
	return true
}

// jitter sleeps a small random fraction of the refill interval so that
// concurrent callers released in the same instant do not hit the target
// in lockstep.
func (l *Limiter) jitter(ctx context.Context, b *rate.Limiter) {
	if l.cfg.JitterFraction <= 0 {
		return
	}
	interval := time.Duration(float64(time.Second) / float64(b.Limit()))
	d := time.Duration(float64(interval) * l.cfg.JitterFraction * (0.9 + 0.2*rand.Float64()))
	if d > l.cfg.MaxJitter {
		d = l.cfg.MaxJitter
	}
	if d > 0 {
		l.sleep(ctx, d)
	}
}

// SetRate replaces the bucket for host with a fresh full bucket at the
// given rate. A non-positive burst derives capacity as rps*10, matching
// the lazy-creation ratio.
func (l *Limiter) SetRate(host string, rps float64, burst int) {
	if rps <= 0 {
		rps = l.cfg.DefaultRPS
	}
	if burst <= 0 {
		burst = int(rps * 10)
		if burst < 1 {
			burst = 1
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[host] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Reset refills one host bucket to capacity.
func (l *Limiter) Reset(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		l.buckets[host] = rate.NewLimiter(b.Limit(), b.Burst())
	}
}

// ResetAll refills every bucket to capacity.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for host, b := range l.buckets {
		l.buckets[host] = rate.NewLimiter(b.Limit(), b.Burst())
	}
}

// Stats reports the bucket snapshot for host, if one exists.
func (l *Limiter) Stats(host string) (HostStats, bool) {
	l.mu.Lock()
	b, ok := l.buckets[host]
	l.mu.Unlock()
	if !ok {
		return HostStats{}, false
	}
	return snapshot(host, b), true
}

// StatsAll reports snapshots for every known host.
func (l *Limiter) StatsAll() map[string]HostStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]HostStats, len(l.buckets))
	for host, b := range l.buckets {
		out[host] = snapshot(host, b)
	}
	return out
}

func snapshot(host string, b *rate.Limiter) HostStats {
	tokens := b.Tokens()
	if tokens < 0 {
		tokens = 0
	}
	capacity := b.Burst()
	util := 0.0
	if capacity > 0 {
		util = 1.0 - tokens/float64(capacity)
	}
	return HostStats{
		Host:        host,
		Tokens:      tokens,
		Capacity:    capacity,
		Rate:        float64(b.Limit()),
		Utilization: util,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
