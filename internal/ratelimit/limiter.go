// Package ratelimit implements fixed-window request budgets per caller key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Bucket is the counter state of one key in the current window.
type Bucket struct {
	Key         string
	WindowStart time.Time
	Count       int
}

// Store increments buckets atomically. Implementations must reset a bucket to
// Count=1 with WindowStart=now once now >= WindowStart+window.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error)
}

// Result is the decision for one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// BlockRecorder receives every blocked decision.
type BlockRecorder interface {
	RecordBlocked(limiter string)
}

// Config defines one limiter class.
type Config struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

// Limiter enforces Config against a Store.
type Limiter struct {
	cfg     Config
	store   Store
	logger  *zap.Logger
	blocked BlockRecorder
	now     func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for blocked requests.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRecorder sets the metrics sink for blocked requests.
func WithRecorder(r BlockRecorder) Option {
	return func(l *Limiter) { l.blocked = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a limiter. Limit and Window must be positive.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limiter %q: limit and window must be positive", cfg.Name)
	}
	if store == nil {
		return nil, errors.New("rate limiter store is nil")
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests, please try again later."
	}
	l := &Limiter{cfg: cfg, store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the limiter class name.
func (l *Limiter) Name() string {
	return l.cfg.Name
}

// Message returns the client-facing retry guidance.
func (l *Limiter) Message() string {
	return l.cfg.Message
}

// Check counts one request for key and decides whether it may proceed.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	now := l.now()
	bucket, err := l.store.Hit(ctx, l.cfg.Name+":"+key, l.cfg.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("rate limiter %q: %w", l.cfg.Name, err)
	}

	resetAt := bucket.WindowStart.Add(l.cfg.Window)
	res := Result{
		Allowed:   bucket.Count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: max(l.cfg.Limit-bucket.Count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return res, nil
}

func (l *Limiter) recordBlocked(key, path string) {
	l.logger.Warn("rate limit exceeded",
		zap.String("limiter", l.cfg.Name),
		zap.String("key", key),
		zap.String("path", path),
	)
	if l.blocked != nil {
		l.blocked.RecordBlocked(l.cfg.Name)
	}
}
