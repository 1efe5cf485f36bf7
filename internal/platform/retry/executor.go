// Package retry implements the bounded retry executor every persistence and provider call goes through.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 2 * time.Second
	defaultMultiplier  = 2

	meterName = "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
)

// Config bounds the retry schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = defaultMultiplier
	}
	return c
}

// MaxTotalDelay is the upper bound on time spent sleeping between maxAttempts attempts.
func (c Config) MaxTotalDelay(maxAttempts int) time.Duration {
	c = c.withDefaults()
	var total time.Duration
	delay := float64(c.BaseDelay)
	for i := 1; i < maxAttempts; i++ {
		step := time.Duration(delay)
		if step > c.MaxDelay {
			step = c.MaxDelay
		}
		total += step
		delay *= c.Multiplier
	}
	return total
}

// Pauser yields successive backoff delays.
type Pauser interface {
	Pause() time.Duration
}

// Executor runs operations with exponential backoff on transient failures.
type Executor struct {
	cfg        Config
	classify   Classifier
	newPauser  func() Pauser
	sleep      func(ctx context.Context, d time.Duration) error
	logger     func(ctx context.Context, event string, fields map[string]any)
	attempts   metric.Int64Counter
	hasMetrics bool
}

// Option customises an Executor.
type Option func(*Executor)

// WithClassifier replaces DefaultClassifier.
func WithClassifier(classify Classifier) Option {
	return func(e *Executor) {
		if classify != nil {
			e.classify = classify
		}
	}
}

// WithPauser replaces the gax backoff schedule, mainly for tests.
func WithPauser(factory func() Pauser) Option {
	return func(e *Executor) {
		if factory != nil {
			e.newPauser = factory
		}
	}
}

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithLogger receives one event per retried attempt and per exhausted operation.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMeter records attempt outcomes on the supplied meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(e *Executor) {
		if meter != nil {
			e.registerMetrics(meter)
		}
	}
}

// New builds an Executor. Zero config fields fall back to 4 attempts, 100ms base, 2s cap, x2.
func New(cfg Config, opts ...Option) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:      cfg,
		classify: DefaultClassifier,
		sleep:    sleepContext,
		logger:   func(context.Context, string, map[string]any) {},
	}
	e.newPauser = func() Pauser {
		return &gax.Backoff{
			Initial:    e.cfg.BaseDelay,
			Max:        e.cfg.MaxDelay,
			Multiplier: e.cfg.Multiplier,
		}
	}
	e.registerMetrics(otel.GetMeterProvider().Meter(meterName))
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Do runs fn with the configured attempt cap.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.DoN(ctx, op, e.cfg.MaxAttempts, fn)
}

// DoN runs fn at most maxAttempts times. Permanent errors return immediately and unchanged;
// transient errors are retried and, once the cap is hit, returned as *RetryExhaustedError.
func (e *Executor) DoN(ctx context.Context, op string, maxAttempts int, fn func(ctx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("%s: operation is nil", op)
	}
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxAttempts
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "operation"
	}

	pauser := e.newPauser()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			e.record(ctx, op, "success")
			return nil
		}
		if e.classify(err) != ClassTransient {
			e.record(ctx, op, "permanent")
			return err
		}
		if attempt >= maxAttempts {
			e.record(ctx, op, "exhausted")
			e.logger(ctx, "retry.exhausted", map[string]any{
				"op":       op,
				"attempts": attempt,
				"error":    err.Error(),
			})
			return &RetryExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		delay := pauser.Pause()
		e.record(ctx, op, "retry")
		e.logger(ctx, "retry.attempt_failed", map[string]any{
			"op":      op,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: interrupted after %d attempts: %w", op, attempt, sleepErr)
		}
	}
}

// Run is the value-returning form of Do.
func Run[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func (e *Executor) registerMetrics(meter metric.Meter) {
	counter, err := meter.Int64Counter(
		"retry.attempts",
		metric.WithDescription("Outcomes of operations run through the retry executor"),
	)
	e.attempts = counter
	e.hasMetrics = err == nil
}

func (e *Executor) record(ctx context.Context, op, outcome string) {
	if !e.hasMetrics {
		return
	}
	e.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
