// Package persistence wires the progression store selected by configuration
// and wraps it with retries, a circuit breaker and per-call deadlines.
package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/circuitbreaker"
	"github.com/melon-hub/melon-rank/pkg/logger"
	"github.com/melon-hub/melon-rank/pkg/retry"
	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

// NamedStore is a store that can identify itself in logs.
type NamedStore interface {
	progression.Store
	Name() string
}

// Merger is a store that can write a snapshot without removing the
// records missing from it.
type Merger interface {
	MergeAll(ctx context.Context, table progression.Table) error
}

// GuardOptions tunes a Guarded store.
type GuardOptions struct {
	// Timeout bounds every single attempt.
	Timeout time.Duration

	RetryAttempts    int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// RetryIf decides which errors are retried. nil retries everything
	// except context cancellation and corrupt data.
	RetryIf func(error) bool

	Clock  timeutil.Clock
	Logger *slog.Logger
}

// DefaultGuardOptions returns the defaults used by the bot.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		Timeout:          10 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       50 * time.Millisecond,
		BreakerThreshold: 3,
		BreakerTimeout:   15 * time.Second,
	}
}

// Guarded decorates a store with retries and a circuit breaker.
//
// LoadAll never fails: any error is logged and an empty table is returned,
// so members start fresh rather than the process crashing. SaveAll errors
// are returned to the caller, which keeps the in-memory table authoritative
// until the next successful flush.
//
// While degraded, SaveAll merges into stores that implement Merger, so rows
// the failed load never saw survive the flush.
type Guarded struct {
	inner   NamedStore
	timeout time.Duration
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger

	degraded atomic.Bool
	saves    atomic.Int64
	failures atomic.Int64
}

// NewGuarded wraps inner.
func NewGuarded(inner NamedStore, opts GuardOptions) *Guarded {
	log := logger.OrDefault(opts.Logger).With("store", inner.Name())

	retryIf := opts.RetryIf
	if retryIf == nil {
		retryIf = defaultRetryIf
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	retrier := retry.New(
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(delay),
		retry.WithMaxDelay(time.Second),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0.05),
		retry.WithRetryIf(retryIf),
		retry.WithOnRetry(func(attempt int, err error, d time.Duration) {
			log.Warn("store call failed, retrying",
				"attempt", attempt,
				"delay_ms", d.Milliseconds(),
				"error", err,
			)
		}),
	)

	breakerOpts := []circuitbreaker.Option{
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
	}
	if opts.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithFailureThreshold(opts.BreakerThreshold))
	}
	if opts.BreakerTimeout > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithTimeout(opts.BreakerTimeout))
	}
	if opts.Clock != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithClock(opts.Clock))
	}
	breaker := circuitbreaker.StoreBreaker("store."+inner.Name(), func(name string, from, to circuitbreaker.State) {
		log.Warn("store circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	}, breakerOpts...)

	return &Guarded{
		inner:   inner,
		timeout: opts.Timeout,
		retrier: retrier,
		breaker: breaker,
		logger:  log,
	}
}

func defaultRetryIf(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, shared.ErrCorruptSnapshot),
		errors.Is(err, shared.ErrValueOutOfRange),
		errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return false
	}
	return true
}

// Name returns the inner store name.
func (g *Guarded) Name() string { return g.inner.Name() }

// Inner returns the decorated store.
func (g *Guarded) Inner() NamedStore { return g.inner }

// Degraded reports whether the last LoadAll fell back to an empty table.
func (g *Guarded) Degraded() bool { return g.degraded.Load() }

// BreakerState returns the current breaker state.
func (g *Guarded) BreakerState() circuitbreaker.State { return g.breaker.State() }

// Stats returns the number of successful and failed saves.
func (g *Guarded) Stats() (saves, failures int64) {
	return g.saves.Load(), g.failures.Load()
}

// LoadAll reads the snapshot, degrading to an empty table on failure.
func (g *Guarded) LoadAll(ctx context.Context) (progression.Table, error) {
	var table progression.Table
	err := g.call(ctx, func(ctx context.Context) error {
		t, err := g.inner.LoadAll(ctx)
		if err != nil {
			return err
		}
		table = t
		return nil
	})
	if err != nil {
		g.degraded.Store(true)
		g.logger.Error("failed to load progression snapshot, starting with an empty table",
			logger.Err(err),
		)
		return progression.Table{}, nil
	}

	g.degraded.Store(false)
	if table == nil {
		table = progression.Table{}
	}
	return table, nil
}

// SaveAll writes the snapshot. Failures are wrapped in ErrStoreUnavailable.
func (g *Guarded) SaveAll(ctx context.Context, table progression.Table) error {
	save := g.inner.SaveAll
	if m, ok := g.inner.(Merger); ok && g.Degraded() {
		save = m.MergeAll
	}
	err := g.call(ctx, func(ctx context.Context) error {
		return save(ctx, table)
	})
	if err != nil {
		g.failures.Add(1)
		return shared.WrapError("store", "SaveAll", shared.ErrStoreUnavailable, g.inner.Name()+" save failed", err)
	}
	g.saves.Add(1)
	return nil
}

// Ping checks the inner store when it supports it.
func (g *Guarded) Ping(ctx context.Context) error {
	if p, ok := g.inner.(progression.Pinger); ok {
		return g.withTimeout(ctx, p.Ping)
	}
	return nil
}

// Close closes the inner store when it holds resources.
func (g *Guarded) Close() error {
	if c, ok := g.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (g *Guarded) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.retrier.Do(ctx, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			return g.withTimeout(ctx, fn)
		})
	})
}

func (g *Guarded) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(ctx)
}
