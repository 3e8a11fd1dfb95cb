// Package pool fans targets out to a bounded set of workers.
//
// Workers claim targets through a shared atomic cursor, so each target is
// handed to exactly one worker and no queue needs to be pre-partitioned.
// Outcomes are passed to emit as they complete; completion order is not
// input order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

// ProcessFunc produces the outcome for one target.
type ProcessFunc func(ctx context.Context, t manifest.Target) driver.Outcome

// EmitFunc receives each outcome. A non-nil error stops all workers.
type EmitFunc func(o driver.Outcome) error

// Cursor hands out monotonically increasing indices.
type Cursor struct{ n atomic.Int64 }

// Next returns the next unclaimed index.
func (c *Cursor) Next() int { return int(c.n.Add(1) - 1) }

// Option configures Run.
type Option func(*options)

type options struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// WithLimiter spaces target starts across all workers.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// PerMinute returns a limiter allowing n starts per minute, or nil when
// n <= 0.
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60), 1)
}

// Run processes targets with n workers (clamped to [1, len(targets)]) and
// returns once every in-flight worker has finished. The first emit error
// cancels the remaining claims and is returned. Cancellation of ctx stops
// claims without an error being reported.
func Run(ctx context.Context, targets []manifest.Target, n int, process ProcessFunc, emit EmitFunc, opts ...Option) error {
	if len(targets) == 0 {
		return nil
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	n = max(1, min(n, len(targets)))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		cur     Cursor
		wg      sync.WaitGroup
		emitMu  sync.Mutex
		emitErr error
	)
	stop := func(err error) {
		emitMu.Lock()
		if emitErr == nil {
			emitErr = err
		}
		emitMu.Unlock()
		cancel(err)
	}

	for w := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := cur.Next()
				if i >= len(targets) {
					return
				}
				if o.limiter != nil {
					if err := o.limiter.Wait(ctx); err != nil {
						return
					}
				}
				t := targets[i]
				out := safeProcess(ctx, process, t)
				if ctx.Err() != nil && errors.Is(out.Err, ctx.Err()) {
					// interrupted, not a verdict on the target
					o.logger.Debug("pool: target interrupted", "worker", w, "url", t.URL)
					return
				}
				if err := emit(out); err != nil {
					o.logger.Error("pool: emit failed, stopping", "worker", w, "url", t.URL, "error", err)
					stop(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	return emitErr
}

func safeProcess(ctx context.Context, process ProcessFunc, t manifest.Target) (out driver.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = driver.Outcome{
				Target: t,
				Err:    &driver.DriverError{Kind: driver.KindPanic, Err: fmt.Errorf("%v", r)},
			}
		}
	}()
	return process(ctx, t)
}
