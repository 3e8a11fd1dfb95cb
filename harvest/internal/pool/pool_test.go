package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

func makeTargets(n int) []manifest.Target {
	ts := make([]manifest.Target, n)
	for i := range ts {
		u := fmt.Sprintf("https://example.com/v/%d", i)
		ts[i] = manifest.Target{ID: u, URL: u}
	}
	return ts
}

func TestRun_EachTargetClaimedOnce(t *testing.T) {
	targets := makeTargets(200)
	var mu sync.Mutex
	claims := map[string]int{}
	var emitted atomic.Int64

	process := func(_ context.Context, tg manifest.Target) driver.Outcome {
		mu.Lock()
		claims[tg.ID]++
		mu.Unlock()
		return driver.Outcome{Target: tg, Result: manifest.NewResult(tg, time.Now())}
	}
	emit := func(driver.Outcome) error { emitted.Add(1); return nil }

	if err := Run(context.Background(), targets, 16, process, emit); err != nil {
		t.Fatal(err)
	}
	if len(claims) != len(targets) {
		t.Fatalf("claimed %d distinct targets, want %d", len(claims), len(targets))
	}
	for id, n := range claims {
		if n != 1 {
			t.Fatalf("%s claimed %d times", id, n)
		}
	}
	if emitted.Load() != int64(len(targets)) {
		t.Fatalf("emitted %d", emitted.Load())
	}
}

func TestRun_ClampsWorkers(t *testing.T) {
	var active, peak atomic.Int64
	process := func(_ context.Context, tg manifest.Target) driver.Outcome {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return driver.Outcome{Target: tg}
	}
	emit := func(driver.Outcome) error { return nil }

	if err := Run(context.Background(), makeTargets(3), 50, process, emit); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds target count", peak.Load())
	}

	peak.Store(0)
	if err := Run(context.Background(), makeTargets(5), 0, process, emit); err != nil {
		t.Fatal(err)
	}
	if peak.Load() != 1 {
		t.Fatalf("n=0 should run one worker, peak %d", peak.Load())
	}
}

func TestRun_EmitErrorStopsClaims(t *testing.T) {
	boom := errors.New("disk full")
	var processed atomic.Int64
	process := func(_ context.Context, tg manifest.Target) driver.Outcome {
		processed.Add(1)
		return driver.Outcome{Target: tg}
	}
	emit := func(driver.Outcome) error { return boom }

	err := Run(context.Background(), makeTargets(100), 1, process, emit)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if processed.Load() != 1 {
		t.Fatalf("processed %d targets after emit failure", processed.Load())
	}
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	var got []driver.Outcome
	var mu sync.Mutex
	process := func(_ context.Context, tg manifest.Target) driver.Outcome {
		if tg.ID == "https://example.com/v/1" {
			panic("boom")
		}
		return driver.Outcome{Target: tg, Result: manifest.NewResult(tg, time.Now())}
	}
	emit := func(o driver.Outcome) error {
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
		return nil
	}
	if err := Run(context.Background(), makeTargets(3), 2, process, emit); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("emitted %d outcomes", len(got))
	}
	var failed int
	for _, o := range got {
		var de *driver.DriverError
		if errors.As(o.Err, &de) && de.Kind == driver.KindPanic {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("panic outcomes: %d", failed)
	}
}

func TestRun_CancelledContextIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var emitted atomic.Int64
	process := func(ctx context.Context, tg manifest.Target) driver.Outcome {
		cancel()
		<-ctx.Done()
		return driver.Outcome{Target: tg, Err: ctx.Err()}
	}
	emit := func(driver.Outcome) error { emitted.Add(1); return nil }

	if err := Run(ctx, makeTargets(10), 2, process, emit); err != nil {
		t.Fatal(err)
	}
	if emitted.Load() != 0 {
		t.Fatalf("interrupted targets must not be emitted, got %d", emitted.Load())
	}
}

func TestRun_Limiter(t *testing.T) {
	lim := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	process := func(_ context.Context, tg manifest.Target) driver.Outcome { return driver.Outcome{Target: tg} }
	emit := func(driver.Outcome) error { return nil }

	start := time.Now()
	if err := Run(context.Background(), makeTargets(4), 4, process, emit, WithLimiter(lim)); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("limiter not applied, finished in %v", el)
	}
}

func TestPerMinute(t *testing.T) {
	if PerMinute(0) != nil {
		t.Fatal("0 should disable limiting")
	}
	l := PerMinute(120)
	if l == nil {
		t.Fatal("expected a limiter")
	}
	if l.Limit() != 2 {
		t.Fatalf("limit: %v", l.Limit())
	}
}

func TestCursor(t *testing.T) {
	var c Cursor
	for want := range 3 {
		if got := c.Next(); got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}
