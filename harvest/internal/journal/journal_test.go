package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/hazyhaar/harvester/dbopen"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

func setup(t *testing.T) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t)
	n := 0
	j, err := New(context.Background(), db, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("att-%03d", n)
	}))
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestRecordAndAttempts(t *testing.T) {
	j := setup(t)
	ctx := context.Background()
	tg := manifest.Target{ID: "https://example.com/v/1", URL: "https://example.com/v/1"}

	if err := j.StartRun(ctx, "run-1", 1); err != nil {
		t.Fatal(err)
	}
	failed := driver.Outcome{
		Target:  tg,
		Err:     &driver.DriverError{Kind: driver.KindCrashed, Err: errors.New("page crashed")},
		Soft:    []string{manifest.SoftPlayMissing},
		Elapsed: 1500 * time.Millisecond,
	}
	if err := j.Record(ctx, "run-1", failed); err != nil {
		t.Fatal(err)
	}

	res := manifest.NewResult(tg, time.Now())
	res.Status, res.Kind, res.Manifest = manifest.StatusFound, manifest.KindHLS, "https://cdn.example.com/a.m3u8"
	res.SoftFailures = []string{manifest.SoftNavigationTimeout, manifest.SoftPlayMissing}
	if err := j.Record(ctx, "run-2", driver.Outcome{Target: tg, Result: res}); err != nil {
		t.Fatal(err)
	}

	got, err := j.Attempts(ctx, tg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d attempts", len(got))
	}
	if got[0].Status != "failed" || got[0].Error == "" || got[0].Elapsed != 1500*time.Millisecond {
		t.Fatalf("first attempt: %+v", got[0])
	}
	if !slices.Equal(got[0].SoftFailures, []string{manifest.SoftPlayMissing}) {
		t.Fatalf("soft flags: %v", got[0].SoftFailures)
	}
	if got[1].Status != "found" || got[1].Kind != "hls" || got[1].Manifest != res.Manifest {
		t.Fatalf("second attempt: %+v", got[1])
	}
	if len(got[1].SoftFailures) != 2 {
		t.Fatalf("soft flags: %v", got[1].SoftFailures)
	}

	if none, _ := j.Attempts(ctx, "https://example.com/other"); len(none) != 0 {
		t.Fatalf("unexpected attempts: %+v", none)
	}
}

func TestRuns(t *testing.T) {
	j := setup(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	j.now = func() time.Time { return clock }

	for i := range 3 {
		clock = base.Add(time.Duration(i) * time.Hour)
		if err := j.StartRun(ctx, fmt.Sprintf("run-%d", i), 10-i); err != nil {
			t.Fatal(err)
		}
	}
	clock = base.Add(3 * time.Hour)
	if err := j.FinishRun(ctx, "run-2", 5, 2, 1); err != nil {
		t.Fatal(err)
	}

	runs, err := j.Runs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("runs: %+v", runs)
	}
	r := runs[0]
	if r.Pending != 8 || r.Found != 5 || r.NotFound != 2 || r.Failed != 1 {
		t.Fatalf("counters: %+v", r)
	}
	if !r.FinishedAt.Equal(base.Add(3 * time.Hour)) {
		t.Fatalf("finished_at: %v", r.FinishedAt)
	}
	if !runs[1].FinishedAt.IsZero() {
		t.Fatal("unfinished run should have zero finished_at")
	}

	all, _ := j.Runs(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("all runs: %d", len(all))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "harvest.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.StartRun(context.Background(), "r", 0); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	runs, err := j.Runs(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("reopen: %v %+v", err, runs)
	}
}
