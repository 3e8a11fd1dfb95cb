package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/harvester/harvest"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

func TestApplyRunFlags(t *testing.T) {
	cfg := harvest.DefaultConfig()
	cmd := runCmd()
	cmd.Action = func(c *cli.Context) error {
		applyRunFlags(c, cfg)
		return nil
	}
	app := &cli.App{Commands: []*cli.Command{cmd}}

	state := filepath.Join("out", "state.json")
	err := app.Run([]string{"harvester", "run", "--targets", "https://example.com/list.json",
		"--state", state, "-n", "7", "--headful"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Targets != "https://example.com/list.json" || cfg.StateFile != state || cfg.Concurrency != 7 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.SummaryFile != filepath.Join("out", summaryName) {
		t.Fatalf("summary should follow the state: %s", cfg.SummaryFile)
	}
	if cfg.Browser.IsHeadless() {
		t.Fatal("headful flag ignored")
	}
}

func TestApplyRunFlags_KeepsExplicitSummary(t *testing.T) {
	cfg := harvest.DefaultConfig()
	cfg.SummaryFile = "/var/lib/harvest/summary.json"
	cmd := runCmd()
	cmd.Action = func(c *cli.Context) error {
		applyRunFlags(c, cfg)
		return nil
	}
	app := &cli.App{Commands: []*cli.Command{cmd}}
	if err := app.Run([]string{"harvester", "run", "--state", "elsewhere/state.json"}); err != nil {
		t.Fatal(err)
	}
	if cfg.SummaryFile != "/var/lib/harvest/summary.json" || !cfg.Browser.IsHeadless() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestRenderSummary(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := renderSummary(&manifest.Summary{
		RunID:        "run_1",
		StartedAt:    start,
		FinishedAt:   start.Add(90 * time.Second),
		Targets:      10,
		Processed:    4,
		Found:        3,
		Failed:       1,
		SoftFailures: map[string]int{manifest.SoftNavigationTimeout: 2},
		TotalResults: 9,
		TotalFound:   6,
		PendingRetry: 1,
		ByKind:       map[manifest.Kind]int{manifest.KindHLS: 5, manifest.KindDASH: 1},
	})
	for _, want := range []string{"run_1", "processed", "failed", "to retry", "hls", "dash", manifest.SoftNavigationTimeout} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}

	// A state-only summary has no run panel.
	if out := renderSummary(&manifest.Summary{TotalResults: 1}); strings.Contains(out, "Run ") {
		t.Errorf("unexpected run panel:\n%s", out)
	}
}

func TestRenderHistory(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := renderHistory(
		[]harvest.RunRecord{{ID: "run_a", StartedAt: at, Found: 2}},
		[]harvest.AttemptRecord{
			{Status: "failed", Error: "page crashed", CreatedAt: at},
			{Status: "found", Kind: "hls", Manifest: "https://cdn.example.com/a.m3u8", CreatedAt: at},
		})
	for _, want := range []string{"run_a", "unfinished", "page crashed", "https://cdn.example.com/a.m3u8"} {
		if !strings.Contains(out, want) {
			t.Errorf("history lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(renderHistory(nil, nil), "Attempts") {
		t.Error("attempts section without a url")
	}
}
