// Command harvester finds the HLS/DASH manifest behind every page of a
// target list.
//
// Usage:
//
//	harvester login                      # capture a login session interactively
//	harvester run -targets targets.json  # harvest, resuming from the state file
//	harvester summary                    # show the last run's summary
//	harvester history -url <page>        # show journaled runs and attempts
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/harvester/harvest"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("harvester: fatal", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "harvester",
		Usage:   "Discover streaming manifests behind content pages",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"HARVESTER_CONFIG"}, Usage: "path to harvester.yaml"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level: debug, info, warn, error"},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "log format: json or text"},
		},
		Before: func(c *cli.Context) error {
			slog.SetDefault(newLogger(c.String("log-level"), c.String("log-format")))
			return nil
		},
		Commands: []*cli.Command{
			loginCmd(),
			runCmd(),
			summaryCmd(),
			historyCmd(),
		},
	}
}

func newLogger(level, format string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func loadConfig(c *cli.Context) (*harvest.Config, error) {
	return harvest.LoadConfig(c.String("config"))
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Open a visible browser on the login page and save the session",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "replace an existing session"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return harvest.New(cfg, harvest.WithLogger(slog.Default())).Bootstrap(c.Context, c.Bool("force"))
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Harvest every pending target",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "targets", Aliases: []string{"t"}, Usage: "target list: file path or http(s) URL"},
			&cli.StringFlag{Name: "state", Usage: "harvest state file"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"n"}, Usage: "pages processed in parallel"},
			&cli.BoolFlag{Name: "headful", Usage: "show the browser window"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			applyRunFlags(c, cfg)

			sum, err := harvest.New(cfg, harvest.WithLogger(slog.Default())).Run(c.Context)
			switch {
			case errors.Is(err, harvest.ErrBootstrapped):
				fmt.Fprintln(os.Stderr, "Session saved. Run the harvest again to start.")
				return nil
			case sum != nil:
				fmt.Println(renderSummary(sum))
			}
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, "Interrupted. Progress is saved; run again to resume.")
				return cli.Exit("", 130)
			}
			return err
		},
	}
}

func applyRunFlags(c *cli.Context, cfg *harvest.Config) {
	if c.IsSet("targets") {
		cfg.Targets = c.String("targets")
	}
	if c.IsSet("state") {
		// A summary path derived from the old state follows the new one.
		if cfg.SummaryFile == filepath.Join(filepath.Dir(cfg.StateFile), summaryName) {
			cfg.SummaryFile = filepath.Join(filepath.Dir(c.String("state")), summaryName)
		}
		cfg.StateFile = c.String("state")
	}
	if n := c.Int("concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	if c.Bool("headful") {
		headless := false
		cfg.Browser.Headless = &headless
	}
}

const summaryName = "harvest-summary.json"

func summaryCmd() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show the summary of the harvest state",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			sum, err := harvest.ReadSummary(cfg)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(sum)
			}
			fmt.Println(renderSummary(sum))
			return nil
		},
	}
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show journaled runs, and the attempts on one page",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "runs to show (0 = all)"},
			&cli.StringFlag{Name: "url", Usage: "page URL whose attempts to list"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			runs, attempts, err := harvest.History(c.Context, cfg, c.Int("limit"), c.String("url"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(map[string]any{"runs": runs, "attempts": attempts})
			}
			fmt.Println(renderHistory(runs, attempts))
			return nil
		},
	}
}
