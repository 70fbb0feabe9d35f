package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bondai/universal-reporter/internal/dispatch"
	"github.com/bondai/universal-reporter/internal/reporter"
	"github.com/bondai/universal-reporter/internal/scenarios"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reporter", Output: os.Stderr})
	_ = godotenv.Load()

	var files captureFiles
	flag.StringVar(&files.URL, "url", "", "page URL, including the query string")
	flag.StringVar(&files.HTML, "html", "", "path to the saved page HTML")
	flag.StringVar(&files.Cookies, "cookies", "", "cookie header string")
	flag.StringVar(&files.Local, "local-storage", "", "path to a JSON object of local storage items")
	flag.StringVar(&files.Session, "session-storage", "", "path to a JSON object of session storage items")
	flag.StringVar(&files.Events, "events", "", "path to a JSON array of event log entries")
	mode := flag.String("run", "auto", "auto|send|debug|capture|scenarios")
	only := flag.String("only", "", "comma-separated scenario ids (with -run=scenarios)")
	wait := flag.Duration("wait", 15*time.Second, "how long to wait for a status in auto mode")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = reporterLogger(cfg.App, cfg.Reporter.Debug, os.Stderr)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := logg.WithField(sigCtx, "run", *mode)

	reg := prometheus.NewRegistry()
	reporterMetrics := metrics.NewReporterMetrics(reg)

	if *mode == "scenarios" {
		os.Exit(runScenarios(ctx, logg, cfg.Reporter, reporterMetrics, *only))
	}

	p, err := loadPage(files)
	if err != nil {
		logg.Error(ctx, "failed to load page", err)
		os.Exit(2)
	}
	rcfg := cfg.Reporter.ApplyAttributes(p.ScriptAttributes())
	if rcfg.Debug != cfg.Reporter.Debug {
		// The script tag can switch debug on; rebuild from the bare context so
		// the old logger entry is not reused.
		logg = reporterLogger(cfg.App, rcfg.Debug, os.Stderr)
		ctx = logg.WithField(sigCtx, "run", *mode)
	}
	if err := rcfg.Validate(); err != nil {
		logg.Error(ctx, "invalid reporter settings", err)
		os.Exit(2)
	}

	statuses := make(chan dispatch.Result, 1)
	rep, err := reporter.New(reporter.Params{
		Config: rcfg,
		Page:   p,
		OnStatus: func(res dispatch.Result) {
			select {
			case statuses <- res:
			default:
			}
		},
		Logger:  logg,
		Metrics: reporterMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reporter", err)
		os.Exit(2)
	}

	switch *mode {
	case "debug":
		printJSON(rep.Debug(ctx))
	case "capture":
		printJSON(map[string]any{"captured": rep.CaptureLanding(ctx), "cookies": p.Cookies()})
	case "send":
		res := rep.SendNow(ctx)
		printJSON(res)
		exitFor(res)
	case "auto":
		rep.Start(ctx)
		p.MarkReady()
		timer := time.NewTimer(*wait)
		defer timer.Stop()
		select {
		case res := <-statuses:
			printJSON(res)
			exitFor(res)
		case <-timer.C:
			logg.Warn(logg.WithField(ctx, "state", rep.State().String()), "no report was sent")
			os.Exit(1)
		case <-ctx.Done():
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown -run value:", *mode)
		os.Exit(2)
	}
}

func runScenarios(ctx context.Context, logg *logger.Logger, cfg config.ReporterConfig, m *metrics.ReporterMetrics, only string) int {
	var ids []string
	for _, id := range strings.Split(only, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	runner := scenarios.NewRunner(scenarios.RunnerParams{Config: cfg, Logger: logg, Metrics: m})
	outcomes, err := runner.Run(ctx, scenarios.Select(scenarios.Default(), ids...))
	if err != nil {
		logg.Error(ctx, "scenario run interrupted", err)
		return 1
	}
	printJSON(outcomes)
	passed, total := scenarios.Summary(outcomes)
	logg.Info(logg.WithFields(ctx, map[string]any{"passed": passed, "total": total}), "scenario run complete")
	if passed != total {
		return 1
	}
	return 0
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}

func exitFor(res dispatch.Result) {
	if !res.OK {
		os.Exit(1)
	}
}

// reporterLogger builds the CLI logger; debug lowers the level and reveals
// member keys.
func reporterLogger(app config.AppConfig, debug bool, out io.Writer) *logger.Logger {
	level := logger.ParseLevel(app.LogLevel)
	if debug {
		level = zerolog.DebugLevel
	}
	return logger.New(logger.Options{
		ServiceName: "reporter",
		Level:       level,
		WarnStack:   app.LogWarnStack,
		Output:      out,

		RevealIdentifiers: debug,
	})
}
