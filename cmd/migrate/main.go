package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bondai/universal-reporter/internal/relay"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/db"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
	origin  string
	limit   int
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "bondai-migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate|deliveries")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.StringVar(&opts.origin, "origin", "", "registrable origin domain filter for -cmd=deliveries")
	flag.IntVar(&opts.limit, "limit", 20, "row limit for -cmd=deliveries")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "config.load_failed", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "bondai-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	if !cfg.DB.Enabled() {
		return fmt.Errorf("%s is required", config.EnvDBDSN)
	}
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	logg.Info(ctx, "migrate.ready")

	switch opts.cmd {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, client.Driver(), opts.dir, opts.cmd)
	case "version":
		if opts.version == "" {
			return errors.New("missing -version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, client.Driver(), opts.dir, opts.version)
	case "deliveries":
		return printDeliveries(ctx, relay.NewGormStore(client.DB()), opts.origin, opts.limit)
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
}

func printDeliveries(ctx context.Context, store *relay.GormStore, origin string, limit int) error {
	rows, err := store.Recent(ctx, origin, limit)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tORIGIN\tOUTCOME\tSTATUS\tAMOUNT\tSAVINGS\tLATENCY")
	for _, d := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%dms\n",
			d.CreatedAt.UTC().Format(time.RFC3339), d.OriginDomain, d.Outcome,
			d.UpstreamStatus, d.OfferAmount.StringFixed(2), d.OfferSavingsAmount.StringFixed(2), d.LatencyMS)
	}
	return tw.Flush()
}
