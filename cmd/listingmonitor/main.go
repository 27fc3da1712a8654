package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"ListingMonitor/internal/app"
	"ListingMonitor/internal/config"
	"ListingMonitor/internal/logging"
)

type options struct {
	Config   string `short:"c" long:"config" env:"LISTING_MONITOR_CONFIG" description:"Path to the YAML configuration file"`
	Once     bool   `long:"once" description:"Run a single ingestion cycle and exit"`
	LogLevel string `long:"log-level" description:"Override the configured log level (debug, info, warn, error)"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg := config.Load(opts.Config)
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger, closer, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logging:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		closer.Close()
		os.Exit(1)
	}

	run := application.Run
	if opts.Once {
		run = application.RunOnce
	}

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped", "error", err)
		stop()
		closer.Close()
		os.Exit(1)
	}
}
