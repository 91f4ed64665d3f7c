// Agent hosts the telemetry pipeline: a local ingest API for producers, periodic and critical-triggered
// delivery, connectivity probing and a shutdown flush on SIGINT/SIGTERM.
//
// Configuration comes from the environment and .env, or from --config (which is also watched so
// LOG_LEVEL can be changed without a restart).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"retail-platform/telemetry/internal/agent"
	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/logging"
	telemetryotel "retail-platform/telemetry/internal/telemetry/otel"
)

const serviceName = "retail-telemetry-agent"

var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logFormat string
	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file (.env, .yaml or .json); default reads .env and the environment")
	flagSet.StringVar(&logFormat, "log-format", "", "json or text (default: text on a terminal, json otherwise)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	logOpts := logging.Options{Level: cfg.LogLevel, Format: logFormat, Name: serviceName}
	if cfg.OTLPEndpoint != "" && providers.LoggerProvider != nil {
		logOpts.Provider = providers.LoggerProvider
	}
	logger, level, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if configPath != "" {
		err := config.Watch(configPath, logger, func(c *config.Config) {
			if err := logging.SetLevel(level, c.LogLevel); err != nil {
				logger.Warn("agent: ignoring log level", "err", err)
				return
			}
			logger.Info("agent: config reloaded", "log_level", level.Level().String())
		})
		if err != nil {
			logger.Warn("agent: config watch disabled", "err", err)
		}
	}

	a, err := agent.New(ctx, cfg, logger, providers.MeterProvider.Meter(serviceName))
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("agent: starting", "version", version, "transport", cfg.Transport, "store", cfg.Store)
	return a.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}
