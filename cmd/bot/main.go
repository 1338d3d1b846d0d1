// Package main is the entry point for the protective order bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tathienbao/trailbot/internal/alerting"
	"github.com/tathienbao/trailbot/internal/audit"
	"github.com/tathienbao/trailbot/internal/config"
	"github.com/tathienbao/trailbot/internal/engine"
	"github.com/tathienbao/trailbot/internal/feed"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/gateway/ibkr"
	"github.com/tathienbao/trailbot/internal/gateway/paper"
	"github.com/tathienbao/trailbot/internal/metrics"
	"github.com/tathienbao/trailbot/internal/store"
)

// Version information (set by build flags).
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trailbot - Trigger and Protective Order Orchestration

Usage:
  trailbot <command> [options]

Commands:
  run        Start the orchestration engine
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  trailbot run --config config.yaml
  trailbot validate --config config.yaml

Use "trailbot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trailbot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Profile:       %s\n", cfg.Profile)
	fmt.Printf("  Feed:          %s\n", cfg.Feed.Type)
	fmt.Printf("  Trigger mode:  %s\n", cfg.TriggerMode())
	fmt.Printf("  Gateway:       %s\n", cfg.Gateway.Type)
	fmt.Printf("  Sync interval: %s\n", cfg.SyncInterval())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	// Setup structured logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("trailbot starting",
		"version", Version,
		"profile", cfg.Profile,
		"feed", cfg.Feed.Type,
		"gateway", cfg.Gateway.Type,
		"trigger_mode", cfg.TriggerMode().String(),
	)
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	// Instruction source
	source := buildSource(cfg)

	// Order gateway
	gw := buildGateway(cfg, logger)
	if err := gw.Connect(ctx); err != nil {
		slog.Error("gateway connect failed", "err", err)
		os.Exit(1)
	}
	defer gw.Disconnect()

	// Audit trail
	var sink audit.Sink
	if cfg.Audit.Enabled {
		s, err := audit.NewSQLiteSink(cfg.Audit.Path)
		if err != nil {
			slog.Error("audit sink open failed", "path", cfg.Audit.Path, "err", err)
			os.Exit(1)
		}
		defer s.Close()
		sink = s
	}

	// Alerting
	alerter := buildAlerter(cfg, logger)

	st := store.New(logger)

	eng := engine.New(engine.Config{
		Profile:      cfg.Profile,
		SyncInterval: cfg.SyncInterval(),
		TriggerMode:  cfg.TriggerMode(),
		OrderTimeout: cfg.OrderTimeout(),
	}, source, st, gw, sink, alerter, logger)

	// Metrics and health endpoints
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = buildMetricsServer(cfg, logger, gw, eng)
		if err := metricsServer.Start(); err != nil {
			slog.Error("metrics server start failed", "err", err)
			os.Exit(1)
		}
	}

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start failed", "err", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout(),
	)
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		slog.Error("engine stop failed", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "err", err)
		}
	}

	slog.Info("trailbot shutdown complete")
}

func buildSource(cfg *config.Config) feed.Source {
	if cfg.Feed.Type == "http" {
		return feed.NewHTTPSource(cfg.Feed.URL, cfg.FeedTimeout())
	}
	return feed.NewCSVSource(cfg.Feed.Path)
}

func buildGateway(cfg *config.Config, logger *slog.Logger) gateway.Gateway {
	if cfg.Gateway.Type == "ibkr" {
		return ibkr.NewClient(cfg.ToIBKRConfig(), logger)
	}
	return paper.New(paper.DefaultConfig(), logger)
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		case "email":
			alerters = append(alerters, alerting.NewEmailAlerter(alerting.EmailConfig{
				Host:     ch.SMTPHost,
				Port:     ch.SMTPPort,
				Username: ch.SMTPUsername,
				Password: ch.SMTPPassword,
				From:     ch.From,
				To:       ch.To,
			}))
		}
	}
	if len(alerters) == 0 {
		return nil
	}

	return alerting.NewMultiAlerter(logger, alerters...)
}

func buildMetricsServer(cfg *config.Config, logger *slog.Logger, gw gateway.Gateway, eng *engine.Engine) *metrics.Server {
	srv := metrics.NewServer(metrics.ServerConfig{
		Port:        cfg.Metrics.Port,
		MetricsPath: cfg.Metrics.Path,
		HealthPath:  "/health",
	}, logger)

	srv.RegisterHealthCheck("gateway", func() metrics.Check {
		if !gw.IsConnected() {
			return metrics.Unhealthy("gateway disconnected")
		}
		return metrics.Healthy()
	})
	srv.RegisterHealthCheck("engine", func() metrics.Check {
		if !eng.IsRunning() {
			return metrics.Unhealthy("engine not running")
		}
		return metrics.Healthy()
	})
	srv.RegisterHealthCheck("feed", func() metrics.Check {
		last := eng.LastCycle()
		if last.IsZero() {
			return metrics.Unhealthy("no completed cycle yet")
		}
		return metrics.Healthy()
	})

	return srv
}
