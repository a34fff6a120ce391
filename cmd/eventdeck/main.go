// Package main implements the eventdeck server binary: the event display,
// analytics and admin HTTP API, the optional gRPC analytics service and the
// maintenance daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/eventdeck/eventdeck/internal/app"
	"github.com/eventdeck/eventdeck/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		grpcAddr    string
		apiKeys     string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (enables gRPC)")
	flag.StringVar(&apiKeys, "api-keys", "", "Comma-separated API keys for privileged routes")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "eventdeck - event listings with cached queries and analytics\n\n")
		fmt.Fprintf(os.Stderr, "Usage: eventdeck [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  eventdeck --data-dir /var/lib/eventdeck\n")
		fmt.Fprintf(os.Stderr, "  eventdeck --config /etc/eventdeck/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  EVENTDECK_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  EVENTDECK_API_KEYS          Comma-separated API keys\n")
		fmt.Fprintf(os.Stderr, "  EVENTDECK_ANALYTICS_BACKEND Analytics backend (sqlite, postgres)\n")
		fmt.Fprintf(os.Stderr, "  EVENTDECK_STORAGE_TYPE      Archive storage type (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("eventdeck version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr, grpcAddr, apiKeys)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		fatal("failed to create application", err)
	}
	logger := application.Logger()
	logger.Info("configuration loaded",
		"version", version,
		"data_dir", cfg.DataDir,
		"http", cfg.HTTP.Addr,
		"grpc", grpcSummary(cfg),
		"analytics_backend", cfg.Analytics.Backend,
		"storage", cfg.Storage.Type)
	if len(cfg.APIKeys) == 0 {
		logger.Warn("no API keys configured; privileged routes will refuse every request")
	}

	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", "error", err)
		application.Stop(context.Background())
		os.Exit(1)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, file, environment and flags, in that order.
func loadConfig(configFile, dataDir, httpAddr, grpcAddr, apiKeys string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
		cfg.GRPC.Enabled = true
	}
	if apiKeys != "" {
		cfg.APIKeys = nil
		for _, k := range strings.Split(apiKeys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.APIKeys = append(cfg.APIKeys, k)
			}
		}
	}
	return cfg, nil
}

func grpcSummary(cfg *config.Config) string {
	if !cfg.GRPC.Enabled {
		return "disabled"
	}
	return cfg.GRPC.Addr
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
