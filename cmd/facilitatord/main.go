// Package main provides the entry point for the facilitatord server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agoramesh/facilitator/internal/server"
	"github.com/agoramesh/facilitator/pkg/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address, overrides the config file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig resolves the effective configuration: the file when given,
// the in-memory development defaults otherwise, with flag overrides on
// top.
func loadConfig(opts serverOptions) (*service.Config, error) {
	cfg := service.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := service.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	return cfg, nil
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("facilitatord version %s\n", server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("assembling service: %w", err)
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.Background()); err != nil {
			log.Warn("service shutdown failed", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     tlsFile(cfg.Server.TLS.Enabled, cfg.Server.TLS.CertFile),
		TLSKeyFile:      tlsFile(cfg.Server.TLS.Enabled, cfg.Server.TLS.KeyFile),
		Logger:          log,
	}, svc.Handler(), svc.Health())

	return srv.Run(ctx)
}

// tlsFile returns path only when TLS is enabled.
func tlsFile(enabled bool, path string) string {
	if !enabled {
		return ""
	}
	return path
}
