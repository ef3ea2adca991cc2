package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/celerix-dev/assessment-bridge/internal/config"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/internal/platform/tracing"
	"github.com/celerix-dev/assessment-bridge/internal/provider"
	"github.com/celerix-dev/assessment-bridge/internal/server"
	"github.com/celerix-dev/assessment-bridge/internal/vault"
	"github.com/celerix-dev/assessment-bridge/pkg/sdk"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.LoadProvider()
	fs := pflag.NewFlagSet("provider", pflag.ExitOnError)
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("provider stopped", "error", err)
	}
}

func run(cfg config.Provider, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.Tracing)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	if cfg.APIKey == "" {
		log.Warn("PROVIDER_API_KEY is empty, export and create will always answer unauthorized")
	}

	backend, err := sdk.New(sdk.Options{
		BackendURL:   cfg.BackendURL,
		APIKey:       cfg.BackendAPIKey,
		APIKeyHeader: cfg.APIKeyHeader,
		Timeout:      cfg.Timeout,
		Log:          log.With("component", "backend-client"),
	})
	if err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}
	if client, ok := backend.(*sdk.Client); ok {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		if err := client.Ping(pingCtx); err != nil {
			log.Warn("backend not reachable yet", "url", cfg.BackendURL, "error", err)
		}
		cancel()
	}

	router := server.NewRouter("provider", log, cfg.APIKeyHeader)
	if cfg.TLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	}

	h := provider.NewHandler(backend, provider.Config{
		APIKey:       cfg.APIKey,
		APIKeyHeader: cfg.APIKeyHeader,
		PublicURL:    cfg.PublicURL,
		WebhookURL:   cfg.WebhookURL,
		PlatformURL:  cfg.PlatformURL,
		SigningKey:   cfg.SigningKey,
	}, log)
	h.Register(router.Engine())

	log.Info("provider adapter starting", "backend", cfg.BackendURL, "webhook_url", cfg.WebhookURL)
	return router.Listen(ctx, cfg.HTTPPort)
}
