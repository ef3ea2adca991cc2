package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/assessment-bridge/internal/api"
	"github.com/celerix-dev/assessment-bridge/internal/catalog"
	"github.com/celerix-dev/assessment-bridge/internal/config"
	"github.com/celerix-dev/assessment-bridge/internal/middleware"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/internal/platform/tracing"
	"github.com/celerix-dev/assessment-bridge/internal/relay"
	"github.com/celerix-dev/assessment-bridge/internal/server"
	"github.com/celerix-dev/assessment-bridge/internal/service"
	"github.com/celerix-dev/assessment-bridge/internal/vault"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.LoadBackend()
	fs := pflag.NewFlagSet("assessd", pflag.ExitOnError)
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("assessd stopped", "error", err)
	}
}

func run(cfg config.Backend, log *logger.Logger) error {
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
		log.Warn("ASSESS_API_KEY is empty, protected endpoints will reject every request")
	}

	// 1. Persistence and store
	persister, err := engine.NewPersistence(cfg.DataFile)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}
	records, err := persister.Load()
	if err != nil {
		if !errors.Is(err, engine.ErrCorruptSnapshot) {
			return fmt.Errorf("load store: %w", err)
		}
		log.Warn("store file corrupt, moved aside and starting empty", "path", cfg.DataFile, "error", err)
	}
	store := engine.NewMemStore(records, persister)
	log.Info("store loaded", "path", cfg.DataFile, "records", store.Len())

	// 2. Catalog
	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	pkgs := cat.Packages()
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, fmt.Sprintf("%d:%s", p.ID, p.Name))
	}
	log.Info("catalog loaded", "packages", len(pkgs), "entries", names)

	g, gctx := errgroup.WithContext(ctx)

	// 3. Relay
	direct := relay.NewHTTPNotifier(cfg.RelayTimeout, cfg.SigningKey)
	var notifier relay.Notifier = direct
	switch cfg.RelayMode {
	case "http", "":
	case "amqp":
		queue, err := relay.DialQueue(cfg.RabbitMQURL, cfg.RelayQueue)
		if err != nil {
			return err
		}
		defer queue.Close()
		notifier = queue
		consumer := &relay.Consumer{Queue: queue, Deliver: direct, Log: log.With("component", "relay-consumer"), Backoff: time.Second}
		g.Go(func() error { return consumer.Run(gctx) })
		log.Info("queued relay enabled", "queue", cfg.RelayQueue)
	default:
		return fmt.Errorf("unknown relay mode %q", cfg.RelayMode)
	}

	svc := service.New(store, cat, notifier, log)

	// 4. HTTP
	router := server.NewRouter("assessd", log, cfg.APIKeyHeader)
	if cfg.TLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	}

	h := &api.Handler{Service: svc, PublicURL: cfg.PublicURL}
	auth := middleware.RequireAPIKey(cfg.APIKeyHeader, cfg.APIKey)
	r := router.Engine()
	r.GET("/hello", h.Hello)
	h.Register(r, auth)
	h.Register(r.Group("/api"), auth)

	g.Go(func() error { return router.Listen(gctx, cfg.HTTPPort) })

	err = g.Wait()

	log.Info("shutdown signal received, waiting for webhook dispatches")
	svc.Wait()
	log.Info("shutdown complete")
	return err
}
