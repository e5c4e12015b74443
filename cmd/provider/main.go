// provider runs the reference trip provider backend: the REST and
// websocket surface the rider and driver apps talk to.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ridehail-demo/internal/backend"
	"github.com/example/ridehail-demo/internal/config"
	"github.com/example/ridehail-demo/internal/eta"
	"github.com/example/ridehail-demo/internal/logging"
	"github.com/example/ridehail-demo/internal/payments"
)

func main() {
	cfg, err := config.LoadProviderConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && os.Getenv("MIGRATE") == "true" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var store backend.Store
	if cfg.PGDSN != "" {
		ps, err := backend.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
		logger.Info("using postgres store")
	} else {
		store = backend.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var events *backend.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		events = backend.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer events.Close()
		logger.Info("trip events enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	var gateway backend.PaymentGateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeClient(cfg.StripeAPIKey, cfg.Currency)
		logger.Info("fare holds enabled", "currency", cfg.Currency)
	}

	var etaClient eta.Client
	var etaCache *eta.Cache
	if cfg.OSRMEndpoint != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		etaCache = eta.NewCache(5 * time.Minute)
		logger.Info("OSRM ETAs enabled", "endpoint", cfg.OSRMEndpoint)
	}

	server := backend.NewServer(backend.Options{
		Store:           store,
		Tokens:          backend.NewTokenSigner(cfg.TokenSecret, cfg.TokenTTL),
		Events:          events,
		Payments:        gateway,
		ETAClient:       etaClient,
		ETACache:        etaCache,
		ProviderID:      cfg.ProviderID,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic sweep catches trips created while no vehicle had
	// capacity; creation-time matching handles the common case.
	go server.Matcher().Run(ctx, 2*time.Second)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("provider listening", "addr", cfg.HTTPAddr, "provider_id", cfg.ProviderID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listener stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	script, err := os.ReadFile(filepath.Join("migrations", "001_create_tables.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(script))
	return err
}
