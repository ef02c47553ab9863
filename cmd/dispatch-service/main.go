package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/api"
	"github.com/aquamart/dispatch/internal/arbiter"
	"github.com/aquamart/dispatch/internal/config"
	"github.com/aquamart/dispatch/internal/events"
	"github.com/aquamart/dispatch/internal/ledger"
	"github.com/aquamart/dispatch/internal/lifecycle"
	"github.com/aquamart/dispatch/internal/locks"
	"github.com/aquamart/dispatch/internal/notify"
	"github.com/aquamart/dispatch/internal/registry"
	"github.com/aquamart/dispatch/internal/store"
	"github.com/aquamart/dispatch/internal/sweeper"
	ws "github.com/aquamart/dispatch/internal/websocket"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()

	var st store.Store
	var healthCheck func() error
	if cfg.UseMemoryStore {
		st = store.NewMemoryStore()
		logger.Info("Using in-memory store")
	} else {
		pg, err := connectPostgres(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer pg.Close()
		st = pg
		healthCheck = pg.Ping
	}

	var publisher events.Publisher
	producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("Kafka unavailable, events disabled")
	} else {
		defer producer.Close()
		publisher = producer
	}

	lockManager := locks.NewManager()

	registrySvc := registry.NewService(st, lockManager, publisher, logger, cfg.RequestTTL, cfg.CartTTL)
	ledgerSvc := ledger.NewService(st, lockManager, logger)
	arbiterSvc := arbiter.NewService(st, lockManager, publisher, logger)
	lifecycleSvc := lifecycle.NewService(st, lockManager, publisher, logger)

	handler := api.NewHandler(registrySvc, ledgerSvc, arbiterSvc, lifecycleSvc, logger)
	if healthCheck != nil {
		handler.SetHealthCheck(healthCheck)
	}

	hub := ws.NewHub(logger)
	go hub.Run()
	handler.SetHub(hub)

	if cfg.StorefrontURL != "" {
		handler.SetNotifier(notify.NewClient(cfg.StorefrontURL, cfg.StorefrontTimeout, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := sweeper.New(st, lockManager, logger, cfg.SweepInterval)
	go sweep.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AppPort),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.AppPort).Info("Starting dispatch service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func connectPostgres(cfg config.Config, logger *logrus.Logger) (*store.PostgresStore, error) {
	var lastErr error
	for i := 0; i < 30; i++ {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN(), logger)
		if err == nil {
			if pingErr := pg.Ping(); pingErr == nil {
				logger.Info("Database connection established")
				return pg, nil
			} else {
				lastErr = pingErr
				pg.Close()
			}
		} else {
			lastErr = err
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}
	return nil, lastErr
}
