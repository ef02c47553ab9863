package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/config"
	"github.com/aquamart/dispatch/internal/events"
	ws "github.com/aquamart/dispatch/internal/websocket"
)

// track-monitor bridges order status events from Kafka to the storefront's
// tracking pages over WebSocket.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()
	port := cfg.AppPort + 1

	hub := ws.NewHub(logger)
	go hub.Run()

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, "track-monitor-group",
		&statusHandler{hub: hub, logger: logger}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, mux.Vars(r)["id"])
	}).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"track-monitor"}`))
	}).Methods("GET")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting track monitor")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down track monitor...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

type statusHandler struct {
	hub    *ws.Hub
	logger *logrus.Logger
}

func (h *statusHandler) HandleOrderStatusChanged(event events.OrderStatusChangedEvent) error {
	h.hub.Broadcast(event.OrderID, event.Status)
	h.logger.WithFields(logrus.Fields{
		"order_id":    event.OrderID,
		"status":      event.Status,
		"subscribers": h.hub.SubscriberCount(event.OrderID),
	}).Info("Status update relayed")
	return nil
}
