package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"task-notification-service/internal/api"
	"task-notification-service/internal/config"
	"task-notification-service/internal/db"
	"task-notification-service/internal/kafka"
	"task-notification-service/internal/logging"
	"task-notification-service/internal/notification"
	"task-notification-service/internal/providers"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConn, err := db.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.EnsureSchema(ctx); err != nil {
		logger.Fatalf("Schema setup failed: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Timezone setup failed: %v", err)
	}

	// Persistent-channel sinks
	sinks := []notification.Sink{providers.NewArchiveSink(dbConn, logger)}
	var verifier api.ChatVerifier
	if cfg.Telegram.BotToken != "" {
		tg, err := providers.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.RateLimit, dbConn, logger, loc)
		if err != nil {
			logger.Fatalf("Telegram setup failed: %v", err)
		}
		sinks = append(sinks, tg)
		verifier = tg
	} else {
		logger.Warnf("TELEGRAM_BOT_TOKEN not set, Telegram delivery disabled")
	}

	// Initialize notification service
	svc, err := notification.New(dbConn, logger, cfg, notification.Options{Sinks: sinks})
	if err != nil {
		logger.Fatalf("Notification service init failed: %v", err)
	}
	if _, err := svc.Init(ctx); err != nil {
		logger.Fatalf("Re-arming timers failed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		logger.Fatalf("Notification service start failed: %v", err)
	}

	// Initialize Kafka consumer
	var wg sync.WaitGroup
	var consumer *kafka.Consumer
	if cfg.Kafka.Broker != "" {
		consumer = kafka.NewConsumer(cfg, svc, logger)
		consumer.Start(ctx, &wg)
	} else {
		logger.Warnf("KAFKA_BROKER not set, task events accepted over HTTP only")
	}

	// Start API server
	handler := api.NewHandler(svc, dbConn, verifier, logger)
	srv := &http.Server{
		Addr:    cfg.API.Port,
		Handler: api.NewRouter(handler, logger, cfg),
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}
	if consumer != nil {
		consumer.Close()
	}
	wg.Wait()
	svc.Stop()
	logger.Infof("Service stopped")
}
