package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pushbeam/backend/internal/config"
	"github.com/pushbeam/backend/internal/consume"
	"github.com/pushbeam/backend/internal/dispatch"
	"github.com/pushbeam/backend/internal/hub"
	"github.com/pushbeam/backend/internal/journal"
	"github.com/pushbeam/backend/internal/server"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Journal
	jour, err := journal.New(ctx, cfg)
	if err != nil {
		log.Fatalf("journal init failed: %v", err)
	}

	// Pipeline
	broadcast := hub.New()
	dispatcher := dispatch.New(jour)

	consumer := consume.New(jour, broadcast, cfg.ConsumerGroup)
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("consumer start failed: %v", err)
	}

	// HTTP Server
	srv := server.New(cfg, dispatcher, broadcast)

	// Graceful shutdown: stop accepting requests, then the consumer
	// (in-flight records stay uncommitted for redelivery), then the
	// hub and journal.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}

		consumer.Stop()
		broadcast.Stop()
		if err := jour.Close(); err != nil {
			log.Printf("Journal close failed: %v", err)
		}
	}()

	log.Printf("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}
