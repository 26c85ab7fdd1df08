package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/gateway"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := config.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	port := config.GetEnv("GATEWAY_PORT", "8080")

	gatewayConfig := gateway.NewConfigFromEnv()

	log.Info().
		Str("nats_url", gatewayConfig.NATSURL).
		Bool("journal", gatewayConfig.JournalEnabled).
		Str("port", port).
		Msg("starting relay gateway")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.New()
	gatewayService, err := gateway.NewService(ctx, gatewayConfig, met)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     gatewayService.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("relay gateway shutdown complete")
}
