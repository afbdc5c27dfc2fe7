// Setter service — multi-tenant conversational automation control plane.
//
// It provides:
//   - Worker lifecycle management (per-tenant platform workers, tier
//     admission, restart with backoff, full tenant purge)
//   - Conversation state (activation, bot pause, human presence)
//   - Agent networks with trigger-based routing and switching
//   - The response cascade: action flows, rules, starters, default AI
//   - An operations HTTP API plus a WebSocket bridge for platform clients
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("Setter service starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		httpServer.Shutdown(shutdownCtx)
		srv.Manager.StopAll(shutdownCtx)
		cancel()
		srv.Store.Close()
		srv.ShutdownFunc(shutdownCtx)
	}()

	log.Info().Int("port", srv.Port).Msg("Setter service listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
