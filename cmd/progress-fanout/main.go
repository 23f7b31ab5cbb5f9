package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oklog/run"

	"github.com/astrokit/sequencer/common/bootstrap"
)

func main() {
	ctx := context.Background()

	// The fanout only needs Redis; no database.
	components, err := bootstrap.Setup(ctx, "progress-fanout", bootstrap.WithoutDB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap progress-fanout: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	log := components.Logger
	redisRaw := components.Redis.GetUnderlying()

	hub := NewHub(log)
	subscriber := NewRedisSubscriber(redisRaw, hub, log)
	server := NewServer(hub, redisRaw, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", components.Config.Service.Port),
		Handler: mux,
		// WebSocket connections are long-lived; read/write timeouts would
		// kill active streams.
		IdleTimeout: 120 * time.Second,
	}

	var group run.Group

	// Hub loop
	hubStop := make(chan struct{})
	group.Add(func() error {
		hub.Run(hubStop)
		return nil
	}, func(error) {
		close(hubStop)
	})

	// Redis subscriber
	subCtx, subCancel := context.WithCancel(ctx)
	group.Add(func() error {
		return subscriber.Start(subCtx)
	}, func(error) {
		subCancel()
	})

	// HTTP server
	group.Add(func() error {
		log.Info("progress-fanout listening", "addr", httpServer.Addr)
		return httpServer.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	})

	// Signal handling
	group.Add(run.SignalHandler(ctx, os.Interrupt, os.Kill))

	err = group.Run()
	var sigErr run.SignalError
	switch {
	case err == nil:
	case errors.As(err, &sigErr):
		log.Info("shutdown signal received", "signal", sigErr.Signal.String())
	default:
		log.Error("progress-fanout exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("progress-fanout stopped")
}
