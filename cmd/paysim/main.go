package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront/internal/paysim"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	logger := telemetry.NewLogger(os.Stdout, "paysim", os.Getenv("LOG_LEVEL"))

	cfg := paysim.Config{
		KeyID:         os.Getenv("PAYMENT_KEY_ID"),
		KeySecret:     os.Getenv("PAYMENT_KEY_SECRET"),
		WebhookURL:    os.Getenv("PAYMENT_WEBHOOK_URL"),
		WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
	}
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		logger.Error("PAYMENT_KEY_ID and PAYMENT_KEY_SECRET are required")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8085"
	}

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	mux := http.NewServeMux()
	paysim.NewServer(cfg, client, logger).Register(mux)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      otelhttp.NewHandler(mux, "paysim"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting payment simulator", "port", port, "webhook_url", cfg.WebhookURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
