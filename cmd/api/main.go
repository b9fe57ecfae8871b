package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/kyc"
	"escrowflow/logging"
	"escrowflow/payment"
	"escrowflow/webhook"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditor := audit.NewWriter()
	escrowRepo := escrow.NewRepository(pool)
	paymentRepo := payment.NewRepository(pool)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	escrowSvc := escrow.NewService(pool, escrowRepo, paymentRepo, auditor)
	kycSvc := kyc.NewService(pool, nil, auditor)
	disputeSvc := dispute.NewService(pool, nil, escrowRepo, escrowSvc, auditor)
	payoutSvc := payment.NewService(pool, paymentRepo, auditor)
	webhookSvc := webhook.NewService(pool, nil, paymentRepo, escrowRepo, auditor, cfg.Webhook.Secret)

	server := &Server{
		authService:    authSvc,
		escrowService:  escrowSvc,
		kycService:     kycSvc,
		disputeService: disputeSvc,
		webhookService: webhookSvc,
		payoutService:  payoutSvc,
		logger:         logger,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           server.routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
