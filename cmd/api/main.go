package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/trustledger/internal/api"
	"github.com/punchamoorthee/trustledger/internal/config"
	"github.com/punchamoorthee/trustledger/internal/service"
	"github.com/punchamoorthee/trustledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		logrus.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	gateway, err := store.Open(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Unable to open %s store: %v", cfg.StoreBackend, err)
	}
	defer gateway.Close()

	ledger, err := service.NewLedger(ctx, gateway, service.Options{Difficulty: cfg.Difficulty})
	if err != nil {
		logrus.Fatalf("Unable to load ledger: %v", err)
	}
	if !ledger.VerifyIntegrity(ctx) {
		logrus.Warn("Chain failed integrity verification; mining requests will be refused")
	}

	handler := api.NewHandler(ledger, cfg.MinerID, cfg.MiningTimeout)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":       cfg.Port,
		"backend":    cfg.StoreBackend,
		"difficulty": cfg.Difficulty,
		"env":        cfg.Env,
	}).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Fatal(err)
	}
	logrus.Info("Server stopped")
}
