package main

// Agent entrypoint — loads configuration, wires the wallet, starts the
// background loops and A2A gateway, and blocks on signal handling.

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/core"
	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/config"
	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	wallet, err := core.NewWallet(cfg, log, core.SystemClock{})
	if err != nil {
		log.WithError(err).Fatal("failed to wire wallet")
	}

	if !wallet.Keystore.IsInitialized() {
		log.Warn("keystore is not initialized; run `wallet init` before sending")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := wallet.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start wallet background loops")
	}
	log.WithFields(logrus.Fields{
		"network":     cfg.Network,
		"api_enabled": cfg.API.Enabled,
	}).Info("wallet agent running")

	<-ctx.Done()
	log.Info("shutdown signal received, draining background loops")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := wallet.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("wallet shutdown did not complete cleanly")
		os.Exit(1)
	}
	log.Info("wallet agent stopped")
}
