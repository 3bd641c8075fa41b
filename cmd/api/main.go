package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"sensor-etl/internal/api"
	"sensor-etl/internal/config"
	"sensor-etl/internal/importer"
	"sensor-etl/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file (optional)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Infof("config %s not found, using defaults", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		logrus.Fatalf("invalid environment: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	if err := cfg.Log.Apply(); err != nil {
		logrus.Fatalf("invalid log config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.Storage, cfg.Retry)
	if err != nil {
		logrus.Fatalf("failed to connect to store: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logrus.Fatalf("failed to prepare store: %v", err)
	}

	srv := api.NewServer(importer.New(cfg, db))
	if err := srv.Run(ctx, cfg.API.Port); err != nil {
		logrus.Errorf("server stopped with error: %v", err)
	}
}
