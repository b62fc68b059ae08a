package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/payring/payring/internal/api"
	"github.com/payring/payring/internal/auth"
	"github.com/payring/payring/internal/config"
	"github.com/payring/payring/internal/directory"
	"github.com/payring/payring/internal/ledger/postgres"
	"github.com/payring/payring/internal/transfer"
	"github.com/payring/payring/pkg/messaging"
	"github.com/payring/payring/pkg/money"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	cancel()

	store := postgres.New(db, cfg.LockTimeout)

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	var pub transfer.Publisher
	var nc *messaging.Client
	if cfg.NATSURL != "" {
		nc, err = messaging.NewClient(messaging.Config{
			URL:            cfg.NATSURL,
			Name:           "payring-api",
			ReconnectWait:  time.Second,
			MaxReconnects:  5,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		pub = nc
	}

	engineCfg := transfer.Config{
		FeeRate:             money.MustParse(cfg.FeeRate),
		MinFee:              money.MustParse(cfg.MinFee),
		MinTransfer:         money.MustParse(cfg.MinTransfer),
		SystemAccountNumber: cfg.SystemAccountNumber,
	}

	transfers := transfer.NewService(store, engineCfg, log, pub)
	accounts := directory.New(store, cache, cfg.DirectoryTTL, cfg.SystemAccountNumber, log)
	sessions := auth.NewService(store, cfg.JWTSecret, cfg.TokenTTL)

	server := api.NewServer(transfers, accounts, sessions, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	if nc != nil {
		nc.Close()
	}
	if cache != nil {
		_ = cache.Close()
	}
	_ = db.Close()
}
