// Package config loads process configuration from the environment,
// with optional .env support for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	ListenAddr  string        `env:"LISTEN_ADDR,default=:8080"`
	DatabaseURL string        `env:"DATABASE_URL,required"`
	JWTSecret   string        `env:"JWT_SECRET,required"`
	TokenTTL    time.Duration `env:"TOKEN_TTL,default=24h"`

	FeeRate             string `env:"FEE_RATE,default=0.01"`
	MinFee              string `env:"MIN_FEE,default=0.01"`
	MinTransfer         string `env:"MIN_TRANSFER,default=0.10"`
	SystemAccountNumber string `env:"SYSTEM_ACCOUNT_NUMBER,default=0000000001"`

	LockTimeout time.Duration `env:"LOCK_TIMEOUT,default=5s"`

	RedisAddr     string        `env:"REDIS_ADDR,default="`
	DirectoryTTL  time.Duration `env:"DIRECTORY_CACHE_TTL,default=5m"`
	NATSURL       string        `env:"NATS_URL,default="`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
}

// Load reads the environment, after loading an optional .env file.
func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
