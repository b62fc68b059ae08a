// Command seed provisions the system account and a set of demo users
// with referral-linked accounts for local development.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/payring/payring/internal/config"
	"github.com/payring/payring/internal/ledger"
	"github.com/payring/payring/internal/ledger/postgres"
	"github.com/payring/payring/pkg/money"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	store := postgres.New(db, cfg.LockTimeout)

	systemUser := mustUser(ctx, log, store, "SYSTEM", "system@payring.local", "systempassword123")
	system, err := store.FindAccountByNumber(ctx, cfg.SystemAccountNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		system, err = store.CreateAccount(ctx, systemUser.ID, 0, cfg.SystemAccountNumber)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to provision system account")
	}
	log.Info().Int64("account_id", system.ID).Str("number", system.Number).Msg("system account ready")

	juan := mustUser(ctx, log, store, "Juan Perez", "juan@example.com", "password123")
	maria := mustUser(ctx, log, store, "Maria Garcia", "maria@example.com", "password123")
	carlos := mustUser(ctx, log, store, "Carlos Lopez", "carlos@example.com", "password123")

	// Juan has no referrer; Maria was referred by Juan's account and
	// Carlos by Maria's, forming a two-level referral chain.
	juanAcct := mustAccount(ctx, log, store, juan.ID, 0, "1000.00")
	mariaAcct := mustAccount(ctx, log, store, maria.ID, juanAcct.ID, "500.00")
	mustAccount(ctx, log, store, carlos.ID, mariaAcct.ID, "250.00")

	log.Info().Msg("seed complete")
}

func mustUser(ctx context.Context, log zerolog.Logger, store ledger.Store, name, email, password string) ledger.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash password")
	}
	user, err := store.CreateUser(ctx, name, email, string(hash))
	if errors.Is(err, ledger.ErrAlreadyExists) {
		user, err = store.FindUserByEmail(ctx, email)
	}
	if err != nil {
		log.Fatal().Err(err).Str("email", email).Msg("failed to seed user")
	}
	return user
}

func mustAccount(ctx context.Context, log zerolog.Logger, store ledger.Store, ownerID, referredBy int64, balance string) ledger.Account {
	acct, err := store.CreateAccount(ctx, ownerID, referredBy, randomAccountNumber())
	if err != nil {
		log.Fatal().Err(err).Int64("owner", ownerID).Msg("failed to seed account")
	}
	if err := seedBalance(ctx, store, acct.ID, balance); err != nil {
		log.Fatal().Err(err).Int64("account", acct.ID).Msg("failed to seed balance")
	}
	log.Info().Int64("account_id", acct.ID).Str("number", acct.Number).Str("balance", balance).Msg("account seeded")
	return acct
}

// seedBalance funds a fresh account through the transactional surface
// so the balance write goes through the same locked path as transfers.
func seedBalance(ctx context.Context, store ledger.Store, accountID int64, balance string) error {
	amount, err := money.Parse(balance)
	if err != nil {
		return err
	}
	return store.Transact(ctx, func(tx ledger.Tx) error {
		if _, err := tx.LockAccounts(ctx, accountID); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, accountID, amount)
	})
}

func randomAccountNumber() string {
	return fmt.Sprintf("%010d", 1000000000+rand.Int63n(9000000000-1000000000))
}
