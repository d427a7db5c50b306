// migrate is a one-shot schema bootstrap: it opens the configured store
// DSN and exits. store.New runs AutoMigrate as part of opening the
// connection, so this command's only job is to construct the store once,
// outside of the long-running orderbookd process, for use in deploy
// scripts and CI before the service starts accepting traffic.
package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/cowbot/orderbook/internal/config"
	"github.com/cowbot/orderbook/internal/logging"
	"github.com/cowbot/orderbook/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Setup(cfg.Debug, true)

	if _, err := store.New(cfg.DatabasePath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	log.Info().Str("dsn", cfg.DatabasePath).Msg("schema migrated")
}
