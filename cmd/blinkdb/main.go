package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Bivas-Biswas/blink-db/internal/cache"
	"github.com/Bivas-Biswas/blink-db/internal/config"
	"github.com/Bivas-Biswas/blink-db/internal/server"
	"github.com/Bivas-Biswas/blink-db/internal/store"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	_ = godotenv.Load()

	cfg := config.NewShard()

	st, err := store.Open(cfg.StorePath, cfg.FilterSize, rate.Every(cfg.CompactInterval))
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("failed to open persistent store")
	}

	c := cache.New(cfg.MaxMemoryBytes, st)
	srv := server.New(cfg.Addr, c, st)

	go gracefulShutdown(srv, st)

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("shard server failed")
	}
}

// gracefulShutdown stops the listener on SIGINT/SIGTERM, flushes the cache
// into the persistent store, and stops the compactor before exiting.
func gracefulShutdown(srv *server.Server, st *store.Store) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info().Msg("shard server shutting down...")

	if err := srv.Stop(); err != nil {
		log.Warn().Err(err).Msg("listener close failed")
	}
	srv.Flush()
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	os.Exit(0)
}
