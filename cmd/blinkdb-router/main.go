package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Bivas-Biswas/blink-db/internal/config"
	"github.com/Bivas-Biswas/blink-db/internal/hashring"
	"github.com/Bivas-Biswas/blink-db/internal/router"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	_ = godotenv.Load()

	cfg, err := config.NewRouter()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid router configuration")
	}

	ring := hashring.New()
	for _, addr := range cfg.Shards {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			log.Fatal().Err(err).Str("shard", addr).Msg("invalid shard address")
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatal().Err(err).Str("shard", addr).Msg("invalid shard port")
		}
		ring.Add(hashring.Shard{IP: host, Port: port})
	}

	rt := router.New(cfg.Addr, ring)

	go gracefulShutdown(rt)

	if err := rt.Start(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("router failed")
	}
}

func gracefulShutdown(rt *router.Router) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info().Msg("router shutting down...")
	if err := rt.Stop(); err != nil {
		log.Warn().Err(err).Msg("listener close failed")
	}
	os.Exit(0)
}
