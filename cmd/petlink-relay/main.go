// Command petlink-relay serves the overlay WebSocket endpoint and the Slack
// webhook routes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/providers"
	"github.com/rs/zerolog"
)

func main() {
	addr := flag.String("addr", "", "Listen address (overrides PET_RELAY_ADDR)")
	standalone := flag.Bool("standalone", false, "Skip Redis and keep unread messages in memory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	cfg := config.ConfigFromEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}
	var redisCfg *config.RedisConfig
	if !*standalone {
		redisCfg = config.RedisConfigFromEnv()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay := providers.NewRelay(cfg, redisCfg, logger)
	if err := relay.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("relay failed to start")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	relay.Stop()
}
