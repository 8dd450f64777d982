// Command petlink-watch connects to a relay and logs the notifications an
// overlay would receive. With -reply it posts a reply and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/petlink/config"
	"github.com/orchestra-mcp/petlink/src/api"
	"github.com/orchestra-mcp/petlink/src/stream"
	"github.com/orchestra-mcp/petlink/src/types"
	"github.com/rs/zerolog"
)

func main() {
	url := flag.String("url", "", "Stream URL (overrides PET_WS_URL)")
	reply := flag.String("reply", "", "Reply text to send instead of watching")
	channel := flag.String("channel", "", "Channel for -reply")
	thread := flag.String("thread", "", "Thread timestamp for -reply")
	unread := flag.String("unread", "", "App ID whose unread messages are listed on connect")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiClient := api.New(config.APIConfigFromEnv(), nil, logger)

	if *reply != "" {
		if *channel == "" {
			logger.Fatal().Msg("-channel is required with -reply")
		}
		res, err := apiClient.SendReply(ctx, *channel, *reply, *thread)
		if err != nil {
			logger.Fatal().Err(err).Msg("reply failed")
		}
		logger.Info().Str("status", res.Status).Str("message_id", res.MessageID).Msg("reply sent")
		return
	}

	cfg := config.StreamConfigFromEnv()
	client := stream.New(cfg, stream.WithLogger(logger))
	go client.Run()
	defer client.Stop()

	client.On(stream.EventConnected, func(ev stream.Event) {
		if ev.Kind != stream.KindConnected {
			return
		}
		logger.Info().Msg("connected")
		if *unread == "" {
			return
		}
		go func() {
			msgs, err := apiClient.UnreadMessages(ctx, *unread)
			if err != nil {
				logger.Error().Err(err).Msg("fetch unread failed")
				return
			}
			for _, m := range msgs {
				logger.Info().Str("channel", m.Channel).Str("user", m.User).Str("text", m.Text).Msg("unread")
			}
		}()
	})
	client.On(stream.EventDisconnected, func(stream.Event) {
		logger.Warn().Msg("disconnected")
	})
	client.On(stream.EventError, func(ev stream.Event) {
		logger.Error().Err(ev.Err).Msg("stream error")
	})
	client.OnNewMessage(func(m types.ChatMessage) {
		logger.Info().Str("channel", m.Channel).Str("user", m.User).Str("text", m.Text).Msg("new message")
	})
	client.OnUnreadUpdate(func(u types.UnreadUpdate) {
		logger.Info().Int("total_unread", u.TotalUnread).Bool("has_new", u.HasNewMessage).Msg("unread update")
	})

	if err := client.Connect(*url); err != nil {
		logger.Fatal().Err(err).Msg("connect failed")
	}

	<-ctx.Done()
	client.Disconnect()
}
