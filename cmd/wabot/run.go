package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Xractz/whatsapp-assistant/internal/audit"
	"github.com/Xractz/whatsapp-assistant/internal/bot"
	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/config"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
	"github.com/Xractz/whatsapp-assistant/internal/notify"
	"github.com/Xractz/whatsapp-assistant/internal/provider"
	"github.com/Xractz/whatsapp-assistant/internal/sticker"
	"github.com/Xractz/whatsapp-assistant/internal/whatsapp"
)

const inboundBufferSize = 100

func runBot(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log
	logger.Info("starting wabot", "version", version, "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(inboundBufferSize, logger)
	defer messageBus.Close()
	events := bus.NewEventBus(logger)

	var commandLog domain.CommandLog
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(ctx, cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()
		commandLog = store
	}

	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:   cfg.Notify.Telegram.Token,
			ChatIDs: cfg.Notify.Telegram.ChatIDs,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("telegram alerts disabled", "error", err)
		} else {
			defer notify.Subscribe(events, tg, logger)()
		}
	}

	client, err := whatsapp.New(ctx, whatsapp.Config{
		SessionDir: cfg.Session.Dir,
		DeviceName: cfg.Session.DeviceName,
		PairPhone:  cfg.Session.PairPhone,
		Bus:        messageBus,
		Events:     events,
		Logger:     logger.With("component", "whatsapp"),
		Backoff:    backoffFrom(cfg.Reconnect),
		AlertAfter: cfg.Reconnect.AlertAfter,
	})
	if err != nil {
		return fmt.Errorf("whatsapp session: %w", err)
	}
	defer client.Close()

	ai := buildTextGenerator(ctx, cfg)

	gateway := bot.NewGateway(client, cfg.General.ReactionEmoji, logger.With("component", "gateway"))
	dispatcher := bot.NewDispatcher(bot.DispatcherConfig{
		Session:  client,
		AI:       ai,
		Stickers: sticker.New(logger.With("component", "sticker")),
		StickerMeta: domain.StickerMetadata{
			PackID:     cfg.Sticker.PackID,
			Author:     cfg.Sticker.Author,
			Pack:       cfg.Sticker.Pack,
			Categories: cfg.Sticker.Categories,
			Quality:    cfg.Sticker.Quality,
			Background: cfg.Sticker.Background,
		},
		Sender:     gateway,
		Prefix:     cfg.General.Prefix,
		GroupGuard: cfg.Dispatch.GroupGuard,
		AILimiter:  aiLimiter(cfg.AI),
		AITimeout:  time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		Audit:      commandLog,
		Events:     events,
		Logger:     logger.With("component", "dispatcher"),
	})
	loop := bot.NewLoop(bot.LoopConfig{
		Bus:         messageBus,
		Dispatcher:  dispatcher,
		Sender:      gateway,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return client.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.Collector.Serve(gctx, cfg.Metrics.Listen, cfg.Metrics.Endpoint, logger); err != nil {
				logger.Error("metrics endpoint stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	switch {
	case errors.Is(err, whatsapp.ErrLoggedOut):
		logger.Error("device was unlinked from the phone; run 'wabot run' again to pair")
		return err
	case err != nil:
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildTextGenerator returns the configured provider chain, or nil when no
// provider is usable. The .ai command then replies with an error.
func buildTextGenerator(ctx context.Context, cfg *config.Config) domain.TextGenerator {
	factory := provider.NewFactory(cfg.AI, logger.With("component", "provider"))
	gen, err := factory.Build(ctx)
	if err != nil {
		logger.Warn("AI disabled", "error", err)
		return nil
	}
	logger.Info("AI provider ready", "provider", gen.Name())
	return gen
}

// aiLimiter converts the per-minute budget into a token bucket. Zero disables
// the limit.
func aiLimiter(cfg config.AIConfig) *rate.Limiter {
	if cfg.RateLimitPerMin <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), burst)
}

func backoffFrom(r config.ReconnectConfig) whatsapp.Backoff {
	return whatsapp.Backoff{
		Initial:    time.Duration(r.InitialBackoffMs) * time.Millisecond,
		Max:        time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier: r.Multiplier,
	}
}
