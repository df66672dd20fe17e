// Package main runs a Discord bot that announces new forum threads and
// replies in followed threads to configured channels.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	gcs "cloud.google.com/go/storage"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"forumlinkbot/bot"
	"forumlinkbot/config"
	"forumlinkbot/dispatch"
	"forumlinkbot/metrics"
	"forumlinkbot/notify"
	"forumlinkbot/routing"
	"forumlinkbot/server"
	"forumlinkbot/storage"
)

func main() {
	// Initialize structured logger
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(logger, level); err != nil {
		logger.Error("Bot stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, level *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsProduction() {
		level.Set(slog.LevelDebug)
	}
	logger.Info("Configuration loaded", "env", cfg.AppEnv, "storage", cfg.Storage(), "mock_send", cfg.MockSend)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(promReg)

	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := storage.New(backend, logger)
	registry := routing.NewRegistry(store.Load(ctx), cfg.Policy(), store, logger)

	var session *discordgo.Session
	if cfg.DiscordToken != "" {
		session, err = discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
	}

	var provider notify.Provider
	if cfg.MockSend {
		logger.Info("Mock send mode enabled, notifications are only logged")
		provider = notify.NewMockProvider(logger)
	} else {
		provider = notify.NewDiscordProvider(session, logger)
	}

	var roles dispatch.RoleResolver
	if session != nil {
		roles = bot.NewRoleResolver(session.State)
	}
	dispatcher := dispatch.New(registry, notify.New(provider, logger), roles, logger)

	var gateway server.Gateway
	if session != nil {
		b := bot.New(&bot.Config{
			Session:    session,
			Dispatcher: dispatcher,
			Commands:   bot.NewCommands(registry, cfg.CommandPrefix, logger),
			Logger:     logger,
		})
		if err := b.Open(ctx); err != nil {
			return err
		}
		defer func() {
			if err := b.Close(); err != nil {
				logger.Warn("Failed to close gateway session", "error", err)
			}
		}()
		gateway = b
	} else {
		logger.Warn("No DISCORD_TOKEN set, running without a gateway connection")
	}

	srv := server.New(&server.Config{
		Routes:   registry,
		Gateway:  gateway,
		Gatherer: promReg,
		Logger:   logger,
		Port:     cfg.Port,
		Timeouts: server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		},
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// newBackend picks the state backend. The returned func releases its client.
func newBackend(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (storage.Backend, func(), error) {
	switch cfg.Storage() {
	case config.BackendGCS:
		var opts []option.ClientOption
		if cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using Cloud Storage backend", "bucket", cfg.StorageBucket, "object", cfg.StorageObject)
		return storage.NewGCSBackend(client, cfg.StorageBucket, cfg.StorageObject, logger), func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// Load fails soft; keep going so the bot still serves an empty config.
			logger.Warn("Redis ping failed", "addr", cfg.RedisAddr, "error", err)
		}
		logger.Info("Using Redis backend", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		return storage.NewRedisBackend(client, cfg.RedisKey), func() {
			if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				logger.Warn("Failed to close redis client", "error", err)
			}
		}, nil

	default:
		logger.Info("Using local file backend", "path", cfg.StateFile)
		return storage.NewFileBackend(cfg.StateFile), func() {}, nil
	}
}
