package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbridge/internal/backend"
	"chatbridge/internal/bus"
	"chatbridge/internal/cache"
	"chatbridge/internal/channel"
	"chatbridge/internal/config"
	"chatbridge/internal/dispatch"
	"chatbridge/internal/extract"
	"chatbridge/internal/files"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.1"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatbridge",
		Short: "ChatBridge: relay chat platform messages to a conversational backend",
		Long:  "ChatBridge connects Telegram, Discord, and Slack to a conversational backend,\nconverting text and image attachments into multi-part prompts.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.chatbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (channels + dispatcher)",
		Long:  "Starts all enabled channels and the message dispatcher. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	var attachmentCache *cache.Store
	if cfg.Cache.Enabled {
		attachmentCache, err = cache.NewStore(cfg.Cache.DBPath, logger)
		if err != nil {
			return fmt.Errorf("attachment cache: %w", err)
		}
		defer attachmentCache.Close()

		retention := time.Duration(cfg.Cache.RetentionDays) * 24 * time.Hour
		go sweepCacheLoop(ctx, attachmentCache, retention)
	}

	backendClient := backend.NewClient(backend.ClientConfig{
		APIBase: cfg.Backend.APIBase,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if err := backendClient.Healthy(ctx); err != nil {
		logger.Warn("backend unhealthy at startup", "err", err)
	} else {
		logger.Info("backend healthy", "api_base", cfg.Backend.APIBase)
	}

	fileStore := files.NewStore(files.StoreConfig{Logger: logger})

	extractorCfg := extract.Config{Files: fileStore, Logger: logger}
	if attachmentCache != nil {
		extractorCfg.Cache = attachmentCache
	}
	extractor := extract.New(extractorCfg)

	dispatcher := dispatch.New(dispatch.Config{
		Extractor:   extractor,
		Backend:     backendClient,
		Bus:         messageBus,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	go dispatcher.Run(ctx)

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		dispatcher.RegisterResolver("telegram", telegramCh)
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	var discordCh *channel.Discord
	if cfg.Channels.Discord.Enabled {
		discordCh = channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		})
		dispatcher.RegisterResolver("discord", discordCh)
		go func() {
			if err := discordCh.Start(ctx, messageBus); err != nil {
				logger.Error("discord channel error", "err", err)
			}
		}()
		logger.Info("discord channel enabled")
	}

	var slackCh *channel.Slack
	if cfg.Channels.Slack.Enabled {
		slackCh = channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		go func() {
			if err := slackCh.Start(ctx, messageBus); err != nil {
				logger.Error("slack channel error", "err", err)
			}
		}()
		logger.Info("slack channel enabled")
	}

	if cfg.Channels.CLI.Enabled {
		cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
		go func() {
			if err := cliCh.Start(ctx, messageBus); err != nil {
				logger.Error("cli channel error", "err", err)
			}
		}()
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if discordCh != nil {
			discordCh.Stop()
		}
		if slackCh != nil {
			slackCh.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// sweepCacheLoop prunes expired cache entries once at startup and then daily.
func sweepCacheLoop(ctx context.Context, store *cache.Store, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if _, err := store.Sweep(ctx, retention); err != nil {
			logger.Warn("cache sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := backend.NewClient(backend.ClientConfig{
				APIBase: cfg.Backend.APIBase,
				APIKey:  cfg.Backend.APIKey,
				Logger:  logger,
			})
			if err := client.Healthy(ctx); err != nil {
				logger.Info("backend", "api_base", cfg.Backend.APIBase, "healthy", false, "err", err)
			} else {
				logger.Info("backend", "api_base", cfg.Backend.APIBase, "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (credentials redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
