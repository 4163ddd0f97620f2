package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
		},
		Backend: BackendConfig{
			APIBase:        "http://localhost:8085",
			TimeoutSeconds: 120,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Cache: CacheConfig{
			Enabled:       true,
			DBPath:        "~/.chatbridge/cache.db",
			RetentionDays: 30,
		},
	}
}
