package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ChatBridge.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
}

// BackendConfig points at the conversational backend service.
type BackendConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty" yaml:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty" yaml:"slack,omitempty"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CacheConfig configures the attachment data-URL cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

// FlexStringList is a []string that also accepts numbers in config arrays
// (e.g. ["123", 456] both become "123", "456") — chat user IDs are commonly
// written unquoted.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	var ss []string
	if err := value.Decode(&ss); err == nil {
		*f = ss
		return nil
	}
	var mixed []any
	if err := value.Decode(&mixed); err != nil {
		return err
	}
	result := make([]string, 0, len(mixed))
	for _, item := range mixed {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case int:
			result = append(result, strconv.Itoa(v))
		case int64:
			result = append(result, strconv.FormatInt(v, 10))
		case float64:
			result = append(result, strconv.FormatInt(int64(v), 10))
		default:
			result = append(result, fmt.Sprint(v))
		}
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chatbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatbridge"
	}
	return filepath.Join(home, ".chatbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON by default, YAML for .yaml/.yml), expands
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.Cache.DBPath = ExpandPath(cfg.Cache.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.Backend.APIBase == "" {
		errs = append(errs, "backend.apiBase is required")
	}
	if cfg.Backend.TimeoutSeconds < 0 {
		errs = append(errs, "backend.timeoutSeconds must be >= 0")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and appToken are required when slack is enabled")
	}
	if cfg.Cache.Enabled && cfg.Cache.RetentionDays < 1 {
		errs = append(errs, "cache.retentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy with credentials blanked for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	if out.Backend.APIKey != "" {
		out.Backend.APIKey = "***"
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = "***"
	}
	if out.Channels.Discord.Token != "" {
		out.Channels.Discord.Token = "***"
	}
	if out.Channels.Slack.BotToken != "" {
		out.Channels.Slack.BotToken = "***"
	}
	if out.Channels.Slack.AppToken != "" {
		out.Channels.Slack.AppToken = "***"
	}
	return &out
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
