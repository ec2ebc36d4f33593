package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/sipeed/stripmentions/pkg/logger"
	"github.com/sipeed/stripmentions/pkg/mentions"
)

type Config struct {
	StripMentions StripMentionsConfig `json:"strip_mentions" yaml:"strip_mentions"`
	Bus           BusConfig           `json:"bus" yaml:"bus"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Discord       DiscordConfig       `json:"discord" yaml:"discord"`
	Slack         SlackConfig         `json:"slack" yaml:"slack"`
	Telegram      TelegramConfig      `json:"telegram" yaml:"telegram"`
}

// StripMentionsConfig holds the remove behaviors (full, tags, none) and the
// output mode (entity, overwrite) of the mention stripping step.
type StripMentionsConfig struct {
	BotBehavior  string `json:"bot_behavior" yaml:"bot_behavior" env:"STRIPMENTIONS_BOT_BEHAVIOR"`
	UserBehavior string `json:"user_behavior" yaml:"user_behavior" env:"STRIPMENTIONS_USER_BEHAVIOR"`
	Output       string `json:"output" yaml:"output" env:"STRIPMENTIONS_OUTPUT"`
}

type BusConfig struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size" env:"STRIPMENTIONS_BUS_BUFFER_SIZE"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"STRIPMENTIONS_DISCORD_ENABLED"`
	Token     string   `json:"token" yaml:"token" env:"STRIPMENTIONS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from" env:"STRIPMENTIONS_DISCORD_ALLOW_FROM"`
}

// SlackConfig serves the Events API endpoint on ListenAddr. Requests are
// checked against SigningSecret.
type SlackConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" env:"STRIPMENTIONS_SLACK_ENABLED"`
	BotToken      string   `json:"bot_token" yaml:"bot_token" env:"STRIPMENTIONS_SLACK_BOT_TOKEN"`
	SigningSecret string   `json:"signing_secret" yaml:"signing_secret" env:"STRIPMENTIONS_SLACK_SIGNING_SECRET"`
	ListenAddr    string   `json:"listen_addr" yaml:"listen_addr" env:"STRIPMENTIONS_SLACK_LISTEN_ADDR"`
	AllowFrom     []string `json:"allow_from" yaml:"allow_from" env:"STRIPMENTIONS_SLACK_ALLOW_FROM"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"STRIPMENTIONS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" yaml:"token" env:"STRIPMENTIONS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from" env:"STRIPMENTIONS_TELEGRAM_ALLOW_FROM"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"STRIPMENTIONS_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	def := mentions.DefaultOptions()
	return &Config{
		StripMentions: StripMentionsConfig{
			BotBehavior:  def.BotBehavior.String(),
			UserBehavior: def.UserBehavior.String(),
			Output:       string(def.Output),
		},
		Bus: BusConfig{
			BufferSize: 100,
		},
		Slack: SlackConfig{
			ListenAddr: ":3000",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// AnyChannelEnabled reports whether at least one chat platform is enabled.
func (c *Config) AnyChannelEnabled() bool {
	return c.Discord.Enabled || c.Slack.Enabled || c.Telegram.Enabled
}

// UnmarshalJSON also accepts the camelCase keys botMentionRemoveBehavior and
// userMentionRemoveBehavior. The snake_case key wins when both are present.
func (c *StripMentionsConfig) UnmarshalJSON(data []byte) error {
	type plain StripMentionsConfig
	aux := struct {
		*plain
		BotAlias  string `json:"botMentionRemoveBehavior"`
		UserAlias string `json:"userMentionRemoveBehavior"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if _, ok := keys["bot_behavior"]; !ok && aux.BotAlias != "" {
		c.BotBehavior = aux.BotAlias
	}
	if _, ok := keys["user_behavior"]; !ok && aux.UserAlias != "" {
		c.UserBehavior = aux.UserAlias
	}
	return nil
}

// LoadConfig reads a JSON or YAML (.yaml/.yml) file over the defaults, then
// applies STRIPMENTIONS_* environment overrides. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.DebugCF("config", "Config file not found, using defaults", map[string]any{
			"path": path,
		})
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) Validate() error {
	if _, err := mentions.ParseRemoveBehavior(c.StripMentions.BotBehavior); err != nil {
		return fmt.Errorf("strip_mentions.bot_behavior: %w", err)
	}
	if _, err := mentions.ParseRemoveBehavior(c.StripMentions.UserBehavior); err != nil {
		return fmt.Errorf("strip_mentions.user_behavior: %w", err)
	}
	if !mentions.OutputMode(strings.ToLower(strings.TrimSpace(c.StripMentions.Output))).Valid() {
		return fmt.Errorf("strip_mentions.output: unknown mode %q", c.StripMentions.Output)
	}
	if c.Bus.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative, got %d", c.Bus.BufferSize)
	}
	if c.Discord.Enabled && strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord.token is required when discord is enabled")
	}
	if c.Slack.Enabled {
		if strings.TrimSpace(c.Slack.BotToken) == "" {
			return errors.New("slack.bot_token is required when slack is enabled")
		}
		if strings.TrimSpace(c.Slack.SigningSecret) == "" {
			return errors.New("slack.signing_secret is required when slack is enabled")
		}
		if strings.TrimSpace(c.Slack.ListenAddr) == "" {
			return errors.New("slack.listen_addr is required when slack is enabled")
		}
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// Options converts the section into middleware options. Invalid values fall
// back to the middleware defaults; call Validate first to reject them.
func (c StripMentionsConfig) Options() mentions.Options {
	var opts mentions.Options
	if b, err := mentions.ParseRemoveBehavior(c.BotBehavior); err == nil {
		opts.BotBehavior = b
	}
	if b, err := mentions.ParseRemoveBehavior(c.UserBehavior); err == nil {
		opts.UserBehavior = b
	}
	opts.Output = mentions.OutputMode(strings.ToLower(strings.TrimSpace(c.Output)))
	return opts
}

func (c LoggingConfig) LogLevel() logger.LogLevel {
	level, _ := logger.ParseLevel(c.Level)
	return level
}
