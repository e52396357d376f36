package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Discord         DiscordConfig    `yaml:"discord"`
	Agent           AgentConfig      `yaml:"agent"`
	Blueprint       BlueprintConfig  `yaml:"blueprint"`
	Reconciler      ReconcilerConfig `yaml:"reconciler"`
	Database        DatabaseConfig   `yaml:"database"`
	Ledger          LedgerConfig     `yaml:"ledger"`
	HTTP            HTTPConfig       `yaml:"http"`
	Log             LogConfig        `yaml:"log"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DiscordConfig contains Discord connection settings
type DiscordConfig struct {
	Token        string   `yaml:"token"`
	GuildID      string   `yaml:"guild_id"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for REST requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Client-side REST request budget
}

// AgentConfig contains the scheduled reconcile settings
type AgentConfig struct {
	Source       string   `yaml:"source"`        // Blueprint URL or path; empty disables the scheduler
	PollInterval Duration `yaml:"poll_interval"` // Interval between scheduled runs (default: 600s)
	TeamRole     string   `yaml:"team_role"`     // Role granted manage rights on restricted channels
	BotRole      string   `yaml:"bot_role"`      // Role allowed to post on restricted channels
	Watch        bool     `yaml:"watch"`         // Reconcile immediately when a local source file changes
}

// BlueprintConfig contains blueprint fetch settings
type BlueprintConfig struct {
	Timeout  Duration `yaml:"timeout"`  // HTTP timeout for fetching the blueprint
	Fallback string   `yaml:"fallback"` // Source used when neither the caller nor agent.source gives one
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	Pacing Duration `yaml:"pacing"` // Delay after every mutation
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains run ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	Retention       Duration `yaml:"retention"`
}

// IsEnabled returns whether the run ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HTTPConfig contains the HTTP server settings (health, metrics, plan/apply)
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the configured level
func (c *LogConfig) GetLevel() string {
	return strings.ToLower(c.Level)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./guildsync.sqlite"
	}

	// Discord defaults
	if cfg.Discord.Timeout <= 0 {
		cfg.Discord.Timeout = Duration(30 * time.Second)
	}
	if cfg.Discord.RateLimitRPS <= 0 {
		cfg.Discord.RateLimitRPS = 5.0
	}

	// Agent defaults
	if cfg.Agent.PollInterval <= 0 {
		cfg.Agent.PollInterval = Duration(600 * time.Second)
	}
	if cfg.Agent.TeamRole == "" {
		cfg.Agent.TeamRole = "Team"
	}
	if cfg.Agent.BotRole == "" {
		cfg.Agent.BotRole = "Bot"
	}

	// Blueprint defaults
	if cfg.Blueprint.Timeout <= 0 {
		cfg.Blueprint.Timeout = Duration(15 * time.Second)
	}
	if cfg.Blueprint.Fallback == "" {
		cfg.Blueprint.Fallback = "blueprint.yaml"
	}

	// Reconciler defaults
	if cfg.Reconciler.Pacing <= 0 {
		cfg.Reconciler.Pacing = Duration(250 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval <= 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.Retention <= 0 {
		cfg.Ledger.Retention = Duration(30 * 24 * time.Hour)
	}

	// HTTP defaults
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// ValidateDiscord checks the settings needed to talk to a guild
func (cfg *Config) ValidateDiscord() error {
	var errs []error
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	return errors.Join(errs...)
}

// ResolveSource picks the blueprint source: explicit, then agent.source, then the fallback
func (cfg *Config) ResolveSource(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg.Agent.Source != "" {
		return cfg.Agent.Source
	}
	return cfg.Blueprint.Fallback
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
