// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultSessionSecret = "change-me-session-secret-development"

var (
	snowflakeRe = regexp.MustCompile(`^\d{17,19}$`)
	botTokenRe  = regexp.MustCompile(`^[A-Za-z0-9._-]{50,100}$`)
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"APP_ENV"`

	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// DBSchemaMode is sql, auto or hybrid.
	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	SessionSecret   string `mapstructure:"SESSION_SECRET"`
	SessionTTLHours int    `mapstructure:"SESSION_TTL_HOURS"`
	AllowedOrigins  string `mapstructure:"ALLOWED_ORIGINS"`
	PublicBaseURL   string `mapstructure:"PUBLIC_BASE_URL"`

	DiscordClientID       string `mapstructure:"DISCORD_CLIENT_ID"`
	DiscordClientSecret   string `mapstructure:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURI    string `mapstructure:"DISCORD_REDIRECT_URI"`
	DiscordBotToken       string `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordGuildID        string `mapstructure:"DISCORD_GUILD_ID"`
	DiscordAPIBaseURL     string `mapstructure:"DISCORD_API_BASE_URL"`
	DiscordTimeoutSeconds int    `mapstructure:"DISCORD_TIMEOUT_SECONDS"`
	DiscordWebhookURL     string `mapstructure:"DISCORD_WEBHOOK_URL"`
	DiscordLogsWebhookURL string `mapstructure:"DISCORD_LOGS_WEBHOOK_URL"`

	AdminRoleIDs          string `mapstructure:"ADMIN_ROLE_IDS"`
	DefaultReviewerRoleID string `mapstructure:"DEFAULT_REVIEWER_ROLE_ID"`
	CatalogPath           string `mapstructure:"CATALOG_PATH"`

	BlockViolationThreshold int    `mapstructure:"BLOCK_VIOLATION_THRESHOLD"`
	BlockWindowHours        int    `mapstructure:"BLOCK_WINDOW_HOURS"`
	BlockDurationHours      int    `mapstructure:"BLOCK_DURATION_HOURS"`
	SubmissionCooldownHours int    `mapstructure:"SUBMISSION_COOLDOWN_HOURS"`
	RateLimitEnabled        bool   `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitBackend        string `mapstructure:"RATE_LIMIT_BACKEND"`
	TrustedProxyHeader      string `mapstructure:"TRUSTED_PROXY_HEADER"`

	FiveMServerIP   string `mapstructure:"FIVEM_SERVER_IP"`
	FiveMServerPort int    `mapstructure:"FIVEM_SERVER_PORT"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "division")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("SESSION_SECRET", defaultSessionSecret)
	viper.SetDefault("SESSION_TTL_HOURS", 168)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:5173")
	viper.SetDefault("DISCORD_CLIENT_ID", "")
	viper.SetDefault("DISCORD_CLIENT_SECRET", "")
	viper.SetDefault("DISCORD_REDIRECT_URI", "http://localhost:8375/api/auth/callback")
	viper.SetDefault("DISCORD_BOT_TOKEN", "")
	viper.SetDefault("DISCORD_GUILD_ID", "")
	viper.SetDefault("DISCORD_API_BASE_URL", "https://discord.com/api/v10")
	viper.SetDefault("DISCORD_TIMEOUT_SECONDS", 10)
	viper.SetDefault("DISCORD_WEBHOOK_URL", "")
	viper.SetDefault("DISCORD_LOGS_WEBHOOK_URL", "")
	viper.SetDefault("ADMIN_ROLE_IDS", "1427628590580895825")
	viper.SetDefault("DEFAULT_REVIEWER_ROLE_ID", "1427628590580895825")
	viper.SetDefault("CATALOG_PATH", "")
	viper.SetDefault("BLOCK_VIOLATION_THRESHOLD", 5)
	viper.SetDefault("BLOCK_WINDOW_HOURS", 24)
	viper.SetDefault("BLOCK_DURATION_HOURS", 168)
	viper.SetDefault("SUBMISSION_COOLDOWN_HOURS", 24)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_BACKEND", "redis")
	viper.SetDefault("TRUSTED_PROXY_HEADER", "")
	viper.SetDefault("FIVEM_SERVER_IP", "")
	viper.SetDefault("FIVEM_SERVER_PORT", 30120)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		slog.Info("loaded profile-specific configuration", slog.String("file", "config."+env+".yml"))
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DiscordBotToken = strings.TrimSpace(c.DiscordBotToken)
}

// IsProduction reports whether the production rules apply.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if len(c.SessionSecret) < 16 {
		return errors.New("SESSION_SECRET must be at least 16 characters")
	}
	if c.SessionTTLHours <= 0 {
		return errors.New("SESSION_TTL_HOURS must be positive")
	}

	if c.DiscordGuildID != "" && !snowflakeRe.MatchString(c.DiscordGuildID) {
		return errors.New("DISCORD_GUILD_ID must be a Discord snowflake")
	}
	if c.DefaultReviewerRoleID != "" && !snowflakeRe.MatchString(c.DefaultReviewerRoleID) {
		return errors.New("DEFAULT_REVIEWER_ROLE_ID must be a Discord snowflake")
	}
	for _, id := range c.AdminRoles() {
		if !snowflakeRe.MatchString(id) {
			return fmt.Errorf("ADMIN_ROLE_IDS contains an invalid role id %q", id)
		}
	}
	if c.DiscordBotToken != "" && !botTokenRe.MatchString(c.DiscordBotToken) {
		return errors.New("DISCORD_BOT_TOKEN has an invalid format")
	}

	switch c.RateLimitBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be redis or memory, got %q", c.RateLimitBackend)
	}
	if c.BlockViolationThreshold <= 0 || c.BlockWindowHours <= 0 || c.BlockDurationHours <= 0 {
		return errors.New("BLOCK_* settings must be positive")
	}
	if c.SubmissionCooldownHours < 0 {
		return errors.New("SUBMISSION_COOLDOWN_HOURS must not be negative")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}

	if c.IsProduction() {
		if c.SessionSecret == defaultSessionSecret {
			return errors.New("SESSION_SECRET must be changed from the default value in production")
		}
		if len(c.SessionSecret) < 32 {
			return errors.New("SESSION_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.DiscordClientID == "" || c.DiscordClientSecret == "" || c.DiscordRedirectURI == "" {
			return errors.New("Discord OAuth client must be configured in production")
		}
		if c.DiscordBotToken == "" || c.DiscordGuildID == "" {
			return errors.New("DISCORD_BOT_TOKEN and DISCORD_GUILD_ID are required in production")
		}
		if c.AllowedOrigins == "*" {
			slog.Warn("ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.SessionSecret) < 32 {
		slog.Warn("SESSION_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// AdminRoles returns the parsed ADMIN_ROLE_IDS.
func (c *Config) AdminRoles() []string {
	var out []string
	for _, id := range strings.Split(c.AdminRoleIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// SessionTTL is the lifetime of a login session.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// DiscordTimeout bounds each Discord API call.
func (c *Config) DiscordTimeout() time.Duration {
	return time.Duration(c.DiscordTimeoutSeconds) * time.Second
}

// SubmissionCooldown is the minimum time between two applications of a type.
func (c *Config) SubmissionCooldown() time.Duration {
	return time.Duration(c.SubmissionCooldownHours) * time.Hour
}

// BlockWindow is the span over which violations are counted.
func (c *Config) BlockWindow() time.Duration {
	return time.Duration(c.BlockWindowHours) * time.Hour
}

// BlockDuration is the lifetime of a non-permanent block.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationHours) * time.Hour
}
