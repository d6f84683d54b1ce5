package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration settings for the geocoding service.
//
// Values come from an optional YAML file named by CARTOGRAPH_CONFIG and from
// environment variables prefixed with CARTOGRAPH_ (batch.size is read from
// CARTOGRAPH_BATCH_SIZE). Database settings keep their DB_* names.
type Config struct {
	Env       string          `yaml:"env"`  // Env is the current environment: local, development, production.
	Port      int             `yaml:"port"` // Port is the HTTP API and monitoring server port.
	Batch     BatchConfig     `yaml:"batch"`
	Retry     RetryConfig     `yaml:"retry"`
	Fallback  bool            `yaml:"provider.fallback"` // Fallback switches providers between retries.
	Poll      PollConfig      `yaml:"poll"`
	Nominatim NominatimConfig `yaml:"nominatim"`
	Google    GoogleConfig    `yaml:"google"`
	Database  PostgresConfig  `yaml:"postgres"`
	AMQP      AMQPConfig      `yaml:"amqp"`
}

// BatchConfig controls how rows are split and geocoded.
type BatchConfig struct {
	Size        int           `yaml:"size"`
	Concurrency int           `yaml:"concurrency"`
	Pause       time.Duration `yaml:"pause"`
}

// RetryConfig controls the backoff of retryable failures.
type RetryConfig struct {
	MaxRetries int           `yaml:"max"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

// PollConfig controls the database polling loop. A zero interval disables it.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"`
}

// NominatimConfig configures the OpenStreetMap provider.
type NominatimConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Email     string        `yaml:"email"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	Timeout   time.Duration `yaml:"timeout"`
}

// GoogleConfig configures the Google Geocoding provider.
type GoogleConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	Timeout   time.Duration `yaml:"timeout"`
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `yaml:"host"`     // Host is the database server address.
	Port     string `yaml:"port"`     // Port is the database server port.
	User     string `yaml:"user"`     // User is the database user.
	Password string `yaml:"password"` // Password is the database user's password.
	Name     string `yaml:"db_name"`  // Name is the name of the database.
}

// Configured reports whether enough settings are present to open a connection.
func (p PostgresConfig) Configured() bool {
	return p.Host != "" && p.Name != ""
}

// AMQPConfig configures the optional RabbitMQ job consumer. An empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

var defaults = map[string]any{
	"env":                  "production",
	"port":                 8080,
	"batch.size":           15,
	"batch.concurrency":    3,
	"batch.pause":          "100ms",
	"retry.max":            3,
	"retry.base_delay":     "1s",
	"retry.max_delay":      "30s",
	"retry.jitter":         0.1,
	"provider.fallback":    true,
	"poll.interval":        "0s",
	"poll.limit":           500,
	"nominatim.enabled":    true,
	"nominatim.base_url":   "https://nominatim.openstreetmap.org/search",
	"nominatim.rate_limit": 1.0,
	"nominatim.timeout":    "10s",
	"google.enabled":       true,
	"google.rate_limit":    50.0,
	"google.timeout":       "10s",
	"amqp.queue":           "geocode.jobs",
	"amqp.prefetch":        1,
	"postgres.port":        "5432",
}

// MustLoad loads the configuration from the environment and the optional file and returns a Config struct.
func MustLoad() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CARTOGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range map[string]string{
		"postgres.host":     "DB_HOST",
		"postgres.port":     "DB_PORT",
		"postgres.user":     "DB_USERNAME",
		"postgres.password": "DB_PASSWORD",
		"postgres.db_name":  "DB_NAME",
	} {
		_ = v.BindEnv(key, env)
	}

	if path, ok := os.LookupEnv("CARTOGRAPH_CONFIG"); ok && path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			panic("failed to read configuration file")
		}
	}

	return &Config{
		Env:  v.GetString("env"),
		Port: mustInt(v, "port", "failed to parse port for monitoring server from configuration"),
		Batch: BatchConfig{
			Size:        mustInt(v, "batch.size", "failed to parse batch size from configuration, must be an integer type"),
			Concurrency: mustInt(v, "batch.concurrency", "failed to parse batch concurrency from configuration, must be an integer type"),
			Pause:       mustDuration(v, "batch.pause", "failed to parse batch pause from configuration"),
		},
		Retry: RetryConfig{
			MaxRetries: mustInt(v, "retry.max", "failed to parse max retries from configuration, must be an integer type"),
			BaseDelay:  mustDuration(v, "retry.base_delay", "failed to parse retry base delay from configuration"),
			MaxDelay:   mustDuration(v, "retry.max_delay", "failed to parse retry max delay from configuration"),
			Jitter:     mustFloat(v, "retry.jitter", "failed to parse retry jitter from configuration"),
		},
		Fallback: mustBool(v, "provider.fallback", "failed to parse provider fallback from configuration"),
		Poll: PollConfig{
			Interval: mustDuration(v, "poll.interval", "failed to parse interval from configuration"),
			Limit:    mustInt(v, "poll.limit", "failed to parse poll limit from configuration, must be an integer type"),
		},
		Nominatim: NominatimConfig{
			Enabled:   mustBool(v, "nominatim.enabled", "failed to parse nominatim toggle from configuration"),
			BaseURL:   v.GetString("nominatim.base_url"),
			UserAgent: v.GetString("nominatim.user_agent"),
			Email:     v.GetString("nominatim.email"),
			RateLimit: mustFloat(v, "nominatim.rate_limit", "failed to parse nominatim rate limit from configuration"),
			Timeout:   mustDuration(v, "nominatim.timeout", "failed to parse nominatim timeout from configuration"),
		},
		Google: GoogleConfig{
			Enabled:   mustBool(v, "google.enabled", "failed to parse google toggle from configuration"),
			APIKey:    v.GetString("google.api_key"),
			BaseURL:   v.GetString("google.base_url"),
			RateLimit: mustFloat(v, "google.rate_limit", "failed to parse google rate limit from configuration"),
			Timeout:   mustDuration(v, "google.timeout", "failed to parse google timeout from configuration"),
		},
		Database: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetString("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Name:     v.GetString("postgres.db_name"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp.url"),
			Queue:    v.GetString("amqp.queue"),
			Prefetch: mustInt(v, "amqp.prefetch", "failed to parse amqp prefetch from configuration, must be an integer type"),
		},
	}
}

func mustInt(v *viper.Viper, key, msg string) int {
	value, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		panic(msg)
	}

	return value
}

func mustFloat(v *viper.Viper, key, msg string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil {
		panic(msg)
	}

	return value
}

func mustBool(v *viper.Viper, key, msg string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		panic(msg)
	}

	return value
}

func mustDuration(v *viper.Viper, key, msg string) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		panic(msg)
	}

	return value
}
