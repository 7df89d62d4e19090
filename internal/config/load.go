package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. SCRY_SERVER_PORT.
const EnvPrefix = "SCRY"

var defaults = map[string]any{
	"server.port":                         8080,
	"server.log_level":                    "info",
	"server.log_format":                   "json",
	"server.shutdown_timeout":             "15s",
	"database.driver":                     "postgres",
	"database.url":                        "",
	"database.auto_migrate":               false,
	"auth.jwt_secret":                     "",
	"auth.token_lifetime":                 "24h",
	"ai.provider":                         "workflow",
	"ai.base_url":                         "",
	"ai.model":                            "",
	"ai.keys.knowledge":                   "",
	"ai.keys.generation":                  "",
	"ai.keys.grading":                     "",
	"ai.knowledge_dataset_id":             "",
	"ai.request_timeout":                  "120s",
	"ai.rate_per_second":                  2.0,
	"ai.burst":                            4,
	"task.worker_count":                   5,
	"task.queue_size":                     100,
	"task.overflow_policy":                "caller_runs",
	"task.sweep_interval":                 "1m",
	"task.grading_retry_age":              "10m",
	"generation.batch_size":               10,
	"generation.max_consecutive_failures": 3,
	"generation.pacing_delay":             "2s",
	"grading.mistake_threshold":           0.6,
	"exam.default_max_attempts":           1,
	"exam.submit_grace":                   "2m",
	"notify.redis_url":                    "",
	"notify.channel_prefix":               "scry:notifications",
}

// Load configuration from a .env file, an optional config file and environment
// variables. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	// a missing .env file is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("scry-exam")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/scry-exam")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
