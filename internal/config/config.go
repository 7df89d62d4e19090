package config

import (
	"strings"
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth" validate:"required"`
	AI         AIConfig         `mapstructure:"ai" validate:"required"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
	Grading    GradingConfig    `mapstructure:"grading" validate:"required"`
	Exam       ExamConfig       `mapstructure:"exam" validate:"required"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"required,oneof=postgres sqlite memory"`
	URL         string `mapstructure:"url" validate:"required_unless=Driver memory"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`

	// TokenLifetime applies to tokens minted by the token command.
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// AIConfig contains the AI provider settings. Keys are not required at load
// time: each capability checks its own key when it is first used.
type AIConfig struct {
	Provider           string        `mapstructure:"provider" validate:"required,oneof=workflow gemini openai"`
	BaseURL            string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model              string        `mapstructure:"model"`
	Keys               AIKeys        `mapstructure:"keys"`
	KnowledgeDatasetID string        `mapstructure:"knowledge_dataset_id"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RatePerSecond      float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst              int           `mapstructure:"burst" validate:"gt=0"`
}

// AIKeys holds one credential per AI capability.
type AIKeys struct {
	Knowledge  string `mapstructure:"knowledge"`
	Generation string `mapstructure:"generation"`
	Grading    string `mapstructure:"grading"`
}

// APIKey returns the credential configured for a capability name.
func (k AIKeys) APIKey(capability string) string {
	switch strings.ToLower(capability) {
	case "knowledge":
		return k.Knowledge
	case "generation":
		return k.Generation
	case "grading":
		return k.Grading
	}
	return ""
}

// TaskConfig sizes the background worker pool.
type TaskConfig struct {
	WorkerCount     int           `mapstructure:"worker_count" validate:"gte=1,lte=64"`
	QueueSize       int           `mapstructure:"queue_size" validate:"gte=1"`
	OverflowPolicy  string        `mapstructure:"overflow_policy" validate:"oneof=caller_runs reject"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	GradingRetryAge time.Duration `mapstructure:"grading_retry_age" validate:"gt=0"`
}

// GenerationConfig tunes the question generation loop.
type GenerationConfig struct {
	BatchSize              int           `mapstructure:"batch_size" validate:"gte=1,lte=50"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" validate:"gte=1"`
	PacingDelay            time.Duration `mapstructure:"pacing_delay" validate:"gte=0"`
}

// GradingConfig tunes AI grading.
type GradingConfig struct {
	MistakeThreshold float64 `mapstructure:"mistake_threshold" validate:"gt=0,lte=1"`
}

// ExamConfig holds attempt rules that publications do not override.
type ExamConfig struct {
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts" validate:"gte=1"`
	SubmitGrace        time.Duration `mapstructure:"submit_grace" validate:"gte=0"`
}

// NotifyConfig configures where user notifications are published.
// An empty RedisURL keeps notifications in-process.
type NotifyConfig struct {
	RedisURL      string `mapstructure:"redis_url" validate:"omitempty,url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}
