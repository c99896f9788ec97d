package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// OpenAIConfig holds the classification oracle configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// LarkConfig holds the notification sink configuration. Notifications are
// disabled unless app_id, app_secret and receive_id are all set.
type LarkConfig struct {
	AppID         string        `mapstructure:"app_id"`
	AppSecret     string        `mapstructure:"app_secret"`
	BaseURL       string        `mapstructure:"base_url"`
	ReceiveIDType string        `mapstructure:"receive_id_type"`
	ReceiveID     string        `mapstructure:"receive_id"`
	APITimeout    time.Duration `mapstructure:"api_timeout"`
}

// StepConfig holds the timeout and retry budget of one pipeline step
type StepConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// WorkflowConfig holds the run defaults and the execution pool
type WorkflowConfig struct {
	BatchSize            int                `mapstructure:"batch_size"`
	Concurrency          int                `mapstructure:"concurrency"`
	StatusFilter         string             `mapstructure:"status_filter"`
	RequireHumanApproval bool               `mapstructure:"require_human_approval"`
	FallbackToRules      bool               `mapstructure:"fallback_to_rules"`
	AllowPartialFailure  bool               `mapstructure:"allow_partial_failure"`
	BackoffScale         float64            `mapstructure:"backoff_scale"`
	RecoveryInterval     time.Duration      `mapstructure:"recovery_interval"`
	Steps                map[int]StepConfig `mapstructure:"steps"`
}

// ApprovalConfig holds the approval business rules
type ApprovalConfig struct {
	MinConfidence         float64 `mapstructure:"min_confidence"`
	MaxOverrideDeviation  float64 `mapstructure:"max_override_deviation"`
	GLAccountPattern      string  `mapstructure:"gl_account_pattern"`
	ReprocessHighAmount   float64 `mapstructure:"reprocess_high_amount"`
	ReprocessMediumAmount float64 `mapstructure:"reprocess_medium_amount"`
}

// ClassifierConfig holds the error classifier thresholds
type ClassifierConfig struct {
	HistorySize            int                      `mapstructure:"history_size"`
	TrendWindow            time.Duration            `mapstructure:"trend_window"`
	TrendThreshold         int                      `mapstructure:"trend_threshold"`
	HighFrequencyShare     float64                  `mapstructure:"high_frequency_share"`
	ModerateFrequencyShare float64                  `mapstructure:"moderate_frequency_share"`
	LargeBatchSize         int                      `mapstructure:"large_batch_size"`
	HighValueAmount        float64                  `mapstructure:"high_value_amount"`
	CustomPatterns         []recovery.CustomPattern `mapstructure:"custom_patterns"`
}

// ResilienceConfig holds store and oracle retry and circuit breaker settings
type ResilienceConfig struct {
	RetryMaxAttempts        int           `mapstructure:"retry_max_attempts"`
	RetryInitialBackoff     time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff         time.Duration `mapstructure:"retry_max_backoff"`
	RetryMultiplier         float64       `mapstructure:"retry_multiplier"`
	BreakerEnabled          bool          `mapstructure:"breaker_enabled"`
	BreakerMinRequests      uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio     float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `mapstructure:"breaker_half_open_max_calls"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configPath (optional) and the environment. A .env file next to the
// process is loaded first so its values are visible to the environment bindings.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv sets variables from path without overriding the real environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/cash_clearing.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 30*time.Second)

	// Lark defaults
	v.SetDefault("lark.receive_id_type", "chat_id")
	v.SetDefault("lark.api_timeout", 10*time.Second)

	// Workflow defaults
	v.SetDefault("workflow.batch_size", 100)
	v.SetDefault("workflow.concurrency", 4)
	v.SetDefault("workflow.status_filter", "UNMATCHED")
	v.SetDefault("workflow.require_human_approval", false)
	v.SetDefault("workflow.fallback_to_rules", true)
	v.SetDefault("workflow.allow_partial_failure", true)
	v.SetDefault("workflow.backoff_scale", 1.0)
	v.SetDefault("workflow.recovery_interval", time.Minute)

	// Approval defaults
	v.SetDefault("approval.min_confidence", 0.3)
	v.SetDefault("approval.max_override_deviation", 0.10)
	v.SetDefault("approval.gl_account_pattern", approval.DefaultGLAccountPattern)
	v.SetDefault("approval.reprocess_high_amount", 50000)
	v.SetDefault("approval.reprocess_medium_amount", 10000)

	// Classifier defaults
	v.SetDefault("classifier.history_size", 1000)
	v.SetDefault("classifier.trend_window", time.Hour)
	v.SetDefault("classifier.trend_threshold", 3)
	v.SetDefault("classifier.high_frequency_share", 0.10)
	v.SetDefault("classifier.moderate_frequency_share", 0.05)
	v.SetDefault("classifier.large_batch_size", 50)
	v.SetDefault("classifier.high_value_amount", 100000)

	// Resilience defaults
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff", 50*time.Millisecond)
	v.SetDefault("resilience.retry_max_backoff", 400*time.Millisecond)
	v.SetDefault("resilience.retry_multiplier", 2.0)
	v.SetDefault("resilience.breaker_enabled", true)
	v.SetDefault("resilience.breaker_min_requests", 10)
	v.SetDefault("resilience.breaker_failure_ratio", 0.5)
	v.SetDefault("resilience.breaker_open_timeout", 30*time.Second)
	v.SetDefault("resilience.breaker_half_open_max_calls", 2)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.receive_id", "LARK_RECEIVE_ID")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return errors.Join(
		utils.ValidatePort("server.port", c.Server.Port),
		utils.ValidateOneOf("server.mode", c.Server.Mode, "debug", "release", "test"),
		utils.ValidateOneOf("logger.format", c.Logger.Format, "json", "console"),
		utils.ValidateRange("workflow.batch_size", c.Workflow.BatchSize, 1, 1000),
		utils.ValidateRange("workflow.concurrency", c.Workflow.Concurrency, 1, 256),
		utils.ValidateNonNegative("workflow.backoff_scale", c.Workflow.BackoffScale),
		utils.ValidateRatio("approval.min_confidence", c.Approval.MinConfidence),
		utils.ValidateRatio("classifier.high_frequency_share", c.Classifier.HighFrequencyShare),
		utils.ValidateRatio("classifier.moderate_frequency_share", c.Classifier.ModerateFrequencyShare),
		utils.ValidateRatio("resilience.breaker_failure_ratio", c.Resilience.BreakerFailureRatio),
		c.validateSteps(),
	)
}

func (c *Config) validateSteps() error {
	var errs []error
	for step, sc := range c.Workflow.Steps {
		name := fmt.Sprintf("workflow.steps.%d", step)
		if step < 1 || step > 4 {
			errs = append(errs, fmt.Errorf("%s: step must be between 1 and 4", name))
			continue
		}
		errs = append(errs,
			utils.ValidateNonNegative(name+".timeout", sc.Timeout),
			utils.ValidateRange(name+".max_retries", sc.MaxRetries, 0, 10),
		)
	}
	return errors.Join(errs...)
}
