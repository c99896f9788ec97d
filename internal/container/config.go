// Package container provides dependency injection and lifecycle management
// for the cash clearing service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/lark"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/openai"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
	"github.com/garyjia/cash-clearing/internal/infrastructure/worker"
	httpserver "github.com/garyjia/cash-clearing/internal/interfaces/http"
	"github.com/garyjia/cash-clearing/pkg/database"
)

// Config holds all configuration for the Container, already shaped for the
// packages it is handed to.
type Config struct {
	Database database.Config
	OpenAI   openai.Config
	Lark     lark.Config
	Server   httpserver.ServerConfig

	// Store and Oracle tune the retry and breaker guard in front of each dependency
	Store  resilience.Policy
	Oracle resilience.Policy

	Classifier recovery.ClassifierConfig
	Approval   approval.Policy
	Workflow   WorkflowConfig
}

// WorkflowConfig holds run defaults and background execution settings.
type WorkflowConfig struct {
	// Defaults is the RunConfig a workflow starts with before overrides
	Defaults entity.RunConfig

	// Pool sizes the goroutine pool step loops and async handlers run on
	Pool worker.PoolConfig

	// BackoffScale multiplies every retry delay; 0 retries without waiting
	BackoffScale float64

	// RecoveryInterval is how often orphaned RUNNING workflows are rescheduled
	RecoveryInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	steps := make(map[int]entity.StepPolicy, entity.StepCount)
	for step := entity.StepSelectTransactions; step <= entity.StepCount; step++ {
		steps[step] = entity.StepPolicy{Timeout: 2 * time.Minute, MaxRetries: 3}
	}

	return &Config{
		Database: database.Config{
			Path:            "data/cash_clearing.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		OpenAI: openai.Config{
			Model:          "gpt-4o-mini",
			RequestTimeout: 30 * time.Second,
		},
		Lark: lark.Config{
			ReceiveIDType:  "chat_id",
			RequestTimeout: 10 * time.Second,
		},
		Server:     httpserver.DefaultServerConfig(),
		Store:      resilience.StorePolicy(),
		Oracle:     resilience.OraclePolicy(),
		Classifier: recovery.DefaultClassifierConfig(),
		Approval:   approval.DefaultPolicy(),
		Workflow: WorkflowConfig{
			Defaults: entity.RunConfig{
				BatchSize:           100,
				StatusFilter:        entity.TransactionUnmatched,
				FallbackToRules:     true,
				AllowPartialFailure: true,
				Steps:               steps,
			},
			Pool:             worker.DefaultPoolConfig(),
			BackoffScale:     1.0,
			RecoveryInterval: time.Minute,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Workflow.Pool.Size <= 0 {
		return fmt.Errorf("workflow.concurrency must be positive")
	}
	if c.Workflow.Defaults.BatchSize <= 0 {
		return fmt.Errorf("workflow.batch_size must be positive")
	}
	if err := c.Approval.Validate(); err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	return nil
}
