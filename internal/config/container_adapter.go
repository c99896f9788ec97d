package config

import (
	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/container"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/lark"
	"github.com/garyjia/cash-clearing/internal/infrastructure/external/openai"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
	httpserver "github.com/garyjia/cash-clearing/internal/interfaces/http"
	"github.com/garyjia/cash-clearing/pkg/database"
)

// ToContainerConfig converts the file-based Config into the container's
// per-package configuration. Unset step policies keep the container defaults.
func (c *Config) ToContainerConfig() *container.Config {
	out := container.DefaultConfig()

	out.Database = database.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		BusyTimeout:     c.Database.BusyTimeout,
	}
	out.OpenAI = openai.Config{
		APIKey:         c.OpenAI.APIKey,
		BaseURL:        c.OpenAI.BaseURL,
		Model:          c.OpenAI.Model,
		RequestTimeout: c.OpenAI.Timeout,
		PromptsPath:    c.OpenAI.PromptsPath,
	}
	out.Lark = lark.Config{
		AppID:          c.Lark.AppID,
		AppSecret:      c.Lark.AppSecret,
		BaseURL:        c.Lark.BaseURL,
		ReceiveIDType:  c.Lark.ReceiveIDType,
		ReceiveID:      c.Lark.ReceiveID,
		RequestTimeout: c.Lark.APITimeout,
	}
	out.Server = httpserver.ServerConfig{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		Mode:            c.Server.Mode,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}

	out.Store = c.Resilience.storePolicy()
	// the oracle keeps its own slower backoff; only the breaker switch is shared
	out.Oracle.Breaker = c.Resilience.BreakerEnabled

	out.Classifier = recovery.ClassifierConfig{
		HistorySize:            c.Classifier.HistorySize,
		TrendWindow:            c.Classifier.TrendWindow,
		TrendThreshold:         c.Classifier.TrendThreshold,
		HighFrequencyShare:     c.Classifier.HighFrequencyShare,
		ModerateFrequencyShare: c.Classifier.ModerateFrequencyShare,
		LargeBatchSize:         c.Classifier.LargeBatchSize,
		HighValueAmount:        c.Classifier.HighValueAmount,
		CustomPatterns:         c.Classifier.CustomPatterns,
	}
	out.Approval = approval.Policy{
		ApprovalFloor:         c.Approval.MinConfidence,
		MaxOverrideDeviation:  c.Approval.MaxOverrideDeviation,
		GLAccountPattern:      c.Approval.GLAccountPattern,
		ReprocessHighAmount:   c.Approval.ReprocessHighAmount,
		ReprocessMediumAmount: c.Approval.ReprocessMediumAmount,
	}

	wf := &out.Workflow
	wf.Defaults.BatchSize = c.Workflow.BatchSize
	wf.Defaults.StatusFilter = c.Workflow.StatusFilter
	wf.Defaults.RequireHumanApproval = c.Workflow.RequireHumanApproval
	wf.Defaults.FallbackToRules = c.Workflow.FallbackToRules
	wf.Defaults.AllowPartialFailure = c.Workflow.AllowPartialFailure
	for step, sc := range c.Workflow.Steps {
		wf.Defaults.Steps[step] = entity.StepPolicy{Timeout: sc.Timeout, MaxRetries: sc.MaxRetries}
	}
	wf.Pool.Size = c.Workflow.Concurrency
	wf.BackoffScale = c.Workflow.BackoffScale
	wf.RecoveryInterval = c.Workflow.RecoveryInterval

	return out
}

func (r ResilienceConfig) storePolicy() resilience.Policy {
	return resilience.Policy{
		Attempts:      r.RetryMaxAttempts,
		FirstBackoff:  r.RetryInitialBackoff,
		BackoffCap:    r.RetryMaxBackoff,
		BackoffFactor: r.RetryMultiplier,
		Breaker:       r.BreakerEnabled,
		TripAfter:     r.BreakerMinRequests,
		TripRatio:     r.BreakerFailureRatio,
		Cooldown:      r.BreakerOpenTimeout,
		HalfOpenCalls: r.BreakerHalfOpenMaxCalls,
	}
}
