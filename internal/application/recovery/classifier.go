// Package recovery classifies workflow failures and recommends how to recover from them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// Classification confidence per classifier branch
const (
	ConfidenceCustom     = 0.9
	ConfidenceBuiltin    = 0.8
	ConfidenceHeuristic  = 0.3
	ConfidenceUnmatched  = 0.2
	defaultCustomRetries = 3
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Observer receives every classification, used for metrics
type Observer interface {
	ObserveClassification(c failure.Classification)
}

// CustomPattern is a caller-supplied taxonomy entry scanned before the built-in one.
// Retry fields default to the built-in rule for the same subcategory when unset.
type CustomPattern struct {
	Patterns    []string                `mapstructure:"patterns"`
	Regex       bool                    `mapstructure:"regex"`
	Category    failure.Category        `mapstructure:"category"`
	Subcategory failure.Subcategory     `mapstructure:"subcategory"`
	Severity    failure.Severity        `mapstructure:"severity"`
	Retryable   *bool                   `mapstructure:"retryable"`
	MaxRetries  *int                    `mapstructure:"max_retries"`
	Backoff     failure.BackoffStrategy `mapstructure:"backoff"`
}

// ClassifierConfig holds thresholds for impact and frequency analysis
type ClassifierConfig struct {
	HistorySize            int
	TrendWindow            time.Duration
	TrendThreshold         int
	HighFrequencyShare     float64
	ModerateFrequencyShare float64
	LargeBatchSize         int
	HighValueAmount        float64
	CustomPatterns         []CustomPattern
}

// DefaultClassifierConfig returns the standard thresholds
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		HistorySize:            1000,
		TrendWindow:            time.Hour,
		TrendThreshold:         3,
		HighFrequencyShare:     0.10,
		ModerateFrequencyShare: 0.05,
		LargeBatchSize:         50,
		HighValueAmount:        100000,
	}
}

type compiledPattern struct {
	spec     CustomPattern
	literals []string
	regexes  []*regexp.Regexp
}

// Classifier maps errors onto the failure taxonomy. Classify never fails:
// anything unmatched gets a low-confidence heuristic classification.
type Classifier struct {
	cfg      ClassifierConfig
	custom   []compiledPattern
	history  *history
	now      func() time.Time
	logger   Logger
	observer Observer
}

// Option configures the classifier
type Option func(*Classifier)

// WithLogger sets a logger for the classifier
func WithLogger(logger Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// WithObserver registers a classification observer
func WithObserver(o Observer) Option {
	return func(c *Classifier) {
		c.observer = o
	}
}

// NewClassifier creates a classifier. It fails only when a custom regex does not compile.
func NewClassifier(cfg ClassifierConfig, opts ...Option) (*Classifier, error) {
	defaults := DefaultClassifierConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = defaults.TrendWindow
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = defaults.TrendThreshold
	}
	if cfg.HighFrequencyShare <= 0 {
		cfg.HighFrequencyShare = defaults.HighFrequencyShare
	}
	if cfg.ModerateFrequencyShare <= 0 {
		cfg.ModerateFrequencyShare = defaults.ModerateFrequencyShare
	}
	if cfg.LargeBatchSize <= 0 {
		cfg.LargeBatchSize = defaults.LargeBatchSize
	}
	if cfg.HighValueAmount <= 0 {
		cfg.HighValueAmount = defaults.HighValueAmount
	}

	c := &Classifier{
		cfg:     cfg,
		history: newHistory(cfg.HistorySize),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	for i, p := range cfg.CustomPatterns {
		cp := compiledPattern{spec: p}
		for _, expr := range p.Patterns {
			if p.Regex {
				re, err := regexp.Compile("(?i)" + expr)
				if err != nil {
					return nil, fmt.Errorf("custom pattern %d: invalid regex %q: %w", i, expr, err)
				}
				cp.regexes = append(cp.regexes, re)
				continue
			}
			cp.literals = append(cp.literals, strings.ToLower(expr))
		}
		c.custom = append(c.custom, cp)
	}

	return c, nil
}

// Classify normalizes err and assigns it a category, severity, retry policy,
// business impact and frequency analysis. The result is recorded in history.
func (c *Classifier) Classify(err error, opCtx failure.OperationalContext) failure.Classification {
	now := opCtx.Now
	if now.IsZero() {
		now = c.now()
	}

	normalized := normalize(err, opCtx)
	text := strings.ToLower(strings.Join([]string{normalized.Name, normalized.Code, normalized.Message}, " "))

	result, matched := c.matchCustom(text)
	if !matched {
		result, matched = matchBuiltin(text)
	}
	if !matched {
		result = heuristic(text)
	}

	result.Error = normalized
	result.ClassifiedAt = now
	result.Impact = c.assessImpact(result.Severity, opCtx, now)
	if result.Impact.Level == failure.ImpactCritical {
		result.Severity = result.Severity.Upgrade()
	}
	result.Frequency = c.history.record(frequencyKey(normalized, result), now, c.cfg)

	if c.logger != nil {
		c.logger.Info("Error classified",
			"category", result.Category,
			"subcategory", result.Subcategory,
			"severity", result.Severity.String(),
			"retryable", result.Retryable,
			"source", result.Source,
			"impact", result.Impact.Level.String(),
			"frequency", result.Frequency.Level,
			"step", normalized.Step,
			"batch_id", normalized.BatchID,
			"transaction_id", normalized.TransactionID,
		)
	}
	if c.observer != nil {
		c.observer.ObserveClassification(result)
	}

	return result
}

// Frequency returns the current analysis for a (code, step) key without recording
func (c *Classifier) Frequency(code string, step int) failure.Frequency {
	return c.history.analyze(fmt.Sprintf("%s@%d", code, step), c.now(), c.cfg)
}

func (c *Classifier) matchCustom(text string) (failure.Classification, bool) {
	for _, cp := range c.custom {
		if !cp.matches(text) {
			continue
		}

		p := cp.spec
		base, known := lookupRule(p.Subcategory)
		severity := p.Severity
		if !severity.IsValid() {
			if known {
				severity = base.Severity
			} else {
				severity = failure.SeverityMedium
			}
		}

		retryable := severity.Policy().AutoRetry
		maxRetries := defaultCustomRetries
		backoff := failure.BackoffExponential
		if known {
			retryable, maxRetries, backoff = base.Retryable, base.MaxRetries, base.Backoff
		}
		if p.Retryable != nil {
			retryable = *p.Retryable
		}
		if p.MaxRetries != nil {
			maxRetries = *p.MaxRetries
		}
		if p.Backoff != "" {
			backoff = p.Backoff
		}
		if !retryable {
			maxRetries, backoff = 0, failure.BackoffNone
		}

		return failure.Classification{
			Category:    p.Category,
			Subcategory: p.Subcategory,
			Severity:    severity,
			Retryable:   retryable,
			MaxRetries:  maxRetries,
			Backoff:     backoff,
			Confidence:  ConfidenceCustom,
			Source:      failure.SourceCustom,
		}, true
	}
	return failure.Classification{}, false
}

func (cp compiledPattern) matches(text string) bool {
	for _, lit := range cp.literals {
		if lit != "" && strings.Contains(text, lit) {
			return true
		}
	}
	for _, re := range cp.regexes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func matchBuiltin(text string) (failure.Classification, bool) {
	for _, r := range builtinTaxonomy {
		for _, p := range r.Patterns {
			if strings.Contains(text, p) {
				return failure.Classification{
					Category:    r.Category,
					Subcategory: r.Subcategory,
					Severity:    r.Severity,
					Retryable:   r.Retryable,
					MaxRetries:  r.MaxRetries,
					Backoff:     r.Backoff,
					Confidence:  ConfidenceBuiltin,
					Source:      failure.SourceBuiltin,
				}, true
			}
		}
	}
	return failure.Classification{}, false
}

func heuristic(text string) failure.Classification {
	c := failure.Classification{
		Source:     failure.SourceHeuristic,
		Confidence: ConfidenceHeuristic,
		Backoff:    failure.BackoffNone,
	}

	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out"):
		c.Category = failure.CategorySystemInfrastructure
		c.Subcategory = failure.SubHeuristicTimeout
		c.Severity = failure.SeverityMedium
		c.Retryable = true
		c.MaxRetries = 2
		c.Backoff = failure.BackoffExponential
	case strings.Contains(text, "permission") || strings.Contains(text, "auth"):
		c.Category = failure.CategorySystemInfrastructure
		c.Subcategory = failure.SubHeuristicPermission
		c.Severity = failure.SeverityCritical
	case strings.Contains(text, "validation") || strings.Contains(text, "invalid"):
		c.Category = failure.CategoryDataValidation
		c.Subcategory = failure.SubHeuristicValidation
		c.Severity = failure.SeverityLow
	default:
		c.Category = failure.CategoryUnknown
		c.Subcategory = failure.SubUnclassified
		c.Severity = failure.SeverityMedium
		c.Confidence = ConfidenceUnmatched
	}

	return c
}

// normalize reduces err to the fields the taxonomy matches on, filling
// location from the operational context where the error carries none
func normalize(err error, opCtx failure.OperationalContext) failure.NormalizedError {
	n := failure.NormalizedError{
		Step:          opCtx.Step,
		BatchID:       opCtx.BatchID,
		TransactionID: opCtx.TransactionID,
	}
	if err == nil {
		n.Name = "nil"
		n.Message = "unknown error"
		return n
	}

	n.Message = err.Error()
	n.Name = errorName(err)

	var fe *failure.Error
	if errors.As(err, &fe) {
		n.Code = fe.Code
		if fe.Step != 0 {
			n.Step = fe.Step
		}
		if fe.BatchID != "" {
			n.BatchID = fe.BatchID
		}
		if fe.TransactionID != "" {
			n.TransactionID = fe.TransactionID
		}
	}

	if errors.Is(err, context.DeadlineExceeded) && n.Code == "" {
		n.Code = "DEADLINE_EXCEEDED"
	}

	return n
}

// errorName returns the type name of the innermost error in the chain
func errorName(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func frequencyKey(n failure.NormalizedError, c failure.Classification) string {
	code := n.Code
	if code == "" {
		code = string(c.Subcategory)
	}
	return fmt.Sprintf("%s@%d", code, n.Step)
}
