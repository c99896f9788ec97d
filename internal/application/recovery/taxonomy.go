package recovery

import "github.com/garyjia/cash-clearing/internal/domain/failure"

// rule is one built-in taxonomy entry. Patterns are lowercase substrings.
type rule struct {
	Category    failure.Category
	Subcategory failure.Subcategory
	Severity    failure.Severity
	Retryable   bool
	MaxRetries  int
	Backoff     failure.BackoffStrategy
	Patterns    []string
}

// builtinTaxonomy is scanned in order; the first rule with a matching pattern wins.
var builtinTaxonomy = []rule{
	// SYSTEM_INFRASTRUCTURE
	{
		Category: failure.CategorySystemInfrastructure, Subcategory: failure.SubStoreConnection,
		Severity: failure.SeverityHigh, Retryable: true, MaxRetries: 3, Backoff: failure.BackoffExponential,
		Patterns: []string{
			"connection timeout", "connection refused", "connection reset", "connection closed",
			"bad connection", "database is locked", "database is closed", "unable to open database",
			"too many connections", "store unavailable", "pool exhausted",
		},
	},
	{
		Category: failure.CategorySystemInfrastructure, Subcategory: failure.SubStepTimeout,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 2, Backoff: failure.BackoffLinear,
		Patterns: []string{"context deadline exceeded", "deadline exceeded", "step timeout"},
	},
	{
		Category: failure.CategorySystemInfrastructure, Subcategory: failure.SubQuota,
		Severity: failure.SeverityHigh, Retryable: true, MaxRetries: 2, Backoff: failure.BackoffAdaptive,
		Patterns: []string{"quota exceeded", "resource exhausted", "database or disk is full", "no space left"},
	},
	{
		Category: failure.CategorySystemInfrastructure, Subcategory: failure.SubPermission,
		Severity: failure.SeverityCritical, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"permission denied", "access denied", "forbidden", "readonly database", "insufficient privileges"},
	},
	{
		Category: failure.CategorySystemInfrastructure, Subcategory: failure.SubSyntax,
		Severity: failure.SeverityHigh, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"syntax error", "no such table", "no such column", "sql logic error"},
	},

	// AI_PROCESSING
	{
		Category: failure.CategoryAIProcessing, Subcategory: failure.SubRateLimit,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 5, Backoff: failure.BackoffExponential,
		Patterns: []string{"rate limit", "rate_limit", "too many requests", "status code: 429", "http_429"},
	},
	{
		Category: failure.CategoryAIProcessing, Subcategory: failure.SubAITimeout,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 3, Backoff: failure.BackoffLinear,
		Patterns: []string{"oracle timeout", "model timeout", "completion timed out", "ai request timed out"},
	},
	{
		Category: failure.CategoryAIProcessing, Subcategory: failure.SubInvalidResponse,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 2, Backoff: failure.BackoffFixed,
		Patterns: []string{"invalid response", "failed to parse", "unexpected end of json", "invalid character", "malformed", "empty response"},
	},
	{
		Category: failure.CategoryAIProcessing, Subcategory: failure.SubServiceUnavailable,
		Severity: failure.SeverityHigh, Retryable: true, MaxRetries: 3, Backoff: failure.BackoffAdaptive,
		Patterns: []string{"service unavailable", "overloaded", "bad gateway", "internal server error", "status code: 500", "status code: 502", "status code: 503", "http_503"},
	},
	{
		Category: failure.CategoryAIProcessing, Subcategory: failure.SubContentPolicy,
		Severity: failure.SeverityMedium, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"content policy", "content_policy", "content_filter", "safety system"},
	},

	// DATA_VALIDATION
	{
		Category: failure.CategoryDataValidation, Subcategory: failure.SubSchema,
		Severity: failure.SeverityMedium, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"schema", "missing required field", "required field", "cannot unmarshal", "invalid type"},
	},
	{
		Category: failure.CategoryDataValidation, Subcategory: failure.SubBusinessRule,
		Severity: failure.SeverityMedium, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"business rule", "amount must be", "negative amount", "currency mismatch", "invalid gl account"},
	},
	{
		Category: failure.CategoryDataValidation, Subcategory: failure.SubDataQuality,
		Severity: failure.SeverityLow, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"data quality", "missing description", "duplicate transaction", "invalid amount", "incomplete record"},
	},

	// WORKFLOW_ORCHESTRATION
	{
		Category: failure.CategoryWorkflowOrchestration, Subcategory: failure.SubStepDependency,
		Severity: failure.SeverityHigh, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"step dependency", "previous step", "missing checkpoint", "prerequisite"},
	},
	{
		Category: failure.CategoryWorkflowOrchestration, Subcategory: failure.SubApprovalTimeout,
		Severity: failure.SeverityLow, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"approval timeout", "approval expired", "awaiting approval"},
	},
	{
		Category: failure.CategoryWorkflowOrchestration, Subcategory: failure.SubBatchSize,
		Severity: failure.SeverityMedium, Retryable: false, MaxRetries: 0, Backoff: failure.BackoffNone,
		Patterns: []string{"batch too large", "batch size", "exceeds maximum batch"},
	},
	{
		Category: failure.CategoryWorkflowOrchestration, Subcategory: failure.SubConcurrentUpdate,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 2, Backoff: failure.BackoffFixed,
		Patterns: []string{"concurrent update", "status conflict", "optimistic lock", "version mismatch"},
	},

	// EXTERNAL_DEPENDENCIES
	{
		Category: failure.CategoryExternalDependencies, Subcategory: failure.SubNetwork,
		Severity: failure.SeverityMedium, Retryable: true, MaxRetries: 3, Backoff: failure.BackoffExponential,
		Patterns: []string{"dial tcp", "no such host", "network is unreachable", "i/o timeout", "tls handshake", "broken pipe", "unexpected eof"},
	},
	{
		Category: failure.CategoryExternalDependencies, Subcategory: failure.SubThirdParty,
		Severity: failure.SeverityLow, Retryable: true, MaxRetries: 2, Backoff: failure.BackoffLinear,
		Patterns: []string{"third party", "third-party", "upstream", "lark api", "notification sink"},
	},
}

// lookupRule returns the built-in rule for a subcategory
func lookupRule(sub failure.Subcategory) (rule, bool) {
	for _, r := range builtinTaxonomy {
		if r.Subcategory == sub {
			return r, true
		}
	}
	return rule{}, false
}
