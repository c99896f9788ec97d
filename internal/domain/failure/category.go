// Package failure defines the error taxonomy used to classify and recover from
// failures inside the clearing workflow.
package failure

// Category is the top level of the error taxonomy
type Category string

const (
	CategorySystemInfrastructure  Category = "SYSTEM_INFRASTRUCTURE"
	CategoryAIProcessing          Category = "AI_PROCESSING"
	CategoryDataValidation        Category = "DATA_VALIDATION"
	CategoryWorkflowOrchestration Category = "WORKFLOW_ORCHESTRATION"
	CategoryExternalDependencies  Category = "EXTERNAL_DEPENDENCIES"
	CategoryUnknown               Category = "UNKNOWN"
)

// String returns the string representation of the category
func (c Category) String() string {
	return string(c)
}

// Subcategory is the second level of the error taxonomy
type Subcategory string

// SYSTEM_INFRASTRUCTURE
const (
	SubStoreConnection Subcategory = "STORE_CONNECTION"
	SubStepTimeout     Subcategory = "STEP_TIMEOUT"
	SubQuota           Subcategory = "QUOTA_EXCEEDED"
	SubPermission      Subcategory = "PERMISSION_DENIED"
	SubSyntax          Subcategory = "QUERY_SYNTAX"
)

// AI_PROCESSING
const (
	SubRateLimit          Subcategory = "RATE_LIMIT"
	SubAITimeout          Subcategory = "TIMEOUT"
	SubInvalidResponse    Subcategory = "INVALID_RESPONSE"
	SubServiceUnavailable Subcategory = "SERVICE_UNAVAILABLE"
	SubContentPolicy      Subcategory = "CONTENT_POLICY"
)

// DATA_VALIDATION
const (
	SubSchema       Subcategory = "SCHEMA_VIOLATION"
	SubBusinessRule Subcategory = "BUSINESS_RULE"
	SubDataQuality  Subcategory = "DATA_QUALITY"
)

// WORKFLOW_ORCHESTRATION
const (
	SubStepDependency   Subcategory = "STEP_DEPENDENCY"
	SubApprovalTimeout  Subcategory = "APPROVAL_TIMEOUT"
	SubBatchSize        Subcategory = "BATCH_SIZE"
	SubConcurrentUpdate Subcategory = "CONCURRENT_UPDATE"
)

// EXTERNAL_DEPENDENCIES
const (
	SubNetwork    Subcategory = "NETWORK"
	SubThirdParty Subcategory = "THIRD_PARTY"
)

// Heuristic fallback subcategories
const (
	SubHeuristicTimeout    Subcategory = "HEURISTIC_TIMEOUT"
	SubHeuristicPermission Subcategory = "HEURISTIC_PERMISSION"
	SubHeuristicValidation Subcategory = "HEURISTIC_VALIDATION"
	SubUnclassified        Subcategory = "UNCLASSIFIED"
)

// String returns the string representation of the subcategory
func (s Subcategory) String() string {
	return string(s)
}

// BackoffStrategy names how retry delays grow between attempts
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffAdaptive    BackoffStrategy = "adaptive"
	BackoffNone        BackoffStrategy = "none"
)
