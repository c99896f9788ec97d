package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
)

// Config holds OpenAI oracle configuration
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	PromptsPath    string
}

// chatClient is the subset of *openai.Client the oracle calls
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Oracle implements port.ClassificationOracle using OpenAI chat completions
type Oracle struct {
	client  chatClient
	model   string
	timeout time.Duration
	prompts *PromptConfig
	guard   *resilience.Guard
	logger  *zap.Logger
}

// NewOracle creates a new OpenAI classification oracle. A nil guard calls the API once per request.
func NewOracle(cfg Config, guard *resilience.Guard, logger *zap.Logger) (*Oracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	prompts := DefaultPrompts()
	if cfg.PromptsPath != "" {
		loaded, err := LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, err
		}
		prompts = loaded
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return newOracle(openai.NewClientWithConfig(clientCfg), cfg, prompts, guard, logger), nil
}

func newOracle(client chatClient, cfg Config, prompts *PromptConfig, guard *resilience.Guard, logger *zap.Logger) *Oracle {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Oracle{
		client:  client,
		model:   model,
		timeout: cfg.RequestTimeout,
		prompts: prompts,
		guard:   guard,
		logger:  logger,
	}
}

// matchResponse is the JSON the model returns for pattern matching
type matchResponse struct {
	Matches []struct {
		TransactionID string  `json:"transaction_id"`
		PatternID     string  `json:"pattern_id"`
		Confidence    float64 `json:"confidence"`
		Evidence      string  `json:"evidence"`
		Reasoning     string  `json:"reasoning"`
	} `json:"matches"`
}

// selectionResponse is the JSON the model returns for GL selection
type selectionResponse struct {
	AccountCode      string   `json:"account_code"`
	Confidence       float64  `json:"confidence"`
	RequiresApproval bool     `json:"requires_approval"`
	Alternatives     []string `json:"alternatives"`
	Reasoning        string   `json:"reasoning"`
}

// promptTransaction is the view of a transaction shown to the model
type promptTransaction struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	Reference   string  `json:"reference"`
	Account     string  `json:"account"`
	Date        string  `json:"date"`
}

func toPromptTransaction(t *entity.Transaction) promptTransaction {
	return promptTransaction{
		ID:          t.ID,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Description: t.Description,
		Reference:   t.Reference,
		Account:     t.Account,
		Date:        t.Timestamp.Format("2006-01-02"),
	}
}

// MatchPatterns asks the model to match every transaction against the active patterns
func (o *Oracle) MatchPatterns(ctx context.Context, txns []*entity.Transaction, patterns []*entity.Pattern) ([]port.PatternMatchResult, error) {
	if len(txns) == 0 {
		return []port.PatternMatchResult{}, nil
	}

	active := make([]*entity.Pattern, 0, len(patterns))
	byID := make(map[string]*entity.Pattern, len(patterns))
	for _, p := range patterns {
		if p != nil && p.Active {
			active = append(active, p)
			byID[p.ID] = p
		}
	}

	shown := make([]promptTransaction, 0, len(txns))
	for _, t := range txns {
		shown = append(shown, toPromptTransaction(t))
	}
	txnJSON, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode transactions: %w", err)
	}
	patternJSON, err := json.MarshalIndent(active, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode patterns: %w", err)
	}

	spec := o.prompts.PatternMatch
	prompt, err := renderTemplate(spec.UserTemplate, map[string]string{
		"Transactions": string(txnJSON),
		"Patterns":     string(patternJSON),
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("Matching patterns",
		zap.Int("transactions", len(txns)),
		zap.Int("patterns", len(active)))

	content, err := o.complete(ctx, "match_patterns", spec, prompt)
	if err != nil {
		return nil, err
	}

	var resp matchResponse
	if err := decodeJSON(content, &resp); err != nil {
		o.logger.Error("Failed to parse pattern match response", zap.Error(err), zap.String("content", content))
		return nil, err
	}

	answered := make(map[string]int, len(resp.Matches))
	for i, m := range resp.Matches {
		answered[m.TransactionID] = i
	}

	results := make([]port.PatternMatchResult, 0, len(txns))
	for _, t := range txns {
		result := port.PatternMatchResult{TransactionID: t.ID, Reasoning: "no answer from model"}
		i, ok := answered[t.ID]
		if !ok {
			results = append(results, result)
			continue
		}

		m := resp.Matches[i]
		result.Reasoning = m.Reasoning
		if m.PatternID != "" {
			match := &entity.PatternMatch{
				PatternID:  m.PatternID,
				Confidence: m.Confidence,
				Evidence:   m.Evidence,
				Source:     entity.SourceOracle,
			}
			// unknown ids are passed through and rejected downstream
			if p, ok := byID[m.PatternID]; ok {
				match.PatternName = p.Name
				match.PatternType = p.Type
			}
			result.Match = match
		}
		results = append(results, result)
	}

	o.logger.Info("Pattern matching completed",
		zap.Int("transactions", len(txns)),
		zap.Int("answered", len(resp.Matches)))

	return results, nil
}

// SelectGLMapping asks the model to pick one of the candidate accounts
func (o *Oracle) SelectGLMapping(ctx context.Context, req port.GLSelectionRequest) (*entity.GLSelection, error) {
	if req.Transaction == nil {
		return nil, fmt.Errorf("transaction is required")
	}
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("no GL candidates for pattern %s", req.Match.PatternID)
	}

	txnJSON, err := json.MarshalIndent(toPromptTransaction(req.Transaction), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	candidateJSON, err := json.MarshalIndent(req.Candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	spec := o.prompts.GLSelection
	prompt, err := renderTemplate(spec.UserTemplate, map[string]interface{}{
		"Transaction":     string(txnJSON),
		"PatternID":       req.Match.PatternID,
		"PatternName":     req.Match.PatternName,
		"MatchConfidence": req.Match.Confidence,
		"Evidence":        req.Match.Evidence,
		"Candidates":      string(candidateJSON),
	})
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, "select_gl_mapping", spec, prompt)
	if err != nil {
		return nil, err
	}

	var resp selectionResponse
	if err := decodeJSON(content, &resp); err != nil {
		o.logger.Error("Failed to parse GL selection response", zap.Error(err), zap.String("content", content))
		return nil, err
	}
	if resp.AccountCode == "" {
		return nil, fmt.Errorf("invalid response: missing account_code")
	}

	byCode := make(map[string]entity.GLMapping, len(req.Candidates))
	for _, c := range req.Candidates {
		byCode[c.AccountCode] = c
	}

	// the orchestrator checks the choice against the candidates
	chosen, ok := byCode[resp.AccountCode]
	if !ok {
		chosen = entity.GLMapping{AccountCode: resp.AccountCode}
	}

	var alternatives []entity.GLMapping
	for _, code := range resp.Alternatives {
		if alt, ok := byCode[code]; ok && code != resp.AccountCode {
			alternatives = append(alternatives, alt)
		}
	}

	o.logger.Info("GL selection completed",
		zap.String("transaction_id", req.Transaction.ID),
		zap.String("account_code", resp.AccountCode),
		zap.Float64("confidence", resp.Confidence),
		zap.Bool("requires_approval", resp.RequiresApproval))

	return &entity.GLSelection{
		TransactionID:    req.Transaction.ID,
		Mapping:          chosen,
		Confidence:       resp.Confidence,
		RequiresApproval: resp.RequiresApproval,
		Alternatives:     alternatives,
		Reasoning:        resp.Reasoning,
		Source:           entity.SourceOracle,
	}, nil
}

// complete sends one chat completion through the guard and returns the message content
func (o *Oracle) complete(ctx context.Context, op string, spec PromptSpec, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: spec.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	call := func(ctx context.Context) error {
		callCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}

		resp, err := o.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			// a per-call timeout is the model's fault, the caller's deadline is not
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return &timeoutError{op: op, after: o.timeout, err: err}
			}
			return err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return errEmptyResponse
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	var err error
	if o.guard != nil {
		err = o.guard.Do(ctx, "oracle."+op, call, classifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if resilience.Refused(err) {
			return "", fmt.Errorf("oracle service unavailable: %w", err)
		}
		o.logger.Error("OpenAI API call failed", zap.String("operation", op), zap.Error(err))
		return "", fmt.Errorf("oracle %s failed: %w", op, err)
	}
	return content, nil
}

var errEmptyResponse = errors.New("empty response from oracle")

// timeoutError reports a single completion that ran past the request timeout
type timeoutError struct {
	op    string
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("oracle timeout: %s gave no answer within %s", e.op, e.after)
}

func (e *timeoutError) Unwrap() error { return e.err }

// classifyError retries throttling, server errors and timeouts. Client errors
// such as bad requests or content policy rejections are final and do not trip the breaker.
func classifyError(err error) resilience.Verdict {
	if err == nil || errors.Is(err, context.Canceled) {
		return resilience.Verdict{}
	}

	var te *timeoutError
	if errors.As(err, &te) {
		return resilience.Verdict{Retry: true, Trip: true}
	}
	if errors.Is(err, errEmptyResponse) {
		return resilience.Verdict{Retry: true}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{}
	}
	// transport failures: dial errors, resets, EOF
	return resilience.Verdict{Retry: true, Trip: true}
}

func classifyStatus(code int) resilience.Verdict {
	switch {
	case code == 429:
		return resilience.Verdict{Retry: true, Trip: true}
	case code >= 500:
		return resilience.Verdict{Retry: true, Trip: true}
	default:
		return resilience.Verdict{}
	}
}

// decodeJSON parses the model's answer. Content wrapped in prose or a code fence
// is cut down to its outermost object first.
func decodeJSON(content string, v interface{}) error {
	err := json.Unmarshal([]byte(content), v)
	if err == nil {
		return nil
	}
	if obj := extractJSON(content); obj != "" {
		if err2 := json.Unmarshal([]byte(obj), v); err2 == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid response: failed to parse model output: %w", err)
}

// extractJSON returns the first balanced {...} object in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// Verify interface compliance
var _ port.ClassificationOracle = (*Oracle)(nil)
