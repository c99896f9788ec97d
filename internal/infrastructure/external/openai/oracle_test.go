package openai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
)

// fakeChat replays canned answers in order
type fakeChat struct {
	answers  []string
	errs     []error
	calls    int
	requests []openai.ChatCompletionRequest
	block    bool
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	f.requests = append(f.requests, req)

	if f.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	content := ""
	if i < len(f.answers) {
		content = f.answers[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}, nil
}

func testGuard(breaker bool) *resilience.Guard {
	return resilience.NewGuard(resilience.Policy{
		Attempts:      3,
		FirstBackoff:  time.Millisecond,
		BackoffCap:    2 * time.Millisecond,
		BackoffFactor: 2,
		Breaker:       breaker,
		TripAfter:     1,
		TripRatio:     0.5,
		Cooldown:      time.Minute,
		HalfOpenCalls: 1,
	}, zap.NewNop())
}

func testOracle(chat *fakeChat, guard *resilience.Guard) *Oracle {
	return newOracle(chat, Config{Model: "test-model"}, DefaultPrompts(), guard, zap.NewNop())
}

func testTransactions() []*entity.Transaction {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []*entity.Transaction{
		{ID: "t-1", Amount: 250, Currency: "USD", Description: "WIRE FROM ACME", Timestamp: ts},
		{ID: "t-2", Amount: 12, Currency: "USD", Description: "MONTHLY FEE", Timestamp: ts},
		{ID: "t-3", Amount: 99, Currency: "USD", Description: "???", Timestamp: ts},
	}
}

func testPatterns() []*entity.Pattern {
	return []*entity.Pattern{
		{ID: "p-wire", Name: "Incoming wire", Type: entity.PatternKeyword, Expression: "WIRE", Active: true},
		{ID: "p-fee", Name: "Bank fee", Type: entity.PatternKeyword, Expression: "FEE", Active: true},
		{ID: "p-old", Name: "Retired", Type: entity.PatternRegex, Expression: ".*", Active: false},
	}
}

func TestMatchPatterns_MapsModelAnswer(t *testing.T) {
	chat := &fakeChat{answers: []string{`{
		"matches": [
			{"transaction_id": "t-1", "pattern_id": "p-wire", "confidence": 0.92, "evidence": "WIRE", "reasoning": "wire keyword"},
			{"transaction_id": "t-2", "pattern_id": "p-fee", "confidence": 0.81, "evidence": "FEE", "reasoning": "fee keyword"}
		]
	}`}}
	oracle := testOracle(chat, nil)

	results, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NotNil(t, results[0].Match)
	assert.Equal(t, "p-wire", results[0].Match.PatternID)
	assert.Equal(t, "Incoming wire", results[0].Match.PatternName)
	assert.Equal(t, entity.PatternKeyword, results[0].Match.PatternType)
	assert.Equal(t, 0.92, results[0].Match.Confidence)
	assert.Equal(t, entity.SourceOracle, results[0].Match.Source)

	assert.Equal(t, "p-fee", results[1].Match.PatternID)
	assert.Nil(t, results[2].Match, "unanswered transaction has no match")

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	user := req.Messages[1].Content
	assert.Contains(t, user, "WIRE FROM ACME")
	assert.Contains(t, user, "p-fee")
	assert.NotContains(t, user, "p-old", "inactive patterns are not offered")
}

func TestMatchPatterns_AcceptsFencedJSON(t *testing.T) {
	chat := &fakeChat{answers: []string{"Here you go:\n```json\n{\"matches\": [{\"transaction_id\": \"t-1\", \"pattern_id\": \"p-wire\", \"confidence\": 0.7}]}\n```"}}
	oracle := testOracle(chat, nil)

	results, err := oracle.MatchPatterns(context.Background(), testTransactions()[:1], testPatterns())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Match)
	assert.Equal(t, "p-wire", results[0].Match.PatternID)
}

func TestMatchPatterns_InvalidJSON(t *testing.T) {
	chat := &fakeChat{answers: []string{"I cannot help with that"}}
	oracle := testOracle(chat, nil)

	_, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response")
}

func TestMatchPatterns_EmptyInputSkipsCall(t *testing.T) {
	chat := &fakeChat{}
	oracle := testOracle(chat, nil)

	results, err := oracle.MatchPatterns(context.Background(), nil, testPatterns())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, chat.calls)
}

func TestSelectGLMapping_PicksCandidate(t *testing.T) {
	chat := &fakeChat{answers: []string{`{
		"account_code": "1200",
		"confidence": 0.88,
		"requires_approval": false,
		"alternatives": ["1010", "9999", "1200"],
		"reasoning": "receivable settlement"
	}`}}
	oracle := testOracle(chat, nil)

	req := port.GLSelectionRequest{
		Transaction: testTransactions()[0],
		Match:       entity.PatternMatch{PatternID: "p-wire", PatternName: "Incoming wire", Confidence: 0.9},
		Candidates: []entity.GLMapping{
			{AccountCode: "1010", AccountName: "Cash", DebitCredit: entity.Debit, Confidence: 0.9, AutoApproveThreshold: 0.9},
			{AccountCode: "1200", AccountName: "Receivables", DebitCredit: entity.Credit, Confidence: 0.81, AutoApproveThreshold: 0.85},
		},
	}

	sel, err := oracle.SelectGLMapping(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "t-1", sel.TransactionID)
	assert.Equal(t, "1200", sel.Mapping.AccountCode)
	assert.Equal(t, "Receivables", sel.Mapping.AccountName)
	assert.Equal(t, 0.88, sel.Confidence)
	assert.False(t, sel.RequiresApproval)
	require.Len(t, sel.Alternatives, 1)
	assert.Equal(t, "1010", sel.Alternatives[0].AccountCode)
	assert.Equal(t, entity.SourceOracle, sel.Source)
	assert.Contains(t, chat.requests[0].Messages[1].Content, "Incoming wire (p-wire)")
}

func TestSelectGLMapping_MissingAccount(t *testing.T) {
	chat := &fakeChat{answers: []string{`{"confidence": 0.5}`}}
	oracle := testOracle(chat, nil)

	_, err := oracle.SelectGLMapping(context.Background(), port.GLSelectionRequest{
		Transaction: testTransactions()[0],
		Candidates:  []entity.GLMapping{{AccountCode: "1010"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response")
	assert.Equal(t, 1, chat.calls)
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached"}
	chat := &fakeChat{
		errs:    []error{rateLimited, rateLimited, nil},
		answers: []string{"", "", `{"matches": []}`},
	}
	oracle := testOracle(chat, testGuard(false))

	_, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.NoError(t, err)
	assert.Equal(t, 3, chat.calls)
}

func TestComplete_DoesNotRetryBadRequest(t *testing.T) {
	badRequest := &openai.APIError{HTTPStatusCode: 400, Message: "content_filter triggered"}
	chat := &fakeChat{errs: []error{badRequest}}
	oracle := testOracle(chat, testGuard(false))

	_, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.Error(t, err)
	assert.Equal(t, 1, chat.calls)

	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestComplete_OpenCircuitReportsUnavailable(t *testing.T) {
	unavailable := &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}
	chat := &fakeChat{errs: []error{unavailable, unavailable, unavailable, unavailable}}
	oracle := testOracle(chat, testGuard(true))

	_, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.Error(t, err)
	calls := chat.calls

	_, err = oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle service unavailable")
	assert.Equal(t, calls, chat.calls, "open circuit short-circuits the call")
}

func TestComplete_RequestTimeout(t *testing.T) {
	chat := &fakeChat{block: true}
	oracle := newOracle(chat, Config{RequestTimeout: 5 * time.Millisecond}, DefaultPrompts(), nil, zap.NewNop())

	_, err := oracle.MatchPatterns(context.Background(), testTransactions(), testPatterns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle timeout")
	assert.NotContains(t, err.Error(), "deadline exceeded")
}

func TestLoadPrompts_OverridesSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := strings.Join([]string{
		"gl_selection:",
		"  temperature: 0.2",
		"  system: custom system",
		"  user_template: 'pick for {{.PatternID}}'",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "custom system", prompts.GLSelection.System)
	assert.Equal(t, float32(0.2), prompts.GLSelection.Temperature)
	assert.Equal(t, DefaultPrompts().PatternMatch, prompts.PatternMatch)
}

func TestLoadPrompts_RejectsBrokenTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pattern_match:\n  user_template: '{{.Broken'\n"), 0o600))

	_, err := LoadPrompts(path)
	assert.Error(t, err)
}

func TestNewOracle_RequiresKey(t *testing.T) {
	_, err := NewOracle(Config{}, nil, zap.NewNop())
	assert.Error(t, err)
}
