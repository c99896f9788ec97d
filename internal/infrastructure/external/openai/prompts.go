package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptSpec is one prompt and its model parameters
type PromptSpec struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts used by the classification oracle
type PromptConfig struct {
	PatternMatch PromptSpec `yaml:"pattern_match"`
	GLSelection  PromptSpec `yaml:"gl_selection"`
}

// DefaultPrompts returns the built-in prompts
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		PatternMatch: PromptSpec{
			Temperature: 0,
			MaxTokens:   2048,
			System: "You are a cash application analyst. Classify unmatched bank transactions against a catalog " +
				"of known transaction patterns. Respond with a single JSON object and nothing else.",
			UserTemplate: `Match each transaction to at most one pattern from the catalog.

Patterns:
{{.Patterns}}

Transactions:
{{.Transactions}}

Respond with JSON of this exact shape:
{
  "matches": [
    {
      "transaction_id": "string",
      "pattern_id": "string, empty when no pattern fits",
      "confidence": number between 0.0 and 1.0,
      "evidence": "the text or amount that supports the match",
      "reasoning": "short explanation"
    }
  ]
}

Return one entry per transaction. Use only pattern ids from the catalog.`,
		},
		GLSelection: PromptSpec{
			Temperature: 0,
			MaxTokens:   1024,
			System: "You are a general ledger accountant. Choose the ledger account a cash transaction should post to. " +
				"Respond with a single JSON object and nothing else.",
			UserTemplate: `Choose the best GL account for this transaction.

Transaction:
{{.Transaction}}

Matched pattern: {{.PatternName}} ({{.PatternID}}), match confidence {{printf "%.2f" .MatchConfidence}}
Evidence: {{.Evidence}}

Candidate accounts:
{{.Candidates}}

Respond with JSON of this exact shape:
{
  "account_code": "one of the candidate account codes",
  "confidence": number between 0.0 and 1.0,
  "requires_approval": boolean,
  "alternatives": ["other plausible candidate account codes"],
  "reasoning": "short explanation"
}`,
		},
	}
}

// LoadPrompts loads prompt configuration from a YAML file. Sections missing
// from the file keep their built-in values.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	// fail at startup rather than on the first oracle call
	for name, spec := range map[string]PromptSpec{"pattern_match": prompts.PatternMatch, "gl_selection": prompts.GLSelection} {
		if _, err := template.New(name).Parse(spec.UserTemplate); err != nil {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
