// Package matching evaluates pattern rules locally. It stands in for the
// classification oracle when the oracle is failing.
package matching

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

// Base confidence per pattern type. Rule matches never auto-approve.
var typeConfidence = map[entity.PatternType]float64{
	entity.PatternRegex:       0.7,
	entity.PatternKeyword:     0.6,
	entity.PatternAmountRange: 0.5,
}

// candidateDecay lowers mapping confidence for each later account listed on a pattern
const candidateDecay = 0.1

// Matcher implements port.ClassificationOracle with deterministic pattern rules
type Matcher struct{}

var _ port.ClassificationOracle = (*Matcher)(nil)

// NewMatcher creates a rule matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// compiled holds one active pattern ready for evaluation
type compiled struct {
	pattern  *entity.Pattern
	regex    *regexp.Regexp
	keywords []string
}

func compile(patterns []*entity.Pattern) []compiled {
	out := make([]compiled, 0, len(patterns))
	for _, p := range patterns {
		if p == nil || !p.Active {
			continue
		}
		c := compiled{pattern: p}
		switch p.Type {
		case entity.PatternRegex:
			re, err := regexp.Compile("(?i)" + p.Expression)
			if err != nil {
				continue
			}
			c.regex = re
		case entity.PatternKeyword:
			for _, kw := range strings.Split(p.Expression, ",") {
				if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
					c.keywords = append(c.keywords, kw)
				}
			}
		}
		out = append(out, c)
	}

	// Highest priority first, stable so equal priorities keep catalog order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].pattern.Priority > out[j].pattern.Priority
	})
	return out
}

// Match returns every active pattern the transaction satisfies, highest priority first
func Match(txn *entity.Transaction, patterns []*entity.Pattern) []*entity.Pattern {
	var matches []*entity.Pattern
	for _, c := range compile(patterns) {
		if c.matches(txn) {
			matches = append(matches, c.pattern)
		}
	}
	return matches
}

// MatchPatterns picks the highest-priority matching pattern for each transaction
func (m *Matcher) MatchPatterns(ctx context.Context, txns []*entity.Transaction, patterns []*entity.Pattern) ([]port.PatternMatchResult, error) {
	rules := compile(patterns)
	results := make([]port.PatternMatchResult, 0, len(txns))

	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := port.PatternMatchResult{TransactionID: txn.ID, Reasoning: "no rule matched"}
		for _, c := range rules {
			if !c.matches(txn) {
				continue
			}
			result.Match = &entity.PatternMatch{
				PatternID:   c.pattern.ID,
				PatternName: c.pattern.Name,
				PatternType: c.pattern.Type,
				Confidence:  typeConfidence[c.pattern.Type],
				Evidence:    c.evidence(txn),
				Source:      entity.SourceRules,
			}
			result.Reasoning = fmt.Sprintf("rule %s (priority %d) matched", c.pattern.Name, c.pattern.Priority)
			break
		}
		results = append(results, result)
	}

	return results, nil
}

// SelectGLMapping picks the highest-confidence candidate. Rule selections always require approval.
func (m *Matcher) SelectGLMapping(ctx context.Context, req port.GLSelectionRequest) (*entity.GLSelection, error) {
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("no GL candidates for pattern %s", req.Match.PatternID)
	}

	best := 0
	for i, c := range req.Candidates {
		if c.Confidence > req.Candidates[best].Confidence {
			best = i
		}
	}

	alternatives := make([]entity.GLMapping, 0, len(req.Candidates)-1)
	for i, c := range req.Candidates {
		if i != best {
			alternatives = append(alternatives, c)
		}
	}

	chosen := req.Candidates[best]
	return &entity.GLSelection{
		TransactionID:    req.Transaction.ID,
		Mapping:          chosen,
		Confidence:       chosen.Confidence,
		RequiresApproval: true,
		Alternatives:     alternatives,
		Reasoning:        fmt.Sprintf("highest-confidence account %s listed on pattern %s", chosen.AccountCode, req.Match.PatternName),
		Source:           entity.SourceRules,
	}, nil
}

// Candidates builds GL mapping candidates for a match from the pattern's account list.
// Confidence decays with each later account, scaled by the match confidence.
func Candidates(match entity.PatternMatch, patterns []*entity.Pattern, accounts []*entity.GLAccount) []entity.GLMapping {
	var pattern *entity.Pattern
	for _, p := range patterns {
		if p != nil && p.ID == match.PatternID {
			pattern = p
			break
		}
	}
	if pattern == nil {
		return nil
	}

	byCode := make(map[string]*entity.GLAccount, len(accounts))
	for _, a := range accounts {
		byCode[a.Code] = a
	}

	var out []entity.GLMapping
	for rank, code := range pattern.GLAccountCodes {
		acct, ok := byCode[code]
		if !ok {
			continue
		}
		confidence := math.Max(0, (1-candidateDecay*float64(rank))*match.Confidence)
		out = append(out, entity.GLMapping{
			AccountCode:          acct.Code,
			AccountName:          acct.Name,
			DebitCredit:          acct.DebitCredit,
			Category:             acct.Category,
			Confidence:           math.Round(confidence*10000) / 10000,
			AutoApproveThreshold: acct.AutoApproveThreshold,
		})
	}
	return out
}

// matches checks text and amount conditions together
func (c compiled) matches(txn *entity.Transaction) bool {
	if !c.matchesText(txn) {
		return false
	}
	return c.matchesAmount(txn)
}

func (c compiled) matchesText(txn *entity.Transaction) bool {
	text := strings.ToLower(txn.Description + " " + txn.Reference)

	switch c.pattern.Type {
	case entity.PatternRegex:
		return c.regex != nil && c.regex.MatchString(text)
	case entity.PatternKeyword:
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	case entity.PatternAmountRange:
		return true
	}
	return false
}

func (c compiled) matchesAmount(txn *entity.Transaction) bool {
	amount := math.Abs(txn.Amount)
	if c.pattern.MinAmount != nil && amount < *c.pattern.MinAmount {
		return false
	}
	if c.pattern.MaxAmount != nil && amount > *c.pattern.MaxAmount {
		return false
	}
	if c.pattern.Type == entity.PatternAmountRange {
		return c.pattern.MinAmount != nil || c.pattern.MaxAmount != nil
	}
	return true
}

func (c compiled) evidence(txn *entity.Transaction) string {
	switch c.pattern.Type {
	case entity.PatternRegex:
		if m := c.regex.FindString(strings.ToLower(txn.Description + " " + txn.Reference)); m != "" {
			return fmt.Sprintf("regex matched %q", m)
		}
	case entity.PatternKeyword:
		text := strings.ToLower(txn.Description + " " + txn.Reference)
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return fmt.Sprintf("keyword %q found", kw)
			}
		}
	}
	return fmt.Sprintf("amount %.2f within range", txn.Amount)
}
