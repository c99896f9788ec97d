package entity

import "time"

// Transaction statuses assigned by the upstream ingestion process
const (
	TransactionUnmatched = "UNMATCHED"
	TransactionMatched   = "MATCHED"
)

// Transaction represents an unmatched cash transaction awaiting reconciliation.
// Transactions are written by ingestion and read-only to the clearing workflow.
type Transaction struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	Account     string    `json:"account"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// PatternType identifies how a pattern is evaluated
type PatternType string

const (
	PatternKeyword     PatternType = "KEYWORD"
	PatternRegex       PatternType = "REGEX"
	PatternAmountRange PatternType = "AMOUNT_RANGE"
)

// Pattern is a known transaction classification rule
type Pattern struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Type           PatternType `json:"type"`
	Expression     string      `json:"expression"`
	MinAmount      *float64    `json:"min_amount,omitempty"`
	MaxAmount      *float64    `json:"max_amount,omitempty"`
	Priority       int         `json:"priority"`
	GLAccountCodes []string    `json:"gl_account_codes"`
	Active         bool        `json:"active"`
}

// GLAccount is a ledger destination from the chart of accounts
type GLAccount struct {
	Code                 string      `json:"account_code"`
	Name                 string      `json:"account_name"`
	DebitCredit          DebitCredit `json:"debit_credit"`
	Category             string      `json:"category"`
	AutoApproveThreshold float64     `json:"auto_approve_threshold"`
}

// DebitCredit indicates the posting side of a GL mapping
type DebitCredit string

const (
	Debit  DebitCredit = "DR"
	Credit DebitCredit = "CR"
)

// IsValid checks if the indicator is DR or CR
func (d DebitCredit) IsValid() bool {
	return d == Debit || d == Credit
}
