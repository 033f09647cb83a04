package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement represents one bank-statement line pending reconciliation.
// Exactly one of Debit/Credit is non-nil per row. Row is the 1-indexed
// physical position in the movement sheet; row 1 is the header, so data
// rows are always >= 2.
type Movement struct {
	PartitionID string // spreadsheet id of the bank's movement sub-ledger
	Row         int

	Date        time.Time
	Description string

	Debit   *decimal.Decimal
	Credit  *decimal.Decimal
	Balance decimal.Decimal

	// MatchedFileID and Detail hold the result of a previous
	// reconciliation run, empty when the row was never matched.
	MatchedFileID string
	Detail        string
}

// IsDebit reports whether the movement is a debit (money out).
func (m *Movement) IsDebit() bool {
	return m.Debit != nil
}

// Amount returns whichever of debit/credit is set.
func (m *Movement) Amount() decimal.Decimal {
	if m.Debit != nil {
		return *m.Debit
	}
	if m.Credit != nil {
		return *m.Credit
	}
	return decimal.Zero
}

// WriteRecord is one pending mutation of a movement row, built during a
// reconciliation pass and flushed in a single batch per partition.
// ExpectedVersion is the row's content fingerprint as observed at read
// time; the writer must skip the row if the live fingerprint differs.
type WriteRecord struct {
	PartitionID     string
	Row             int
	MatchedFileID   string
	Detail          string
	ExpectedVersion string
}

// PartitionResult accumulates statistics for one bank partition within a run.
type PartitionResult struct {
	Partition     string `json:"partition"`
	Processed     int    `json:"processed"`
	Filled        int    `json:"filled"`
	DebitsFilled  int    `json:"debits_filled"`
	CreditsFilled int    `json:"credits_filled"`
	NoMatch       int    `json:"no_match"`
	Errors        int    `json:"errors"`
}

// RunTotals aggregates partition results across a whole run.
type RunTotals struct {
	Processed     int `json:"processed"`
	Filled        int `json:"filled"`
	DebitsFilled  int `json:"debits_filled"`
	CreditsFilled int `json:"credits_filled"`
	NoMatch       int `json:"no_match"`
	Errors        int `json:"errors"`
}

// Add folds one partition's counters into the totals.
func (t *RunTotals) Add(r PartitionResult) {
	t.Processed += r.Processed
	t.Filled += r.Filled
	t.DebitsFilled += r.DebitsFilled
	t.CreditsFilled += r.CreditsFilled
	t.NoMatch += r.NoMatch
	t.Errors += r.Errors
}

// RunOutcome is the result of one orchestrated reconciliation run.
// Skipped is true when the run-level lock was held by another run; in
// that case Results and Totals are empty and Reason explains why.
type RunOutcome struct {
	Skipped bool              `json:"skipped"`
	Reason  string            `json:"reason,omitempty"`
	Results []PartitionResult `json:"results,omitempty"`
	Totals  RunTotals         `json:"totals"`
}
