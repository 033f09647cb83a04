package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerDirection distinguishes the two invoice sub-ledgers.
type LedgerDirection string

const (
	// DirectionIssued covers invoices we issued to customers (credits).
	DirectionIssued LedgerDirection = "issued"
	// DirectionReceived covers invoices received from suppliers (debits).
	DirectionReceived LedgerDirection = "received"
)

// InvoiceRecord is one parsed invoice row from the ledger. Rows without a
// document id are discarded at parse time, so FileID is always non-empty.
type InvoiceRecord struct {
	FileID            string
	IssueDate         time.Time
	CounterpartyTaxID string
	CounterpartyName  string
	Total             decimal.Decimal
	Currency          string
	Direction         LedgerDirection
	Row               int
}

// PaymentRecord is one parsed payment row from the ledger.
// LinkedInvoiceID references the invoice the payment settles, empty when
// the payment was recorded standalone.
type PaymentRecord struct {
	FileID            string
	PaymentDate       time.Time
	CounterpartyTaxID string
	CounterpartyName  string
	Total             decimal.Decimal
	Currency          string
	LinkedInvoiceID   string
	Row               int
}

// MatchKind classifies what a match candidate points at.
type MatchKind string

const (
	// MatchDocument links the movement to a concrete ledger document.
	MatchDocument MatchKind = "document"
	// MatchBankFee marks the movement as a bank fee or tax with no
	// backing document.
	MatchBankFee MatchKind = "bank_fee"
	// MatchCardPayment marks the movement as a card-settlement credit
	// with no backing document.
	MatchCardPayment MatchKind = "card_payment"
	// MatchNone means the matcher found nothing; never written back.
	MatchNone MatchKind = "none"
)

// Confidence is the coarse quality tier attached to a candidate.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

// String implements fmt.Stringer for log output.
func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MatchCandidate is the matcher's verdict for a single movement. FileID
// is empty for the bank-fee and card-payment kinds.
type MatchCandidate struct {
	Kind       MatchKind
	Detail     string
	FileID     string
	Confidence Confidence
}

// MatchQuality holds the five comparable dimensions of a match, derived
// either from an existing matched document or from a fresh candidate.
type MatchQuality struct {
	FileID           string
	Confidence       Confidence
	HasTaxIDMatch    bool
	DateDistanceDays int
	ExactAmount      bool
	HasLinkedPayment bool
}
