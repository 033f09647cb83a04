// Package match provides the rule-based matcher that proposes a ledger
// document, bank-fee or card-settlement classification for a single
// bank movement. The matcher is a pure function of its inputs: it does
// no I/O and keeps no state between calls, so it can be swapped for any
// other reconcile.Matcher implementation.
package match

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
	"github.com/dvloznov/ledger-reconciler/internal/reconcile"
)

// Config tunes the direct-document matching rules.
type Config struct {
	// AmountTolerancePercent accepts near-miss totals (bank charges,
	// rounding): 0.01 = 1%. Nil falls back to the default; an explicit
	// zero accepts exact amounts only.
	AmountTolerancePercent *decimal.Decimal

	// DateWindowDays bounds how far a tolerant (non-exact) amount match
	// may sit from the document date.
	DateWindowDays int
}

// DefaultConfig returns the tolerances used in production.
func DefaultConfig() Config {
	tolerance := decimal.NewFromFloat(0.01)
	return Config{
		AmountTolerancePercent: &tolerance,
		DateWindowDays:         60,
	}
}

type keywordRule struct {
	keyword string
	label   string
}

// feeKeywords classify debit movements that have no backing document.
// Order matters: the first match wins, so the more specific rules come
// first.
var feeKeywords = []keywordRule{
	{"LEY 25413", "Impuesto ley 25.413"},
	{"IMPUESTO", "Impuesto bancario"},
	{"MANTENIMIENTO", "Mantenimiento de cuenta"},
	{"COMISION", "Comision bancaria"},
	{"SELLOS", "Impuesto de sellos"},
	{"PERCEPCION", "Percepcion impositiva"},
	{"IVA", "IVA sobre comisiones"},
}

// cardKeywords classify credit movements coming from card processors.
var cardKeywords = []keywordRule{
	{"MASTERCARD", "Acreditacion tarjetas Mastercard"},
	{"VISA", "Acreditacion tarjetas Visa"},
	{"AMEX", "Acreditacion tarjetas Amex"},
	{"PRISMA", "Liquidacion Prisma"},
	{"FISERV", "Liquidacion Fiserv"},
	{"TARJETA", "Acreditacion de tarjetas"},
}

// RuleMatcher implements reconcile.Matcher with keyword and
// amount/date/tax-id rules over the parsed ledger.
type RuleMatcher struct {
	cfg Config
}

// New creates a RuleMatcher.
func New(cfg Config) *RuleMatcher {
	if cfg.AmountTolerancePercent == nil {
		cfg.AmountTolerancePercent = DefaultConfig().AmountTolerancePercent
	}
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = DefaultConfig().DateWindowDays
	}
	return &RuleMatcher{cfg: cfg}
}

// MatchDebit proposes a match for a debit movement: a received
// (supplier) invoice, or a bank-fee classification.
func (rm *RuleMatcher) MatchDebit(m *domain.Movement, lctx *reconcile.LedgerContext) domain.MatchCandidate {
	if cand, ok := rm.bestDocument(m, lctx, lctx.Received); ok {
		return cand
	}
	if label, ok := matchKeyword(m.Description, feeKeywords); ok {
		return domain.MatchCandidate{
			Kind:       domain.MatchBankFee,
			Detail:     label,
			Confidence: domain.ConfidenceMedium,
		}
	}
	return domain.MatchCandidate{Kind: domain.MatchNone}
}

// MatchCredit proposes a match for a credit movement: an issued
// (customer) invoice, or a card-settlement classification.
func (rm *RuleMatcher) MatchCredit(m *domain.Movement, lctx *reconcile.LedgerContext) domain.MatchCandidate {
	if cand, ok := rm.bestDocument(m, lctx, lctx.Issued); ok {
		return cand
	}
	if label, ok := matchKeyword(m.Description, cardKeywords); ok {
		return domain.MatchCandidate{
			Kind:       domain.MatchCardPayment,
			Detail:     label,
			Confidence: domain.ConfidenceMedium,
		}
	}
	return domain.MatchCandidate{Kind: domain.MatchNone}
}

// bestDocument scans one invoice direction for the strongest candidate.
// An invoice is considered when its total matches the movement exactly,
// or lands within tolerance with a date inside the window. Candidates
// are ranked with the same comparator the orchestrator uses for
// replacement, so matcher preference and replacement policy agree.
func (rm *RuleMatcher) bestDocument(m *domain.Movement, lctx *reconcile.LedgerContext,
	invoices []domain.InvoiceRecord) (domain.MatchCandidate, bool) {

	var best domain.MatchQuality
	var bestInv *domain.InvoiceRecord

	for i := range invoices {
		inv := &invoices[i]
		q, ok := lctx.QualityFor(m, inv.FileID)
		if !ok {
			continue
		}
		if !q.ExactAmount {
			if !rm.withinTolerance(inv.Total, m.Amount()) || q.DateDistanceDays > rm.cfg.DateWindowDays {
				continue
			}
		}
		if bestInv == nil || reconcile.IsBetterMatch(best, q) {
			best = q
			bestInv = inv
		}
	}

	if bestInv == nil {
		return domain.MatchCandidate{}, false
	}
	return domain.MatchCandidate{
		Kind:       domain.MatchDocument,
		FileID:     bestInv.FileID,
		Detail:     documentDetail(bestInv),
		Confidence: best.Confidence,
	}, true
}

func (rm *RuleMatcher) withinTolerance(docTotal, amount decimal.Decimal) bool {
	if docTotal.IsZero() {
		return false
	}
	diff := docTotal.Sub(amount).Abs()
	return diff.Div(docTotal.Abs()).LessThanOrEqual(*rm.cfg.AmountTolerancePercent)
}

// documentDetail builds the human-readable description written back to
// the movement row.
func documentDetail(inv *domain.InvoiceRecord) string {
	label := "FC recibida"
	if inv.Direction == domain.DirectionIssued {
		label = "FC emitida"
	}
	if inv.IssueDate.IsZero() {
		return fmt.Sprintf("%s %s", label, inv.CounterpartyName)
	}
	return fmt.Sprintf("%s %s %s", label, inv.CounterpartyName, inv.IssueDate.Format("02/01/2006"))
}

func matchKeyword(description string, rules []keywordRule) (string, bool) {
	upper := strings.ToUpper(description)
	for _, rule := range rules {
		if strings.Contains(upper, rule.keyword) {
			return rule.label, true
		}
	}
	return "", false
}
