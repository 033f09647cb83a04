package reconcile

import (
	"time"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
)

// LedgerContext is the parsed ledger for one reconciliation run: both
// invoice directions plus payments, with id-keyed lookups. Built once
// per run and immutable afterwards.
type LedgerContext struct {
	Issued   []domain.InvoiceRecord
	Received []domain.InvoiceRecord
	Payments []domain.PaymentRecord

	invoicesByID      map[string]*domain.InvoiceRecord
	paymentsByID      map[string]*domain.PaymentRecord
	paymentsByInvoice map[string]bool
}

// NewLedgerContext indexes the parsed ledger records.
func NewLedgerContext(issued, received []domain.InvoiceRecord, payments []domain.PaymentRecord) *LedgerContext {
	c := &LedgerContext{
		Issued:            issued,
		Received:          received,
		Payments:          payments,
		invoicesByID:      make(map[string]*domain.InvoiceRecord, len(issued)+len(received)),
		paymentsByID:      make(map[string]*domain.PaymentRecord, len(payments)),
		paymentsByInvoice: make(map[string]bool),
	}
	for i := range c.Issued {
		c.invoicesByID[c.Issued[i].FileID] = &c.Issued[i]
	}
	for i := range c.Received {
		c.invoicesByID[c.Received[i].FileID] = &c.Received[i]
	}
	for i := range c.Payments {
		p := &c.Payments[i]
		c.paymentsByID[p.FileID] = p
		if p.LinkedInvoiceID != "" {
			c.paymentsByInvoice[p.LinkedInvoiceID] = true
		}
	}
	return c
}

// Invoice looks up an invoice by document id across both directions.
func (c *LedgerContext) Invoice(fileID string) (*domain.InvoiceRecord, bool) {
	inv, ok := c.invoicesByID[fileID]
	return inv, ok
}

// Payment looks up a payment by document id.
func (c *LedgerContext) Payment(fileID string) (*domain.PaymentRecord, bool) {
	p, ok := c.paymentsByID[fileID]
	return p, ok
}

// HasLinkedPayment reports whether any payment settles the given invoice.
func (c *LedgerContext) HasLinkedPayment(invoiceID string) bool {
	return c.paymentsByInvoice[invoiceID]
}

// QualityFor resolves a document id against the ledger and derives the
// five comparable match dimensions relative to the movement. The second
// return is false when the id resolves to nothing — the orphaned
// reference case the orchestrator must preserve, never overwrite.
func (c *LedgerContext) QualityFor(m *domain.Movement, fileID string) (domain.MatchQuality, bool) {
	if inv, ok := c.Invoice(fileID); ok {
		q := domain.MatchQuality{
			FileID:           fileID,
			HasTaxIDMatch:    descriptionMentionsTaxID(m.Description, inv.CounterpartyTaxID),
			DateDistanceDays: dateDistanceDays(m.Date, inv.IssueDate),
			ExactAmount:      inv.Total.Equal(m.Amount()),
			HasLinkedPayment: c.HasLinkedPayment(fileID),
		}
		q.Confidence = deriveConfidence(q)
		return q, true
	}
	if pay, ok := c.Payment(fileID); ok {
		q := domain.MatchQuality{
			FileID:           fileID,
			HasTaxIDMatch:    descriptionMentionsTaxID(m.Description, pay.CounterpartyTaxID),
			DateDistanceDays: dateDistanceDays(m.Date, pay.PaymentDate),
			ExactAmount:      pay.Total.Equal(m.Amount()),
			HasLinkedPayment: pay.LinkedInvoiceID != "",
		}
		q.Confidence = deriveConfidence(q)
		return q, true
	}
	return domain.MatchQuality{}, false
}

// CandidateQuality derives the comparable dimensions for a fresh match
// candidate, keeping the matcher's own confidence tier. Candidates
// without a document id (bank fee, card payment) have no quality.
func (c *LedgerContext) CandidateQuality(m *domain.Movement, cand domain.MatchCandidate) (domain.MatchQuality, bool) {
	if cand.FileID == "" {
		return domain.MatchQuality{}, false
	}
	q, ok := c.QualityFor(m, cand.FileID)
	if !ok {
		return domain.MatchQuality{}, false
	}
	q.Confidence = cand.Confidence
	return q, true
}

func dateDistanceDays(a, b time.Time) int {
	if a.IsZero() || b.IsZero() {
		return maxDateDistance
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
