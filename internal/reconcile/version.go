package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dvloznov/ledger-reconciler/internal/domain"

	"github.com/shopspring/decimal"
)

// fieldSeparator keeps adjacent fields from colliding in the digest
// ("ab"+"c" vs "a"+"bc").
const fieldSeparator = "\x1f"

// ComputeRowVersion produces the content fingerprint of a movement row:
// a SHA-256 hex digest over the ordered tuple (date, description, debit,
// credit, matched-document id, detail). Nil amounts and empty strings
// normalize identically, so a row read back from a sheet hashes the same
// as one constructed in memory.
func ComputeRowVersion(m *domain.Movement) string {
	fields := []string{
		dateField(m),
		m.Description,
		amountField(m.Debit),
		amountField(m.Credit),
		m.MatchedFileID,
		m.Detail,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

func dateField(m *domain.Movement) string {
	if m.Date.IsZero() {
		return ""
	}
	return m.Date.Format("2006-01-02")
}

func amountField(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
