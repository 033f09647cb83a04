package reconcile

import (
	"strings"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
)

// IsBetterMatch reports whether candidate should replace existing. The
// comparison is a strict priority sequence, each step short-circuiting
// on inequality: confidence tier, tax-id match, date distance (closer
// wins), exact amount, linked payment. A full tie returns false so an
// existing match is never replaced by an equivalent one; repeated runs
// over unchanged data therefore never oscillate.
func IsBetterMatch(existing, candidate domain.MatchQuality) bool {
	if candidate.Confidence != existing.Confidence {
		return candidate.Confidence > existing.Confidence
	}
	if candidate.HasTaxIDMatch != existing.HasTaxIDMatch {
		return candidate.HasTaxIDMatch
	}
	if candidate.DateDistanceDays != existing.DateDistanceDays {
		return candidate.DateDistanceDays < existing.DateDistanceDays
	}
	if candidate.ExactAmount != existing.ExactAmount {
		return candidate.ExactAmount
	}
	if candidate.HasLinkedPayment != existing.HasLinkedPayment {
		return candidate.HasLinkedPayment
	}
	return false
}

// maxDateDistance is the distance assigned when either side of the
// comparison has no usable date. Ten years keeps undated documents
// strictly worse than any dated one without overflowing the int math.
const maxDateDistance = 3650

// deriveConfidence assigns a tier to a quality built from a stored
// match, where no matcher verdict is available. The rule mirrors the
// matcher's own tiering so stored and fresh matches compare fairly.
func deriveConfidence(q domain.MatchQuality) domain.Confidence {
	switch {
	case q.ExactAmount && q.HasTaxIDMatch:
		return domain.ConfidenceHigh
	case q.ExactAmount || (q.HasTaxIDMatch && q.DateDistanceDays <= 30):
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// TaxIDDigits strips a tax id down to its digits, so "30-71234567-8"
// and "30712345678" compare equal.
func TaxIDDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// descriptionMentionsTaxID reports whether the movement free text
// contains the counterparty's tax id digits.
func descriptionMentionsTaxID(description, taxID string) bool {
	digits := TaxIDDigits(taxID)
	if len(digits) < 8 {
		return false
	}
	return strings.Contains(TaxIDDigits(description), digits)
}
