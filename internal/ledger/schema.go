// Package ledger decodes raw spreadsheet rows into typed invoice and
// payment records. Sheets are schema-driven: each parser declares an
// ordered column spec (name, required, default) which is resolved once
// against the header row, then projected into records.
package ledger

import (
	"fmt"
	"strings"
)

// Column is one entry of a sheet's column spec.
type Column struct {
	Name     string
	Required bool
}

// RequiredColumnIndex returns the index of name in the header row.
// Matching is exact: headers and name must already be normalized (see
// NormalizeHeader); no case-folding happens here. When the column is
// absent the error lists every available header so a misconfigured
// sheet is diagnosable from the message alone.
func RequiredColumnIndex(headers []string, name string) (int, error) {
	for i, h := range headers {
		if h == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("required column %q not found in header row (available: %s)",
		name, strings.Join(headers, ", "))
}

// columnIndexes resolves a column spec against a raw header row.
// Required columns missing from the header fail the whole resolution;
// missing optional columns resolve to -1.
func columnIndexes(header []string, spec []Column) (map[string]int, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = NormalizeHeader(h)
	}

	indexes := make(map[string]int, len(spec))
	for _, col := range spec {
		idx, err := RequiredColumnIndex(normalized, col.Name)
		if err != nil {
			if col.Required {
				return nil, err
			}
			indexes[col.Name] = -1
			continue
		}
		indexes[col.Name] = idx
	}
	return indexes, nil
}

// NormalizeHeader lowercases a header cell and strips spaces, so that
// "Fecha Emision" and "fechaemision" resolve to the same column.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", ""))
}

// cell returns row[idx], or "" when the column is missing from the
// header (idx < 0) or the row is shorter than the header.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
