package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
)

// Column names as they appear (normalized) in the ledger sheets.
const (
	colFileID        = "fileid"
	colIssueDate     = "fechaemision"
	colPaymentDate   = "fechapago"
	colTaxID         = "cuit"
	colCounterparty  = "razonsocial"
	colTotal         = "importetotal"
	colCurrency      = "moneda"
	colLinkedInvoice = "facturaasociada"
)

var invoiceColumns = []Column{
	{Name: colFileID, Required: true},
	{Name: colTaxID, Required: true},
	{Name: colCounterparty, Required: true},
	{Name: colIssueDate},
	{Name: colTotal},
	{Name: colCurrency},
}

var paymentColumns = []Column{
	{Name: colFileID, Required: true},
	{Name: colPaymentDate, Required: true},
	{Name: colTaxID},
	{Name: colCounterparty},
	{Name: colTotal},
	{Name: colCurrency},
	{Name: colLinkedInvoice},
}

// ParseInvoiceRows decodes raw ledger rows (header included) into invoice
// records for one ledger direction. Rows whose document-id cell is empty
// are discarded entirely; a missing required header fails the whole
// parse. Row positions are 1-indexed with the header occupying row 1.
func ParseInvoiceRows(rows [][]string, direction domain.LedgerDirection) ([]domain.InvoiceRecord, error) {
	if len(rows) == 0 {
		return []domain.InvoiceRecord{}, nil
	}

	idx, err := columnIndexes(rows[0], invoiceColumns)
	if err != nil {
		return nil, err
	}

	records := make([]domain.InvoiceRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		fileID := cell(row, idx[colFileID])
		if fileID == "" {
			continue
		}
		records = append(records, domain.InvoiceRecord{
			FileID:            fileID,
			IssueDate:         ParseSheetDate(cell(row, idx[colIssueDate])),
			CounterpartyTaxID: cell(row, idx[colTaxID]),
			CounterpartyName:  cell(row, idx[colCounterparty]),
			Total:             ParseAmount(cell(row, idx[colTotal])),
			Currency:          cell(row, idx[colCurrency]),
			Direction:         direction,
			Row:               i + 2, // +1 for the header, +1 for 1-indexing
		})
	}
	return records, nil
}

// ParseIssuedInvoices decodes the issued-invoice (sales) sub-ledger.
func ParseIssuedInvoices(rows [][]string) ([]domain.InvoiceRecord, error) {
	return ParseInvoiceRows(rows, domain.DirectionIssued)
}

// ParseReceivedInvoices decodes the received-invoice (purchases) sub-ledger.
func ParseReceivedInvoices(rows [][]string) ([]domain.InvoiceRecord, error) {
	return ParseInvoiceRows(rows, domain.DirectionReceived)
}

// ParsePaymentRows decodes the payments sub-ledger. Same contract as
// ParseInvoiceRows: empty document id discards the row, missing required
// headers fail the parse.
func ParsePaymentRows(rows [][]string) ([]domain.PaymentRecord, error) {
	if len(rows) == 0 {
		return []domain.PaymentRecord{}, nil
	}

	idx, err := columnIndexes(rows[0], paymentColumns)
	if err != nil {
		return nil, err
	}

	records := make([]domain.PaymentRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		fileID := cell(row, idx[colFileID])
		if fileID == "" {
			continue
		}
		records = append(records, domain.PaymentRecord{
			FileID:            fileID,
			PaymentDate:       ParseSheetDate(cell(row, idx[colPaymentDate])),
			CounterpartyTaxID: cell(row, idx[colTaxID]),
			CounterpartyName:  cell(row, idx[colCounterparty]),
			Total:             ParseAmount(cell(row, idx[colTotal])),
			Currency:          cell(row, idx[colCurrency]),
			LinkedInvoiceID:   cell(row, idx[colLinkedInvoice]),
			Row:               i + 2,
		})
	}
	return records, nil
}

// sheetEpoch is day zero of spreadsheet serial dates (Lotus epoch).
var sheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseSheetDate normalizes a spreadsheet date cell into a time.Time.
// Handles day-count serials ("45321") as well as ISO and es-AR layouts.
// Returns the zero time for empty or unrecognized cells; dates are
// optional at the row level, so this never errors.
func ParseSheetDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	// Numeric serial: days since the sheet epoch. The bounds keep plain
	// amounts that end up in a date column from decoding as dates.
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial > 20000 && serial < 80000 {
			return sheetEpoch.AddDate(0, 0, int(serial))
		}
		return time.Time{}
	}

	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseAmount parses a monetary cell into a decimal, tolerating currency
// symbols and es-AR separators ("$ 1.234,56"). Unparseable cells default
// to zero; amounts are optional at the row level.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero
	}

	// "1.234,56" -> "1234.56"; a lone comma is a decimal separator.
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
