package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
	"github.com/dvloznov/ledger-reconciler/internal/ledger"
	"github.com/dvloznov/ledger-reconciler/internal/reconcile"
)

// Movement sheet layout, fixed across all bank partitions:
// fecha | descripcion | debito | credito | saldo | fileid | detalle.
const (
	movementSheet = "Movimientos"
	movementRange = movementSheet + "!A:G"
)

const (
	idxDate = iota
	idxDescription
	idxDebit
	idxCredit
	idxBalance
	idxFileID
	idxDetail
)

// PendingMovements reads up to limit movement rows from one bank
// partition. Matched rows are included too: they stay eligible for
// re-evaluation, and the engine's no-churn rule keeps equivalent
// re-matches from producing writes.
func (c *Client) PendingMovements(ctx context.Context, partitionID string, limit int) ([]domain.Movement, error) {
	rows, err := c.LedgerRows(ctx, partitionID, movementRange)
	if err != nil {
		return nil, fmt.Errorf("PendingMovements: %w", err)
	}
	if len(rows) <= 1 {
		return []domain.Movement{}, nil
	}

	movements := make([]domain.Movement, 0, limit)
	for i, row := range rows[1:] {
		if len(movements) >= limit {
			break
		}
		m, ok := parseMovementRow(partitionID, row, i+2)
		if !ok {
			continue
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// WriteBack applies one batch of write records to a partition. Before
// updating, it re-reads the live rows and recomputes each target's
// fingerprint: rows mutated since read time are skipped, not errored,
// and the returned count reflects only the rows actually applied.
func (c *Client) WriteBack(ctx context.Context, partitionID string, records []domain.WriteRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows, err := c.LedgerRows(ctx, partitionID, movementRange)
	if err != nil {
		return 0, fmt.Errorf("WriteBack: re-reading movements: %w", err)
	}

	data := make([]*sheets.ValueRange, 0, len(records))
	for _, rec := range records {
		live, ok := liveMovement(partitionID, rows, rec.Row)
		if !ok || reconcile.ComputeRowVersion(&live) != rec.ExpectedVersion {
			c.log.Warn().
				Str("partition_id", partitionID).
				Int("row", rec.Row).
				Msg("Movement row changed since read, skipping write")
			continue
		}
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!F%d:G%d", movementSheet, rec.Row, rec.Row),
			Values: [][]interface{}{{rec.MatchedFileID, rec.Detail}},
		})
	}

	if len(data) == 0 {
		return 0, nil
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(partitionID, req).Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("WriteBack: batch update: %w", err)
	}
	return len(data), nil
}

// liveMovement finds the current state of one physical row in a freshly
// read sheet.
func liveMovement(partitionID string, rows [][]string, rowPos int) (domain.Movement, bool) {
	idx := rowPos - 1 // rows is 0-indexed over physical rows
	if idx < 1 || idx >= len(rows) {
		return domain.Movement{}, false
	}
	return parseMovementRow(partitionID, rows[idx], rowPos)
}

// parseMovementRow decodes one raw movement row. Rows with no parseable
// date or with neither (or both) of debit/credit set are not movements
// and are skipped.
func parseMovementRow(partitionID string, row []string, rowPos int) (domain.Movement, bool) {
	get := func(idx int) string {
		if idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	date := ledger.ParseSheetDate(get(idxDate))
	debitStr := get(idxDebit)
	creditStr := get(idxCredit)
	if date.IsZero() || (debitStr == "") == (creditStr == "") {
		return domain.Movement{}, false
	}

	m := domain.Movement{
		PartitionID:   partitionID,
		Row:           rowPos,
		Date:          date,
		Description:   get(idxDescription),
		Balance:       ledger.ParseAmount(get(idxBalance)),
		MatchedFileID: get(idxFileID),
		Detail:        get(idxDetail),
	}
	if debitStr != "" {
		d := ledger.ParseAmount(debitStr)
		m.Debit = &d
	} else {
		cr := ledger.ParseAmount(creditStr)
		m.Credit = &cr
	}
	return m, true
}
