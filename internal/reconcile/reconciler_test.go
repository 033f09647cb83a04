package reconcile

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
	"github.com/dvloznov/ledger-reconciler/internal/logger"
)

// ---- collaborator mocks -------------------------------------------------

type mockLockManager struct {
	busy  bool
	calls int
}

func (m *mockLockManager) WithLock(ctx context.Context, id string, acquireTimeout, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	m.calls++
	if m.busy {
		return false, nil
	}
	return true, fn(ctx)
}

type mockPartitions struct {
	parts map[string]string
	calls int
}

func (m *mockPartitions) CachedPartitions(ctx context.Context) map[string]string {
	m.calls++
	return m.parts
}

type mockLedgerReader struct {
	rowsFunc func(spreadsheetID, rangeSpec string) ([][]string, error)
	calls    int
}

func (m *mockLedgerReader) LedgerRows(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error) {
	m.calls++
	if m.rowsFunc != nil {
		return m.rowsFunc(spreadsheetID, rangeSpec)
	}
	return nil, nil
}

type mockMovementReader struct {
	movementsFunc func(partitionID string, limit int) ([]domain.Movement, error)
}

func (m *mockMovementReader) PendingMovements(ctx context.Context, partitionID string, limit int) ([]domain.Movement, error) {
	if m.movementsFunc != nil {
		return m.movementsFunc(partitionID, limit)
	}
	return nil, nil
}

type writeCall struct {
	partitionID string
	records     []domain.WriteRecord
}

type mockMovementWriter struct {
	calls       []writeCall
	appliedFunc func(records []domain.WriteRecord) (int, error)
}

func (m *mockMovementWriter) WriteBack(ctx context.Context, partitionID string, records []domain.WriteRecord) (int, error) {
	m.calls = append(m.calls, writeCall{partitionID: partitionID, records: records})
	if m.appliedFunc != nil {
		return m.appliedFunc(records)
	}
	return len(records), nil
}

type mockMatcher struct {
	debitFunc  func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate
	creditFunc func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate
}

func (mm *mockMatcher) MatchDebit(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
	if mm.debitFunc != nil {
		return mm.debitFunc(m, lctx)
	}
	return domain.MatchCandidate{Kind: domain.MatchNone}
}

func (mm *mockMatcher) MatchCredit(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
	if mm.creditFunc != nil {
		return mm.creditFunc(m, lctx)
	}
	return domain.MatchCandidate{Kind: domain.MatchNone}
}

type recordedRun struct {
	outcome *domain.RunOutcome
	err     error
}

type mockRecorder struct {
	started  int
	finished []recordedRun
}

func (m *mockRecorder) StartRun(ctx context.Context) (string, error) {
	m.started++
	return "run-1", nil
}

func (m *mockRecorder) FinishRun(ctx context.Context, runID string, outcome *domain.RunOutcome, runErr error) error {
	m.finished = append(m.finished, recordedRun{outcome: outcome, err: runErr})
	return nil
}

// ---- fixtures -----------------------------------------------------------

var testRanges = LedgerRanges{
	Issued:   "FacturasEmitidas!A:F",
	Received: "FacturasRecibidas!A:F",
	Payments: "Pagos!A:G",
}

// testLedgerRows serves a small fixed ledger: one issued invoice
// (factura-b), one received invoice (fc-recibida-1), one payment
// settling factura-b.
func testLedgerRows(spreadsheetID, rangeSpec string) ([][]string, error) {
	switch rangeSpec {
	case testRanges.Issued:
		return [][]string{
			{"fileid", "cuit", "razonsocial", "fechaemision", "importetotal", "moneda"},
			{"factura-b", "30-71234567-8", "ACME SA", "2024-03-05", "1000", "ARS"},
		}, nil
	case testRanges.Received:
		return [][]string{
			{"fileid", "cuit", "razonsocial", "fechaemision", "importetotal", "moneda"},
			{"fc-recibida-1", "30-55555555-5", "GLOBEX SRL", "2024-03-04", "250.50", "ARS"},
		}, nil
	case testRanges.Payments:
		return [][]string{
			{"fileid", "fechapago", "cuit", "razonsocial", "importetotal", "moneda", "facturaasociada"},
			{"pago-1", "2024-03-10", "30-71234567-8", "ACME SA", "1000", "ARS", "factura-b"},
		}, nil
	}
	return nil, errors.New("unknown range " + rangeSpec)
}

func newTestReconciler(locks LockManager, parts PartitionProvider, ledgers LedgerReader,
	movements MovementReader, writer MovementWriter, matcher Matcher, logBuf *bytes.Buffer) *Reconciler {

	log := logger.NewWithWriter(logBuf)
	cfg := Config{
		LedgerSpreadsheetID: "ledger-sheet",
		Ranges:              testRanges,
	}
	return New(cfg, locks, parts, ledgers, movements, writer, matcher, nil, log)
}

// ---- tests --------------------------------------------------------------

func TestReconcileAll_LockBusySkips(t *testing.T) {
	locks := &mockLockManager{busy: true}
	parts := &mockPartitions{parts: map[string]string{"galicia": "sheet-1"}}
	ledgers := &mockLedgerReader{}

	r := newTestReconciler(locks, parts, ledgers, &mockMovementReader{}, &mockMovementWriter{}, &mockMatcher{}, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if !outcome.Skipped {
		t.Error("Expected skipped outcome when lock is busy")
	}
	if outcome.Reason != "already_running" {
		t.Errorf("Reason = %q, want already_running", outcome.Reason)
	}
	if parts.calls != 0 {
		t.Error("Expected no partition lookup when lock is busy")
	}
	if ledgers.calls != 0 {
		t.Error("Expected no ledger reads when lock is busy")
	}
}

func TestReconcileAll_SkippedRunIsRecorded(t *testing.T) {
	recorder := &mockRecorder{}
	parts := &mockPartitions{parts: map[string]string{"galicia": "sheet-1"}}
	log := logger.NewWithWriter(&bytes.Buffer{})

	r := New(Config{LedgerSpreadsheetID: "ledger-sheet", Ranges: testRanges},
		&mockLockManager{busy: true}, parts, &mockLedgerReader{}, &mockMovementReader{},
		&mockMovementWriter{}, &mockMatcher{}, recorder, log)

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if !outcome.Skipped {
		t.Fatal("Expected skipped outcome when lock is busy")
	}

	if recorder.started != 1 || len(recorder.finished) != 1 {
		t.Fatalf("Recorder calls = %d started / %d finished, want 1/1", recorder.started, len(recorder.finished))
	}
	rec := recorder.finished[0]
	if rec.err != nil {
		t.Errorf("Recorded run error = %v, want nil", rec.err)
	}
	if rec.outcome == nil || !rec.outcome.Skipped || rec.outcome.Reason != "already_running" {
		t.Errorf("Recorded outcome = %+v, want skipped/already_running", rec.outcome)
	}
	if parts.calls != 0 {
		t.Error("Expected no partition lookup for a skipped run")
	}
}

func TestReconcileAll_MissingPartitionCacheIsFatal(t *testing.T) {
	locks := &mockLockManager{}
	parts := &mockPartitions{parts: nil}

	r := newTestReconciler(locks, parts, &mockLedgerReader{}, &mockMovementReader{}, &mockMovementWriter{}, &mockMatcher{}, &bytes.Buffer{})

	_, err := r.ReconcileAll(context.Background(), Options{})
	if !errors.Is(err, ErrPartitionsNotCached) {
		t.Errorf("Expected ErrPartitionsNotCached, got %v", err)
	}
}

func TestReconcileAll_Statistics(t *testing.T) {
	// Three movements: one debit matched, one credit matched, one debit
	// unmatched.
	debitMatched := domain.Movement{Row: 2, Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Description: "PAGO GLOBEX", Debit: dec("250.50")}
	creditMatched := domain.Movement{Row: 3, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "TRANSF ACME", Credit: dec("1000")}
	debitUnmatched := domain.Movement{Row: 4, Date: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Description: "DESCONOCIDO", Debit: dec("42")}

	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{debitMatched, creditMatched, debitUnmatched}, nil
		},
	}
	matcher := &mockMatcher{
		debitFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			if m.Row == 2 {
				return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "fc-recibida-1",
					Detail: "FC GLOBEX SRL", Confidence: domain.ConfidenceHigh}
			}
			return domain.MatchCandidate{Kind: domain.MatchNone}
		},
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Skipped {
		t.Fatal("Unexpected skipped outcome")
	}

	totals := outcome.Totals
	if totals.Processed != 3 {
		t.Errorf("Processed = %d, want 3", totals.Processed)
	}
	if totals.DebitsFilled != 1 {
		t.Errorf("DebitsFilled = %d, want 1", totals.DebitsFilled)
	}
	if totals.CreditsFilled != 1 {
		t.Errorf("CreditsFilled = %d, want 1", totals.CreditsFilled)
	}
	if totals.Filled != 2 {
		t.Errorf("Filled = %d, want 2", totals.Filled)
	}
	if totals.NoMatch != 1 {
		t.Errorf("NoMatch = %d, want 1", totals.NoMatch)
	}

	if len(writer.calls) != 1 {
		t.Fatalf("Expected 1 batch write, got %d", len(writer.calls))
	}
	records := writer.calls[0].records
	if len(records) != 2 {
		t.Fatalf("Expected 2 write records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.ExpectedVersion == "" || len(rec.ExpectedVersion) != 64 {
			t.Errorf("Write record row %d missing version fingerprint", rec.Row)
		}
	}
}

func TestReconcileAll_OrphanPreserved(t *testing.T) {
	// The movement references factura-a, absent from the ledger. A
	// resolvable candidate (factura-b) must not replace it.
	movement := domain.Movement{Row: 2, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "TRANSF ACME", Credit: dec("1000"),
		MatchedFileID: "factura-a", Detail: "FC vieja"}

	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{movement}, nil
		},
	}
	matcher := &mockMatcher{
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}
	logBuf := &bytes.Buffer{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, logBuf)

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Totals.Filled != 0 {
		t.Errorf("Filled = %d, want 0 (orphaned reference preserved)", outcome.Totals.Filled)
	}

	if len(writer.calls) != 1 {
		t.Fatalf("Expected the empty batch write to still happen, got %d calls", len(writer.calls))
	}
	if len(writer.calls[0].records) != 0 {
		t.Errorf("Expected empty write batch, got %d records", len(writer.calls[0].records))
	}

	logged := logBuf.String()
	if !strings.Contains(logged, "no longer exists") {
		t.Errorf("Expected warning containing 'no longer exists', got: %s", logged)
	}
	if !strings.Contains(logged, "matchedFileId") || !strings.Contains(logged, "factura-a") {
		t.Errorf("Expected warning to identify matchedFileId factura-a, got: %s", logged)
	}
}

func TestReconcileAll_PartialFailureIsolation(t *testing.T) {
	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			if partitionID == "sheet-bad" {
				return nil, errors.New("read quota exceeded")
			}
			return []domain.Movement{
				{Row: 2, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
					Description: "TRANSF ACME", Credit: dec("1000")},
			}, nil
		},
	}
	matcher := &mockMatcher{
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		// "bbva" sorts before "galicia", so the failing partition runs first.
		&mockPartitions{parts: map[string]string{"bbva": "sheet-bad", "galicia": "sheet-good"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}

	if len(outcome.Results) != 2 {
		t.Fatalf("Expected 2 partition results, got %d", len(outcome.Results))
	}
	if outcome.Results[0].Partition != "bbva" || outcome.Results[0].Errors != 1 {
		t.Errorf("First partition = %+v, want bbva with errors:1", outcome.Results[0])
	}
	if outcome.Results[1].Partition != "galicia" || outcome.Results[1].Errors != 0 {
		t.Errorf("Second partition = %+v, want galicia with errors:0", outcome.Results[1])
	}
	if outcome.Results[1].Filled != 1 {
		t.Errorf("Expected the healthy partition to still fill its movement, got %+v", outcome.Results[1])
	}
}

func TestReconcileAll_ExistingMatchOnlyReplacedWhenBetter(t *testing.T) {
	// The movement already references factura-b with a perfect quality
	// profile. The matcher proposes the same document again: no churn.
	movement := domain.Movement{Row: 2, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "TRANSF 30-71234567-8 ACME", Credit: dec("1000"),
		MatchedFileID: "factura-b", Detail: "FC ACME SA"}

	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{movement}, nil
		},
	}
	matcher := &mockMatcher{
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Totals.Filled != 0 {
		t.Errorf("Filled = %d, want 0 (equivalent candidate must not replace)", outcome.Totals.Filled)
	}
	if len(writer.calls[0].records) != 0 {
		t.Errorf("Expected no write records, got %d", len(writer.calls[0].records))
	}
}

func TestReconcileAll_FeeCandidateNeverReplacesDocumentReference(t *testing.T) {
	movement := domain.Movement{Row: 2, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "IMPUESTO LEY 25413", Debit: dec("50"),
		MatchedFileID: "factura-b", Detail: "FC ACME SA"}

	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{movement}, nil
		},
	}
	matcher := &mockMatcher{
		debitFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchBankFee,
				Detail: "Impuesto al debito", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Totals.Filled != 0 {
		t.Errorf("Filled = %d, want 0 (fee candidate has no document id to compare)", outcome.Totals.Filled)
	}
}

func TestReconcileAll_ForceReplacesExistingMatch(t *testing.T) {
	movement := domain.Movement{Row: 2, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "TRANSF ACME", Credit: dec("1000"),
		MatchedFileID: "factura-vieja", Detail: "FC vieja"}

	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{movement}, nil
		},
	}
	matcher := &mockMatcher{
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceLow}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Totals.Filled != 1 {
		t.Errorf("Filled = %d, want 1 (force bypasses quality comparison)", outcome.Totals.Filled)
	}
	if writer.calls[0].records[0].MatchedFileID != "factura-b" {
		t.Errorf("Expected write of factura-b, got %q", writer.calls[0].records[0].MatchedFileID)
	}
}

func TestReconcileAll_MatcherPanicCountsAsPartitionError(t *testing.T) {
	movements := &mockMovementReader{
		movementsFunc: func(partitionID string, limit int) ([]domain.Movement, error) {
			return []domain.Movement{
				{Row: 2, Description: "X", Debit: dec("1")},
				{Row: 3, Description: "TRANSF ACME", Credit: dec("1000")},
			}, nil
		},
	}
	matcher := &mockMatcher{
		debitFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			panic("matcher bug")
		},
		creditFunc: func(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate {
			return domain.MatchCandidate{Kind: domain.MatchDocument, FileID: "factura-b",
				Detail: "FC ACME SA", Confidence: domain.ConfidenceHigh}
		},
	}
	writer := &mockMovementWriter{}

	r := newTestReconciler(&mockLockManager{},
		&mockPartitions{parts: map[string]string{"galicia": "sheet-1"}},
		&mockLedgerReader{rowsFunc: testLedgerRows},
		movements, writer, matcher, &bytes.Buffer{})

	outcome, err := r.ReconcileAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ReconcileAll returned error: %v", err)
	}
	if outcome.Totals.Errors != 1 {
		t.Errorf("Errors = %d, want 1", outcome.Totals.Errors)
	}
	if outcome.Totals.Filled != 1 {
		t.Errorf("Filled = %d, want 1 (panic on one movement must not sink the rest)", outcome.Totals.Filled)
	}
}
