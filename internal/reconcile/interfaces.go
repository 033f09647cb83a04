package reconcile

import (
	"context"
	"time"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
)

// LockManager runs fn under a named, auto-expiring exclusive lock.
// Failing to acquire within acquireTimeout is a normal outcome, not an
// error: implementations return (false, nil) and never invoke fn. When
// fn runs, its error is returned alongside acquired=true. The ttl
// bounds how long a crashed holder can block future runs.
type LockManager interface {
	WithLock(ctx context.Context, id string, acquireTimeout, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error)
}

// PartitionProvider exposes the cached bank-to-spreadsheet map.
// A nil map means discovery has not run yet.
type PartitionProvider interface {
	CachedPartitions(ctx context.Context) map[string]string
}

// LedgerReader fetches raw tabular rows (header included) from one
// range of the ledger spreadsheet.
type LedgerReader interface {
	LedgerRows(ctx context.Context, spreadsheetID, rangeSpec string) ([][]string, error)
}

// MovementReader fetches pending movements from one bank partition.
// Pending means previously unmatched or eligible for re-evaluation;
// limit bounds the batch size.
type MovementReader interface {
	PendingMovements(ctx context.Context, partitionID string, limit int) ([]domain.Movement, error)
}

// MovementWriter applies one batch of write records to a partition.
// The writer must verify each record's ExpectedVersion against the live
// row and skip (not error) rows whose fingerprint has changed, returning
// the number of rows actually applied.
type MovementWriter interface {
	WriteBack(ctx context.Context, partitionID string, records []domain.WriteRecord) (applied int, err error)
}

// Matcher produces a candidate for a single movement. Implementations
// must be pure functions of their inputs: no I/O, no retained state.
type Matcher interface {
	MatchDebit(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate
	MatchCredit(m *domain.Movement, lctx *LedgerContext) domain.MatchCandidate
}

// RunRecorder persists the lifecycle of a reconciliation run for
// auditing. Observability only: recorder failures are logged, never
// propagated into the run's control flow.
type RunRecorder interface {
	StartRun(ctx context.Context) (runID string, err error)
	FinishRun(ctx context.Context, runID string, outcome *domain.RunOutcome, runErr error) error
}

// NoopRecorder is a RunRecorder that records nothing.
type NoopRecorder struct{}

// StartRun implements RunRecorder.
func (NoopRecorder) StartRun(ctx context.Context) (string, error) { return "", nil }

// FinishRun implements RunRecorder.
func (NoopRecorder) FinishRun(ctx context.Context, runID string, outcome *domain.RunOutcome, runErr error) error {
	return nil
}
