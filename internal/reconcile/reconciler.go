// Package reconcile implements the reconciliation engine: it matches
// pending bank movements against the parsed invoice/payment ledger and
// writes a description and document reference back to each matched row.
// One run is globally exclusive, processes bank partitions sequentially,
// and tolerates per-partition failures.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-reconciler/internal/domain"
	"github.com/dvloznov/ledger-reconciler/internal/ledger"
)

// ErrPartitionsNotCached is returned when a run starts before the bank
// folder structure has been discovered. Precondition failure: the run
// aborts and is never retried by this package.
var ErrPartitionsNotCached = errors.New("bank folder structure not cached, run discovery first")

const (
	// LockID is the fixed name of the run-level lock. Shared with the
	// document-classification jobs so the two never mutate the ledger
	// concurrently.
	LockID = "document-processing"

	// DefaultLockTimeout bounds both lock acquisition and the held
	// lock's auto-expiry.
	DefaultLockTimeout = 5 * time.Minute

	// DefaultMovementLimit bounds how many pending movements are read
	// per partition per run.
	DefaultMovementLimit = 200
)

// LedgerRanges names the three ledger sub-sheets read each run.
type LedgerRanges struct {
	Issued   string
	Received string
	Payments string
}

// Config carries the run-invariant settings of a Reconciler.
type Config struct {
	LedgerSpreadsheetID string
	Ranges              LedgerRanges

	LockID         string
	AcquireTimeout time.Duration
	LockTTL        time.Duration
	MovementLimit  int
}

// Options are the per-run options of ReconcileAll.
type Options struct {
	// Force re-evaluates every movement, replacing existing matches
	// without quality comparison.
	Force bool
}

// Reconciler orchestrates one reconciliation run over all bank
// partitions. All collaborators are injected; the reconciler owns no
// shared mutable state of its own, so runs are independently testable.
type Reconciler struct {
	cfg        Config
	locks      LockManager
	partitions PartitionProvider
	ledgers    LedgerReader
	movements  MovementReader
	writer     MovementWriter
	matcher    Matcher
	recorder   RunRecorder
	log        zerolog.Logger
}

// New creates a Reconciler. Zero-valued Config fields fall back to the
// package defaults. recorder may be nil to disable run auditing.
func New(cfg Config, locks LockManager, partitions PartitionProvider, ledgers LedgerReader,
	movements MovementReader, writer MovementWriter, matcher Matcher, recorder RunRecorder,
	log zerolog.Logger) *Reconciler {

	if cfg.LockID == "" {
		cfg.LockID = LockID
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultLockTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTimeout
	}
	if cfg.MovementLimit <= 0 {
		cfg.MovementLimit = DefaultMovementLimit
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}

	return &Reconciler{
		cfg:        cfg,
		locks:      locks,
		partitions: partitions,
		ledgers:    ledgers,
		movements:  movements,
		writer:     writer,
		matcher:    matcher,
		recorder:   recorder,
		log:        log,
	}
}

// ReconcileAll runs one full reconciliation pass under the run-level
// lock. When the lock is already held the run is skipped, not failed:
// the outcome carries Skipped=true and no ledger read happens. Fatal
// errors (missing partition cache, missing required ledger headers)
// abort the run; per-partition failures are counted in the results and
// never stop subsequent partitions.
func (r *Reconciler) ReconcileAll(ctx context.Context, opts Options) (*domain.RunOutcome, error) {
	var outcome *domain.RunOutcome

	acquired, err := r.locks.WithLock(ctx, r.cfg.LockID, r.cfg.AcquireTimeout, r.cfg.LockTTL,
		func(ctx context.Context) error {
			var runErr error
			outcome, runErr = r.run(ctx, opts)
			return runErr
		})
	if err != nil {
		return nil, err
	}
	if !acquired {
		r.log.Info().Str("lock_id", r.cfg.LockID).Msg("Reconciliation already running, skipping")
		skipped := &domain.RunOutcome{Skipped: true, Reason: "already_running"}
		r.recordOutcome(ctx, skipped, nil)
		return skipped, nil
	}
	return outcome, nil
}

func (r *Reconciler) run(ctx context.Context, opts Options) (*domain.RunOutcome, error) {
	runID, recErr := r.recorder.StartRun(ctx)
	if recErr != nil {
		r.log.Warn().Err(recErr).Msg("Run recorder unavailable, continuing without audit")
	}

	outcome, err := r.reconcilePartitions(ctx, opts)

	if recErr == nil {
		if ferr := r.recorder.FinishRun(ctx, runID, outcome, err); ferr != nil {
			r.log.Warn().Err(ferr).Str("run_id", runID).Msg("Failed to record run outcome")
		}
	}
	return outcome, err
}

// recordOutcome writes an immediate start/finish pair for runs that
// never executed, so the audit trail shows lock contention too.
// Recorder failures are logged and never affect the outcome.
func (r *Reconciler) recordOutcome(ctx context.Context, outcome *domain.RunOutcome, runErr error) {
	runID, err := r.recorder.StartRun(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Run recorder unavailable, continuing without audit")
		return
	}
	if err := r.recorder.FinishRun(ctx, runID, outcome, runErr); err != nil {
		r.log.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run outcome")
	}
}

func (r *Reconciler) reconcilePartitions(ctx context.Context, opts Options) (*domain.RunOutcome, error) {
	parts := r.partitions.CachedPartitions(ctx)
	if parts == nil {
		return nil, ErrPartitionsNotCached
	}

	lctx, err := r.loadLedger(ctx)
	if err != nil {
		return nil, err
	}

	// Deterministic partition order; processing is strictly sequential
	// to respect the sheet API's rate limits.
	banks := make([]string, 0, len(parts))
	for bank := range parts {
		banks = append(banks, bank)
	}
	sort.Strings(banks)

	outcome := &domain.RunOutcome{Results: make([]domain.PartitionResult, 0, len(banks))}
	for _, bank := range banks {
		result := r.processPartition(ctx, bank, parts[bank], lctx, opts)
		outcome.Results = append(outcome.Results, result)
		outcome.Totals.Add(result)
	}

	r.log.Info().
		Int("partitions", len(outcome.Results)).
		Int("processed", outcome.Totals.Processed).
		Int("filled", outcome.Totals.Filled).
		Int("no_match", outcome.Totals.NoMatch).
		Int("errors", outcome.Totals.Errors).
		Msg("Reconciliation run finished")
	return outcome, nil
}

// loadLedger reads and parses all three ledger sub-sheets once per run.
// Any failure here is fatal for the whole run.
func (r *Reconciler) loadLedger(ctx context.Context) (*LedgerContext, error) {
	issuedRows, err := r.ledgers.LedgerRows(ctx, r.cfg.LedgerSpreadsheetID, r.cfg.Ranges.Issued)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: reading issued invoices: %w", err)
	}
	issued, err := ledger.ParseIssuedInvoices(issuedRows)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: parsing issued invoices: %w", err)
	}

	receivedRows, err := r.ledgers.LedgerRows(ctx, r.cfg.LedgerSpreadsheetID, r.cfg.Ranges.Received)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: reading received invoices: %w", err)
	}
	received, err := ledger.ParseReceivedInvoices(receivedRows)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: parsing received invoices: %w", err)
	}

	paymentRows, err := r.ledgers.LedgerRows(ctx, r.cfg.LedgerSpreadsheetID, r.cfg.Ranges.Payments)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: reading payments: %w", err)
	}
	payments, err := ledger.ParsePaymentRows(paymentRows)
	if err != nil {
		return nil, fmt.Errorf("loadLedger: parsing payments: %w", err)
	}

	r.log.Debug().
		Int("issued", len(issued)).
		Int("received", len(received)).
		Int("payments", len(payments)).
		Msg("Ledger loaded")
	return NewLedgerContext(issued, received, payments), nil
}

// processPartition reconciles one bank's pending movements. Failures
// here are partition-scoped: they increment the partition's error count
// and never abort the run.
func (r *Reconciler) processPartition(ctx context.Context, bank, partitionID string,
	lctx *LedgerContext, opts Options) domain.PartitionResult {

	result := domain.PartitionResult{Partition: bank}
	log := r.log.With().Str("bank", bank).Logger()

	movs, err := r.movements.PendingMovements(ctx, partitionID, r.cfg.MovementLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read pending movements")
		result.Errors++
		return result
	}

	records := make([]domain.WriteRecord, 0, len(movs))
	for i := range movs {
		m := &movs[i]
		result.Processed++

		cand, err := r.invokeMatcher(m, lctx)
		if err != nil {
			log.Error().Err(err).Int("row", m.Row).Msg("Matcher failed for movement")
			result.Errors++
			continue
		}

		if cand.Kind == domain.MatchNone {
			result.NoMatch++
			continue
		}

		if !r.shouldWrite(m, cand, lctx, opts, log) {
			continue
		}

		records = append(records, domain.WriteRecord{
			PartitionID:     partitionID,
			Row:             m.Row,
			MatchedFileID:   cand.FileID,
			Detail:          cand.Detail,
			ExpectedVersion: ComputeRowVersion(m),
		})
		result.Filled++
		if m.IsDebit() {
			result.DebitsFilled++
		} else {
			result.CreditsFilled++
		}
	}

	// One batch write per partition, even when empty, so callers always
	// observe a deterministic write per partition.
	applied, err := r.writer.WriteBack(ctx, partitionID, records)
	if err != nil {
		log.Error().Err(err).Int("records", len(records)).Msg("Batch write failed")
		result.Errors++
		return result
	}
	if applied < len(records) {
		// Statistics stay pre-write: rows rejected by the version check
		// were mutated by another actor and are picked up next run.
		log.Warn().
			Int("submitted", len(records)).
			Int("applied", applied).
			Msg("Some rows changed between read and write, skipped by version check")
	}

	log.Info().
		Int("processed", result.Processed).
		Int("filled", result.Filled).
		Int("no_match", result.NoMatch).
		Int("errors", result.Errors).
		Msg("Partition reconciled")
	return result
}

// shouldWrite applies the replacement policy for one movement.
func (r *Reconciler) shouldWrite(m *domain.Movement, cand domain.MatchCandidate,
	lctx *LedgerContext, opts Options, log zerolog.Logger) bool {

	if m.MatchedFileID == "" || opts.Force {
		// Nothing to preserve (or the caller asked for re-evaluation);
		// still skip writes that would not change the row.
		return cand.FileID != m.MatchedFileID || cand.Detail != m.Detail
	}

	existing, ok := lctx.QualityFor(m, m.MatchedFileID)
	if !ok {
		// The referenced document no longer exists in the ledger. An
		// unresolvable reference must never be silently overwritten.
		log.Warn().
			Str("matchedFileId", m.MatchedFileID).
			Int("row", m.Row).
			Msg("Existing matched document no longer exists in ledger, keeping it")
		return false
	}

	// Fee and card candidates carry no document id and are never
	// quality-compared against a document reference.
	candidate, ok := lctx.CandidateQuality(m, cand)
	if !ok {
		return false
	}

	return IsBetterMatch(existing, candidate)
}

// invokeMatcher dispatches to the matcher's debit or credit method and
// converts a matcher panic into a partition-scoped error.
func (r *Reconciler) invokeMatcher(m *domain.Movement, lctx *LedgerContext) (cand domain.MatchCandidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("matcher panic: %v", rec)
		}
	}()

	if m.IsDebit() {
		return r.matcher.MatchDebit(m, lctx), nil
	}
	return r.matcher.MatchCredit(m, lctx), nil
}
