package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/trace-engine/internal/engine"
	"github.com/rawblock/trace-engine/pkg/models"
)

// Trace Lifecycle Scheduler
//
// Owns the state of every submitted trace and decides when the engine
// runs for each one:
//
//   free traces     → queued until the weekly batch window, then all
//                     claimed and processed sequentially by one sweep
//   premium traces  → one-hour turnaround, processable on demand via
//                     ProcessPremiumNow, the only synchronous path
//
// A cron trigger fires the sweep check every minute; the sweep only
// acts when the wall clock is inside the configured window. Sweep
// mutual exclusion is a compare-and-swap on an atomic flag, so an
// overlapping trigger is skipped outright, never queued.
//
// Failure semantics: an engine error is caught per trace and yields
// the failed state with an opaque reason. One failing trace never
// aborts the rest of a sweep, and there is no automatic retry: a
// failed trace is terminal and retry means resubmission.

// Config holds the scheduling knobs.
type Config struct {
	BatchWeekday      time.Weekday // Weekly free-tier window day
	BatchHour         int
	BatchMinute       int
	PremiumTurnaround time.Duration
}

// DefaultConfig is the production window: Wednesday 23:59 local time,
// one-hour premium turnaround.
func DefaultConfig() Config {
	return Config{
		BatchWeekday:      time.Wednesday,
		BatchHour:         23,
		BatchMinute:       59,
		PremiumTurnaround: time.Hour,
	}
}

// Scheduler drives traces through their lifecycle.
type Scheduler struct {
	store    TraceStore
	engine   Analyzer
	notifier Notifier
	cfg      Config
	now      func() time.Time

	sweeping atomic.Bool // in-flight sweep guard
	locks    sync.Map    // trace ID → *sync.Mutex, single writer per trace
	cron     *cron.Cron
}

// New builds a scheduler. notifier may be nil; a nil clock defaults to
// time.Now. The scheduler owns no timers until Start is called.
func New(store TraceStore, analyzer Analyzer, notifier Notifier, cfg Config, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		store:    store,
		engine:   analyzer,
		notifier: notifier,
		cfg:      cfg,
		now:      clock,
	}
}

// Start launches the periodic sweep trigger. Stop is the counterpart;
// the owner controls both explicitly.
func (s *Scheduler) Start() {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every 1m", func() {
		s.RunBatchSweep(context.Background())
	}); err != nil {
		log.Error().Err(err).Msg("registering sweep trigger failed")
	}
	s.cron.Start()
	log.Info().
		Str("window", s.cfg.BatchWeekday.String()).
		Int("hour", s.cfg.BatchHour).
		Int("minute", s.cfg.BatchMinute).
		Msg("scheduler started, sweep trigger every 1m")
}

// Stop halts the sweep trigger. In-flight processing finishes on its
// own; only new triggers stop.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// SubmitTrace validates and admits a new trace, assigning its ID,
// entry state and estimated completion. Invalid input never creates a
// trace record.
func (s *Scheduler) SubmitTrace(ctx context.Context, address, currency string, premium, paid bool) (models.Trace, error) {
	if err := engine.ValidateAddress(address, currency); err != nil {
		return models.Trace{}, err
	}

	now := s.now()
	trace := models.Trace{
		ID:             uuid.NewString(),
		WalletAddress:  address,
		Cryptocurrency: currency,
		IsPremium:      premium,
		SubmittedAt:    now,
	}

	switch {
	case premium && !paid:
		trace.Status = models.StatusPendingPayment
		trace.EstimatedCompletion = now.Add(s.cfg.PremiumTurnaround)
	case premium:
		trace.Status = models.StatusQueued
		trace.EstimatedCompletion = now.Add(s.cfg.PremiumTurnaround)
	default:
		trace.Status = models.StatusQueued
		trace.EstimatedCompletion = s.nextWindow(now)
	}

	if err := s.store.Save(ctx, trace); err != nil {
		return models.Trace{}, err
	}
	log.Info().
		Str("trace_id", trace.ID).
		Str("address", address).
		Bool("premium", premium).
		Time("eta", trace.EstimatedCompletion).
		Msg("trace admitted")
	return trace, nil
}

// ConfirmPayment moves a payment-gated premium trace into the queue.
func (s *Scheduler) ConfirmPayment(ctx context.Context, traceID string) (models.Trace, error) {
	unlock := s.lockTrace(traceID)
	defer unlock()

	trace, err := s.store.Load(ctx, traceID)
	if err != nil {
		return models.Trace{}, err
	}
	if err := s.transition(&trace, models.StatusQueued); err != nil {
		return models.Trace{}, err
	}
	trace.EstimatedCompletion = s.now().Add(s.cfg.PremiumTurnaround)
	if err := s.store.Save(ctx, trace); err != nil {
		return models.Trace{}, err
	}
	return trace, nil
}

// CancelTrace discards a trace that has not begun processing. Once
// processing starts cancellation is unsupported.
func (s *Scheduler) CancelTrace(ctx context.Context, traceID string) error {
	unlock := s.lockTrace(traceID)
	defer unlock()

	trace, err := s.store.Load(ctx, traceID)
	if err != nil {
		return err
	}
	if trace.Status != models.StatusQueued && trace.Status != models.StatusPendingPayment {
		return ErrNotCancellable
	}
	if err := s.store.Delete(ctx, traceID); err != nil {
		return err
	}
	s.dropLock(traceID)
	return nil
}

// GetTrace returns the current trace record.
func (s *Scheduler) GetTrace(ctx context.Context, traceID string) (models.Trace, error) {
	return s.store.Load(ctx, traceID)
}

// GetReport returns the compiled report once the trace completed.
func (s *Scheduler) GetReport(ctx context.Context, traceID string) (*models.TraceReport, error) {
	trace, err := s.store.Load(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if trace.Status != models.StatusCompleted || trace.Result == nil {
		return nil, ErrReportNotReady
	}
	return trace.Result, nil
}

// ListTraces returns traces in the given state.
func (s *Scheduler) ListTraces(ctx context.Context, status models.TraceStatus) ([]models.Trace, error) {
	return s.store.ListByStatus(ctx, status)
}

// NextWindow exposes the upcoming batch window for the API layer.
func (s *Scheduler) NextWindow() time.Time {
	return s.nextWindow(s.now())
}

// RunBatchSweep is the periodic sweep body. It no-ops unless the wall
// clock sits inside the weekly window, and an overlapping trigger
// while a sweep is in flight is skipped, not queued.
func (s *Scheduler) RunBatchSweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer s.sweeping.Store(false)

	now := s.now()
	if !inBatchWindow(now, s.cfg.BatchWeekday, s.cfg.BatchHour, s.cfg.BatchMinute) {
		return
	}

	queued, err := s.store.ListByStatus(ctx, models.StatusQueued)
	if err != nil {
		log.Error().Err(err).Msg("batch sweep: listing queued traces failed")
		return
	}

	processed := 0
	for _, trace := range queued {
		if trace.IsPremium {
			continue // premium traces never wait for the window
		}
		// Per-trace isolation: a failure here marks one trace failed
		// and the sweep moves on.
		s.processTrace(ctx, trace.ID)
		processed++
	}
	log.Info().Int("processed", processed).Msg("batch sweep finished")
}

// ProcessPremiumNow synchronously runs the engine for a queued premium
// trace, bypassing the batch window. This is the only path that
// returns the report to the caller; an engine failure comes back as
// ErrTraceFailed carrying the recorded reason.
func (s *Scheduler) ProcessPremiumNow(ctx context.Context, traceID string) (*models.TraceReport, error) {
	trace, err := s.store.Load(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if !trace.IsPremium {
		return nil, ErrNotPremium
	}
	if trace.Status == models.StatusPendingPayment {
		return nil, ErrPaymentPending
	}

	s.processTrace(ctx, traceID)

	trace, err = s.store.Load(ctx, traceID)
	if err != nil {
		return nil, err
	}
	switch {
	case trace.Status == models.StatusCompleted && trace.Result != nil:
		return trace.Result, nil
	case trace.Status == models.StatusFailed:
		// Synchronous path: the caller gets the failure, not a retry hint.
		return nil, fmt.Errorf("%w: %s", ErrTraceFailed, trace.FailureReason)
	}
	return nil, ErrReportNotReady
}

// processTrace drives one trace queued → processing → terminal. All
// writes for the trace happen under its keyed mutex so transitions are
// single-writer even when a sweep and a premium request race.
func (s *Scheduler) processTrace(ctx context.Context, traceID string) {
	unlock := s.lockTrace(traceID)
	defer unlock()

	trace, err := s.store.Load(ctx, traceID)
	if err != nil {
		log.Error().Err(err).Str("trace_id", traceID).Msg("load before processing failed")
		return
	}
	if err := s.transition(&trace, models.StatusProcessing); err != nil {
		// Already claimed by a concurrent path or terminal; nothing to do.
		return
	}
	if err := s.store.Save(ctx, trace); err != nil {
		log.Error().Err(err).Str("trace_id", traceID).Msg("saving processing state failed")
		return
	}

	report, err := s.engine.Trace(ctx, trace.WalletAddress, trace.Cryptocurrency)
	now := s.now()
	if err != nil {
		trace.Status = models.StatusFailed
		trace.CompletedAt = &now
		trace.FailureReason = err.Error()
		if saveErr := s.store.Save(ctx, trace); saveErr != nil {
			log.Error().Err(saveErr).Str("trace_id", traceID).Msg("saving failed state failed")
			return
		}
		s.dropLock(traceID)
		log.Warn().Err(err).Str("trace_id", traceID).Str("address", trace.WalletAddress).Msg("trace failed")
		if s.notifier != nil {
			s.notifier.TraceFailed(trace)
		}
		return
	}

	trace.Status = models.StatusCompleted
	trace.CompletedAt = &now
	trace.Result = report
	if saveErr := s.store.Save(ctx, trace); saveErr != nil {
		log.Error().Err(saveErr).Str("trace_id", traceID).Msg("saving completed state failed")
		return
	}
	s.dropLock(traceID)
	log.Info().
		Str("trace_id", traceID).
		Str("report_id", report.ReportID).
		Str("assessment", report.RiskAssessment).
		Msg("trace completed")
	if s.notifier != nil {
		s.notifier.TraceCompleted(trace)
	}
}

// transition applies a legal state change in place.
func (s *Scheduler) transition(trace *models.Trace, next models.TraceStatus) error {
	if !trace.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	trace.Status = next
	return nil
}

func (s *Scheduler) nextWindow(now time.Time) time.Time {
	return NextBatchWindow(now, s.cfg.BatchWeekday, s.cfg.BatchHour, s.cfg.BatchMinute)
}

// lockTrace acquires the per-trace writer mutex and returns its
// release func. Different trace IDs never contend.
func (s *Scheduler) lockTrace(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// dropLock prunes the keyed mutex once its trace can no longer
// transition. A racing waiter that re-creates the entry loads the
// stored state, finds it terminal or gone, and bails in transition.
func (s *Scheduler) dropLock(id string) {
	s.locks.Delete(id)
}
