package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rawblock/trace-engine/internal/db"
	"github.com/rawblock/trace-engine/internal/engine"
	"github.com/rawblock/trace-engine/pkg/models"
)

const (
	validAddr   = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	anotherAddr = "3FupZp77ySr7jwoLYEJ9mwzJpvoNBXsBnE"
)

// Wednesday 2025-01-08, inside and outside the 23:59 window.
var (
	insideWindow  = time.Date(2025, 1, 8, 23, 59, 10, 0, time.UTC)
	outsideWindow = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
)

// stubAnalyzer completes every address except those in failFor, with an
// optional block channel for overlap tests.
type stubAnalyzer struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]error
	block   chan struct{} // when non-nil, Trace waits for a receive
}

func (a *stubAnalyzer) Trace(ctx context.Context, address, currency string) (*models.TraceReport, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.block != nil {
		<-a.block
	}
	if err, ok := a.failFor[address]; ok {
		return nil, err
	}
	return &models.TraceReport{
		ReportID:       "TRC-test-" + address[:8],
		TargetAddress:  address,
		Cryptocurrency: currency,
		RiskAssessment: models.RiskTierLow,
	}, nil
}

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// recordingNotifier captures terminal notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	completed []models.Trace
	failed    []models.Trace
}

func (n *recordingNotifier) TraceCompleted(trace models.Trace) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, trace)
}

func (n *recordingNotifier) TraceFailed(trace models.Trace) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, trace)
}

// statusRecordingStore wraps the memory store and records every saved
// status per trace so tests can assert the transition sequence.
type statusRecordingStore struct {
	TraceStore
	mu       sync.Mutex
	statuses map[string][]models.TraceStatus
}

func newStatusRecordingStore() *statusRecordingStore {
	return &statusRecordingStore{
		TraceStore: db.NewMemoryStore(),
		statuses:   make(map[string][]models.TraceStatus),
	}
}

func (s *statusRecordingStore) Save(ctx context.Context, trace models.Trace) error {
	s.mu.Lock()
	s.statuses[trace.ID] = append(s.statuses[trace.ID], trace.Status)
	s.mu.Unlock()
	return s.TraceStore.Save(ctx, trace)
}

func newTestScheduler(analyzer Analyzer, notifier Notifier, clockTime time.Time) (*Scheduler, TraceStore) {
	store := db.NewMemoryStore()
	sched := New(store, analyzer, notifier, DefaultConfig(), func() time.Time { return clockTime })
	return sched, store
}

func TestSubmitTrace_Admission(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	tests := []struct {
		name       string
		premium    bool
		paid       bool
		wantStatus models.TraceStatus
		wantETA    time.Time
	}{
		{"Free Tier", false, false, models.StatusQueued, time.Date(2025, 1, 8, 23, 59, 0, 0, time.UTC)},
		{"Premium Paid", true, true, models.StatusQueued, outsideWindow.Add(time.Hour)},
		{"Premium Unpaid", true, false, models.StatusPendingPayment, outsideWindow.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace, err := sched.SubmitTrace(ctx, validAddr, "BTC", tt.premium, tt.paid)
			if err != nil {
				t.Fatalf("SubmitTrace() error: %v", err)
			}
			if trace.ID == "" {
				t.Errorf("trace admitted without an ID")
			}
			if trace.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", trace.Status, tt.wantStatus)
			}
			if !trace.EstimatedCompletion.Equal(tt.wantETA) {
				t.Errorf("EstimatedCompletion = %v, want %v", trace.EstimatedCompletion, tt.wantETA)
			}
		})
	}
}

func TestSubmitTrace_RejectsInvalidInput(t *testing.T) {
	sched, store := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	if _, err := sched.SubmitTrace(ctx, "garbage", "BTC", false, false); !errors.Is(err, engine.ErrInvalidAddress) {
		t.Errorf("SubmitTrace() = %v, want ErrInvalidAddress", err)
	}
	if _, err := sched.SubmitTrace(ctx, validAddr, "XRP", false, false); !errors.Is(err, engine.ErrUnsupportedCurrency) {
		t.Errorf("SubmitTrace() = %v, want ErrUnsupportedCurrency", err)
	}

	// No record may exist for a rejected submission.
	for _, status := range []models.TraceStatus{models.StatusQueued, models.StatusPendingPayment} {
		traces, err := store.ListByStatus(ctx, status)
		if err != nil {
			t.Fatalf("ListByStatus() error: %v", err)
		}
		if len(traces) != 0 {
			t.Errorf("rejected submission left %d %s traces", len(traces), status)
		}
	}
}

func TestConfirmPayment(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	trace, err := sched.SubmitTrace(ctx, validAddr, "BTC", true, false)
	if err != nil {
		t.Fatalf("SubmitTrace() error: %v", err)
	}

	confirmed, err := sched.ConfirmPayment(ctx, trace.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment() error: %v", err)
	}
	if confirmed.Status != models.StatusQueued {
		t.Errorf("Status = %q, want queued", confirmed.Status)
	}

	// A second confirmation is an illegal transition.
	if _, err := sched.ConfirmPayment(ctx, trace.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double ConfirmPayment() = %v, want ErrInvalidTransition", err)
	}
	// Unknown trace surfaces not-found.
	if _, err := sched.ConfirmPayment(ctx, "missing"); !errors.Is(err, models.ErrTraceNotFound) {
		t.Errorf("ConfirmPayment(missing) = %v, want ErrTraceNotFound", err)
	}
}

func TestProcessPremiumNow(t *testing.T) {
	notifier := &recordingNotifier{}
	sched, _ := newTestScheduler(&stubAnalyzer{}, notifier, outsideWindow)
	ctx := context.Background()

	trace, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, true)

	report, err := sched.ProcessPremiumNow(ctx, trace.ID)
	if err != nil {
		t.Fatalf("ProcessPremiumNow() error: %v", err)
	}
	if report.TargetAddress != validAddr {
		t.Errorf("report for %q, want %q", report.TargetAddress, validAddr)
	}

	got, _ := sched.GetTrace(ctx, trace.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Errorf("CompletedAt not set on completion")
	}
	if len(notifier.completed) != 1 {
		t.Errorf("got %d completion notifications, want 1", len(notifier.completed))
	}

	// The report stays retrievable afterwards.
	stored, err := sched.GetReport(ctx, trace.ID)
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if stored.ReportID != report.ReportID {
		t.Errorf("stored report %q != returned report %q", stored.ReportID, report.ReportID)
	}
}

// The synchronous premium path surfaces the engine failure itself, not
// a not-ready hint the client would uselessly retry.
func TestProcessPremiumNow_FailurePropagated(t *testing.T) {
	analyzer := &stubAnalyzer{failFor: map[string]error{validAddr: errors.New("indexer unavailable")}}
	notifier := &recordingNotifier{}
	sched, _ := newTestScheduler(analyzer, notifier, outsideWindow)
	ctx := context.Background()

	trace, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, true)

	_, err := sched.ProcessPremiumNow(ctx, trace.ID)
	if !errors.Is(err, ErrTraceFailed) {
		t.Fatalf("ProcessPremiumNow() = %v, want ErrTraceFailed", err)
	}
	if !strings.Contains(err.Error(), "indexer unavailable") {
		t.Errorf("error %q does not carry the failure reason", err)
	}

	got, _ := sched.GetTrace(ctx, trace.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.FailureReason == "" || got.CompletedAt == nil {
		t.Errorf("failed trace missing terminal fields: %+v", got)
	}
	if len(notifier.failed) != 1 {
		t.Errorf("got %d failure notifications, want 1", len(notifier.failed))
	}

	// A later call keeps reporting the failure, never not-ready.
	if _, err := sched.ProcessPremiumNow(ctx, trace.ID); !errors.Is(err, ErrTraceFailed) {
		t.Errorf("second ProcessPremiumNow() = %v, want ErrTraceFailed", err)
	}
}

func TestProcessPremiumNow_Guards(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	free, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	if _, err := sched.ProcessPremiumNow(ctx, free.ID); !errors.Is(err, ErrNotPremium) {
		t.Errorf("free trace = %v, want ErrNotPremium", err)
	}

	unpaid, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, false)
	if _, err := sched.ProcessPremiumNow(ctx, unpaid.ID); !errors.Is(err, ErrPaymentPending) {
		t.Errorf("unpaid trace = %v, want ErrPaymentPending", err)
	}

	if _, err := sched.ProcessPremiumNow(ctx, "missing"); !errors.Is(err, models.ErrTraceNotFound) {
		t.Errorf("missing trace = %v, want ErrTraceNotFound", err)
	}
}

func TestRunBatchSweep_InsideWindow(t *testing.T) {
	analyzer := &stubAnalyzer{failFor: map[string]error{anotherAddr: errors.New("indexer down")}}
	notifier := &recordingNotifier{}
	sched, _ := newTestScheduler(analyzer, notifier, insideWindow)
	ctx := context.Background()

	healthy, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	failing, _ := sched.SubmitTrace(ctx, anotherAddr, "BTC", false, false)
	premium, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, true)

	sched.RunBatchSweep(ctx)

	got, _ := sched.GetTrace(ctx, healthy.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("healthy trace = %q, want completed", got.Status)
	}

	// One failing trace never aborts the sweep.
	got, _ = sched.GetTrace(ctx, failing.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("failing trace = %q, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Errorf("failed trace has no failure reason")
	}
	if got.CompletedAt == nil {
		t.Errorf("failed trace has no completion timestamp")
	}

	// Premium traces never wait for the window, nor are they swept.
	got, _ = sched.GetTrace(ctx, premium.ID)
	if got.Status != models.StatusQueued {
		t.Errorf("premium trace = %q, want still queued", got.Status)
	}

	if len(notifier.completed) != 1 || len(notifier.failed) != 1 {
		t.Errorf("notifications = %d completed / %d failed, want 1 / 1",
			len(notifier.completed), len(notifier.failed))
	}
}

func TestRunBatchSweep_OutsideWindow(t *testing.T) {
	analyzer := &stubAnalyzer{}
	sched, _ := newTestScheduler(analyzer, nil, outsideWindow)
	ctx := context.Background()

	trace, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	sched.RunBatchSweep(ctx)

	got, _ := sched.GetTrace(ctx, trace.ID)
	if got.Status != models.StatusQueued {
		t.Errorf("Status = %q, want queued outside the window", got.Status)
	}
	if analyzer.callCount() != 0 {
		t.Errorf("engine ran %d times outside the window", analyzer.callCount())
	}
}

// An overlapping trigger while a sweep is in flight is skipped outright.
func TestRunBatchSweep_OverlapSkipped(t *testing.T) {
	analyzer := &stubAnalyzer{block: make(chan struct{})}
	sched, _ := newTestScheduler(analyzer, nil, insideWindow)
	ctx := context.Background()

	if _, err := sched.SubmitTrace(ctx, validAddr, "BTC", false, false); err != nil {
		t.Fatalf("SubmitTrace() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sched.RunBatchSweep(ctx)
		close(done)
	}()

	// Wait until the first sweep is inside the engine.
	for analyzer.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	sched.RunBatchSweep(ctx) // must return immediately without processing

	if analyzer.callCount() != 1 {
		t.Errorf("overlapping sweep ran the engine, calls = %d", analyzer.callCount())
	}

	analyzer.block <- struct{}{}
	<-done
}

func TestLifecycle_StatusSequence(t *testing.T) {
	store := newStatusRecordingStore()
	sched := New(store, &stubAnalyzer{}, nil, DefaultConfig(), func() time.Time { return insideWindow })
	ctx := context.Background()

	trace, err := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	if err != nil {
		t.Fatalf("SubmitTrace() error: %v", err)
	}
	sched.RunBatchSweep(ctx)

	want := []models.TraceStatus{models.StatusQueued, models.StatusProcessing, models.StatusCompleted}
	got := store.statuses[trace.ID]
	if len(got) != len(want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status sequence = %v, want %v", got, want)
		}
	}
}

// Completed traces are immutable: a second sweep inside the window must
// not touch them again.
func TestLifecycle_TerminalImmutable(t *testing.T) {
	analyzer := &stubAnalyzer{}
	sched, _ := newTestScheduler(analyzer, nil, insideWindow)
	ctx := context.Background()

	trace, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	sched.RunBatchSweep(ctx)
	first, _ := sched.GetTrace(ctx, trace.ID)

	sched.RunBatchSweep(ctx)
	second, _ := sched.GetTrace(ctx, trace.ID)

	if analyzer.callCount() != 1 {
		t.Errorf("engine ran %d times for one trace", analyzer.callCount())
	}
	if second.Status != models.StatusCompleted || second.Result.ReportID != first.Result.ReportID {
		t.Errorf("terminal trace mutated by a later sweep")
	}
}

// Keyed mutexes are pruned once a trace can no longer transition, so a
// long-running node does not grow one entry per trace ever submitted.
func TestLifecycle_LockPrunedAfterTerminal(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, insideWindow)
	ctx := context.Background()

	completed, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, true)
	if _, err := sched.ProcessPremiumNow(ctx, completed.ID); err != nil {
		t.Fatalf("ProcessPremiumNow() error: %v", err)
	}
	if _, ok := sched.locks.Load(completed.ID); ok {
		t.Errorf("completed trace still holds a keyed mutex")
	}

	swept, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	sched.RunBatchSweep(ctx)
	if _, ok := sched.locks.Load(swept.ID); ok {
		t.Errorf("swept trace still holds a keyed mutex")
	}

	cancelled, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	if err := sched.CancelTrace(ctx, cancelled.ID); err != nil {
		t.Fatalf("CancelTrace() error: %v", err)
	}
	if _, ok := sched.locks.Load(cancelled.ID); ok {
		t.Errorf("cancelled trace still holds a keyed mutex")
	}
}

func TestCancelTrace(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	queued, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	if err := sched.CancelTrace(ctx, queued.ID); err != nil {
		t.Fatalf("CancelTrace(queued) error: %v", err)
	}
	if _, err := sched.GetTrace(ctx, queued.ID); !errors.Is(err, models.ErrTraceNotFound) {
		t.Errorf("cancelled trace still loadable: %v", err)
	}

	unpaid, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, false)
	if err := sched.CancelTrace(ctx, unpaid.ID); err != nil {
		t.Errorf("CancelTrace(pending_payment) error: %v", err)
	}

	premium, _ := sched.SubmitTrace(ctx, validAddr, "BTC", true, true)
	if _, err := sched.ProcessPremiumNow(ctx, premium.ID); err != nil {
		t.Fatalf("ProcessPremiumNow() error: %v", err)
	}
	if err := sched.CancelTrace(ctx, premium.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("CancelTrace(completed) = %v, want ErrNotCancellable", err)
	}
}

func TestGetReport_NotReady(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	ctx := context.Background()

	trace, _ := sched.SubmitTrace(ctx, validAddr, "BTC", false, false)
	if _, err := sched.GetReport(ctx, trace.ID); !errors.Is(err, ErrReportNotReady) {
		t.Errorf("GetReport(queued) = %v, want ErrReportNotReady", err)
	}
	if _, err := sched.GetReport(ctx, "missing"); !errors.Is(err, models.ErrTraceNotFound) {
		t.Errorf("GetReport(missing) = %v, want ErrTraceNotFound", err)
	}
}

func TestNextWindow(t *testing.T) {
	sched, _ := newTestScheduler(&stubAnalyzer{}, nil, outsideWindow)
	want := time.Date(2025, 1, 8, 23, 59, 0, 0, time.UTC)
	if got := sched.NextWindow(); !got.Equal(want) {
		t.Errorf("NextWindow() = %v, want %v", got, want)
	}
}
