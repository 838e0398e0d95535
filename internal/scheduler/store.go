package scheduler

import (
	"context"
	"errors"

	"github.com/rawblock/trace-engine/pkg/models"
)

// Collaborator contracts consumed by the scheduler. The engine, the
// persistence layer and the notification fan-out all live behind small
// interfaces so the lifecycle logic tests against fakes.

// TraceStore persists trace records. Transitions are read-modify-write
// per trace; the scheduler serializes writers per trace ID itself, the
// store only has to be safe for concurrent use across IDs.
type TraceStore interface {
	Load(ctx context.Context, id string) (models.Trace, error)
	Save(ctx context.Context, trace models.Trace) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status models.TraceStatus) ([]models.Trace, error)
}

// Analyzer is the trace analysis engine as the scheduler sees it.
type Analyzer interface {
	Trace(ctx context.Context, address, currency string) (*models.TraceReport, error)
}

// Notifier observes terminal transitions. Calls are fire-and-forget:
// a notifier that panics or blocks must not be able to roll back or
// delay a state transition, so the scheduler invokes it after the
// transition is saved and ignores its behaviour entirely.
type Notifier interface {
	TraceCompleted(trace models.Trace)
	TraceFailed(trace models.Trace)
}

// Scheduler operation errors.
var (
	ErrInvalidTransition = errors.New("illegal trace state transition")
	ErrNotPremium        = errors.New("trace is not premium")
	ErrPaymentPending    = errors.New("trace is awaiting payment confirmation")
	ErrReportNotReady    = errors.New("trace report not ready")
	ErrTraceFailed       = errors.New("trace failed")
	ErrNotCancellable    = errors.New("trace already processing or terminal")
)
