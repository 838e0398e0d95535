package models

import (
	"errors"
	"time"
)

// TraceStatus is the lifecycle state of a submitted trace.
//
// Lifecycle:
//   pending_payment → queued                (premium, payment-gated entry)
//   queued          → processing
//   processing      → completed | failed
//
// All transitions are one-directional. completed and failed are
// terminal: a retry is always a new Trace, never a re-entry.
type TraceStatus string

const (
	StatusPendingPayment TraceStatus = "pending_payment"
	StatusQueued         TraceStatus = "queued"
	StatusProcessing     TraceStatus = "processing"
	StatusCompleted      TraceStatus = "completed"
	StatusFailed         TraceStatus = "failed"
)

// ErrTraceNotFound is returned by trace stores for unknown trace IDs.
var ErrTraceNotFound = errors.New("trace not found")

// Terminal reports whether the status admits no further transitions.
func (s TraceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor state.
func (s TraceStatus) CanTransitionTo(next TraceStatus) bool {
	switch s {
	case StatusPendingPayment:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Trace is one investigation request for a single wallet address,
// tracked from submission to a terminal state. Mutated only by the
// lifecycle scheduler.
type Trace struct {
	ID                  string       `json:"id"`
	WalletAddress       string       `json:"walletAddress"`
	Cryptocurrency      string       `json:"cryptocurrency"` // "BTC" or "ETH"
	IsPremium           bool         `json:"isPremium"`
	Status              TraceStatus  `json:"status"`
	SubmittedAt         time.Time    `json:"submittedAt"`
	EstimatedCompletion time.Time    `json:"estimatedCompletion"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	FailureReason       string       `json:"failureReason,omitempty"` // Opaque reason string, set on failed
	Result              *TraceReport `json:"result,omitempty"`        // Attached on completed
}
