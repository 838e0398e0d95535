package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/trace-engine/pkg/models"
)

// Trace lifecycle notification fan-out. The scheduler calls this
// after a terminal transition has been saved; everything here is
// best-effort and must never feed an error back into the lifecycle.

const maxAlertHistory = 500

// TraceAlert is the event payload pushed to dashboards when a trace
// reaches a terminal state.
type TraceAlert struct {
	Type           string    `json:"type"` // "trace_completed"/"trace_failed"
	TraceID        string    `json:"traceId"`
	WalletAddress  string    `json:"walletAddress"`
	Cryptocurrency string    `json:"cryptocurrency"`
	IsPremium      bool      `json:"isPremium"`
	RiskAssessment string    `json:"riskAssessment,omitempty"`
	ReportID       string    `json:"reportId,omitempty"`
	FailureReason  string    `json:"failureReason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// HubNotifier satisfies the scheduler's Notifier contract by
// broadcasting terminal transitions over the websocket hub. It keeps a
// bounded history of recent alerts for dashboards that connect late.
type HubNotifier struct {
	hub    *Hub
	mu     sync.Mutex
	recent []TraceAlert
}

// NewHubNotifier wires the notifier to a running hub.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub, recent: make([]TraceAlert, 0)}
}

// TraceCompleted broadcasts a completion alert.
func (n *HubNotifier) TraceCompleted(trace models.Trace) {
	alert := TraceAlert{
		Type:           "trace_completed",
		TraceID:        trace.ID,
		WalletAddress:  trace.WalletAddress,
		Cryptocurrency: trace.Cryptocurrency,
		IsPremium:      trace.IsPremium,
		Timestamp:      time.Now(),
	}
	if trace.Result != nil {
		alert.RiskAssessment = trace.Result.RiskAssessment
		alert.ReportID = trace.Result.ReportID
	}
	n.emit(alert)
	log.Info().
		Str("trace_id", trace.ID).
		Str("assessment", alert.RiskAssessment).
		Msg("completion alert broadcast")
}

// TraceFailed broadcasts a failure alert.
func (n *HubNotifier) TraceFailed(trace models.Trace) {
	n.emit(TraceAlert{
		Type:           "trace_failed",
		TraceID:        trace.ID,
		WalletAddress:  trace.WalletAddress,
		Cryptocurrency: trace.Cryptocurrency,
		IsPremium:      trace.IsPremium,
		FailureReason:  trace.FailureReason,
		Timestamp:      time.Now(),
	})
}

// RecentAlerts returns a copy of the bounded alert history, newest last.
func (n *HubNotifier) RecentAlerts() []TraceAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]TraceAlert, len(n.recent))
	copy(out, n.recent)
	return out
}

func (n *HubNotifier) emit(alert TraceAlert) {
	n.mu.Lock()
	n.recent = append(n.recent, alert)
	if len(n.recent) > maxAlertHistory {
		n.recent = n.recent[len(n.recent)-maxAlertHistory:]
	}
	n.mu.Unlock()

	payload, _ := json.Marshal(alert)
	n.hub.Broadcast(payload)
}
