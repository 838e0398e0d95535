package api

import (
	"fmt"
	"testing"

	"github.com/rawblock/trace-engine/pkg/models"
)

func newRunningNotifier() *HubNotifier {
	hub := NewHub()
	go hub.Run()
	return NewHubNotifier(hub)
}

func TestHubNotifier_AlertPayloads(t *testing.T) {
	n := newRunningNotifier()

	completed := models.Trace{
		ID:             "t1",
		WalletAddress:  "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		Cryptocurrency: "BTC",
		IsPremium:      true,
		Status:         models.StatusCompleted,
		Result: &models.TraceReport{
			ReportID:       "TRC-20250101T000000-abcd1234",
			RiskAssessment: models.RiskTierHigh,
		},
	}
	failed := models.Trace{
		ID:            "t2",
		WalletAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		Status:        models.StatusFailed,
		FailureReason: "empty transaction set for trace",
	}

	n.TraceCompleted(completed)
	n.TraceFailed(failed)

	alerts := n.RecentAlerts()
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}

	if alerts[0].Type != "trace_completed" || alerts[0].TraceID != "t1" {
		t.Errorf("first alert = %+v", alerts[0])
	}
	if alerts[0].RiskAssessment != models.RiskTierHigh || alerts[0].ReportID != completed.Result.ReportID {
		t.Errorf("completion alert missing report fields: %+v", alerts[0])
	}

	if alerts[1].Type != "trace_failed" || alerts[1].FailureReason != failed.FailureReason {
		t.Errorf("failure alert = %+v", alerts[1])
	}
	if alerts[1].RiskAssessment != "" || alerts[1].ReportID != "" {
		t.Errorf("failure alert carries report fields: %+v", alerts[1])
	}
}

func TestHubNotifier_BoundedHistory(t *testing.T) {
	n := newRunningNotifier()

	for i := 0; i < maxAlertHistory+25; i++ {
		n.TraceFailed(models.Trace{ID: fmt.Sprintf("t%d", i), Status: models.StatusFailed})
	}

	alerts := n.RecentAlerts()
	if len(alerts) != maxAlertHistory {
		t.Fatalf("history = %d alerts, want capped at %d", len(alerts), maxAlertHistory)
	}
	// Oldest entries are evicted first.
	if alerts[0].TraceID != "t25" {
		t.Errorf("oldest retained alert = %s, want t25", alerts[0].TraceID)
	}
	if alerts[len(alerts)-1].TraceID != fmt.Sprintf("t%d", maxAlertHistory+24) {
		t.Errorf("newest alert = %s", alerts[len(alerts)-1].TraceID)
	}
}

func TestHubNotifier_RecentAlertsIsACopy(t *testing.T) {
	n := newRunningNotifier()
	n.TraceFailed(models.Trace{ID: "t1", Status: models.StatusFailed})

	alerts := n.RecentAlerts()
	alerts[0].TraceID = "mutated"

	if n.RecentAlerts()[0].TraceID != "t1" {
		t.Errorf("caller mutation leaked into the notifier history")
	}
}
