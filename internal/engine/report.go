package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/trace-engine/pkg/models"
)

// Report Compiler
//
// Pure aggregation of the engine's intermediate results into one
// immutable TraceReport. The only generated state is the report ID
// (time-based prefix + random suffix) and the generation timestamp;
// identical inputs under a fixed clock yield identical reports apart
// from those two fields.

const maxConnectedAddresses = 10

// ReportCompiler assembles trace reports. The clock is injectable for
// deterministic tests.
type ReportCompiler struct {
	now func() time.Time
}

// NewReportCompiler builds a compiler; a nil clock defaults to time.Now.
func NewReportCompiler(clock func() time.Time) *ReportCompiler {
	if clock == nil {
		clock = time.Now
	}
	return &ReportCompiler{now: clock}
}

// Compile builds the final report. Transactions are re-sorted by
// timestamp descending and connected addresses are capped so the
// delivered report always honours its contract regardless of caller
// ordering.
func (c *ReportCompiler) Compile(
	address, currency string,
	profile models.AddressProfile,
	txs []models.Transaction,
	connected []models.AddressProfile,
	flow models.FlowAnalysis,
	riskScore float64,
	riskAssessment string,
	riskFactors []models.RiskFactor,
	recommendations []string,
) models.TraceReport {
	now := c.now()

	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if len(connected) > maxConnectedAddresses {
		connected = connected[:maxConnectedAddresses]
	}

	totalValue := 0.0
	for _, tx := range sorted {
		totalValue += tx.Amount
	}

	return models.TraceReport{
		ReportID:           newReportID(now),
		TargetAddress:      address,
		Cryptocurrency:     currency,
		TotalValue:         totalValue,
		RiskScore:          riskScore,
		RiskAssessment:     riskAssessment,
		Summary:            buildSummary(address, profile, len(sorted), totalValue, riskAssessment),
		Transactions:       sorted,
		ConnectedAddresses: connected,
		FlowAnalysis:       flow,
		RiskFactors:        riskFactors,
		Recommendations:    recommendations,
		GeneratedAt:        now,
	}
}

// newReportID is a sortable time prefix plus a random suffix, unique
// even for reports generated in the same second.
func newReportID(now time.Time) string {
	return fmt.Sprintf("TRC-%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// buildSummary renders the one-paragraph analyst summary: address,
// total value with the correct unit, risk tier, reputation clause and
// last observed activity.
func buildSummary(address string, profile models.AddressProfile, txCount int, totalValue float64, assessment string) string {
	unit := "BTC"
	if strings.HasPrefix(address, "0x") {
		unit = "ETH"
	}

	return fmt.Sprintf(
		"Forensic trace of %s covering %d transactions with a combined value of %.4f %s. Assessment: %s. %s. Last observed activity on %s.",
		address, txCount, totalValue, unit, assessment,
		reputationClause(profile),
		profile.LastSeen.Format("2006-01-02"),
	)
}

func reputationClause(profile models.AddressProfile) string {
	switch {
	case profile.HasTag(TagIllicit):
		return "The address is linked to known illicit activity and appears in threat-intelligence data"
	case profile.HasTag(TagExchange):
		if profile.Cluster != "" {
			return fmt.Sprintf("The address belongs to the %s exchange cluster", profile.Cluster)
		}
		return "The address belongs to a known exchange cluster"
	case profile.HasTag(TagMixer):
		return "The address is associated with a mixing service"
	case profile.HasTag(TagHistorical):
		return "The address is a historical chain landmark with no adverse markers"
	default:
		return "The address carries no established reputation markers"
	}
}
