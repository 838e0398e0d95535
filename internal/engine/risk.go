package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/rawblock/trace-engine/pkg/models"
)

// Risk Scorer
//
// Composites reputation and statistical signals into a single bounded
// risk score, then derives the explanatory layer: discrete risk
// factors and investigator recommendations.
//
// Additive model, each signal contributes independently and the sum
// clamps at 1.0:
//   +0.80  address in the known-illicit set (reputation override)
//   +0.20  burst volume: >100 transactions in the trailing 7 days
//   +0.15  large value: total sampled volume above 10,000 units
//   +0.25  micro-transactions: >70% of transactions below 0.1 units
//          (classic tumbling signature)
//
// Tier thresholds: >0.7 HIGH RISK, >0.4 MEDIUM RISK, else LOW RISK.
//
// The weights and thresholds are design constants, not data-derived.
// They stay configurable through RiskConfig but the defaults are the
// calibrated production values and changing them changes the verdicts
// analysts have been trained against.

// RiskConfig holds the scoring weights and thresholds.
type RiskConfig struct {
	KnownRiskyWeight float64
	BurstWeight      float64
	BurstWindow      time.Duration
	BurstThreshold   int
	VolumeWeight     float64
	VolumeThreshold  float64
	MicroWeight      float64
	MicroAmount      float64
	MicroShare       float64
	HighTier         float64
	MediumTier       float64
}

// DefaultRiskConfig returns the calibrated production weights.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		KnownRiskyWeight: 0.8,
		BurstWeight:      0.2,
		BurstWindow:      7 * 24 * time.Hour,
		BurstThreshold:   100,
		VolumeWeight:     0.15,
		VolumeThreshold:  10_000,
		MicroWeight:      0.25,
		MicroAmount:      0.1,
		MicroShare:       0.7,
		HighTier:         0.7,
		MediumTier:       0.4,
	}
}

// RiskScorer evaluates addresses against the profile store's
// reputation sets. The clock is injectable so burst-window tests can
// pin "now".
type RiskScorer struct {
	profiles *ProfileStore
	cfg      RiskConfig
	now      func() time.Time
}

// NewRiskScorer builds a scorer with the given config; a nil clock
// defaults to time.Now.
func NewRiskScorer(profiles *ProfileStore, cfg RiskConfig, clock func() time.Time) *RiskScorer {
	if clock == nil {
		clock = time.Now
	}
	return &RiskScorer{profiles: profiles, cfg: cfg, now: clock}
}

// Score computes the bounded risk score for an address over its
// transaction sample. Always in [0, 1] regardless of input.
func (r *RiskScorer) Score(address string, txs []models.Transaction) float64 {
	score := 0.0

	if r.profiles.IsKnownRisky(address) {
		score += r.cfg.KnownRiskyWeight
	}

	cutoff := r.now().Add(-r.cfg.BurstWindow)
	recent := 0
	totalVolume := 0.0
	micro := 0
	for _, tx := range txs {
		if tx.Timestamp.After(cutoff) {
			recent++
		}
		totalVolume += tx.Amount
		if tx.Amount < r.cfg.MicroAmount {
			micro++
		}
	}

	if recent > r.cfg.BurstThreshold {
		score += r.cfg.BurstWeight
	}
	if totalVolume > r.cfg.VolumeThreshold {
		score += r.cfg.VolumeWeight
	}
	if len(txs) > 0 && float64(micro)/float64(len(txs)) > r.cfg.MicroShare {
		score += r.cfg.MicroWeight
	}

	return math.Min(score, 1.0)
}

// Tier discretizes a score into the analyst-facing risk bucket.
func (r *RiskScorer) Tier(score float64) string {
	switch {
	case score > r.cfg.HighTier:
		return models.RiskTierHigh
	case score > r.cfg.MediumTier:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}

// DeriveRiskFactors builds the explanatory factor list. Independent of
// the numeric score: a factor fires on its own evidence even when the
// clamped score already saturated.
func (r *RiskScorer) DeriveRiskFactors(profile models.AddressProfile, flow models.FlowAnalysis, txs []models.Transaction) []models.RiskFactor {
	factors := []models.RiskFactor{}

	if profile.RiskScore > r.cfg.HighTier {
		factors = append(factors, models.RiskFactor{
			Factor:      "Known High-Risk Address",
			Severity:    "high",
			Description: "Address appears in threat-intelligence data with an elevated base risk score.",
		})
	}
	if flow.TimePattern == models.TimePatternNightHeavy {
		factors = append(factors, models.RiskFactor{
			Factor:      "Unusual Transaction Timing",
			Severity:    "medium",
			Description: "Activity concentrates in night hours, consistent with automation or timezone masking.",
		})
	}
	if len(txs) > 1000 {
		factors = append(factors, models.RiskFactor{
			Factor:      "High Transaction Volume",
			Severity:    "medium",
			Description: fmt.Sprintf("Sample contains %d transactions, far above typical retail usage.", len(txs)),
		})
	}
	if mean := meanAmount(txs); len(txs) > 0 && mean < r.cfg.MicroAmount {
		factors = append(factors, models.RiskFactor{
			Factor:      "Micro-transactions Pattern",
			Severity:    "medium",
			Description: fmt.Sprintf("Mean transaction amount %.4f sits below the micro-transaction threshold, a tumbling signature.", mean),
		})
	}
	return factors
}

// BuildRecommendations turns the tier and fired factors into an
// ordered action list. The two generic follow-ups always close it.
func (r *RiskScorer) BuildRecommendations(score float64, factors []models.RiskFactor) []string {
	recs := []string{}

	if score > r.cfg.HighTier {
		recs = append(recs,
			"Immediate investigation recommended",
			"Consider freezing associated accounts pending review",
		)
	}
	for _, f := range factors {
		switch f.Factor {
		case "High Transaction Volume":
			recs = append(recs, "Audit high-frequency activity windows for layering behaviour")
		case "Unusual Transaction Timing":
			recs = append(recs, "Compare night-time activity against known automation schedules")
		case "Micro-transactions Pattern":
			recs = append(recs, "Screen counterparties for tumbler and dusting services")
		}
	}

	recs = append(recs,
		"Monitor address for future activity",
		"Correlate findings with other intelligence sources",
	)
	return recs
}

func meanAmount(txs []models.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	total := 0.0
	for _, tx := range txs {
		total += tx.Amount
	}
	return total / float64(len(txs))
}
