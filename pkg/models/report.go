package models

import "time"

// Risk tiers derived from the continuous risk score.
// Thresholds: score > 0.7 → HIGH, score > 0.4 → MEDIUM, else LOW.
const (
	RiskTierLow    = "LOW RISK"
	RiskTierMedium = "MEDIUM RISK"
	RiskTierHigh   = "HIGH RISK"
)

// Temporal activity classifications from the modal transaction hour.
const (
	TimePatternNightHeavy    = "night-heavy"
	TimePatternBusinessHours = "business-hours"
	TimePatternMixed         = "mixed"
)

// AddressProfile holds pre-computed statistics for a wallet address.
// Seeded at startup for known addresses (exchanges, illicit clusters,
// historical landmarks), synthesized and cached for everything else.
// Read-only within a single trace.
type AddressProfile struct {
	Address          string    `json:"address"`
	Balance          float64   `json:"balance"`
	TotalReceived    float64   `json:"totalReceived"`
	TotalSent        float64   `json:"totalSent"`
	TransactionCount int       `json:"transactionCount"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	RiskScore        float64   `json:"riskScore"` // 0.0 - 1.0
	Tags             []string  `json:"tags"`      // "exchange"/"illicit"/"mixer"/"historical"...
	Cluster          string    `json:"cluster,omitempty"`
}

// HasTag reports whether the profile carries the given reputation tag.
func (p AddressProfile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Transaction is a single transfer touching the traced address.
// Amounts are in native currency units (BTC or ETH).
type Transaction struct {
	Hash          string    `json:"hash"` // 64 hex chars, 0x-prefixed for ETH
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	BlockHeight   int64     `json:"blockHeight"`
	Confirmations int64     `json:"confirmations"`
	Fee           float64   `json:"fee"`
}

// MajorRecipient is one of the top outgoing counterparties by value.
type MajorRecipient struct {
	Address    string  `json:"address"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"` // Share of total outgoing value, 0 when outgoing is 0
}

// FlowAnalysis is the directional accounting of value into and out of
// the target address, plus the derived temporal pattern.
type FlowAnalysis struct {
	IncomingValue   float64          `json:"incomingValue"`
	OutgoingValue   float64          `json:"outgoingValue"`
	NetFlow         float64          `json:"netFlow"` // incoming - outgoing
	MajorRecipients []MajorRecipient `json:"majorRecipients"`
	TimePattern     string           `json:"timePattern"` // night-heavy/business-hours/mixed
}

// RiskFactor is one human-readable contributor to the risk verdict.
// Factors may co-occur; there is no uniqueness constraint.
type RiskFactor struct {
	Factor      string `json:"factor"`
	Severity    string `json:"severity"` // low/medium/high
	Description string `json:"description"`
}

// TraceReport is the immutable forensic report for one completed
// trace. Created once by the report compiler, never mutated.
type TraceReport struct {
	ReportID           string           `json:"reportId"`
	TargetAddress      string           `json:"targetAddress"`
	Cryptocurrency     string           `json:"cryptocurrency"`
	TotalValue         float64          `json:"totalValue"` // Sum of all transaction amounts
	RiskScore          float64          `json:"riskScore"`  // 0.0 - 1.0
	RiskAssessment     string           `json:"riskAssessment"`
	Summary            string           `json:"summary"`
	Transactions       []Transaction    `json:"transactions"` // Sorted by timestamp descending
	ConnectedAddresses []AddressProfile `json:"connectedAddresses"` // Counterparty profiles, capped at 10
	FlowAnalysis       FlowAnalysis     `json:"flowAnalysis"`
	RiskFactors        []RiskFactor     `json:"riskFactors"`
	Recommendations    []string         `json:"recommendations"`
	GeneratedAt        time.Time        `json:"generatedAt"`
}
