package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rawblock/trace-engine/pkg/models"
)

// Trace Analysis Engine
//
// Orchestrates one trace end to end:
//   profile lookup → transaction synthesis → flow analysis →
//   risk scoring → report compilation
//
// The whole pipeline is in-memory and side-effect free: each trace
// reads only its own inputs, so concurrent traces for different
// addresses need no locking. The only mutable shared structure is the
// profile store's synthesis cache, which is race-safe on its own.

// Validation errors surfaced at admission. A trace is never created
// for invalid input.
var (
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrUnsupportedCurrency = errors.New("unsupported cryptocurrency")
	ErrEmptyHistory        = errors.New("empty transaction set for trace")
)

// Transaction sample bounds per trace. Reports stay reviewable while
// still exercising the volume-based risk signals.
const (
	minSampleSize = 8
	maxSampleSize = 60
)

var ethAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Engine runs the trace analysis pipeline.
type Engine struct {
	profiles *ProfileStore
	source   TransactionSource
	scorer   *RiskScorer
	compiler *ReportCompiler
}

// New wires the engine from its parts.
func New(profiles *ProfileStore, source TransactionSource, scorer *RiskScorer, compiler *ReportCompiler) *Engine {
	return &Engine{profiles: profiles, source: source, scorer: scorer, compiler: compiler}
}

// NewDefault builds a fully synthetic engine with production defaults.
func NewDefault() *Engine {
	profiles := NewProfileStore()
	return New(
		profiles,
		NewSyntheticSource(profiles),
		NewRiskScorer(profiles, DefaultRiskConfig(), nil),
		NewReportCompiler(nil),
	)
}

// Profiles exposes the underlying profile store for read-side callers
// (the address lookup endpoint).
func (e *Engine) Profiles() *ProfileStore {
	return e.profiles
}

// ValidateAddress checks an (address, currency) pair at admission.
// BTC addresses go through full base58/bech32 decoding against mainnet
// parameters; ETH addresses must be 0x plus 40 hex characters.
func ValidateAddress(address, currency string) error {
	switch strings.ToUpper(currency) {
	case "BTC":
		if strings.HasPrefix(address, "0x") {
			return fmt.Errorf("%w: 0x address submitted as BTC", ErrInvalidAddress)
		}
		if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, address)
		}
	case "ETH":
		if !ethAddressPattern.MatchString(address) {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, address)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return nil
}

// Trace produces the full forensic report for one address. Any error
// is per-trace: the caller marks the trace failed and moves on.
func (e *Engine) Trace(ctx context.Context, address, currency string) (*models.TraceReport, error) {
	if err := ValidateAddress(address, currency); err != nil {
		return nil, err
	}

	profile := e.profiles.Resolve(address)

	count := profile.TransactionCount
	if count < minSampleSize {
		count = minSampleSize
	}
	if count > maxSampleSize {
		count = maxSampleSize
	}

	txs, err := e.source.Transactions(ctx, profile, count)
	if err != nil {
		return nil, fmt.Errorf("transaction source: %w", err)
	}
	if len(txs) == 0 {
		return nil, ErrEmptyHistory
	}

	flow := AnalyzeFlow(txs, address)
	score := e.scorer.Score(address, txs)
	tier := e.scorer.Tier(score)
	factors := e.scorer.DeriveRiskFactors(profile, flow, txs)
	recs := e.scorer.BuildRecommendations(score, factors)
	connected := e.connectedProfiles(address, txs)

	report := e.compiler.Compile(address, strings.ToUpper(currency), profile, txs, connected, flow, score, tier, factors, recs)
	return &report, nil
}

// connectedProfiles resolves the counterparty set of the transaction
// sample, deduplicated and capped at the report limit.
func (e *Engine) connectedProfiles(target string, txs []models.Transaction) []models.AddressProfile {
	seen := make(map[string]bool)
	connected := make([]models.AddressProfile, 0, maxConnectedAddresses)
	for _, tx := range txs {
		counterparty := tx.From
		if counterparty == target {
			counterparty = tx.To
		}
		if counterparty == "" || seen[counterparty] {
			continue
		}
		seen[counterparty] = true
		connected = append(connected, e.profiles.Resolve(counterparty))
		if len(connected) == maxConnectedAddresses {
			break
		}
	}
	return connected
}
