package engine

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/trace-engine/pkg/models"
)

// Transaction Synthesizer
//
// Stand-in for a real blockchain-indexer adapter. Given an address
// profile it fabricates an ordered transaction history consistent with
// the profile's aggregate statistics. Everything downstream (flow
// analyzer, risk scorer, report compiler) depends only on the
// Transaction contract, never on where the transactions came from, so
// swapping this for a live indexer touches nothing else.
//
// Generation rules:
//   - direction per transaction is an independent coin flip
//   - amounts draw from a currency- and role-aware range: exchange
//     wallets move larger sums, 0x addresses use ETH-scale ranges
//   - counterparties reuse known addresses with ~30% probability to
//     bias toward realistic clustering, else a fresh plausible address
//     in the correct format
//   - fee is a flat 0.1% of amount
//   - timestamps are uniform over the trailing three years; block
//     heights are derived from the timestamp so older transactions sit
//     at plausibly lower heights
//   - output sorted by timestamp descending

// TransactionSource produces the transaction history for a profile.
// Tests inject a deterministic implementation; production uses
// SyntheticSource until a real indexer adapter exists.
type TransactionSource interface {
	Transactions(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error)
}

// Amount ranges in native units. Exchange wallets draw from the hot
// range, everyone else from the base range.
const (
	btcAmountBase     = 0.0005
	btcAmountSpread   = 1.8
	btcHotBase        = 5.0
	btcHotSpread      = 45.0
	ethAmountBase     = 0.01
	ethAmountSpread   = 24.0
	ethHotBase        = 50.0
	ethHotSpread      = 450.0
	feeRate           = 0.001
	counterpartyReuse = 0.30
	historyWindow     = 3 * 365 * 24 * time.Hour
)

// Approximate chain tips used to place synthetic transactions at
// believable heights. Precision is irrelevant, monotonicity is not.
const (
	btcTipHeight     = 860_000
	btcBlockInterval = 10 * time.Minute
	ethTipHeight     = 20_500_000
	ethBlockInterval = 12 * time.Second
)

// SyntheticSource fabricates transaction histories using the profile
// store to pick realistic counterparties.
type SyntheticSource struct {
	profiles *ProfileStore
}

// NewSyntheticSource returns a source backed by the given store.
func NewSyntheticSource(profiles *ProfileStore) *SyntheticSource {
	return &SyntheticSource{profiles: profiles}
}

// Transactions generates count synthetic transactions for the profile,
// sorted by timestamp descending.
func (s *SyntheticSource) Transactions(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now()
	isEth := strings.HasPrefix(profile.Address, "0x")
	isHot := profile.HasTag(TagExchange)

	txs := make([]models.Transaction, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		amount := drawAmount(rng, isEth, isHot)
		ts := now.Add(-time.Duration(rng.Int63n(int64(historyWindow))))
		height := heightForTimestamp(ts, now, isEth)

		counterparty := s.pickCounterparty(rng, profile.Address, isEth)

		tx := models.Transaction{
			Hash:          syntheticHash(rng, isEth),
			Amount:        amount,
			Fee:           amount * feeRate,
			Timestamp:     ts,
			BlockHeight:   height,
			Confirmations: confirmationsFor(height, isEth),
		}
		if rng.Float64() < 0.5 {
			tx.From = counterparty
			tx.To = profile.Address
		} else {
			tx.From = profile.Address
			tx.To = counterparty
		}
		txs = append(txs, tx)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
	return txs, nil
}

func drawAmount(rng *rand.Rand, isEth, isHot bool) float64 {
	switch {
	case isEth && isHot:
		return ethHotBase + rng.Float64()*ethHotSpread
	case isEth:
		return ethAmountBase + rng.Float64()*ethAmountSpread
	case isHot:
		return btcHotBase + rng.Float64()*btcHotSpread
	default:
		return btcAmountBase + rng.Float64()*btcAmountSpread
	}
}

// pickCounterparty reuses a known address of the matching chain format
// with counterpartyReuse probability, else fabricates a fresh one.
// Never returns the target itself.
func (s *SyntheticSource) pickCounterparty(rng *rand.Rand, target string, isEth bool) string {
	if rng.Float64() < counterpartyReuse {
		known := s.profiles.KnownAddresses()
		rng.Shuffle(len(known), func(i, j int) { known[i], known[j] = known[j], known[i] })
		for _, a := range known {
			if a != target && strings.HasPrefix(a, "0x") == isEth {
				return a
			}
		}
	}
	for {
		fresh := randomAddress(rng, isEth)
		if fresh != target {
			return fresh
		}
	}
}

// base58-ish alphabet for synthetic Bitcoin address bodies. Excludes
// 0, O, I and l like the real encoding.
const addressAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
const hexAlphabet = "0123456789abcdef"

func randomAddress(rng *rand.Rand, isEth bool) string {
	if isEth {
		var b strings.Builder
		b.WriteString("0x")
		for i := 0; i < 40; i++ {
			b.WriteByte(hexAlphabet[rng.Intn(len(hexAlphabet))])
		}
		return b.String()
	}

	prefixes := []string{"1", "3", "bc1q"}
	prefix := prefixes[rng.Intn(len(prefixes))]
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < 33; i++ {
		b.WriteByte(addressAlphabet[rng.Intn(len(addressAlphabet))])
	}
	return b.String()
}

// syntheticHash produces a unique 64-hex transaction hash by double
// hashing random bytes, the same digest real txids use.
func syntheticHash(rng *rand.Rand, isEth bool) string {
	buf := make([]byte, 32)
	rng.Read(buf)
	h := chainhash.DoubleHashH(buf)
	if isEth {
		return "0x" + h.String()
	}
	return h.String()
}

// heightForTimestamp converts a timestamp into a plausible block
// height: the tip minus the elapsed block count.
func heightForTimestamp(ts, now time.Time, isEth bool) int64 {
	elapsed := now.Sub(ts)
	if isEth {
		return ethTipHeight - int64(elapsed/ethBlockInterval)
	}
	return btcTipHeight - int64(elapsed/btcBlockInterval)
}

func confirmationsFor(height int64, isEth bool) int64 {
	if isEth {
		return ethTipHeight - height
	}
	return btcTipHeight - height
}
