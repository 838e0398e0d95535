package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rawblock/trace-engine/pkg/models"
)

const genesisAddr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

// fakeSource returns a canned history, or an error, for pipeline tests.
type fakeSource struct {
	txs []models.Transaction
	err error
}

func (f *fakeSource) Transactions(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error) {
	return f.txs, f.err
}

func newTestEngine(source TransactionSource) *Engine {
	profiles := NewProfileStore()
	clock := fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(
		profiles,
		source,
		NewRiskScorer(profiles, DefaultRiskConfig(), clock),
		NewReportCompiler(clock),
	)
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		currency string
		wantErr  error
	}{
		{"Valid P2PKH", genesisAddr, "BTC", nil},
		{"Valid P2SH", "3FupZp77ySr7jwoLYEJ9mwzJpvoNBXsBnE", "BTC", nil},
		{"Valid Bech32", "bc1qm34lsc65zpw79lxes69zkqmk6ee3ewf0j77s0h", "BTC", nil},
		{"Lowercase Currency", genesisAddr, "btc", nil},
		{"Valid ETH", "0x28c6c06298d514db089934071355e5743bf21d60", "ETH", nil},
		{"ETH Address As BTC", "0x28c6c06298d514db089934071355e5743bf21d60", "BTC", ErrInvalidAddress},
		{"Garbage As BTC", "not-an-address", "BTC", ErrInvalidAddress},
		{"Bad Checksum", "1A1zP1eP5QGefi2DMPTfTL5SLmv7Divfaa", "BTC", ErrInvalidAddress},
		{"Short ETH", "0x28c6c0629", "ETH", ErrInvalidAddress},
		{"Non-Hex ETH", "0xZZc6c06298d514db089934071355e5743bf21d60", "ETH", ErrInvalidAddress},
		{"Unsupported Currency", genesisAddr, "DOGE", ErrUnsupportedCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address, tt.currency)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAddress(%s, %s) = %v, want %v", tt.address, tt.currency, err, tt.wantErr)
			}
		})
	}
}

func TestTrace_FullPipeline(t *testing.T) {
	txs := []models.Transaction{
		txAt("1SenderA", genesisAddr, 2.0, 10),
		txAt(genesisAddr, "1RecipientA", 1.0, 14),
		txAt("1SenderB", genesisAddr, 0.5, 16),
	}
	eng := newTestEngine(&fakeSource{txs: txs})

	report, err := eng.Trace(context.Background(), genesisAddr, "btc")
	if err != nil {
		t.Fatalf("Trace() error: %v", err)
	}

	if report.TargetAddress != genesisAddr {
		t.Errorf("TargetAddress = %q", report.TargetAddress)
	}
	if report.Cryptocurrency != "BTC" {
		t.Errorf("Cryptocurrency = %q, want normalized BTC", report.Cryptocurrency)
	}
	if report.TotalValue != 3.5 {
		t.Errorf("TotalValue = %v, want 3.5", report.TotalValue)
	}
	if report.FlowAnalysis.IncomingValue != 2.5 || report.FlowAnalysis.OutgoingValue != 1.0 {
		t.Errorf("flow = %+v", report.FlowAnalysis)
	}
	if report.RiskAssessment == "" || report.Summary == "" || report.ReportID == "" {
		t.Errorf("report missing derived fields: %+v", report)
	}
	if len(report.Recommendations) < 2 {
		t.Errorf("got %d recommendations, want the generic pair at minimum", len(report.Recommendations))
	}
	// Three distinct counterparties, all profiled.
	if len(report.ConnectedAddresses) != 3 {
		t.Errorf("got %d connected addresses, want 3", len(report.ConnectedAddresses))
	}
	for _, p := range report.ConnectedAddresses {
		if p.Address == genesisAddr {
			t.Errorf("target must not appear among connected addresses")
		}
	}
}

func TestTrace_InvalidInputRejectedBeforeSource(t *testing.T) {
	src := &fakeSource{err: errors.New("should never be called")}
	eng := newTestEngine(src)

	if _, err := eng.Trace(context.Background(), "bad", "BTC"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Trace() = %v, want ErrInvalidAddress", err)
	}
	if _, err := eng.Trace(context.Background(), genesisAddr, "XRP"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Errorf("Trace() = %v, want ErrUnsupportedCurrency", err)
	}
}

func TestTrace_EmptyHistory(t *testing.T) {
	eng := newTestEngine(&fakeSource{})
	if _, err := eng.Trace(context.Background(), genesisAddr, "BTC"); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("Trace() = %v, want ErrEmptyHistory", err)
	}
}

func TestTrace_SourceErrorWrapped(t *testing.T) {
	cause := errors.New("indexer unavailable")
	eng := newTestEngine(&fakeSource{err: cause})

	_, err := eng.Trace(context.Background(), genesisAddr, "BTC")
	if !errors.Is(err, cause) {
		t.Errorf("Trace() = %v, want wrapped %v", err, cause)
	}
}

func TestTrace_SampleSizeClamped(t *testing.T) {
	var captured int
	src := sourceFunc(func(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error) {
		captured = count
		return []models.Transaction{txAt("1SenderA", profile.Address, 1.0, 10)}, nil
	})
	eng := newTestEngine(src)

	// Genesis is seeded with thousands of transactions; the request must
	// be clamped to the ceiling.
	if _, err := eng.Trace(context.Background(), genesisAddr, "BTC"); err != nil {
		t.Fatalf("Trace() error: %v", err)
	}
	if captured != maxSampleSize {
		t.Errorf("requested sample = %d, want clamped to %d", captured, maxSampleSize)
	}
}

type sourceFunc func(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error)

func (f sourceFunc) Transactions(ctx context.Context, profile models.AddressProfile, count int) ([]models.Transaction, error) {
	return f(ctx, profile, count)
}
