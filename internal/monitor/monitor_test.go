package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/notify"
	"github.com/solmirror/mirrorbot/internal/signal"
	"github.com/solmirror/mirrorbot/internal/trade"
)

type fakePrices struct {
	prices map[string]float64
	errs   map[string]error
}

func (f *fakePrices) GetTokenPriceUSD(_ context.Context, mint string) (float64, error) {
	if err, ok := f.errs[mint]; ok {
		return 0, err
	}
	p, ok := f.prices[mint]
	if !ok {
		return 0, errors.New("unknown mint")
	}
	return p, nil
}

type fakeSeller struct {
	sold []string
	err  error
	res  *trade.SellResult
}

func (f *fakeSeller) Sell(_ context.Context, mint string) (*trade.SellResult, error) {
	f.sold = append(f.sold, mint)
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &trade.SellResult{Signatures: []solana.Signature{{7}}, SoldAmount: 100}, nil
}

func newTestMonitor(t *testing.T, prices *fakePrices, seller *fakeSeller) (*Monitor, *signal.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := signal.NewStore(filepath.Join(dir, "signals.json"), zap.NewNop())
	require.NoError(t, err)
	settings, err := signal.NewSettingsStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	return New(store, prices, seller, settings, notify.Nop{}, zap.NewNop()), store
}

func openSignal(t *testing.T, store *signal.Store, wallet, mint string, entry *float64, stopLoss float64) *signal.Signal {
	t.Helper()
	sig, merged, err := store.OpenOrMerge(wallet, mint, 100, entry, stopLoss, signal.Meta{Source: "test"})
	require.NoError(t, err)
	require.False(t, merged)
	return sig
}

func ptr(v float64) *float64 { return &v }

func TestCycle_StopLossBreachSellsAndCloses(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 0.4}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Equal(t, []string{"mintX"}, seller.sold)
	assert.Empty(t, store.ListOpen())

	closed := store.All()[0]
	assert.Equal(t, signal.CloseReasonStopLoss, closed.CloseReason)
	require.NotNil(t, closed.ExitPriceUSD)
	assert.Equal(t, 0.4, *closed.ExitPriceUSD)
	require.NotNil(t, closed.ExitPnlPct)
	assert.InDelta(t, -0.6, *closed.ExitPnlPct, 1e-9)
	assert.Len(t, closed.Trader.SellSigs, 1)
}

func TestCycle_PriceAboveThresholdLeavesSignalOpen(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 0.8}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Empty(t, seller.sold)
	assert.Len(t, store.ListOpen(), 1)
}

func TestCycle_StopLossWinsWhenBothThresholdsBreached(t *testing.T) {
	// Degenerate config: stop-loss above take-profit. A price satisfying both
	// must close as a stop-loss.
	prices := &fakePrices{prices: map[string]float64{"mintX": 1.5}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), 0.6)

	tp := 0.2
	sl := -0.5
	_, err := storeSettings(mon).Update(signal.SettingsPatch{TakeProfitPct: &tp, StopLossPctDefault: &sl})
	require.NoError(t, err)

	mon.cycle(context.Background())

	require.Len(t, store.All(), 1)
	assert.Equal(t, signal.CloseReasonStopLoss, store.All()[0].CloseReason)
}

func storeSettings(m *Monitor) *signal.SettingsStore { return m.settings }

func TestCycle_TakeProfitClosesWhenEnabled(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 1.5}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	tp := 0.3
	_, err := storeSettings(mon).Update(signal.SettingsPatch{TakeProfitPct: &tp})
	require.NoError(t, err)

	mon.cycle(context.Background())

	assert.Equal(t, []string{"mintX"}, seller.sold)
	require.Len(t, store.All(), 1)
	assert.Equal(t, signal.CloseReasonTakeProfit, store.All()[0].CloseReason)
}

func TestCycle_TakeProfitDisabledByDefault(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 100.0}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Empty(t, seller.sold)
	assert.Len(t, store.ListOpen(), 1)
}

func TestCycle_UnpricedSignalSkipped(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{}}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", nil, -0.5)

	mon.cycle(context.Background())

	assert.Empty(t, seller.sold)
	assert.Len(t, store.ListOpen(), 1)
}

func TestCycle_FailedLookupSkipsMintThisCycle(t *testing.T) {
	prices := &fakePrices{
		prices: map[string]float64{"mintGood": 0.1},
		errs:   map[string]error{"mintBad": errors.New("rate limited")},
	}
	seller := &fakeSeller{}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintBad", ptr(1.0), -0.5)
	openSignal(t, store, "w1", "mintGood", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	// Only the resolvable mint acts; the failed lookup leaves its signal open.
	assert.Equal(t, []string{"mintGood"}, seller.sold)
	assert.Len(t, store.ListOpen(), 1)
	assert.Equal(t, "mintBad", store.ListOpen()[0].Mint)
}

func TestCycle_SellFailureStillCloses(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 0.3}}
	seller := &fakeSeller{err: trade.ErrNoViableRoute}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Empty(t, store.ListOpen())
	assert.Equal(t, signal.CloseReasonStopLoss, store.All()[0].CloseReason)
}

func TestCycle_NothingHeldStillCloses(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 0.3}}
	seller := &fakeSeller{err: trade.ErrNothingHeld}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Empty(t, store.ListOpen())
}

func TestCycle_StableExitRecordsAllSignatures(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"mintX": 0.3}}
	seller := &fakeSeller{res: &trade.SellResult{
		Signatures: []solana.Signature{{1}, {2}},
		SoldAmount: 100,
		StableExit: false,
	}}
	mon, store := newTestMonitor(t, prices, seller)
	openSignal(t, store, "w1", "mintX", ptr(1.0), -0.5)

	mon.cycle(context.Background())

	assert.Len(t, store.All()[0].Trader.SellSigs, 2)
}

func TestSafeCycle_PanicFallsBackToDelay(t *testing.T) {
	mon, _ := newTestMonitor(t, &fakePrices{}, &fakeSeller{})
	mon.store = panicStore{}

	delay := mon.safeCycle(context.Background())
	assert.Equal(t, fallbackDelay, delay)
}

type panicStore struct{}

func (panicStore) ListOpen() []*signal.Signal { panic("boom") }
func (panicStore) CloseWithExit(string, string, float64, string) (int, error) {
	return 0, nil
}
func (panicStore) RecordTraderFill(string, string, string, float64) error { return nil }
