// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solmirror/mirrorbot/internal/metrics"
	"github.com/solmirror/mirrorbot/internal/notify"
	"github.com/solmirror/mirrorbot/internal/signal"
	"github.com/solmirror/mirrorbot/internal/trade"
)

const (
	// fallbackDelay re-arms the loop after a cycle-level failure instead of
	// stopping permanently.
	fallbackDelay    = 30 * time.Second
	priceFetchLimit  = 4
	perMintTimeout   = 8 * time.Second
	sellAttemptLimit = 3 * time.Minute
)

// PriceSource resolves current USD prices for open positions.
type PriceSource interface {
	GetTokenPriceUSD(ctx context.Context, mint string) (float64, error)
}

// Seller liquidates a held position, best-effort.
type Seller interface {
	Sell(ctx context.Context, mint string) (*trade.SellResult, error)
}

// SignalStore is the slice of the position store the monitor needs.
type SignalStore interface {
	ListOpen() []*signal.Signal
	CloseWithExit(wallet, mint string, exitPriceUsd float64, reason string) (int, error)
	RecordTraderFill(id string, confirmation string, side string, spentSol float64) error
}

// Monitor re-prices open signals on a recurring loop and exits positions
// that breach their stop-loss or the global take-profit. The loop re-arms
// after each cycle completes, so a slow cycle never overlaps the next.
type Monitor struct {
	store    SignalStore
	prices   PriceSource
	seller   Seller
	settings *signal.SettingsStore
	notifier notify.Notifier
	logger   *zap.Logger
}

func New(store SignalStore, prices PriceSource, seller Seller, settings *signal.SettingsStore, notifier notify.Notifier, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:    store,
		prices:   prices,
		seller:   seller,
		settings: settings,
		notifier: notifier,
		logger:   logger.Named("monitor"),
	}
}

// Run blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("price monitor started")
	for {
		delay := m.safeCycle(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("price monitor stopped")
			return
		case <-timer.C:
		}
	}
}

// safeCycle runs one cycle, converting panics and errors into the fallback
// delay so the loop survives anything a cycle throws.
func (m *Monitor) safeCycle(ctx context.Context) (delay time.Duration) {
	delay = fallbackDelay
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor cycle panicked", zap.Any("panic", r))
		}
	}()

	m.cycle(ctx)

	settings := m.settings.Get()
	return time.Duration(settings.CheckInterval()) * time.Millisecond
}

func (m *Monitor) cycle(ctx context.Context) {
	settings := m.settings.Get()

	var candidates []*signal.Signal
	for _, sig := range m.store.ListOpen() {
		if sig.EntryPriceUSD != nil && *sig.EntryPriceUSD > 0 {
			candidates = append(candidates, sig)
		}
	}
	if len(candidates) == 0 {
		return
	}

	prices := m.fetchPrices(ctx, candidates)

	for _, sig := range candidates {
		current, ok := prices[sig.Mint]
		if !ok {
			continue // lookup failed this cycle, skip silently
		}

		pnl := (current - *sig.EntryPriceUSD) / *sig.EntryPriceUSD

		// Stop-loss takes priority: a signal breaching both thresholds in
		// one cycle closes as a stop-loss, never as a take-profit.
		if pnl <= sig.StopLossPct {
			m.exit(ctx, sig, current, pnl, signal.CloseReasonStopLoss)
			continue
		}
		if settings.TakeProfitEnabled() && pnl >= settings.TakeProfitPct {
			m.exit(ctx, sig, current, pnl, signal.CloseReasonTakeProfit)
		}
	}
}

// fetchPrices resolves one price per unique mint in parallel. Individual
// failures drop that mint from the cycle rather than failing it.
func (m *Monitor) fetchPrices(ctx context.Context, candidates []*signal.Signal) map[string]float64 {
	mints := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, sig := range candidates {
		if !seen[sig.Mint] {
			seen[sig.Mint] = true
			mints = append(mints, sig.Mint)
		}
	}

	var mu sync.Mutex
	prices := make(map[string]float64, len(mints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceFetchLimit)
	for _, mint := range mints {
		mint := mint
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, perMintTimeout)
			defer cancel()

			price, err := m.prices.GetTokenPriceUSD(pctx, mint)
			if err != nil {
				m.logger.Debug("price lookup failed, skipping mint this cycle",
					zap.String("mint", mint), zap.Error(err))
				return nil
			}
			mu.Lock()
			prices[mint] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices
}

// exit auto-sells the held balance best-effort and closes the signal. A
// failed sell never blocks the close: leaving a breached signal open is
// worse than losing the sell attempt.
func (m *Monitor) exit(ctx context.Context, sig *signal.Signal, currentPrice, pnl float64, reason string) {
	log := m.logger.With(
		zap.String("mint", sig.Mint),
		zap.String("wallet", sig.Wallet),
		zap.String("reason", reason),
		zap.Float64("pnl_pct", pnl),
		zap.Float64("price_usd", currentPrice))
	log.Info("exit threshold breached")

	sellCtx, cancel := context.WithTimeout(ctx, sellAttemptLimit)
	res, err := m.seller.Sell(sellCtx, sig.Mint)
	cancel()

	switch {
	case err == nil:
		metrics.Trades.WithLabelValues("sell", "ok").Inc()
		for _, sellSig := range res.Signatures {
			if ferr := m.store.RecordTraderFill(sig.ID, sellSig.String(), "sell", 0); ferr != nil {
				log.Warn("failed to record sell fill", zap.Error(ferr))
			}
		}
		if res.StableExit {
			m.notifier.Notify(fmt.Sprintf("sell_partial mint=%s note=exited_to_stable", sig.Mint))
		}
	case errors.Is(err, trade.ErrNothingHeld):
		log.Info("no balance held, closing without sell")
	default:
		metrics.Trades.WithLabelValues("sell", "failed").Inc()
		log.Error("auto-sell failed, closing anyway", zap.Error(err))
	}

	closed, err := m.store.CloseWithExit(sig.Wallet, sig.Mint, currentPrice, reason)
	if err != nil {
		log.Error("failed to close signal", zap.Error(err))
		return
	}
	if closed > 0 {
		metrics.SignalExits.WithLabelValues(reason).Add(float64(closed))
		metrics.OpenSignals.Sub(float64(closed))
		m.notifier.Notify(fmt.Sprintf("closed mint=%s reason=%s pnl=%.2f%%", sig.Mint, reason, pnl*100))
	}
}
