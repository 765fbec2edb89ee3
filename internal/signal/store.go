// internal/signal/store.go
package signal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MergeWindow is how long after its last update an open Signal absorbs new
// buy events for the same (wallet, mint) without comment. Buys landing after
// the window still merge into an existing open Signal, because at most one
// open Signal may exist per (wallet, mint) at any time.
const MergeWindow = 60 * time.Second

// Store is the durable record of open and closed Signals. Every mutation is
// a load-mutate-save of the whole collection under one mutex; Signals are
// never hard-deleted.
type Store struct {
	mu      sync.Mutex
	path    string
	signals []*Signal
	logger  *zap.Logger
}

func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.Named("signal_store"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.signals = nil
			return nil
		}
		return fmt.Errorf("read signals file: %w", err)
	}
	if err := json.Unmarshal(data, &s.signals); err != nil {
		return fmt.Errorf("unmarshal signals: %w", err)
	}
	return nil
}

// save writes via temp file + rename so a crash mid-write cannot truncate
// position history.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.signals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write signals temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace signals file: %w", err)
	}
	return nil
}

// OpenOrMerge records a qualified buy event. An existing open Signal for
// (wallet, mint) absorbs the event: amount accumulates, the entry price is
// recomputed as a volume-weighted average and occurrences increments.
// Otherwise a new open Signal is created. The returned bool reports a merge.
func (s *Store) OpenOrMerge(wallet, mint string, amount float64, priceUsd *float64, stopLossPct float64, meta Meta) (*Signal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	for _, sig := range s.signals {
		if sig.Status != StatusOpen || sig.Wallet != wallet || sig.Mint != mint {
			continue
		}
		if now.Sub(sig.UpdatedAt) > MergeWindow {
			s.logger.Warn("merge window elapsed, merging anyway to keep one open signal per wallet/mint",
				zap.String("wallet", wallet),
				zap.String("mint", mint),
				zap.Duration("since_update", now.Sub(sig.UpdatedAt)))
		}

		sig.EntryPriceUSD = mergedEntryPrice(sig.EntryPriceUSD, sig.Amount, priceUsd, amount)
		sig.Amount += amount
		sig.Occurrences++
		sig.UpdatedAt = now
		if sig.Symbol == "" {
			sig.Symbol = meta.Symbol
		}

		if err := s.save(); err != nil {
			return nil, false, err
		}
		cp := *sig
		return &cp, true, nil
	}

	sig := &Signal{
		ID:          uuid.New().String(),
		OpenedAt:    now,
		UpdatedAt:   now,
		Wallet:      wallet,
		Mint:        mint,
		Amount:      amount,
		Symbol:      meta.Symbol,
		Source:      meta.Source,
		Status:      StatusOpen,
		StopLossPct: stopLossPct,
		Occurrences: 1,
	}
	if priceUsd != nil {
		p := *priceUsd
		sig.EntryPriceUSD = &p
	}
	s.signals = append(s.signals, sig)

	if err := s.save(); err != nil {
		return nil, false, err
	}
	cp := *sig
	return &cp, false, nil
}

// mergedEntryPrice folds a new priced amount into the running VWAP. Unpriced
// sides fall out of the weighting instead of counting as zero.
func mergedEntryPrice(prevPrice *float64, prevAmount float64, newPrice *float64, newAmount float64) *float64 {
	switch {
	case prevPrice != nil && newPrice != nil:
		total := prevAmount + newAmount
		if total <= 0 {
			return prevPrice
		}
		v := (*prevPrice*prevAmount + *newPrice*newAmount) / total
		return &v
	case prevPrice != nil:
		v := *prevPrice
		return &v
	case newPrice != nil:
		v := *newPrice
		return &v
	default:
		return nil
	}
}

// RecordTraderFill appends one of the bot's own swap confirmations to the
// Signal's execution trail. Sell fills may land on an already-closed Signal;
// everything else about a closed Signal stays frozen.
func (s *Store) RecordTraderFill(id string, confirmation string, side string, spentSol float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if sig.ID != id {
			continue
		}
		switch side {
		case "buy":
			if sig.Status == StatusClosed {
				return fmt.Errorf("signal %s is closed, buy fills are frozen", id)
			}
			sig.Trader.BuySigs = append(sig.Trader.BuySigs, confirmation)
			sig.Trader.SpentSol += spentSol
		case "sell":
			sig.Trader.SellSigs = append(sig.Trader.SellSigs, confirmation)
		default:
			return fmt.Errorf("unknown fill side %q", side)
		}
		return s.save()
	}
	return fmt.Errorf("signal %s not found", id)
}

// CloseByActor closes every open Signal for (wallet, mint), normally at most
// one, and returns the count closed. Closing an already-closed pair is a
// no-op returning zero.
func (s *Store) CloseByActor(wallet, mint, reason string) (int, error) {
	return s.closeMatching(wallet, mint, reason, nil)
}

// CloseWithExit closes like CloseByActor and additionally stamps the exit
// price and the PnL fraction derived from the entry price.
func (s *Store) CloseWithExit(wallet, mint string, exitPriceUsd float64, reason string) (int, error) {
	return s.closeMatching(wallet, mint, reason, &exitPriceUsd)
}

func (s *Store) closeMatching(wallet, mint, reason string, exitPriceUsd *float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	closed := 0
	for _, sig := range s.signals {
		if sig.Status != StatusOpen || sig.Wallet != wallet || sig.Mint != mint {
			continue
		}
		sig.Status = StatusClosed
		sig.ClosedAt = &now
		sig.UpdatedAt = now
		sig.CloseReason = reason
		if exitPriceUsd != nil {
			p := *exitPriceUsd
			sig.ExitPriceUSD = &p
			if sig.EntryPriceUSD != nil && *sig.EntryPriceUSD > 0 {
				pnl := (p - *sig.EntryPriceUSD) / *sig.EntryPriceUSD
				sig.ExitPnlPct = &pnl
			}
		}
		closed++
	}
	if closed == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		return closed, err
	}
	return closed, nil
}

// BulkUpdateOpenStopLoss applies a new stop-loss fraction to every open
// Signal and returns the count changed. Closed Signals are untouched.
func (s *Store) BulkUpdateOpenStopLoss(newPct float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, sig := range s.signals {
		if sig.Status != StatusOpen || sig.StopLossPct == newPct {
			continue
		}
		sig.StopLossPct = newPct
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		return changed, err
	}
	return changed, nil
}

// ListOpen returns copies of every open Signal.
func (s *Store) ListOpen() []*Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Signal
	for _, sig := range s.signals {
		if sig.Status == StatusOpen {
			cp := *sig
			out = append(out, &cp)
		}
	}
	return out
}

// All returns copies of every Signal, open and closed, in insertion order.
func (s *Store) All() []*Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		cp := *sig
		out = append(out, &cp)
	}
	return out
}

// FindOpen returns a copy of the open Signal for (wallet, mint), if any.
func (s *Store) FindOpen(wallet, mint string) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if sig.Status == StatusOpen && sig.Wallet == wallet && sig.Mint == mint {
			cp := *sig
			return &cp
		}
	}
	return nil
}

// HasOpenForMint reports whether any wallet currently has an open Signal in
// the mint. The ingress layer uses this to keep exposure to one position per
// mint across all tracked wallets.
func (s *Store) HasOpenForMint(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.signals {
		if sig.Status == StatusOpen && sig.Mint == mint {
			return true
		}
	}
	return false
}
