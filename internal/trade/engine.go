// internal/trade/engine.go
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/jupiter"
)

// QuoteSource obtains priced routes. A nil quote with nil error means no
// route exists at the requested size and slippage.
type QuoteSource interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, opts jupiter.QuoteOpts) (*jupiter.Quote, error)
}

// SwapExecutor executes one validated quote on chain.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, quote *jupiter.Quote) (solana.Signature, error)
}

// BalanceSource reports the wallet's raw holdings of a mint.
type BalanceSource interface {
	TokenBalance(ctx context.Context, mint string) (uint64, error)
}

// Config bounds the retry/fallback policy.
type Config struct {
	BuyAmountLamports   uint64
	ProbeAmountLamports uint64
	BaseSlippageBps     int
	MaxSlippageBps      int
	SlippageStepBps     int
	BuyLockTTL          time.Duration

	// MaxElapsed caps the outer transient-retry loop around one buy.
	MaxElapsed time.Duration
}

// BuyResult describes a completed mirrored buy.
type BuyResult struct {
	Signature     solana.Signature
	SpentLamports uint64
	TokensOut     uint64
	SlippageBps   int
}

// SellResult describes a completed position exit. StableExit marks a two-hop
// sell whose second hop failed: the position is liquidated into the stable
// asset rather than SOL.
type SellResult struct {
	Signatures []solana.Signature
	SoldAmount uint64
	StableExit bool
}

// Engine owns the layered retry and fallback policy around quoting and swap
// execution. Buys are budget-fixed and never resize; sells degrade through
// partial size and a two-hop stable fallback to maximize the chance of
// getting off the book.
type Engine struct {
	quotes   QuoteSource
	swaps    SwapExecutor
	balances BalanceSource
	locks    *LockMap
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(quotes QuoteSource, swaps SwapExecutor, balances BalanceSource, locks *LockMap, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	return &Engine{
		quotes:   quotes,
		swaps:    swaps,
		balances: balances,
		locks:    locks,
		cfg:      cfg,
		logger:   logger.Named("engine"),
	}
}

// Buy spends the configured SOL budget on mint. The whole attempt, including
// every retry, runs under the per-mint buy guard; duplicate triggers during a
// slow retry ladder are rejected with ErrBuyInProgress.
func (e *Engine) Buy(ctx context.Context, mint string) (*BuyResult, error) {
	if !e.locks.TryLock(mint, e.cfg.BuyLockTTL) {
		return nil, ErrBuyInProgress
	}
	defer e.locks.Unlock(mint)

	log := e.logger.With(zap.String("mint", mint), zap.Uint64("budget_lamports", e.cfg.BuyAmountLamports))

	op := func() (*BuyResult, error) {
		res, err := e.buyOnce(ctx, mint, log)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrNoViableRoute) || IsTransient(err) {
			log.Warn("buy attempt failed, will retry", zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 5 * time.Second
	expo.MaxInterval = 15 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxElapsedTime(e.cfg.MaxElapsed),
	)
}

// buyOnce runs one pass of the buy path: quote at budget, probe when the
// budget-size quote comes back empty, then execute with slippage escalation.
func (e *Engine) buyOnce(ctx context.Context, mint string, log *zap.Logger) (*BuyResult, error) {
	quote, err := e.quotes.GetQuote(ctx, jupiter.WSOLMint, mint, e.cfg.BuyAmountLamports, e.cfg.BaseSlippageBps, jupiter.QuoteOpts{})
	if err != nil {
		return nil, err
	}

	if quote == nil {
		probeAmount := e.cfg.ProbeAmountLamports
		if e.cfg.BuyAmountLamports > probeAmount {
			probeAmount = e.cfg.BuyAmountLamports
		}
		probe, err := e.quotes.GetQuote(ctx, jupiter.WSOLMint, mint, probeAmount, e.cfg.BaseSlippageBps, jupiter.QuoteOpts{})
		if err != nil {
			return nil, err
		}
		if probe == nil {
			return nil, ErrNoViableRoute
		}
		// Liquidity at probe size does not guarantee it at the budget size,
		// and the budget must never be silently resized. Re-quote for real.
		log.Debug("probe quote found, re-quoting at budget size")
		quote, err = e.quotes.GetQuote(ctx, jupiter.WSOLMint, mint, e.cfg.BuyAmountLamports, e.cfg.BaseSlippageBps, jupiter.QuoteOpts{})
		if err != nil {
			return nil, err
		}
		if quote == nil {
			return nil, ErrNoViableRoute
		}
	}

	sig, executed, err := e.executeWithEscalation(ctx, quote, jupiter.WSOLMint, mint, e.cfg.BuyAmountLamports, log)
	if err != nil {
		return nil, err
	}

	return &BuyResult{
		Signature:     sig,
		SpentLamports: executed.InAmount,
		TokensOut:     executed.OutAmount,
		SlippageBps:   executed.SlippageBps,
	}, nil
}

// executeWithEscalation executes the quote, re-quoting at escalated slippage
// after each swap rejection. Escalation never exceeds MaxSlippageBps; hitting
// the ceiling propagates the last rejection.
func (e *Engine) executeWithEscalation(ctx context.Context, quote *jupiter.Quote, inputMint, outputMint string, amount uint64, log *zap.Logger) (solana.Signature, *jupiter.Quote, error) {
	slippage := quote.SlippageBps

	for {
		sig, err := e.swaps.ExecuteSwap(ctx, quote)
		if err == nil {
			return sig, quote, nil
		}

		var swapErr *jupiter.SwapFailedError
		if !errors.As(err, &swapErr) {
			return solana.Signature{}, nil, err
		}

		next := slippage + e.cfg.SlippageStepBps
		if next > e.cfg.MaxSlippageBps {
			return solana.Signature{}, nil, fmt.Errorf("slippage ceiling %d bps reached: %w", e.cfg.MaxSlippageBps, err)
		}
		log.Warn("swap rejected, escalating slippage",
			zap.Int("from_bps", slippage),
			zap.Int("to_bps", next),
			zap.Error(err))
		slippage = next

		quote, err = e.quotes.GetQuote(ctx, inputMint, outputMint, amount, slippage, jupiter.QuoteOpts{})
		if err != nil {
			return solana.Signature{}, nil, err
		}
		if quote == nil {
			return solana.Signature{}, nil, ErrNoViableRoute
		}
	}
}

// Sell liquidates the wallet's entire held balance of mint back into SOL,
// degrading through a fixed cascade: full size, 95% size, then a two-hop exit
// through USDC whose second hop is best-effort.
func (e *Engine) Sell(ctx context.Context, mint string) (*SellResult, error) {
	held, err := e.balances.TokenBalance(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("look up held balance: %w", err)
	}
	if held == 0 {
		return nil, ErrNothingHeld
	}

	log := e.logger.With(zap.String("mint", mint), zap.Uint64("held", held))

	// Tier 1 and 2: direct sells, full then 95% (dust and rounding sometimes
	// block exact-amount routing).
	for _, amount := range []uint64{held, held * 95 / 100} {
		if amount == 0 {
			continue
		}
		sig, _, err := e.sellLadder(ctx, mint, jupiter.WSOLMint, amount, log)
		if err == nil {
			return &SellResult{Signatures: []solana.Signature{sig}, SoldAmount: amount}, nil
		}
		if !errors.Is(err, ErrNoViableRoute) {
			return nil, err
		}
	}

	// Tier 3: hop into USDC first. A successful first hop is already a
	// (partial) exit even if the second hop fails.
	sig1, hop1, err := e.sellLadder(ctx, mint, jupiter.USDCMint, held, log)
	if err != nil {
		if errors.Is(err, ErrNoViableRoute) {
			return nil, ErrNoViableRoute
		}
		return nil, err
	}

	result := &SellResult{Signatures: []solana.Signature{sig1}, SoldAmount: held, StableExit: true}

	sig2, _, err := e.sellLadder(ctx, jupiter.USDCMint, jupiter.WSOLMint, hop1.OutAmount, log)
	if err != nil {
		log.Warn("second hop USDC->SOL failed, keeping stable-denominated exit", zap.Error(err))
		return result, nil
	}
	result.Signatures = append(result.Signatures, sig2)
	result.StableExit = false
	return result, nil
}

// sellLadder tries one (input, output, amount) tier across the ascending
// slippage ladder. Empty quotes and swap rejections advance the ladder;
// anything else is not a routing problem and aborts immediately.
func (e *Engine) sellLadder(ctx context.Context, inputMint, outputMint string, amount uint64, log *zap.Logger) (solana.Signature, *jupiter.Quote, error) {
	for bps := e.cfg.BaseSlippageBps; bps <= e.cfg.MaxSlippageBps; bps += e.cfg.SlippageStepBps {
		quote, err := e.quotes.GetQuote(ctx, inputMint, outputMint, amount, bps, jupiter.QuoteOpts{})
		if err != nil {
			return solana.Signature{}, nil, err
		}
		if quote == nil {
			continue
		}

		sig, err := e.swaps.ExecuteSwap(ctx, quote)
		if err == nil {
			log.Info("sell executed",
				zap.String("signature", sig.String()),
				zap.String("output", outputMint),
				zap.Uint64("amount", amount),
				zap.Int("slippage_bps", bps))
			return sig, quote, nil
		}

		var swapErr *jupiter.SwapFailedError
		if !errors.As(err, &swapErr) {
			return solana.Signature{}, nil, err
		}
		log.Debug("sell attempt rejected, stepping slippage ladder",
			zap.Int("slippage_bps", bps),
			zap.Error(err))
	}
	return solana.Signature{}, nil, ErrNoViableRoute
}
