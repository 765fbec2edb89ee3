// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/chain"
	"github.com/solmirror/mirrorbot/internal/config"
	"github.com/solmirror/mirrorbot/internal/ingest"
	"github.com/solmirror/mirrorbot/internal/jupiter"
	"github.com/solmirror/mirrorbot/internal/logger"
	"github.com/solmirror/mirrorbot/internal/monitor"
	"github.com/solmirror/mirrorbot/internal/notify"
	"github.com/solmirror/mirrorbot/internal/price"
	"github.com/solmirror/mirrorbot/internal/signal"
	"github.com/solmirror/mirrorbot/internal/trade"
	"github.com/solmirror/mirrorbot/internal/wallet"
)

const lamportsPerSol = 1_000_000_000

// Runner wires the components together and owns their lifecycle.
type Runner struct {
	logger *zap.Logger
	cfg    *config.Config

	locks   *trade.LockMap
	dedup   *ingest.DedupCache
	monitor *monitor.Monitor
	server  *http.Server
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Initialize loads configuration and constructs every component. A missing
// or invalid signing key fails here, before anything is started.
func (r *Runner) Initialize(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg

	// Rebuild the logger with the configured sink and level.
	lcfg := logger.DefaultConfig()
	if cfg.LogFile != "" {
		lcfg.LogFile = cfg.LogFile
	}
	lcfg.Development = cfg.DebugLogging
	if configured, lerr := logger.New(lcfg); lerr == nil {
		r.logger = configured
	}

	w, err := wallet.NewWallet(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	r.logger.Info("wallet loaded", zap.String("pubkey", w.String()))

	chainClient, err := chain.NewClient(cfg.RPCList, r.logger)
	if err != nil {
		return fmt.Errorf("init chain client: %w", err)
	}

	jup := jupiter.NewClient(jupiter.Config{
		QuoteURL:            cfg.QuoteURL,
		SwapURL:             cfg.SwapURL,
		PriorityFeeLamports: cfg.PriorityFeeLamports,
	}, w, chainClient, r.logger)

	r.locks = trade.NewLockMap(time.Minute, r.logger)
	engine := trade.NewEngine(jup, jup, balanceAdapter{chainClient, w}, r.locks, trade.Config{
		BuyAmountLamports:   uint64(cfg.BuyAmountSol * lamportsPerSol),
		ProbeAmountLamports: uint64(cfg.ProbeAmountSol * lamportsPerSol),
		BaseSlippageBps:     cfg.BaseSlippageBps,
		MaxSlippageBps:      cfg.MaxSlippageBps,
		SlippageStepBps:     cfg.SlippageStepBps,
		BuyLockTTL:          time.Duration(cfg.BuyLockTTLSeconds) * time.Second,
	}, r.logger)

	store, err := signal.NewStore(filepath.Join(cfg.DataDir, "signals.json"), r.logger)
	if err != nil {
		return fmt.Errorf("open signal store: %w", err)
	}
	settings, err := signal.NewSettingsStoreWith(filepath.Join(cfg.DataDir, "settings.json"), signal.Settings{
		StopLossPctDefault:   cfg.StopLossPct,
		TakeProfitPct:        cfg.TakeProfitPct,
		PricecheckIntervalMs: cfg.PricecheckIntervalMs,
	})
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, r.logger)
	}

	prices := price.NewService(r.logger)
	r.monitor = monitor.New(store, prices, engine, settings, notifier, r.logger)

	r.dedup = ingest.NewDedupCache(
		time.Duration(cfg.DedupTTLMinutes)*time.Minute,
		time.Minute,
		r.logger,
	)
	ingress := ingest.NewServer(ingest.ServerConfig{
		TrackedWallets: cfg.TrackedWallets,
		Dedup:          r.dedup,
		Engine:         engine,
		Prices:         prices,
		Store:          store,
		Settings:       settings,
		Notifier:       notifier,
		Logger:         r.logger,
	})

	r.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ingress.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Run starts the price monitor and the ingress server and blocks until the
// context is cancelled, then shuts both down.
func (r *Runner) Run(ctx context.Context) error {
	go r.monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("ingress listening", zap.String("addr", r.cfg.ListenAddr))
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ingress server: %w", err)
	case <-ctx.Done():
	}

	r.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("ingress shutdown failed", zap.Error(err))
	}
	r.dedup.Close()
	r.locks.Close()
	return nil
}

// balanceAdapter binds the chain client and the wallet into the engine's
// BalanceSource.
type balanceAdapter struct {
	chain  *chain.Client
	wallet *wallet.Wallet
}

func (b balanceAdapter) TokenBalance(ctx context.Context, mint string) (uint64, error) {
	return b.chain.TokenBalance(ctx, b.wallet, mint)
}
