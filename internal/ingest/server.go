// internal/ingest/server.go
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/export"
	"github.com/solmirror/mirrorbot/internal/logger"
	"github.com/solmirror/mirrorbot/internal/metrics"
	"github.com/solmirror/mirrorbot/internal/notify"
	"github.com/solmirror/mirrorbot/internal/signal"
	"github.com/solmirror/mirrorbot/internal/trade"
)

// Trader is the slice of the trade engine the ingress needs.
type Trader interface {
	Buy(ctx context.Context, mint string) (*trade.BuyResult, error)
	Sell(ctx context.Context, mint string) (*trade.SellResult, error)
}

// PriceSource resolves a best-effort USD entry price for new signals.
type PriceSource interface {
	GetTokenPriceUSD(ctx context.Context, mint string) (float64, error)
}

// Server receives swap webhooks, deduplicates them and drives the mirrored
// trade pipeline. It also exposes the admin and observability endpoints.
type Server struct {
	router   *mux.Router
	dedup    *DedupCache
	tracked  map[string]bool
	engine   Trader
	prices   PriceSource
	store    *signal.Store
	settings *signal.SettingsStore
	notifier notify.Notifier
	logger   *zap.Logger

	// tradeTimeout bounds one full buy or sell attempt from a webhook event.
	tradeTimeout time.Duration
}

type ServerConfig struct {
	TrackedWallets []string
	Dedup          *DedupCache
	Engine         Trader
	Prices         PriceSource
	Store          *signal.Store
	Settings       *signal.SettingsStore
	Notifier       notify.Notifier
	Logger         *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	tracked := make(map[string]bool, len(cfg.TrackedWallets))
	for _, w := range cfg.TrackedWallets {
		tracked[w] = true
	}

	s := &Server{
		router:       mux.NewRouter(),
		dedup:        cfg.Dedup,
		tracked:      tracked,
		engine:       cfg.Engine,
		prices:       cfg.Prices,
		store:        cfg.Store,
		settings:     cfg.Settings,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger.Named("ingest"),
		tradeTimeout: 3 * time.Minute,
	}

	s.router.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/signals", s.handleListSignals).Methods(http.MethodGet)
	s.router.HandleFunc("/signals/export", s.handleExportSignals).Methods(http.MethodGet)
	s.router.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return s
}

// Handler wraps the router with panic recovery so one bad payload cannot
// take the ingress down.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(s.router)
}

// handleWebhook acknowledges fast and processes each event on its own
// goroutine; the dedup cache and the buy guard make redeliveries and bursts
// safe.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	events, err := DecodeEvents(r.Body)
	if err != nil {
		s.logger.Warn("undecodable webhook payload", zap.Error(err))
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	for _, event := range events {
		go s.processEvent(event)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) processEvent(event SwapEvent) {
	actor := event.FeePayer
	if actor == "" || !s.tracked[actor] {
		metrics.Events.WithLabelValues("unqualified").Inc()
		return
	}

	legs := AggregateLegs(event, actor)
	if len(legs) == 0 {
		metrics.Events.WithLabelValues("unqualified").Inc()
		return
	}

	for _, leg := range legs {
		if leg.Amount > 0 {
			s.processBuyLeg(event, actor, leg)
		} else {
			s.processSellLeg(event, actor, leg)
		}
	}
}

func (s *Server) dedupKey(event SwapEvent, actor, mint, side string, amount float64) string {
	if event.Signature != "" {
		return EventKey(event.Signature, mint, side)
	}
	return FallbackKey(actor, mint, side, amount)
}

func (s *Server) processBuyLeg(event SwapEvent, actor string, leg Leg) {
	if s.dedup.Seen(s.dedupKey(event, actor, leg.Mint, "buy", leg.Amount)) {
		metrics.Events.WithLabelValues("deduplicated").Inc()
		return
	}
	metrics.Events.WithLabelValues("processed").Inc()

	log := logger.WithOperation(s.logger, "mirror_buy").With(
		zap.String("wallet", actor),
		zap.String("mint", leg.Mint),
		zap.Float64("amount", leg.Amount))
	log.Info("tracked wallet bought")

	// One exposure per mint across all tracked wallets: record the source
	// activity either way, mirror the buy only for a fresh mint.
	mintAlreadyOpen := s.store.HasOpenForMint(leg.Mint)

	// Entry price is best-effort; an unpriced buy stays out of the VWAP.
	var entryPrice *float64
	if s.prices != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if p, perr := s.prices.GetTokenPriceUSD(pctx, leg.Mint); perr == nil && p > 0 {
			entryPrice = &p
		}
		pcancel()
	}

	sig, merged, err := s.store.OpenOrMerge(actor, leg.Mint, leg.Amount, entryPrice,
		s.settings.Get().StopLossPctDefault, signal.Meta{Source: "webhook"})
	if err != nil {
		log.Error("failed to record signal", zap.Error(err))
		return
	}
	if merged {
		metrics.Signals.WithLabelValues("merged").Inc()
	} else {
		metrics.Signals.WithLabelValues("opened").Inc()
		metrics.OpenSignals.Inc()
	}

	if mintAlreadyOpen {
		log.Info("mint already has an open signal, not mirroring")
		s.notifier.Notify(fmt.Sprintf("skip_buy mint=%s reason=already_tracked", leg.Mint))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.tradeTimeout)
	defer cancel()

	res, err := s.engine.Buy(ctx, leg.Mint)
	if err != nil {
		metrics.Trades.WithLabelValues("buy", "failed").Inc()
		if errors.Is(err, trade.ErrBuyInProgress) {
			log.Info("duplicate buy trigger rejected by guard")
			return
		}
		log.Error("mirrored buy failed", zap.Error(err))
		s.notifier.Notify(fmt.Sprintf("buy_failed mint=%s err=%v", leg.Mint, err))
		return
	}
	metrics.Trades.WithLabelValues("buy", "ok").Inc()

	if err := s.store.RecordTraderFill(sig.ID, res.Signature.String(), "buy", lamportsToSol(res.SpentLamports)); err != nil {
		log.Warn("failed to record buy fill", zap.Error(err))
	}
	s.notifier.Notify(fmt.Sprintf("buy_ok mint=%s spent_sol=%.4f sig=%s",
		leg.Mint, lamportsToSol(res.SpentLamports), res.Signature))
}

func (s *Server) processSellLeg(event SwapEvent, actor string, leg Leg) {
	if s.dedup.Seen(s.dedupKey(event, actor, leg.Mint, "sell", leg.Amount)) {
		metrics.Events.WithLabelValues("deduplicated").Inc()
		return
	}
	metrics.Events.WithLabelValues("processed").Inc()

	log := logger.WithOperation(s.logger, "mirror_sell").With(
		zap.String("wallet", actor),
		zap.String("mint", leg.Mint),
		zap.Float64("amount", leg.Amount))
	log.Info("tracked wallet sold")

	open := s.store.FindOpen(actor, leg.Mint)
	if open == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.tradeTimeout)
	defer cancel()

	// The exit is best-effort: a failed liquidation must never leave the
	// signal open once the source wallet is out.
	res, err := s.engine.Sell(ctx, leg.Mint)
	switch {
	case err == nil:
		metrics.Trades.WithLabelValues("sell", "ok").Inc()
		for _, sellSig := range res.Signatures {
			if err := s.store.RecordTraderFill(open.ID, sellSig.String(), "sell", 0); err != nil {
				log.Warn("failed to record sell fill", zap.Error(err))
			}
		}
		if res.StableExit {
			s.notifier.Notify(fmt.Sprintf("sell_partial mint=%s note=exited_to_stable", leg.Mint))
		}
	case errors.Is(err, trade.ErrNothingHeld):
		log.Info("no balance held, nothing to liquidate")
	default:
		metrics.Trades.WithLabelValues("sell", "failed").Inc()
		log.Error("mirrored sell failed", zap.Error(err))
		s.notifier.Notify(fmt.Sprintf("sell_failed mint=%s err=%v", leg.Mint, err))
	}

	closed, err := s.store.CloseByActor(actor, leg.Mint, signal.CloseReasonSoldByWallet)
	if err != nil {
		log.Error("failed to close signal", zap.Error(err))
		return
	}
	if closed > 0 {
		metrics.SignalExits.WithLabelValues(signal.CloseReasonSoldByWallet).Add(float64(closed))
		metrics.OpenSignals.Sub(float64(closed))
		s.notifier.Notify(fmt.Sprintf("closed mint=%s reason=%s", leg.Mint, signal.CloseReasonSoldByWallet))
	}
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.store.All()); err != nil {
		s.logger.Warn("failed to encode signals", zap.Error(err))
	}
}

// handleExportSignals streams the signal history as CSV or JSON. The closed
// query flag restricts the export to settled positions.
func (s *Server) handleExportSignals(w http.ResponseWriter, r *http.Request) {
	opts := export.Options{
		Format:     export.Format(r.URL.Query().Get("format")),
		Mint:       r.URL.Query().Get("mint"),
		ClosedOnly: r.URL.Query().Get("closed") == "true",
	}
	if opts.Format == "" {
		opts.Format = export.FormatJSON
	}

	switch opts.Format {
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="signals.csv"`)
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", opts.Format), http.StatusBadRequest)
		return
	}

	if err := export.Write(w, s.store.All(), opts); err != nil {
		s.logger.Warn("signal export failed", zap.Error(err))
	}
}

// handleUpdateSettings applies a settings patch; with applyToOpen set, a new
// default stop-loss is also pushed onto every open signal.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		signal.SettingsPatch
		ApplyToOpen bool `json:"applyToOpen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	updated, err := s.settings.Update(req.SettingsPatch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	changed := 0
	if req.ApplyToOpen && req.StopLossPctDefault != nil {
		changed, err = s.store.BulkUpdateOpenStopLoss(*req.StopLossPctDefault)
		if err != nil {
			s.logger.Error("bulk stop-loss update failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"settings":       updated,
		"signalsChanged": changed,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func lamportsToSol(lamports uint64) float64 {
	return float64(lamports) / 1e9
}
