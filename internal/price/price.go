// internal/price/price.go
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	baseURL     = "https://api.dexscreener.com/latest/dex"
	rateLimit   = 300 // requests per minute
	solanaChain = "solana"
)

// DexScreenerResponse is the top-level token pairs payload.
type DexScreenerResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []PairInfo `json:"pairs"`
}

type PairInfo struct {
	ChainID     string        `json:"chainId"`
	DexID       string        `json:"dexId"`
	PairAddress string        `json:"pairAddress"`
	BaseToken   TokenInfo     `json:"baseToken"`
	QuoteToken  TokenInfo     `json:"quoteToken"`
	PriceUsd    string        `json:"priceUsd"`
	Liquidity   LiquidityInfo `json:"liquidity"`
}

type TokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type LiquidityInfo struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Service looks up USD token prices from DexScreener, preferring the deepest
// pool when a token trades in several.
type Service struct {
	client      *http.Client
	logger      *zap.Logger
	rateLimiter *time.Ticker
	mu          sync.Mutex
}

func NewService(logger *zap.Logger) *Service {
	return &Service{
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:      logger.Named("dexscreener"),
		rateLimiter: time.NewTicker(time.Minute / rateLimit),
	}
}

// GetTokenPriceUSD returns the USD price of the mint from its most liquid
// Solana pair.
func (s *Service) GetTokenPriceUSD(ctx context.Context, mint string) (float64, error) {
	url := fmt.Sprintf("%s/tokens/%s", baseURL, mint)

	response, err := s.doRequest(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("failed to get token pairs: %w", err)
	}

	var bestPair *PairInfo
	maxLiquidity := 0.0
	for i := range response.Pairs {
		pair := &response.Pairs[i]
		if pair.ChainID != solanaChain {
			continue
		}
		if pair.BaseToken.Address != mint {
			continue
		}
		if pair.Liquidity.USD > maxLiquidity {
			maxLiquidity = pair.Liquidity.USD
			bestPair = pair
		}
	}
	if bestPair == nil {
		return 0, fmt.Errorf("no Solana pair found for token %s", mint)
	}

	priceUsd, err := strconv.ParseFloat(bestPair.PriceUsd, 64)
	if err != nil || priceUsd <= 0 {
		return 0, fmt.Errorf("invalid price %q for token %s", bestPair.PriceUsd, mint)
	}

	s.logger.Debug("price resolved",
		zap.String("mint", mint),
		zap.String("symbol", bestPair.BaseToken.Symbol),
		zap.Float64("price_usd", priceUsd),
		zap.Float64("liquidity_usd", maxLiquidity))
	return priceUsd, nil
}

func (s *Service) doRequest(ctx context.Context, url string) (*DexScreenerResponse, error) {
	s.mu.Lock()
	select {
	case <-s.rateLimiter.C:
	case <-ctx.Done():
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response DexScreenerResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}
