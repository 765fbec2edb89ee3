// internal/jupiter/client.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/chain"
	"github.com/solmirror/mirrorbot/internal/wallet"
)

const (
	quoteTimeout   = 1500 * time.Millisecond
	swapTimeout    = 10 * time.Second
	confirmTimeout = 90 * time.Second
)

// Client talks to the swap aggregator: quoting on one endpoint, building and
// executing transactions on the other. It owns nothing durable; the wallet
// holds the signing key and the chain client submits transactions.
type Client struct {
	http     *http.Client
	quoteURL string
	swapURL  string
	wallet   *wallet.Wallet
	chain    *chain.Client
	logger   *zap.Logger

	// priorityFeeLamports == 0 requests "auto" prioritization upstream.
	priorityFeeLamports uint64
}

type Config struct {
	QuoteURL            string
	SwapURL             string
	PriorityFeeLamports uint64
}

func NewClient(cfg Config, w *wallet.Wallet, ch *chain.Client, logger *zap.Logger) *Client {
	return &Client{
		http:                &http.Client{Timeout: swapTimeout},
		quoteURL:            cfg.QuoteURL,
		swapURL:             cfg.SwapURL,
		wallet:              w,
		chain:               ch,
		logger:              logger.Named("jupiter"),
		priorityFeeLamports: cfg.PriorityFeeLamports,
	}
}

// GetQuote requests a priced route for swapping amount base units of inputMint
// into outputMint. It returns (nil, nil) when no route exists or the response
// fails shape validation; timeouts and transport failures are errors so the
// caller can tell "unroutable" apart from "unreachable".
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, opts QuoteOpts) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	if opts.OnlyDirectRoutes {
		q.Set("onlyDirectRoutes", "true")
	}
	if opts.MaxAccounts > 0 {
		q.Set("maxAccounts", strconv.Itoa(opts.MaxAccounts))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isNoRouteBody(body) {
			c.logger.Debug("no route reported by aggregator",
				zap.String("input", inputMint),
				zap.String("output", outputMint),
				zap.Uint64("amount", amount))
			return nil, nil
		}
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: truncateBody(body)}
	}

	return parseQuote(body)
}

// parseQuote normalizes the two envelopes the aggregator has been observed to
// return: the quote object directly, or the same object wrapped in "data".
// Anything without a non-empty route plan is treated as no-route.
func parseQuote(body []byte) (*Quote, error) {
	payload := body

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		payload = envelope.Data
	}

	if isNoRouteBody(payload) {
		return nil, nil
	}

	var quote Quote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return nil, nil
	}
	if quote.InputMint == "" || quote.OutputMint == "" || quote.OutAmount == 0 || len(quote.RoutePlan) == 0 {
		return nil, nil
	}
	quote.Raw = json.RawMessage(payload)
	return &quote, nil
}

func isNoRouteBody(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "COULD_NOT_FIND_ANY_ROUTE") ||
		strings.Contains(s, "NO_ROUTES_FOUND") ||
		strings.Contains(s, "TOKEN_NOT_TRADABLE")
}

// ExecuteSwap turns a validated quote into a signed, submitted and confirmed
// transaction and returns its signature. This performs an irreversible
// on-chain transfer; request-level retries belong to the trade engine, not
// here.
func (c *Client) ExecuteSwap(ctx context.Context, quote *Quote) (solana.Signature, error) {
	swapTx, err := c.buildSwapTransaction(ctx, quote)
	if err != nil {
		return solana.Signature{}, err
	}

	if err := c.wallet.SignTransaction(swapTx); err != nil {
		return solana.Signature{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	sig, err := c.chain.SendTransaction(ctx, swapTx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submit swap: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	if err := c.chain.WaitForConfirmation(confirmCtx, sig); err != nil {
		return sig, fmt.Errorf("confirm swap %s: %w", sig, err)
	}

	c.logger.Info("swap confirmed",
		zap.String("signature", sig.String()),
		zap.String("input", quote.InputMint),
		zap.String("output", quote.OutputMint),
		zap.Uint64("in_amount", quote.InAmount),
		zap.Uint64("out_amount", quote.OutAmount))
	return sig, nil
}

func (c *Client) buildSwapTransaction(ctx context.Context, quote *Quote) (*solana.Transaction, error) {
	reqBody := map[string]interface{}{
		"quoteResponse":           json.RawMessage(quote.Raw),
		"userPublicKey":           c.wallet.PublicKey.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
	}
	if c.priorityFeeLamports > 0 {
		reqBody["prioritizationFeeLamports"] = c.priorityFeeLamports
	} else {
		reqBody["prioritizationFeeLamports"] = "auto"
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, swapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.swapURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SwapFailedError{Status: resp.StatusCode, Body: truncateBody(body)}
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &swapResp); err != nil || swapResp.SwapTransaction == "" {
		return nil, &SwapFailedError{Status: resp.StatusCode, Body: "missing swapTransaction: " + truncateBody(body)}
	}

	rawTx, err := base64.StdEncoding.DecodeString(swapResp.SwapTransaction)
	if err != nil {
		return nil, &SwapFailedError{Status: resp.StatusCode, Body: "undecodable swapTransaction"}
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("deserialize swap transaction: %w", err)
	}
	return tx, nil
}
