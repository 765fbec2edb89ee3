// internal/jupiter/types.go
package jupiter

import (
	"encoding/json"
	"fmt"
)

// Well-known mints used by the routing cascade.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Quote is the normalized view of an aggregator quote response. Raw carries
// the upstream payload verbatim because the swap endpoint expects the quote
// exactly as it was issued.
type Quote struct {
	InputMint      string      `json:"inputMint"`
	OutputMint     string      `json:"outputMint"`
	InAmount       uint64      `json:"inAmount,string"`
	OutAmount      uint64      `json:"outAmount,string"`
	SlippageBps    int         `json:"slippageBps"`
	PriceImpactPct float64     `json:"priceImpactPct,string"`
	RoutePlan      []RouteStep `json:"routePlan"`

	Raw json.RawMessage `json:"-"`
}

// RouteStep is one hop of the route plan.
type RouteStep struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

// QuoteOpts carries optional routing constraints.
type QuoteOpts struct {
	// OnlyDirectRoutes restricts the route plan to a single hop.
	OnlyDirectRoutes bool
	// MaxAccounts caps the number of accounts the route may touch; 0 means
	// the upstream default.
	MaxAccounts int
}

// SwapFailedError reports a rejected swap execution: the aggregator returned
// a non-success status or a response without an executable transaction.
type SwapFailedError struct {
	Status int
	Body   string
}

func (e *SwapFailedError) Error() string {
	return fmt.Sprintf("swap failed (status %d): %s", e.Status, e.Body)
}

// HTTPStatusError reports a non-2xx response from the quote endpoint that is
// not a "no route" condition (rate limits, server errors).
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("quote request failed (status %d): %s", e.Status, e.Body)
}

// truncateBody keeps upstream diagnostics readable in logs and errors.
func truncateBody(b []byte) string {
	const maxLen = 300
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
