// internal/ingest/events.go
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/solmirror/mirrorbot/internal/jupiter"
)

// SwapEvent is one enhanced-transaction webhook event. Only the fields the
// pipeline needs are decoded; everything else is ignored.
type SwapEvent struct {
	Signature      string          `json:"signature"`
	Type           string          `json:"type"`
	FeePayer       string          `json:"feePayer"`
	Timestamp      int64           `json:"timestamp"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
}

type TokenTransfer struct {
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
}

// DecodeEvents accepts either a JSON array of events or a single event
// object, the two shapes the webhook source delivers.
func DecodeEvents(r io.Reader) ([]SwapEvent, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty webhook body")
	}

	if body[0] == '[' {
		var events []SwapEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		return events, nil
	}

	var event SwapEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []SwapEvent{event}, nil
}

// Leg is the actor's net position change in one mint within one event.
type Leg struct {
	Mint   string
	Amount float64 // positive: actor received (buy); negative: actor sent (sell)
}

// AggregateLegs folds the event's transfer list into per-mint net deltas for
// the actor, skipping the counter-assets a swap routes through.
func AggregateLegs(event SwapEvent, actor string) []Leg {
	net := make(map[string]float64)
	order := make([]string, 0, len(event.TokenTransfers))

	for _, tr := range event.TokenTransfers {
		if tr.Mint == "" || tr.Mint == jupiter.WSOLMint || tr.Mint == jupiter.USDCMint {
			continue
		}
		if _, ok := net[tr.Mint]; !ok {
			order = append(order, tr.Mint)
		}
		if tr.ToUserAccount == actor {
			net[tr.Mint] += tr.TokenAmount
		}
		if tr.FromUserAccount == actor {
			net[tr.Mint] -= tr.TokenAmount
		}
	}

	legs := make([]Leg, 0, len(order))
	for _, mint := range order {
		if net[mint] != 0 {
			legs = append(legs, Leg{Mint: mint, Amount: net[mint]})
		}
	}
	return legs
}
