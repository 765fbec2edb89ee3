// internal/signal/signal.go
package signal

import "time"

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Close reasons stamped by the store and its callers.
const (
	CloseReasonSoldByWallet = "sold_by_wallet"
	CloseReasonStopLoss     = "stop_loss"
	CloseReasonTakeProfit   = "take_profit"
)

// TraderFills is the bot's own execution trail for a Signal: the confirmation
// signatures of its mirrored buys and sells and the cumulative SOL spent.
// Purely observational; it never drives position logic.
type TraderFills struct {
	BuySigs  []string `json:"buySigs,omitempty"`
	SellSigs []string `json:"sellSigs,omitempty"`
	SpentSol float64  `json:"spentSol,omitempty"`
}

// Signal is one tracked position: a run of buys by a source wallet in a mint,
// merged while open, closed exactly once.
type Signal struct {
	ID        string     `json:"id"`
	OpenedAt  time.Time  `json:"openedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`

	Wallet string `json:"wallet"`
	Mint   string `json:"mint"`

	// Amount is the cumulative observed size in source-wallet units, not the
	// bot's own trade size.
	Amount        float64  `json:"amount"`
	EntryPriceUSD *float64 `json:"entryPriceUsd,omitempty"`

	Symbol string `json:"symbol,omitempty"`
	Source string `json:"source,omitempty"`

	Status      Status  `json:"status"`
	StopLossPct float64 `json:"stopLossPct"`
	Occurrences int     `json:"occurrences"`

	CloseReason  string   `json:"closeReason,omitempty"`
	ExitPriceUSD *float64 `json:"exitPriceUsd,omitempty"`
	ExitPnlPct   *float64 `json:"exitPnlPct,omitempty"`

	Trader TraderFills `json:"trader"`
}

// Meta carries best-effort informational fields for a new Signal.
type Meta struct {
	Symbol string
	Source string
}
