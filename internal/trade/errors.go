// internal/trade/errors.go
package trade

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/solmirror/mirrorbot/internal/jupiter"
)

var (
	// ErrNoViableRoute means no tradable path exists at any attempted size,
	// slippage or hop count. Terminal for the current attempt, not fatal.
	ErrNoViableRoute = errors.New("no viable route: illiquid or dust too small")

	// ErrBuyInProgress is returned when the per-mint buy guard is already
	// held. Callers must drop the trigger, never wait.
	ErrBuyInProgress = errors.New("buy already in progress for this mint")

	// ErrNothingHeld is returned by the sell path when the wallet holds no
	// balance of the mint.
	ErrNothingHeld = errors.New("nothing held to sell")
)

// IsTransient reports whether an error is worth retrying on the outer backoff
// ladder: rate limits, server errors, timeouts and network resets. Swap
// rejections are handled by slippage escalation instead and are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *jupiter.HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}

	var swapErr *jupiter.SwapFailedError
	if errors.As(err, &swapErr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "rate limit")
}
