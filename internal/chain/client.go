// internal/chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solmirror/mirrorbot/internal/wallet"
)

const (
	defaultTimeout      = 10 * time.Second
	confirmPollInterval = 2 * time.Second
	sendMaxRetries      = uint(3)
)

// Client wraps a set of Solana RPC endpoints with simple round-robin failover.
type Client struct {
	clients []*rpc.Client
	urls    []string
	next    atomic.Uint64
	logger  *zap.Logger
}

func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}
	clients := make([]*rpc.Client, 0, len(rpcURLs))
	for _, u := range rpcURLs {
		clients = append(clients, rpc.New(u))
	}
	return &Client{
		clients: clients,
		urls:    rpcURLs,
		logger:  logger.Named("chain"),
	}, nil
}

func (c *Client) pick() *rpc.Client {
	n := c.next.Add(1)
	return c.clients[int(n)%len(c.clients)]
}

// SendTransaction submits a signed transaction. The RPC node re-broadcasts it
// up to sendMaxRetries times at the transport layer.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	maxRetries := sendMaxRetries
	sig, err := c.pick().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: false,
		MaxRetries:    &maxRetries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// WaitForConfirmation polls signature status until the transaction reaches
// confirmed commitment or the context expires. A transaction that landed with
// an on-chain error is reported as an error, not as a confirmation.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := c.pick().GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		if err != nil {
			c.logger.Debug("signature status poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TokenBalance returns the wallet's raw balance of the given mint. A missing
// token account counts as zero, not as an error.
func (c *Client) TokenBalance(ctx context.Context, w *wallet.Wallet, mint string) (uint64, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	ata, err := w.GetATA(mintKey)
	if err != nil {
		return 0, fmt.Errorf("derive ATA for %s: %w", mint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := c.pick().GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isAccountNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance for %s: %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

func isAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}
