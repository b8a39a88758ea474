// Package txlistener polls for transaction receipts, used by every write
// path (ChainClient, SwapRouter) that needs to await confirmation before the
// InstanceMachine advances a pipeline stage. The call shape is
// NewTxListener(client, WithPollInterval(...), WithTimeout(...)) followed by
// tl.WaitForTransaction(hash).
package txlistener

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

const defaultPollInterval = 2 * time.Second
const defaultTimeout = 3 * time.Minute

// TxListener awaits confirmation of a submitted transaction by polling for
// its receipt.
type TxListener struct {
	eth          *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction.
type Option func(*TxListener)

// WithPollInterval sets how often the listener checks for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout bounds the total wall-clock time WaitForTransaction will wait.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a TxListener with the given options, defaulting to a
// 2s poll interval and a 3 minute timeout.
func NewTxListener(eth *ethclient.Client, opts ...Option) *TxListener {
	l := &TxListener{
		eth:          eth,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls until the receipt is available, the listener's
// configured timeout elapses, or ctx is cancelled, whichever comes first.
// This is a cancellation checkpoint: an in-flight on-chain transaction is
// never cancelled client-side, only the wait for its receipt is.
func (l *TxListener) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return contractclient.TranslateReceipt(receipt), nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("txlistener: fetching receipt for %s: %w", hash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("txlistener: timed out waiting for %s after %s", hash.Hex(), l.timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
