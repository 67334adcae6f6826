// Package coinnode talks to the external cryptocurrency nodes that custody
// keys and broadcast transactions on the exchange's behalf. For the
// Bitcoin-family and Monero adapters the exchange holds no private key
// material: every deposit address and every outbound transaction is
// produced by the node behind the adapter, reached over JSON-RPC. The EVM
// adapter is the exception: it signs withdrawals in process with a
// hot-wallet key read from the environment.
package coinnode

import (
	"context"
	"time"
)

// Transfer is an inbound deposit observed on a coin node, normalized to a
// common shape regardless of chain family.
type Transfer struct {
	TxID          string
	Address       string // destination address, or empty for Monero subaddress-indexed transfers
	AddressIndex  int    // Monero minor subaddress index; -1 for non-Monero coins
	AmountAtomic  string // smallest-unit integer string, chain-native precision
	Confirmations int64
	Timestamp     time.Time
	// Cursor identifies this transfer's position in the node's history so
	// the deposit sync loop can record how far it has scanned. For
	// Bitcoin-family coins this is the block hash; for Monero, the RFC3339
	// transfer timestamp.
	Cursor string
}

// Node is the capability interface every coin-node adapter implements. It
// is intentionally small: the exchange only ever needs to mint a deposit
// address, list incoming transfers since a cursor, check chain height, and
// send funds out.
type Node interface {
	// NewAddress allocates a fresh deposit destination. For Bitcoin-family
	// nodes this calls getnewaddress; for Monero it creates a subaddress
	// and returns its minor index alongside the address string.
	NewAddress(ctx context.Context) (address string, addressIndex int, err error)

	// Transfers returns deposits observed since the given cursor (empty
	// string means "from genesis" / "all history").
	Transfers(ctx context.Context, sinceCursor string) ([]Transfer, error)

	// BlockHeight returns the node's current chain height, used only for
	// health reporting; confirmation counts come from the node directly.
	BlockHeight(ctx context.Context) (int64, error)

	// Send broadcasts amountAtomic (smallest-unit integer string) to
	// address and returns the resulting transaction id.
	Send(ctx context.Context, address string, amountAtomic string) (txid string, err error)
}
