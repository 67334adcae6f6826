package identity

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/security"
)

// maxAddressAttempts bounds how many times GenerateAddress will ask a
// Bitcoin-family node for a fresh address before giving up on a
// never-before-seen collision, matching the original's retry budget.
const maxAddressAttempts = 5

// GenerateAddress mints a new deposit address for userID on coinSymbol.
// Monero addresses are subaddresses keyed by their minor index; every
// other coin asks the node for a fresh address and retries on the rare
// chance it collides with one already on file.
func (id *Identity) GenerateAddress(ctx context.Context, nodes *coinnode.Registry, userID, coinSymbol string) (*ledger.Address, error) {
	coin, err := config.Lookup(coinSymbol)
	if err != nil {
		security.LogEvent(id.log, "invalid_coin_symbol", true, "user_id", userID, "coin", coinSymbol)
		return nil, fmt.Errorf("identity: %w", err)
	}

	node, err := nodes.Get(coin.Symbol)
	if err != nil {
		return nil, err
	}

	if coin.Type == config.CoinTypeMonero {
		return id.generateMoneroAddress(ctx, node, userID, coin.Symbol)
	}
	return id.generateSimpleAddress(ctx, node, userID, coin.Symbol)
}

func (id *Identity) generateMoneroAddress(ctx context.Context, node coinnode.Node, userID, coinSymbol string) (*ledger.Address, error) {
	address, index, err := node.NewAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: create subaddress: %w", err)
	}

	if _, err := id.storage.AddressByCoinAndValue(coinSymbol, address); err == nil {
		return nil, fmt.Errorf("identity: generated address already on file, retry")
	}

	return id.storage.CreateAddress(userID, coinSymbol, address, index)
}

func (id *Identity) generateSimpleAddress(ctx context.Context, node coinnode.Node, userID, coinSymbol string) (*ledger.Address, error) {
	for attempt := 0; attempt < maxAddressAttempts; attempt++ {
		candidate, _, err := node.NewAddress(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity: request address: %w", err)
		}

		if _, err := id.storage.AddressByCoinAndValue(coinSymbol, candidate); err == nil {
			continue // already on file, ask the node for another
		}

		return id.storage.CreateAddress(userID, coinSymbol, candidate, -1)
	}
	return nil, fmt.Errorf("identity: failed to generate a unique %s address after %d attempts", coinSymbol, maxAddressAttempts)
}
