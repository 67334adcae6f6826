// Package admin implements the operator-only surface: market creation,
// fee-pool withdrawal, and coin-node connection management. Nothing
// here checks who the caller is, and the RPC layer registers these
// methods without any operator credential check: anyone who knows a
// method's name can call it.
package admin

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/chain"
	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/internal/security"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// DefaultFeeRate is used when CreateMarket is called without an explicit
// fee_rate override.
var DefaultFeeRate = money.MustParse("0.001")

// Admin implements the operator-only operations.
type Admin struct {
	storage *ledger.Storage
	nodes   *coinnode.Registry
	log     *logging.Logger
}

// New returns an Admin backed by storage and nodes.
func New(storage *ledger.Storage, nodes *coinnode.Registry, log *logging.Logger) *Admin {
	return &Admin{storage: storage, nodes: nodes, log: log.Component("admin")}
}

// CreateMarket registers a new trading pair. feeRate is optional; when nil,
// DefaultFeeRate applies.
func (a *Admin) CreateMarket(base, quote string, feeRate *money.Amount) (*ledger.Market, error) {
	if base == quote {
		return nil, fmt.Errorf("admin: base and quote coin must differ, got %s/%s", base, quote)
	}
	if _, err := config.Lookup(base); err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	if _, err := config.Lookup(quote); err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}

	rate := DefaultFeeRate
	if feeRate != nil {
		rate = *feeRate
	}

	m, err := a.storage.CreateMarket(base, quote, rate)
	if err != nil {
		return nil, err
	}

	security.LogEvent(a.log, "market_created", false, "market_id", m.ID, "base_coin", base, "quote_coin", quote, "fee_rate", rate.String())
	return m, nil
}

// FeeBalances returns the fee pool amount for each coin in coins.
func (a *Admin) FeeBalances(coins []string) (map[string]money.Amount, error) {
	out := make(map[string]money.Amount, len(coins))
	for _, c := range coins {
		amount, err := a.storage.FeePoolBalance(c)
		if err != nil {
			return nil, err
		}
		out[c] = amount
	}
	return out, nil
}

// WithdrawFees removes amount from coin's fee pool, for sweeping
// accumulated fees to an operator-controlled wallet outside the
// exchange's own balance ledger.
func (a *Admin) WithdrawFees(ctx context.Context, coinSymbol string, amount money.Amount) (money.Amount, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("admin: withdrawal amount must be positive")
	}

	var remaining money.Amount
	err := a.storage.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ledger.DebitFeePoolTx(tx, coinSymbol, amount); err != nil {
			return err
		}
		var err error
		remaining, err = a.feePoolAfterDebitTx(tx, coinSymbol)
		return err
	})
	if err != nil {
		return 0, err
	}

	security.LogEvent(a.log, "fee_withdrawal", false, "coin", coinSymbol, "amount", amount.String(), "remaining", remaining.String())
	return remaining, nil
}

func (a *Admin) feePoolAfterDebitTx(tx *sql.Tx, coinSymbol string) (money.Amount, error) {
	row := tx.QueryRow(`SELECT amount FROM fee_pool WHERE coin_symbol = ?`, coinSymbol)
	var amount int64
	if err := row.Scan(&amount); err != nil {
		return 0, err
	}
	return money.Amount(amount), nil
}

// UpsertCoinNode creates or replaces a coin's node connection record and
// invalidates the cached adapter so the next use picks up the change.
func (a *Admin) UpsertCoinNode(r *ledger.CoinNodeRecord) error {
	if _, err := chain.Lookup(r.CoinSymbol); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := a.storage.UpsertCoinNode(r); err != nil {
		return err
	}
	a.nodes.Invalidate(r.CoinSymbol)
	security.LogEvent(a.log, "coin_node_updated", false, "coin_symbol", r.CoinSymbol, "node_type", r.NodeType, "enabled", r.Enabled)
	return nil
}

// DeleteCoinNode removes a coin's node connection record and invalidates
// its cached adapter.
func (a *Admin) DeleteCoinNode(coinSymbol string) error {
	if err := a.storage.DeleteCoinNode(coinSymbol); err != nil {
		return err
	}
	a.nodes.Invalidate(coinSymbol)
	security.LogEvent(a.log, "coin_node_deleted", false, "coin_symbol", coinSymbol)
	return nil
}

// CoinNode returns a coin's node connection record, with its password
// redacted for display.
func (a *Admin) CoinNode(coinSymbol string) (*ledger.CoinNodeRecord, error) {
	rec, err := a.storage.CoinNodeBySymbol(coinSymbol)
	if err != nil {
		return nil, err
	}
	rec.Password = ""
	return rec, nil
}

// ListCoinNodes returns every configured coin-node record.
func (a *Admin) ListCoinNodes() ([]*ledger.CoinNodeRecord, error) {
	return a.storage.ListCoinNodes()
}

// TestCoinNode checks connectivity to a coin's node by asking it for its
// current chain height.
func (a *Admin) TestCoinNode(ctx context.Context, coinSymbol string) error {
	a.nodes.Invalidate(coinSymbol) // force a fresh connection rather than trusting a stale cached client
	node, err := a.nodes.Get(coinSymbol)
	if err != nil {
		return err
	}
	_, err = node.BlockHeight(ctx)
	return err
}
