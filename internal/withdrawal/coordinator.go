// Package withdrawal coordinates sending user funds to an external
// address: validate, deduct from the ledger, ask the coin node to
// broadcast, and record the resulting transaction, all inside one
// transaction that only commits once the broadcast has succeeded.
package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/exchanged/internal/chain"
	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/internal/security"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Category mirrors the coarse taxonomy internal/exchange uses, kept
// separate here so this package has no import-cycle dependency on
// internal/exchange.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryInsufficient Category = "insufficient_funds"
	CategoryExternal     Category = "external_failure"
)

// Error is a categorized withdrawal failure.
type Error struct {
	Category Category
	Code     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(category Category, code string, err error) *Error {
	return &Error{Category: category, Code: code, Err: err}
}

// Result reports a completed withdrawal back to the caller.
type Result struct {
	TxID   string
	Amount money.Amount
	Coin   string
}

// Coordinator processes withdrawal requests.
type Coordinator struct {
	storage *ledger.Storage
	nodes   *coinnode.Registry
	log     *logging.Logger
}

// New returns a Coordinator backed by storage and nodes.
func New(storage *ledger.Storage, nodes *coinnode.Registry, log *logging.Logger) *Coordinator {
	return &Coordinator{storage: storage, nodes: nodes, log: log.Component("withdrawal")}
}

// Withdraw validates the request, then runs the deduction, the coin
// node's broadcast, and the resulting chain-transaction record inside
// one database transaction: the deduction is flushed but never
// committed until the broadcast has either succeeded (commit, with the
// transaction recorded alongside it) or failed (roll back, leaving the
// user's balance untouched). A crash between flush and commit loses
// nothing but the attempt itself; there is never a window where the
// user is debited with no record of why.
func (c *Coordinator) Withdraw(ctx context.Context, userID, coinSymbol, toAddress string, amount money.Amount) (*Result, error) {
	params, err := chain.Lookup(coinSymbol)
	if err != nil {
		security.LogEvent(c.log, "invalid_withdrawal_coin", true, "user_id", userID, "coin", coinSymbol)
		return nil, newErr(CategoryValidation, "invalid_coin", err)
	}
	if err := chain.ValidateAddress(coinSymbol, toAddress); err != nil {
		security.LogEvent(c.log, "invalid_withdrawal_address", true, "user_id", userID, "coin", coinSymbol, "address", redactAddress(toAddress))
		return nil, newErr(CategoryValidation, "invalid_address", err)
	}
	if amount.Sign() <= 0 {
		return nil, newErr(CategoryValidation, "invalid_amount", fmt.Errorf("withdrawal amount must be positive"))
	}

	node, err := c.nodes.Get(coinSymbol)
	if err != nil {
		security.LogEvent(c.log, "withdrawal_failed", true, "user_id", userID, "coin", coinSymbol, "error", err.Error())
		return nil, newErr(CategoryExternal, "node_unavailable", err)
	}

	unlockBal := c.storage.Locks().LockBalances(ledger.BalanceKey{UserID: userID, CoinSymbol: coinSymbol})
	defer unlockBal.Unlock()

	var result *Result
	err = c.storage.WithTx(ctx, func(tx *sql.Tx) error {
		bal, err := ledger.GetOrCreateBalanceTx(tx, userID, coinSymbol)
		if err != nil {
			return err
		}
		if bal.Available.Cmp(amount) < 0 {
			security.LogEvent(c.log, "insufficient_balance_withdrawal", false,
				"user_id", userID, "coin", coinSymbol, "requested", amount.String(), "available", bal.Available.String())
			return newErr(CategoryInsufficient, "insufficient_balance", nil)
		}
		bal.Available = bal.Available.Sub(amount)
		bal.Total = bal.Total.Sub(amount)
		if err := ledger.SaveBalanceTx(tx, bal); err != nil {
			return err
		}

		// The deduction above is flushed to tx but not committed: if Send
		// fails, returning an error here rolls it back along with
		// everything else in this closure. Node.Send takes the chain's
		// smallest unit, so the 10^-8 Amount is scaled to its decimals.
		atomic := new(big.Int).Mul(big.NewInt(int64(amount)),
			new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(params.Decimals)-int64(money.Decimals)), nil))
		txid, err := node.Send(ctx, toAddress, atomic.String())
		if err != nil || txid == "" {
			if err == nil {
				err = fmt.Errorf("coin node returned an empty transaction id")
			}
			security.LogEvent(c.log, "withdrawal_failed", true, "user_id", userID, "coin", coinSymbol,
				"amount", amount.String(), "to_address", redactAddress(toAddress), "error", err.Error())
			return newErr(CategoryExternal, "send_failed", err)
		}

		if _, err := ledger.InsertChainTransactionTx(tx, userID, coinSymbol, ledger.DirectionSent, txid, amount); err != nil {
			if !errors.Is(err, ledger.ErrDuplicateTxID) {
				return fmt.Errorf("withdrawal: record sent transaction: %w", err)
			}
			// node already reported this send once; nothing more to record,
			// but the deduction above still commits alongside it.
		}

		result = &Result{TxID: txid, Amount: amount, Coin: coinSymbol}
		return nil
	})
	if err != nil {
		return nil, err
	}

	security.LogEvent(c.log, "withdrawal_completed", false, "user_id", userID, "coin", coinSymbol,
		"amount", amount.String(), "txid", result.TxID, "to_address", redactAddress(toAddress))

	return result, nil
}

func redactAddress(addr string) string {
	if len(addr) <= 20 {
		return addr
	}
	return addr[:20] + "..."
}
