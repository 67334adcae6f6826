package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/matching"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/internal/security"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Exchange wires the ledger and matching engine into the core trading
// operations.
type Exchange struct {
	storage *ledger.Storage
	matcher *matching.Engine
	log     *logging.Logger
}

// New returns an Exchange backed by storage.
func New(storage *ledger.Storage, log *logging.Logger) *Exchange {
	return &Exchange{
		storage: storage,
		matcher: matching.New(storage, log),
		log:     log.Component("exchange"),
	}
}

// PlaceOrderResult is what PlaceOrder reports back to the caller.
type PlaceOrderResult struct {
	OrderID   string
	Status    ledger.OrderStatus
	Filled    money.Amount
	Remaining money.Amount
	Trades    []matching.Fill
}

// PlaceOrder locks the side's required balance, moves funds from
// available to locked, inserts the order, and runs the matcher, all in
// one transaction.
func (e *Exchange) PlaceOrder(ctx context.Context, userID, marketID string, side ledger.Side, price, amount money.Amount) (*PlaceOrderResult, error) {
	if side != ledger.SideBuy && side != ledger.SideSell {
		return nil, newErr(CategoryValidation, "invalid_side", fmt.Errorf("side must be buy or sell, got %q", side))
	}

	market, err := e.storage.MarketByID(marketID)
	if err != nil {
		if errors.Is(err, ledger.ErrMarketNotFound) {
			return nil, newErr(CategoryPrecondition, "market_not_found", err)
		}
		return nil, err
	}
	if !market.Active {
		return nil, newErr(CategoryPrecondition, "market_not_found", fmt.Errorf("market %s is inactive", marketID))
	}

	lockCoin := market.QuoteCoin
	required := price.Mul(amount)
	opposite := ledger.SideSell
	if side == ledger.SideSell {
		lockCoin = market.BaseCoin
		opposite = ledger.SideBuy
		required = amount
	}

	// A match pass can credit/debit both coins of every resting order it
	// crosses, not just this order's own lock coin, so the lock set covers
	// this user's own pair plus every currently resting counterparty's
	// pair, acquired once in canonical order before the transaction below
	// opens. The matcher (see matching.Engine.Match) relies on this set
	// already being held and does not lock balances itself.
	resting, err := e.storage.OpenOrdersByMarket(marketID, opposite)
	if err != nil {
		return nil, err
	}
	lockKeys := make([]ledger.BalanceKey, 0, 2+2*len(resting))
	lockKeys = append(lockKeys,
		ledger.BalanceKey{UserID: userID, CoinSymbol: market.BaseCoin},
		ledger.BalanceKey{UserID: userID, CoinSymbol: market.QuoteCoin},
	)
	for _, o := range resting {
		lockKeys = append(lockKeys,
			ledger.BalanceKey{UserID: o.UserID, CoinSymbol: market.BaseCoin},
			ledger.BalanceKey{UserID: o.UserID, CoinSymbol: market.QuoteCoin},
		)
	}

	unlockBal := e.storage.Locks().LockBalances(lockKeys...)
	defer unlockBal.Unlock()

	var order *ledger.Order
	var fills []matching.Fill

	err = e.storage.WithTx(ctx, func(tx *sql.Tx) error {
		bal, err := ledger.GetOrCreateBalanceTx(tx, userID, lockCoin)
		if err != nil {
			return err
		}
		if bal.Available.Cmp(required) < 0 {
			security.LogEvent(e.log, "insufficient_balance_order", false,
				"user_id", userID, "side", side, "market_id", marketID,
				"required", required.String(), "available", bal.Available.String())
			return newErr(CategoryInsufficient, "insufficient_balance", nil)
		}
		bal.Available = bal.Available.Sub(required)
		bal.Locked = bal.Locked.Add(required)
		if err := ledger.SaveBalanceTx(tx, bal); err != nil {
			return err
		}

		order = ledger.NewOrder(userID, marketID, side, price, amount)
		if err := ledger.InsertOrderTx(tx, order); err != nil {
			return err
		}

		fills, err = e.matcher.Match(tx, marketID, order.ID)
		if err != nil {
			return err
		}

		order, err = ledger.OrderByIDTx(tx, order.ID)
		return err
	})
	if err != nil {
		var exErr *Error
		if As(err, &exErr) {
			return nil, exErr
		}
		return nil, err
	}

	security.LogEvent(e.log, "order_placed", false,
		"user_id", userID, "order_id", order.ID, "market_id", marketID,
		"side", side, "price", price.String(), "amount", amount.String())

	return &PlaceOrderResult{
		OrderID:   order.ID,
		Status:    order.Status,
		Filled:    order.Amount.Sub(order.Remaining),
		Remaining: order.Remaining,
		Trades:    fills,
	}, nil
}

// CancelOrder cancels an open or partially-filled order owned by userID,
// refunding whatever remains locked against it.
func (e *Exchange) CancelOrder(ctx context.Context, userID, orderID string) error {
	order, err := e.storage.OrderByID(orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			return newErr(CategoryPrecondition, "not_found", err)
		}
		return err
	}
	if order.UserID != userID {
		return newErr(CategoryAuthorization, "not_found", nil) // do not leak existence to non-owners
	}
	if order.Status.IsTerminal() {
		return newErr(CategoryPrecondition, "already_terminal", fmt.Errorf("order already %s", order.Status))
	}

	market, err := e.storage.MarketByID(order.MarketID)
	if err != nil {
		return err
	}

	refundCoin := market.QuoteCoin
	refund := order.Price.Mul(order.Remaining)
	if order.Side == ledger.SideSell {
		refundCoin = market.BaseCoin
		refund = order.Remaining
	}

	unlockBal := e.storage.Locks().LockBalances(ledger.BalanceKey{UserID: userID, CoinSymbol: refundCoin})
	defer unlockBal.Unlock()

	err = e.storage.WithTx(ctx, func(tx *sql.Tx) error {
		ord, err := ledger.OrderByIDTx(tx, orderID)
		if err != nil {
			return err
		}
		if ord.Status.IsTerminal() {
			return newErr(CategoryPrecondition, "already_terminal", fmt.Errorf("order already %s", ord.Status))
		}

		bal, err := ledger.GetOrCreateBalanceTx(tx, userID, refundCoin)
		if err != nil {
			return err
		}
		bal.Locked = bal.Locked.Sub(refund)
		bal.Available = bal.Available.Add(refund)
		if err := ledger.SaveBalanceTx(tx, bal); err != nil {
			return err
		}

		ord.Status = ledger.OrderCancelled
		return ledger.UpdateOrderTx(tx, ord)
	})
	if err != nil {
		var exErr *Error
		if As(err, &exErr) {
			return exErr
		}
		return err
	}

	security.LogEvent(e.log, "order_cancelled", false, "user_id", userID, "order_id", orderID, "market_id", order.MarketID)
	return nil
}
