// Package matching implements the per-market price-time priority order
// matcher. It runs inside the same transaction as the order that
// triggered it, after that order is inserted and its funds are locked.
package matching

import (
	"database/sql"
	"fmt"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

// Fill describes one trade produced by a matching pass, in the shape the
// order-placement response surfaces to the caller.
type Fill struct {
	Price     money.Amount
	Amount    money.Amount
	TradeID   string
	Timestamp int64
}

// Engine runs matching passes against one ledger, serialized per market
// by the ledger's lock manager.
type Engine struct {
	storage *ledger.Storage
	log     *logging.Logger
}

// New returns a matching Engine backed by storage.
func New(storage *ledger.Storage, log *logging.Logger) *Engine {
	return &Engine{storage: storage, log: log.Component("matching")}
}

// Match acquires marketID's exclusive lease, walks the two opposing
// books, and applies every trade it produces within tx. It is the
// caller's responsibility to run this inside the same transaction that
// inserted the triggering order; Match never begins or ends a
// transaction itself. The lease is released when Match returns, before
// that transaction commits.
//
// Every balance row a pass may touch (both coins of the triggering
// order's user and of every resting order on the opposite side of the
// book) must already be held via storage.Locks().LockBalances before tx was opened, in
// canonical order, per balances.go's read-modify-write contract. Match
// does not acquire those locks itself: by the time it runs, the
// triggering order's own deduction earlier in the same transaction
// already holds its key, and LockBalances' mutexes are not reentrant,
// so a second acquisition from the same goroutine would deadlock. See
// exchange.PlaceOrder, the only caller, for where the lock set is
// built from a pre-transaction snapshot of the opposing book.
//
// It returns the fills produced against the order identified by
// triggerOrderID, in match order, for the caller to report back to the
// placing client.
func (e *Engine) Match(tx *sql.Tx, marketID, triggerOrderID string) ([]Fill, error) {
	unlock := e.storage.Locks().LockMarket(marketID)
	defer unlock()

	market, err := e.storage.MarketByID(marketID)
	if err != nil {
		return nil, fmt.Errorf("matching: load market: %w", err)
	}

	buys, err := ledger.OpenBuyOrdersTx(tx, marketID)
	if err != nil {
		return nil, fmt.Errorf("matching: load buys: %w", err)
	}
	sells, err := ledger.OpenSellOrdersTx(tx, marketID)
	if err != nil {
		return nil, fmt.Errorf("matching: load sells: %w", err)
	}

	feeRate := market.FeeRate
	if feeRate.IsZero() {
		feeRate = money.Zero // zero-fee markets are explicitly allowed; no fallback override here
	}

	var fills []Fill

	for _, buy := range buys {
		if buy.Remaining.IsZero() {
			continue
		}

		for _, sell := range sells {
			if sell.Remaining.IsZero() {
				continue
			}
			if sell.Price.Cmp(buy.Price) > 0 {
				break // book is sorted ascending by price; no later sell can match
			}

			tradePrice := sell.Price
			tradeAmount := minAmount(buy.Remaining, sell.Remaining)
			quoteVolume := tradePrice.Mul(tradeAmount)
			baseFee := tradeAmount.Mul(feeRate)
			quoteFee := quoteVolume.Mul(feeRate)

			if err := applyBuyerDeltas(tx, buy, market, tradePrice, tradeAmount, quoteVolume, baseFee); err != nil {
				return nil, err
			}
			if err := applySellerDeltas(tx, sell, market, quoteVolume, tradeAmount, quoteFee); err != nil {
				return nil, err
			}

			trade, err := ledger.InsertTradeTx(tx, marketID, buy.ID, sell.ID, tradePrice, tradeAmount)
			if err != nil {
				return nil, err
			}
			if err := ledger.InsertFeeTx(tx, trade.ID, market.BaseCoin, baseFee); err != nil {
				return nil, err
			}
			if err := ledger.InsertFeeTx(tx, trade.ID, market.QuoteCoin, quoteFee); err != nil {
				return nil, err
			}
			if err := ledger.CreditFeePoolTx(tx, market.BaseCoin, baseFee); err != nil {
				return nil, err
			}
			if err := ledger.CreditFeePoolTx(tx, market.QuoteCoin, quoteFee); err != nil {
				return nil, err
			}

			buy.Remaining = buy.Remaining.Sub(tradeAmount)
			sell.Remaining = sell.Remaining.Sub(tradeAmount)
			settleOrderStatus(buy)
			settleOrderStatus(sell)

			if err := ledger.UpdateOrderTx(tx, buy); err != nil {
				return nil, err
			}
			if err := ledger.UpdateOrderTx(tx, sell); err != nil {
				return nil, err
			}

			e.log.Info("trade matched", "market", marketID, "trade_id", trade.ID,
				"price", tradePrice.String(), "amount", tradeAmount.String())

			if buy.ID == triggerOrderID || sell.ID == triggerOrderID {
				fills = append(fills, Fill{
					Price: tradePrice, Amount: tradeAmount, TradeID: trade.ID,
					Timestamp: trade.CreatedAt.Unix(),
				})
			}

			if buy.Remaining.IsZero() {
				break
			}
		}
	}

	return fills, nil
}

// applyBuyerDeltas credits the buyer's base balance (minus fee) and
// reconciles their locked quote, refunding any price-improvement
// difference between the order's limit price and the trade's execution
// price.
func applyBuyerDeltas(tx *sql.Tx, buy *ledger.Order, market *ledger.Market, tradePrice, tradeAmount, quoteVolume, baseFee money.Amount) error {
	buyerBase, err := ledger.GetOrCreateBalanceTx(tx, buy.UserID, market.BaseCoin)
	if err != nil {
		return err
	}
	netBase := tradeAmount.Sub(baseFee)
	buyerBase.Available = buyerBase.Available.Add(netBase)
	buyerBase.Total = buyerBase.Total.Add(netBase)
	if err := ledger.SaveBalanceTx(tx, buyerBase); err != nil {
		return err
	}

	buyerQuote, err := ledger.GetOrCreateBalanceTx(tx, buy.UserID, market.QuoteCoin)
	if err != nil {
		return err
	}
	buyerQuote.Locked = buyerQuote.Locked.Sub(quoteVolume)

	lockedAtOrderPrice := buy.Price.Mul(tradeAmount)
	unusedLocked := lockedAtOrderPrice.Sub(quoteVolume)
	if unusedLocked.Sign() > 0 {
		buyerQuote.Available = buyerQuote.Available.Add(unusedLocked)
	}
	buyerQuote.Total = buyerQuote.Available.Add(buyerQuote.Locked)
	return ledger.SaveBalanceTx(tx, buyerQuote)
}

// applySellerDeltas credits the seller's quote balance (minus fee) and
// releases the base funds locked against their order.
func applySellerDeltas(tx *sql.Tx, sell *ledger.Order, market *ledger.Market, quoteVolume, tradeAmount, quoteFee money.Amount) error {
	sellerQuote, err := ledger.GetOrCreateBalanceTx(tx, sell.UserID, market.QuoteCoin)
	if err != nil {
		return err
	}
	netQuote := quoteVolume.Sub(quoteFee)
	sellerQuote.Available = sellerQuote.Available.Add(netQuote)
	sellerQuote.Total = sellerQuote.Total.Add(netQuote)
	if err := ledger.SaveBalanceTx(tx, sellerQuote); err != nil {
		return err
	}

	sellerBase, err := ledger.GetOrCreateBalanceTx(tx, sell.UserID, market.BaseCoin)
	if err != nil {
		return err
	}
	sellerBase.Locked = sellerBase.Locked.Sub(tradeAmount)
	sellerBase.Total = sellerBase.Available.Add(sellerBase.Locked)
	return ledger.SaveBalanceTx(tx, sellerBase)
}

func settleOrderStatus(o *ledger.Order) {
	switch {
	case o.Remaining.IsZero():
		o.Status = ledger.OrderFilled
	case o.Remaining.Cmp(o.Amount) < 0:
		o.Status = ledger.OrderPartiallyFilled
	}
}

func minAmount(a, b money.Amount) money.Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
