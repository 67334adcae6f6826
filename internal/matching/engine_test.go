package matching

import (
	"context"
	"database/sql"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Storage) {
	t.Helper()
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	log := logging.New(&logging.Config{Level: "error"})
	return New(storage, log), storage
}

func fund(t *testing.T, storage *ledger.Storage, userID, coin string, amount money.Amount) {
	t.Helper()
	err := storage.WithTx(context.Background(), func(tx *sql.Tx) error {
		b, err := ledger.GetOrCreateBalanceTx(tx, userID, coin)
		if err != nil {
			return err
		}
		b.Total = b.Total.Add(amount)
		b.Available = b.Available.Add(amount)
		return ledger.SaveBalanceTx(tx, b)
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

// place locks the required side's balance and inserts an order directly,
// bypassing internal/exchange so these tests can drive Match without
// running a full placement pass.
func place(t *testing.T, storage *ledger.Storage, market *ledger.Market, userID string, side ledger.Side, price, amount money.Amount) *ledger.Order {
	t.Helper()
	lockCoin := market.QuoteCoin
	required := price.Mul(amount)
	if side == ledger.SideSell {
		lockCoin = market.BaseCoin
		required = amount
	}

	var order *ledger.Order
	err := storage.WithTx(context.Background(), func(tx *sql.Tx) error {
		bal, err := ledger.GetOrCreateBalanceTx(tx, userID, lockCoin)
		if err != nil {
			return err
		}
		bal.Available = bal.Available.Sub(required)
		bal.Locked = bal.Locked.Add(required)
		if err := ledger.SaveBalanceTx(tx, bal); err != nil {
			return err
		}
		order = ledger.NewOrder(userID, market.ID, side, price, amount)
		return ledger.InsertOrderTx(tx, order)
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return order
}

func TestMatchCrossesAtRestingPriceNotTakerLimit(t *testing.T) {
	e, storage := newTestEngine(t)
	market, err := storage.CreateMarket("BTC", "USDT", money.MustParse("0.01"))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	fund(t, storage, "maker", "BTC", money.MustParse("10"))
	fund(t, storage, "taker", "USDT", money.MustParse("1000"))

	sell := place(t, storage, market, "maker", ledger.SideSell, money.MustParse("9"), money.MustParse("5"))
	buy := place(t, storage, market, "taker", ledger.SideBuy, money.MustParse("10"), money.MustParse("5"))

	var fills []Fill
	err = storage.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		fills, err = e.Match(tx, market.ID, buy.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(fills))
	}
	if fills[0].Price.String() != "9" {
		t.Fatalf("expected trade to clear at the resting sell's price of 9, got %s", fills[0].Price)
	}

	buyerQuote, err := storage.Balance("taker", "USDT")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	// Taker locked 10*5=50 USDT at their limit price but the trade only
	// cost 9*5=45; the 5 USDT difference must be refunded to available.
	if buyerQuote.Available.String() != "955" {
		t.Fatalf("expected price-improvement refund leaving 955 available, got %s", buyerQuote.Available)
	}

	sellOrder, err := storage.OrderByID(sell.ID)
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if sellOrder.Status != ledger.OrderFilled {
		t.Fatalf("expected maker order filled, got %s", sellOrder.Status)
	}
}

func TestMatchPartiallyFillsAgainstMultipleMakers(t *testing.T) {
	e, storage := newTestEngine(t)
	market, err := storage.CreateMarket("BTC", "USDT", money.Zero)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	fund(t, storage, "maker-1", "BTC", money.MustParse("10"))
	fund(t, storage, "maker-2", "BTC", money.MustParse("10"))
	fund(t, storage, "taker", "USDT", money.MustParse("1000"))

	place(t, storage, market, "maker-1", ledger.SideSell, money.MustParse("10"), money.MustParse("2"))
	place(t, storage, market, "maker-2", ledger.SideSell, money.MustParse("10"), money.MustParse("2"))
	buy := place(t, storage, market, "taker", ledger.SideBuy, money.MustParse("10"), money.MustParse("3"))

	var fills []Fill
	err = storage.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		fills, err = e.Match(tx, market.ID, buy.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected the taker to cross two resting orders, got %d fills", len(fills))
	}

	buyOrder, err := storage.OrderByID(buy.ID)
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if buyOrder.Status != ledger.OrderFilled {
		t.Fatalf("expected taker order fully filled, got %s", buyOrder.Status)
	}
}

func TestMatchLeavesNonCrossingBooksUntouched(t *testing.T) {
	e, storage := newTestEngine(t)
	market, err := storage.CreateMarket("BTC", "USDT", money.Zero)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	fund(t, storage, "maker", "BTC", money.MustParse("10"))
	fund(t, storage, "taker", "USDT", money.MustParse("1000"))

	place(t, storage, market, "maker", ledger.SideSell, money.MustParse("20"), money.MustParse("5"))
	buy := place(t, storage, market, "taker", ledger.SideBuy, money.MustParse("10"), money.MustParse("5"))

	var fills []Fill
	err = storage.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		fills, err = e.Match(tx, market.ID, buy.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills when book doesn't cross, got %d", len(fills))
	}

	buyOrder, err := storage.OrderByID(buy.ID)
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if buyOrder.Status != ledger.OrderOpen {
		t.Fatalf("expected order to remain open, got %s", buyOrder.Status)
	}
}
