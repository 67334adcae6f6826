package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/money"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserCreateAndLookup(t *testing.T) {
	s := newTestStorage(t)
	u, err := s.CreateUser(HashAPIKey("raw-key"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := s.UserByAPIKeyHash(HashAPIKey("raw-key"))
	if err != nil {
		t.Fatalf("UserByAPIKeyHash: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got id %s, want %s", got.ID, u.ID)
	}
	if _, err := s.UserByAPIKeyHash("nope"); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBalanceGetOrCreateAndSave(t *testing.T) {
	s := newTestStorage(t)
	u, _ := s.CreateUser(HashAPIKey("k1"))

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		b, err := GetOrCreateBalanceTx(tx, u.ID, "BTC")
		if err != nil {
			return err
		}
		b.Total = money.MustParse("10")
		b.Available = money.MustParse("10")
		return SaveBalanceTx(tx, b)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	b, err := s.Balance(u.ID, "BTC")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Total.String() != "10" || b.Available.String() != "10" || b.Locked.String() != "0" {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestSaveBalanceRejectsIntegrityViolation(t *testing.T) {
	s := newTestStorage(t)
	u, _ := s.CreateUser(HashAPIKey("k2"))

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		b := &Balance{UserID: u.ID, CoinSymbol: "BTC", Total: money.MustParse("5"), Available: money.MustParse("10"), Locked: 0}
		return SaveBalanceTx(tx, b)
	})
	if err == nil {
		t.Fatal("expected integrity violation error")
	}
}

func TestMarketCreateAndDuplicate(t *testing.T) {
	s := newTestStorage(t)
	m, err := s.CreateMarket("BTC", "USD", money.MustParse("0.001"))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if m.BaseCoin != "BTC" || m.QuoteCoin != "USD" {
		t.Errorf("unexpected market: %+v", m)
	}

	_, err = s.CreateMarket("BTC", "USD", money.MustParse("0.002"))
	var exists *ErrMarketExists
	if err == nil {
		t.Fatal("expected duplicate market error")
	}
	if !asErrMarketExists(err, &exists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
	if exists.Existing.ID != m.ID {
		t.Errorf("existing id mismatch")
	}

	if _, err := s.CreateMarket("BTC", "BTC", money.Zero); err == nil {
		t.Error("expected error for base == quote")
	}
}

func asErrMarketExists(err error, target **ErrMarketExists) bool {
	if e, ok := err.(*ErrMarketExists); ok {
		*target = e
		return true
	}
	return false
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestStorage(t)
	u, _ := s.CreateUser(HashAPIKey("k3"))
	m, _ := s.CreateMarket("BTC", "USD", money.MustParse("0.001"))

	o := NewOrder(u.ID, m.ID, SideBuy, money.MustParse("1"), money.MustParse("10"))
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertOrderTx(tx, o)
	})
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}

	got, err := s.OrderByID(o.ID)
	if err != nil {
		t.Fatalf("OrderByID: %v", err)
	}
	if got.Status != OrderOpen || got.Remaining.String() != "10" {
		t.Errorf("unexpected order: %+v", got)
	}

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		ord, err := OrderByIDTx(tx, o.ID)
		if err != nil {
			return err
		}
		ord.Remaining = money.Zero
		ord.Status = OrderFilled
		return UpdateOrderTx(tx, ord)
	})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}

	got, _ = s.OrderByID(o.ID)
	if got.Status != OrderFilled || !got.Remaining.IsZero() {
		t.Errorf("expected filled order with zero remaining, got %+v", got)
	}
}

func TestOpenOrdersSortedByPriceTimePriority(t *testing.T) {
	s := newTestStorage(t)
	u, _ := s.CreateUser(HashAPIKey("k4"))
	m, _ := s.CreateMarket("BTC", "USD", money.MustParse("0.001"))

	prices := []string{"1.00", "1.05", "0.95"}
	var ids []string
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		for _, p := range prices {
			o := NewOrder(u.ID, m.ID, SideSell, money.MustParse(p), money.MustParse("1"))
			if err := InsertOrderTx(tx, o); err != nil {
				return err
			}
			ids = append(ids, o.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert orders: %v", err)
	}

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		orders, err := OpenSellOrdersTx(tx, m.ID)
		if err != nil {
			return err
		}
		if len(orders) != 3 {
			t.Fatalf("expected 3 open sells, got %d", len(orders))
		}
		if orders[0].Price.String() != "0.95" || orders[2].Price.String() != "1.05" {
			t.Errorf("sells not sorted ascending by price: %v, %v, %v",
				orders[0].Price, orders[1].Price, orders[2].Price)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func TestFeePoolCreditAndDebit(t *testing.T) {
	s := newTestStorage(t)
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		if err := CreditFeePoolTx(tx, "BTC", money.MustParse("1")); err != nil {
			return err
		}
		return CreditFeePoolTx(tx, "BTC", money.MustParse("0.5"))
	})
	if err != nil {
		t.Fatalf("credit fee pool: %v", err)
	}

	bal, err := s.FeePoolBalance("BTC")
	if err != nil {
		t.Fatalf("FeePoolBalance: %v", err)
	}
	if bal.String() != "1.5" {
		t.Errorf("fee pool = %s, want 1.5", bal)
	}

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return DebitFeePoolTx(tx, "BTC", money.MustParse("10"))
	})
	if err != ErrInsufficientFeePool {
		t.Errorf("expected ErrInsufficientFeePool, got %v", err)
	}
}

func TestChainTransactionDedup(t *testing.T) {
	s := newTestStorage(t)
	u, _ := s.CreateUser(HashAPIKey("k5"))

	insert := func() error {
		return s.WithTx(context.Background(), func(tx *sql.Tx) error {
			_, err := InsertChainTransactionTx(tx, u.ID, "BTC", DirectionReceived, "txid-1", money.MustParse("1"))
			return err
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); err != ErrDuplicateTxID {
		t.Errorf("expected ErrDuplicateTxID on replay, got %v", err)
	}
}

func TestLockManagerCanonicalOrdering(t *testing.T) {
	lm := NewLockManager()
	set := lm.LockBalances(
		BalanceKey{UserID: "b", CoinSymbol: "BTC"},
		BalanceKey{UserID: "a", CoinSymbol: "BTC"},
		BalanceKey{UserID: "a", CoinSymbol: "BTC"}, // duplicate, should be deduped
	)
	if len(set.mutexes) != 2 {
		t.Errorf("expected 2 distinct locks, got %d", len(set.mutexes))
	}
	if len(set.mutexes) > 0 && set.mutexes[0] != lm.mutexFor(balanceLockKey("a", "BTC")) {
		t.Errorf("expected a:BTC to be locked first despite being passed second")
	}
	set.Unlock()
}
