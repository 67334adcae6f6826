package depositsync

import (
	"testing"
	"time"

	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

func newTestLoop(t *testing.T) (*Loop, *ledger.Storage) {
	t.Helper()
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	log := logging.New(&logging.Config{Level: "error"})
	l := New(storage, nil, Config{PollInterval: time.Hour, MinConfirmations: 1}, log)
	return l, storage
}

func TestAtomicToAmountConvertsBySatoshiScale(t *testing.T) {
	amt, err := atomicToAmount("100000000", 8)
	if err != nil {
		t.Fatalf("atomicToAmount: %v", err)
	}
	if amt.String() != "1" {
		t.Fatalf("expected 1, got %s", amt)
	}

	amt, err = atomicToAmount("1", 8)
	if err != nil {
		t.Fatalf("atomicToAmount: %v", err)
	}
	if amt.String() != "0.00000001" {
		t.Fatalf("expected 0.00000001, got %s", amt)
	}
}

func TestAtomicToAmountRejectsNonNumeric(t *testing.T) {
	if _, err := atomicToAmount("not-a-number", 8); err == nil {
		t.Fatal("expected error for non-numeric atomic amount")
	}
}

func TestCreditIsIdempotentOnDuplicateTxID(t *testing.T) {
	l, storage := newTestLoop(t)
	_, err := storage.CreateAddress("user-1", "BTC", "addr-1", -1)
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}

	credited, err := l.credit("user-1", "BTC", "txid-1", money.MustParse("1"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !credited {
		t.Fatal("expected first credit to apply")
	}

	credited, err = l.credit("user-1", "BTC", "txid-1", money.MustParse("1"))
	if err != nil {
		t.Fatalf("credit (duplicate): %v", err)
	}
	if credited {
		t.Fatal("expected duplicate txid to be skipped")
	}

	bal, err := storage.Balance("user-1", "BTC")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Total.String() != "1" || bal.Available.String() != "1" {
		t.Fatalf("expected balance credited exactly once, got total=%s available=%s", bal.Total, bal.Available)
	}
}

func TestResolveAddressByValueAndIndex(t *testing.T) {
	l, storage := newTestLoop(t)
	if _, err := storage.CreateAddress("user-1", "BTC", "addr-1", -1); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	if _, err := storage.CreateAddress("user-2", "XMR", "addr-2", 7); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}

	addr, err := l.resolveAddress("BTC", transferAt("addr-1", -1))
	if err != nil {
		t.Fatalf("resolveAddress by value: %v", err)
	}
	if addr.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", addr.UserID)
	}

	addr, err = l.resolveAddress("XMR", transferAt("addr-2", 7))
	if err != nil {
		t.Fatalf("resolveAddress by index: %v", err)
	}
	if addr.UserID != "user-2" {
		t.Fatalf("expected user-2, got %s", addr.UserID)
	}
}

func transferAt(address string, index int) coinnode.Transfer {
	return coinnode.Transfer{Address: address, AddressIndex: index}
}

// TestSyncAllSkipsWithNoConfiguredCoins exercises the idle path where no
// coin has an enabled coin_nodes record yet.
func TestSyncAllSkipsWithNoConfiguredCoins(t *testing.T) {
	l, _ := newTestLoop(t)
	l.syncAll()
}
