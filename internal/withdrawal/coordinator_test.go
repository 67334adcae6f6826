package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/money"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

const testAddr = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

func newTestCoordinator(t *testing.T) (*Coordinator, *ledger.Storage) {
	t.Helper()
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	nodes := coinnode.NewRegistry(config.Default(), storage)
	log := logging.New(&logging.Config{Level: "error"})
	return New(storage, nodes, log), storage
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

func TestWithdrawRejectsUnknownCoin(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Withdraw(context.Background(), "user-1", "NOPE", testAddr, money.MustParse("1"))
	var wErr *Error
	if !(errors.As(err, &wErr)) || wErr.Category != CategoryValidation {
		t.Fatalf("expected CategoryValidation, got %v", err)
	}
}

func TestWithdrawRejectsInvalidAddress(t *testing.T) {
	c, storage := newTestCoordinator(t)
	fund(t, storage, "user-1", "BTC", money.MustParse("1"))
	_, err := c.Withdraw(context.Background(), "user-1", "BTC", "not-an-address", money.MustParse("1"))
	var wErr *Error
	if !(errors.As(err, &wErr)) || wErr.Category != CategoryValidation {
		t.Fatalf("expected CategoryValidation, got %v", err)
	}
}

func TestWithdrawRejectsInsufficientBalance(t *testing.T) {
	c, storage := newTestCoordinator(t)
	// A configured node lets the request get past node lookup to the
	// balance check; the node is never contacted.
	cfg := config.Default()
	cfg.CoinNodes = []config.CoinNodeEnv{{Coin: "BTC", NodeType: "btc", Host: "127.0.0.1", Port: 1}}
	c.nodes = coinnode.NewRegistry(cfg, storage)
	_, err := c.Withdraw(context.Background(), "user-1", "BTC", testAddr, money.MustParse("1"))
	var wErr *Error
	if !(errors.As(err, &wErr)) || wErr.Category != CategoryInsufficient {
		t.Fatalf("expected CategoryInsufficient, got %v", err)
	}
}

func TestWithdrawRejectsWhenNodeUnconfigured(t *testing.T) {
	c, storage := newTestCoordinator(t)
	fund(t, storage, "user-1", "BTC", money.MustParse("1"))

	_, err := c.Withdraw(context.Background(), "user-1", "BTC", testAddr, money.MustParse("1"))
	var wErr *Error
	if !(errors.As(err, &wErr)) || wErr.Category != CategoryExternal {
		t.Fatalf("expected CategoryExternal for unconfigured node, got %v", err)
	}

	// The node lookup fails before any transaction opens, so the balance
	// was never touched in the first place.
	bal, err := storage.Balance("user-1", "BTC")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Available.String() != "1" || bal.Total.String() != "1" {
		t.Fatalf("expected balance untouched, got available=%s total=%s", bal.Available, bal.Total)
	}
}

func TestWithdrawSendsAndRecordsTransaction(t *testing.T) {
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":"deadbeefcafe","error":null}`)
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("split host/port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	cfg := config.Default()
	cfg.CoinNodes = []config.CoinNodeEnv{{Coin: "BTC", NodeType: "btc", Host: host, Port: port}}
	nodes := coinnode.NewRegistry(cfg, storage)
	log := logging.New(&logging.Config{Level: "error"})
	c := New(storage, nodes, log)

	fund(t, storage, "user-1", "BTC", money.MustParse("2"))

	result, err := c.Withdraw(context.Background(), "user-1", "BTC", testAddr, money.MustParse("1.5"))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if result.TxID != "deadbeefcafe" {
		t.Fatalf("expected txid deadbeefcafe, got %s", result.TxID)
	}

	bal, err := storage.Balance("user-1", "BTC")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Available.String() != "0.5" || bal.Total.String() != "0.5" {
		t.Fatalf("expected 0.5/0.5 available/total after withdrawal, got %s/%s", bal.Available, bal.Total)
	}

	txs, err := storage.TransactionsByUser("user-1", "")
	if err != nil {
		t.Fatalf("TransactionsByUser: %v", err)
	}
	if len(txs) != 1 || txs[0].TxID != "deadbeefcafe" || txs[0].Direction != ledger.DirectionSent {
		t.Fatalf("expected one recorded sent transaction, got %+v", txs)
	}
}
