package identity

import (
	"context"
	"testing"

	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

func newTestIdentity(t *testing.T) (*Identity, *ledger.Storage) {
	t.Helper()
	storage, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	log := logging.New(&logging.Config{Level: "error"})
	return New(storage, log), storage
}

func TestCreateAccountThenAuthenticateRoundTrips(t *testing.T) {
	id, _ := newTestIdentity(t)

	rawKey, user, err := id.CreateAccount()
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if len(rawKey) != keyBytes*2 {
		t.Fatalf("expected a %d character hex key, got %d", keyBytes*2, len(rawKey))
	}

	got, err := id.Authenticate(rawKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected to authenticate as %s, got %s", user.ID, got.ID)
	}
}

func TestAuthenticateRejectsMalformedKey(t *testing.T) {
	id, _ := newTestIdentity(t)
	if _, err := id.Authenticate("not-hex"); err != ErrInvalidAPIKey {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestAuthenticateRejectsUnrecognizedKey(t *testing.T) {
	id, _ := newTestIdentity(t)
	fake := ""
	for i := 0; i < keyBytes*2; i++ {
		fake += "a"
	}
	if _, err := id.Authenticate(fake); err != ErrInvalidAPIKey {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestGenerateAddressRejectsUnknownCoin(t *testing.T) {
	id, storage := newTestIdentity(t)
	nodes := coinnode.NewRegistry(config.Default(), storage)

	_, err := id.GenerateAddress(context.Background(), nodes, "user-1", "NOPE")
	if err == nil {
		t.Fatal("expected error for unknown coin symbol")
	}
}

func TestGenerateAddressRejectsUnconfiguredNode(t *testing.T) {
	id, storage := newTestIdentity(t)
	nodes := coinnode.NewRegistry(config.Default(), storage)

	_, err := id.GenerateAddress(context.Background(), nodes, "user-1", "BTC")
	if err == nil {
		t.Fatal("expected error for a coin with no configured node")
	}
}
