package coinnode

import (
	"testing"

	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/ledger"
)

func newTestRegistryStorage(t *testing.T) *ledger.Storage {
	t.Helper()
	s, err := ledger.New(&ledger.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="monero-rpc", nonce="abc123", qop="auth", opaque="xyz"`
	d := parseDigestChallenge(header)
	if d.realm != "monero-rpc" || d.nonce != "abc123" || d.qop != "auth" || d.opaque != "xyz" {
		t.Errorf("unexpected digest state: %+v", d)
	}
}

func TestRegistryBuildsBitcoinFamilyNode(t *testing.T) {
	cfg := config.Default()
	cfg.CoinNodes = []config.CoinNodeEnv{
		{Coin: "BTC", NodeType: "btc", Host: "127.0.0.1", Port: 8332, User: "u", Pass: "p"},
	}
	reg := NewRegistry(cfg, newTestRegistryStorage(t))

	node, err := reg.Get("btc")
	if err != nil {
		t.Fatalf("Get(btc): %v", err)
	}
	if _, ok := node.(*BitcoinNode); !ok {
		t.Errorf("expected *BitcoinNode, got %T", node)
	}

	// Cached: a second Get returns the same instance.
	node2, err := reg.Get("BTC")
	if err != nil {
		t.Fatalf("Get(BTC): %v", err)
	}
	if node != node2 {
		t.Error("expected cached node to be reused")
	}
}

func TestRegistryMissingNode(t *testing.T) {
	reg := NewRegistry(config.Default(), newTestRegistryStorage(t))
	if _, err := reg.Get("ETH"); err == nil {
		t.Error("expected error for unconfigured coin node")
	}
}

func TestRegistryInvalidate(t *testing.T) {
	cfg := config.Default()
	cfg.CoinNodes = []config.CoinNodeEnv{
		{Coin: "XMR", NodeType: "monero", Host: "127.0.0.1", Port: 18082},
	}
	reg := NewRegistry(cfg, newTestRegistryStorage(t))

	n1, err := reg.Get("XMR")
	if err != nil {
		t.Fatalf("Get(XMR): %v", err)
	}
	reg.Invalidate("XMR")
	n2, err := reg.Get("XMR")
	if err != nil {
		t.Fatalf("Get(XMR) after invalidate: %v", err)
	}
	if n1 == n2 {
		t.Error("expected a fresh node instance after Invalidate")
	}
}
