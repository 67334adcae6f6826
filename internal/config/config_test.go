package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	btc, err := Lookup("btc")
	if err != nil {
		t.Fatalf("Lookup(btc): %v", err)
	}
	if btc.Symbol != "BTC" || btc.Type != CoinTypeBitcoin || btc.Decimals != 8 {
		t.Errorf("unexpected BTC entry: %+v", btc)
	}

	xmr, err := Lookup("XMR")
	if err != nil {
		t.Fatalf("Lookup(XMR): %v", err)
	}
	if xmr.Type != CoinTypeMonero || xmr.Decimals != 12 {
		t.Errorf("unexpected XMR entry: %+v", xmr)
	}

	if _, err := Lookup("NOPE"); err == nil {
		t.Error("expected error for unsupported coin")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MinConfirm != MinConfirmations {
		t.Errorf("MinConfirm = %d, want %d", cfg.MinConfirm, MinConfirmations)
	}
	if cfg.DefaultFeeRate != DefaultFeeRate.String() {
		t.Errorf("DefaultFeeRate = %s, want %s", cfg.DefaultFeeRate, DefaultFeeRate.String())
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "data_dir: /tmp/exchanged\nlisten_addr: 0.0.0.0:9090\nmin_confirmations: 6\ndefault_fee_rate: \"0.002\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/exchanged" || cfg.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if cfg.MinConfirm != 6 {
		t.Errorf("MinConfirm = %d, want 6", cfg.MinConfirm)
	}
}

func TestApplyEnvCoinNodes(t *testing.T) {
	t.Setenv("BTC_NODE_HOST", "127.0.0.1")
	t.Setenv("BTC_NODE_PORT", "8332")
	t.Setenv("BTC_NODE_USER", "rpcuser")
	t.Setenv("BTC_NODE_PASS", "rpcpass")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var found bool
	for _, n := range cfg.CoinNodes {
		if n.Coin == "BTC" {
			found = true
			if n.Host != "127.0.0.1" || n.Port != 8332 || n.NodeType != "btc" {
				t.Errorf("unexpected BTC coin node entry: %+v", n)
			}
		}
	}
	if !found {
		t.Error("expected BTC coin node to be populated from environment")
	}
}
