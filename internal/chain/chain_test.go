package chain

import "testing"

func TestLookupKnownCoins(t *testing.T) {
	for _, symbol := range []string{"BTC", "LTC", "DOGE", "XMR", "ETH"} {
		if _, err := Lookup(symbol); err != nil {
			t.Errorf("Lookup(%s): %v", symbol, err)
		}
	}
	if _, err := Lookup("NOPE"); err == nil {
		t.Error("expected error for unregistered coin")
	}
}

func TestValidateAddressBitcoin(t *testing.T) {
	cases := []struct {
		symbol  string
		addr    string
		wantErr bool
	}{
		{"BTC", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", false},
		{"BTC", "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", false},
		{"BTC", "not-an-address", true},
		{"LTC", "LhiAtiBd4tgACD6oksKsiQpHfBCndDQ8mc", false},
		{"DOGE", "DBXu2kgc3xtvCUWFcxFE3r9hEYgmuaaCyD", false},
	}
	for _, c := range cases {
		err := ValidateAddress(c.symbol, c.addr)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateAddress(%s, %s) error = %v, wantErr %v", c.symbol, c.addr, err, c.wantErr)
		}
	}
}

func TestValidateAddressEVM(t *testing.T) {
	if err := ValidateAddress("ETH", "0x000000000000000000000000000000000000dEaD"); err != nil {
		t.Errorf("expected valid ETH address: %v", err)
	}
	if err := ValidateAddress("ETH", "0xnothex"); err == nil {
		t.Error("expected error for malformed ETH address")
	}
}

func TestValidateAddressMonero(t *testing.T) {
	valid := "44AFFq5kSiGBoZ4NMDwYtN18obc8AemS33DBLWs3H7otXft3XjrpDtQGv7SqSsaBYBb98uNbr2VBBEt7f2wfn3RVGQBEP3A"
	if len(valid) != 95 {
		t.Fatalf("test fixture length is %d, want 95", len(valid))
	}
	if err := ValidateAddress("XMR", valid); err != nil {
		t.Errorf("expected valid XMR address: %v", err)
	}
	if err := ValidateAddress("XMR", "too-short"); err == nil {
		t.Error("expected error for short XMR address")
	}
}
