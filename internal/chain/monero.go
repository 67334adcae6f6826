package chain

import "fmt"

func init() {
	register(Params{Symbol: "XMR", Name: "Monero", Type: TypeMonero, Decimals: 12})
}

// moneroBase58Alphabet is Monero's base58 alphabet, the same one Bitcoin
// uses: it leaves out 0, O, I and l to avoid visual ambiguity.
const moneroBase58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// validateMoneroAddress performs syntactic validation only: length, base58
// alphabet membership, and a known network-prefix byte. No library in the
// dependency pack implements Monero's base58-block encoding or its
// Keccak-based checksum, so a full decode-and-verify is out of scope here;
// the coin-node RPC performs the authoritative check before any funds move.
func validateMoneroAddress(addr string) error {
	// Standard addresses are 95 characters; integrated addresses are 106.
	if len(addr) != 95 && len(addr) != 106 {
		return fmt.Errorf("invalid monero address length: %d", len(addr))
	}
	for _, r := range addr {
		if !containsRune(moneroBase58Alphabet, r) {
			return fmt.Errorf("invalid monero address: non-base58 character %q", r)
		}
	}
	switch addr[0] {
	case '4', '8': // standard / subaddress and integrated mainnet prefixes
		return nil
	default:
		return fmt.Errorf("invalid monero address: unrecognized network prefix %q", addr[0])
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
