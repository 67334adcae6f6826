package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func init() {
	register(Params{Symbol: "ETH", Name: "Ethereum", Type: TypeEVM, Decimals: 18})
}

// validateEVMAddress checks addr is a well-formed 0x-prefixed hex address.
// It does not validate the EIP-55 checksum casing; mixed-case addresses
// that decode to valid bytes are accepted, matching common wallet practice
// of sending all-lowercase addresses.
func validateEVMAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid ethereum address: %q", addr)
	}
	return nil
}
