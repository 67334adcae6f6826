package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

func init() {
	register(Params{Symbol: "BTC", Name: "Bitcoin", Type: TypeBitcoin, Decimals: 8})
}

// btcParams is the network chaincfg.Params used to validate BTC addresses.
// The exchange runs against mainnet; it never issues its own keys or
// addresses, so only address-syntax decoding needs network parameters.
var btcParams = &chaincfg.MainNetParams

// validateBitcoinFamilyAddress decodes addr against the chaincfg.Params
// registered for symbol, rejecting anything that is not a valid address
// for that network.
func validateBitcoinFamilyAddress(symbol, addr string) error {
	params, err := bitcoinFamilyParams(symbol)
	if err != nil {
		return err
	}
	if _, err := btcutil.DecodeAddress(addr, params); err != nil {
		return fmt.Errorf("invalid %s address %q: %w", symbol, addr, err)
	}
	return nil
}

func bitcoinFamilyParams(symbol string) (*chaincfg.Params, error) {
	switch symbol {
	case "BTC":
		return btcParams, nil
	case "LTC":
		return ltcParams, nil
	case "DOGE":
		return dogeParams, nil
	default:
		return nil, fmt.Errorf("chain: %s is not a bitcoin-family coin", symbol)
	}
}
