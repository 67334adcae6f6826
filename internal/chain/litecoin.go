package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	register(Params{Symbol: "LTC", Name: "Litecoin", Type: TypeBitcoin, Decimals: 8})
}

// ltcParams are Litecoin mainnet's address parameters. btcd ships no
// built-in Litecoin chaincfg.Params, so these are hand-assembled from
// Litecoin's network constants for the sole purpose of address decoding.
var ltcParams = &chaincfg.Params{
	Name:             "mainnet",
	PubKeyHashAddrID: 0x30, // L...
	ScriptHashAddrID: 0x32, // M...
	Bech32HRPSegwit:  "ltc",
	PrivateKeyID:     0xB0,
}
