package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	register(Params{Symbol: "DOGE", Name: "Dogecoin", Type: TypeBitcoin, Decimals: 8})
}

// dogeParams are Dogecoin mainnet's address parameters, hand-assembled the
// same way as ltcParams. Dogecoin has no native SegWit, so there is no
// Bech32HRPSegwit value.
var dogeParams = &chaincfg.Params{
	Name:             "mainnet",
	PubKeyHashAddrID: 0x1E, // D...
	ScriptHashAddrID: 0x16, // 9 or A...
	PrivateKeyID:     0x9E,
}
