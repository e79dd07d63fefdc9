package core

// chainparams.go — Dogecoin network parameters.
//
// Dogecoin's transaction and script wire format is byte-identical to
// legacy (pre-segwit) Bitcoin; only the address version bytes and the
// BIP44 coin type differ. Rather than hand-rolling a codec, this
// package drives btcsuite/btcd's wire/txscript/btcutil primitives with
// a custom chaincfg.Params describing Dogecoin instead of Bitcoin.

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// DogeCoinType is the BIP44 coin type for Dogecoin (SLIP-0044 entry 3).
const DogeCoinType uint32 = 3

var dogeMainNetParams = chaincfg.Params{
	Name: "dogecoin-mainnet",

	PubKeyHashAddrID: 0x1e, // 'D'
	ScriptHashAddrID: 0x16, // '9' or 'A'
	PrivateKeyID:     0x9e,

	HDPrivateKeyID: [4]byte{0x02, 0xfa, 0xca, 0xfd}, // dgpv
	HDPublicKeyID:  [4]byte{0x02, 0xfa, 0xca, 0xfe}, // dgub

	HDCoinType: DogeCoinType,
}

var dogeTestNetParams = chaincfg.Params{
	Name: "dogecoin-testnet",

	PubKeyHashAddrID: 0x71, // 'n'
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xf1,

	HDPrivateKeyID: [4]byte{0x04, 0x32, 0xa9, 0xa8}, // tprv-style, distinct from mainnet
	HDPublicKeyID:  [4]byte{0x04, 0x32, 0xa9, 0x43},

	HDCoinType: DogeCoinType,
}

// Params returns the chaincfg.Params for the given network.
func Params(net Network) *chaincfg.Params {
	if net == NetworkTestnet {
		return &dogeTestNetParams
	}
	return &dogeMainNetParams
}

// PaymentMinConfirmations is the minimum confirmation depth the A2A
// invoice engine requires before treating an on-chain payment as
// settled (spec section 4.6).
func PaymentMinConfirmations(net Network) int64 {
	if net == NetworkTestnet {
		return 1
	}
	return 6
}

func init() {
	// Registering lets btcutil.DecodeAddress recognize Dogecoin's HD
	// key prefixes across both params sets without a global network
	// flag.
	_ = chaincfg.Register(&dogeMainNetParams)
	_ = chaincfg.Register(&dogeTestNetParams)
}
