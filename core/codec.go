package core

// codec.go — address/script encoding shared by the keystore, UTXO
// store, and transaction pipeline, built on btcsuite/btcd's wire
// format and btcutil's base58check address handling.

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for HASH160, no replacement in the pack
)

// Hash160 computes RIPEMD160(SHA256(b)), the address hash used by
// legacy P2PKH scripts.
func Hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	r := ripemd160.New()
	r.Write(sum[:])
	return r.Sum(nil)
}

// AddressFromPubKey base58check-encodes a compressed public key as a
// P2PKH address for the given network.
func AddressFromPubKey(pubKey []byte, net Network) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(Hash160(pubKey), Params(net))
	if err != nil {
		return "", NewErr(ErrValidation, "derive address from pubkey", err)
	}
	return addr.EncodeAddress(), nil
}

// DecodeAddress parses a P2PKH address string for the given network.
func DecodeAddress(address string, net Network) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, Params(net))
	if err != nil {
		return nil, NewErr(ErrValidation, "invalid address: "+address, err)
	}
	if !addr.IsForNet(Params(net)) {
		return nil, NewErr(ErrValidation, "address is not valid for this network: "+address, nil)
	}
	return addr, nil
}

// PayToAddrScript builds the scriptPubKey for a P2PKH address.
func PayToAddrScript(address string, net Network) ([]byte, error) {
	addr, err := DecodeAddress(address, net)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, NewErr(ErrValidation, "build scriptPubKey", err)
	}
	return script, nil
}

// TxID returns the big-endian hex transaction id, matching how block
// explorers and chain APIs report it (wire.MsgTx.TxHash is internally
// little-endian).
func TxID(hash chainhash.Hash) string {
	return hash.String()
}
