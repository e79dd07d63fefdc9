package core

// htlc.go — hashed timelock contract redeem script builder, for
// conditional agent-to-agent payments (pay-on-proof-of-work,
// escrow-style settlement) via HTLC outputs. This file builds the
// redeem script and its P2SH scriptPubKey only; it does not implement
// a channel state machine or claim/refund broadcasting, which stay
// out of scope for a single-address custodial wallet.

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// HTLCScript builds:
//
//	OP_IF
//	    OP_HASH160 <paymentHash> OP_EQUALVERIFY OP_DUP OP_HASH160 <recipientHash> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ELSE
//	    <lockTime> OP_CHECKLOCKTIMEVERIFY OP_DROP OP_DUP OP_HASH160 <refundHash> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ENDIF
//
// redeemable by the recipient presenting the preimage of paymentHash,
// or by the refund party after lockTime.
func HTLCScript(paymentHash, recipientHash, refundHash []byte, lockTime int64) ([]byte, error) {
	if len(paymentHash) != 20 {
		return nil, NewErr(ErrValidation, "paymentHash must be a 20-byte HASH160", nil)
	}
	if len(recipientHash) != 20 || len(refundHash) != 20 {
		return nil, NewErr(ErrValidation, "recipient/refund hashes must be 20-byte HASH160", nil)
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(paymentHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(recipientHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(lockTime)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(refundHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// HTLCAddress wraps the redeem script as a P2SH address for the given
// network, the form an HTLC output is actually funded to.
func HTLCAddress(redeemScript []byte, net Network) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, Params(net))
	if err != nil {
		return "", NewErr(ErrValidation, "derive HTLC address", err)
	}
	return addr.EncodeAddress(), nil
}

// OpReturnScript builds a single-push OP_RETURN output script, the form
// a payer uses to embed an invoice payment reference in its
// transaction.
func OpReturnScript(data []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_RETURN)
	builder.AddData(data)
	return builder.Script()
}
