package core

// crypto.go — key-derivation and encryption primitives: BIP39 mnemonic
// handling, BIP32/44 HD derivation via btcsuite/btcd/btcutil/hdkeychain,
// scrypt key stretching, AES-256-GCM encryption at rest, and ECDSA
// signing.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	ecdsa2 "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters per spec section 4.1: N=32768 r=8 p=1 dklen=32.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	gcmNonceLen  = 12
)

// NewMnemonic generates a BIP39 mnemonic at the given entropy strength
// (128 bits -> 12 words, 256 bits -> 24 words).
func NewMnemonic(entropyBits int) (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", NewErr(ErrValidation, "generate entropy", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", NewErr(ErrValidation, "encode mnemonic", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether the mnemonic's checksum is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives the 64-byte BIP39 seed from a mnemonic and
// optional passphrase.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, NewErr(ErrInvalidMnemonic, "checksum mismatch", nil)
	}
	return bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
}

// deriveDogeKey derives m/44'/3'/0'/0/index from a BIP39 seed using
// the Dogecoin HD params, returning the leaf extended private key.
func deriveDogeKey(seed []byte, account, index uint32, net Network) (*hdkeychain.ExtendedKey, error) {
	params := Params(net)
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive master key", err)
	}

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 44)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive purpose", err)
	}
	coinType, err := purpose.Derive(hdkeychain.HardenedKeyStart + DogeCoinType)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive coin type", err)
	}
	acct, err := coinType.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive account", err)
	}
	external, err := acct.Derive(0)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive external chain", err)
	}
	leaf, err := external.Derive(index)
	if err != nil {
		return nil, NewErr(ErrValidation, "derive address index", err)
	}
	return leaf, nil
}

// DerivePrivateKey returns the raw secp256k1 private key bytes at
// m/44'/3'/account'/0/index. Callers must zero the returned slice
// after use.
func DerivePrivateKey(seed []byte, account, index uint32, net Network) ([]byte, error) {
	leaf, err := deriveDogeKey(seed, account, index, net)
	if err != nil {
		return nil, err
	}
	priv, err := leaf.ECPrivKey()
	if err != nil {
		return nil, NewErr(ErrValidation, "extract private key", err)
	}
	defer priv.Zero()
	out := make([]byte, 32)
	b := priv.Serialize()
	copy(out, b)
	Wipe(b)
	return out, nil
}

// DerivePublicKey returns the compressed secp256k1 public key at
// m/44'/3'/account'/0/index, for address generation without touching
// the private key.
func DerivePublicKey(seed []byte, account, index uint32, net Network) ([]byte, error) {
	leaf, err := deriveDogeKey(seed, account, index, net)
	if err != nil {
		return nil, err
	}
	neutered, err := leaf.Neuter()
	if err != nil {
		return nil, NewErr(ErrValidation, "neuter extended key", err)
	}
	pub, err := neutered.ECPubKey()
	if err != nil {
		return nil, NewErr(ErrValidation, "extract public key", err)
	}
	return pub.SerializeCompressed(), nil
}

// Wipe zeroes a byte slice in place. Callers hold the only reference
// to decrypted seeds and private keys and must call this on every exit
// path once the bytes are no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// deriveKeyScrypt stretches a passphrase into a 32-byte AES key using
// the scrypt parameters from spec section 4.1.
func deriveKeyScrypt(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, NewErr(ErrValidation, "scrypt derive", err)
	}
	return key, nil
}

// NewSalt generates a fresh random scrypt salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, NewErr(ErrValidation, "generate salt", err)
	}
	return salt, nil
}

// EncryptSeed encrypts plaintext (the BIP39 seed) under a passphrase,
// returning the salt, nonce, and ciphertext to persist in the
// keystore file, using AES-256-GCM with a random nonce and a key
// derived from the passphrase via scrypt.
func EncryptSeed(passphrase string, plaintext []byte) (salt, nonce, ciphertext []byte, err error) {
	salt, err = NewSalt()
	if err != nil {
		return nil, nil, nil, err
	}
	key, err := deriveKeyScrypt(passphrase, salt)
	if err != nil {
		return nil, nil, nil, err
	}
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, NewErr(ErrValidation, "init AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, NewErr(ErrValidation, "init GCM", err)
	}
	nonce = make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, NewErr(ErrValidation, "generate nonce", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return salt, nonce, ciphertext, nil
}

// DecryptSeed reverses EncryptSeed. Returns ErrInvalidPassphrase on
// authentication failure rather than leaking the underlying GCM error.
func DecryptSeed(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	key, err := deriveKeyScrypt(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewErr(ErrValidation, "init AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewErr(ErrValidation, "init GCM", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewErr(ErrInvalidPassphrase, "decryption failed", err)
	}
	return plaintext, nil
}

// SignHash signs a 32-byte sighash with a raw secp256k1 private key,
// returning a DER-encoded ECDSA signature suitable for a legacy
// scriptSig. The key bytes passed in are zeroed before return.
func SignHash(privKeyBytes, sighash []byte) ([]byte, error) {
	defer Wipe(privKeyBytes)
	if len(sighash) != 32 {
		return nil, NewErr(ErrValidation, "sighash must be 32 bytes", nil)
	}
	priv, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	defer priv.Zero()
	sig := ecdsa2.Sign(priv, sighash)
	return sig.Serialize(), nil
}

// PublicKeyFromPrivate recovers the compressed public key for a raw
// private key without consuming it.
func PublicKeyFromPrivate(privKeyBytes []byte) []byte {
	priv, pub := btcec.PrivKeyFromBytes(privKeyBytes)
	defer priv.Zero()
	return pub.SerializeCompressed()
}
