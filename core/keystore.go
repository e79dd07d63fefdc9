package core

// keystore.go — encrypted seed custody and auto-lock. Persists the
// wallet seed as a JSON blob ({Version, Network, Salt, Nonce, Cipher,
// Address}, the seed itself only inside the encrypted Cipher)
// using the scrypt parameters crypto.go implements, and locks itself
// after a configurable idle timeout.

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const keystoreFile = "keystore.json"

// keystoreFileV1 is the on-disk persisted form.
type keystoreFileV1 struct {
	Version int    `json:"version"`
	Network string `json:"network"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Cipher  []byte `json:"cipher"`
	Address string `json:"address"`
}

// Keystore owns the wallet's single BIP39 seed: encrypted at rest,
// decrypted only into memory while unlocked, zeroed on lock and on
// every exit path that touches it.
type Keystore struct {
	mu  sync.Mutex
	fs  *SecureFS
	log *logrus.Logger
	clk Clock
	net Network

	initialized bool
	unlocked    bool
	seed        []byte // zeroed whenever unlocked transitions to false
	address     string

	autoLockMs   int64
	lockTimer    *time.Timer
	onAutoLocked func()
}

func NewKeystore(fs *SecureFS, net Network, clk Clock, log *logrus.Logger) *Keystore {
	return &Keystore{
		fs:         fs,
		log:        log,
		clk:        clk,
		net:        net,
		autoLockMs: 15 * 60 * 1000,
	}
}

// IsInitialized reports whether a keystore file already exists on
// disk, independent of lock state.
func (k *Keystore) IsInitialized() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.initialized {
		return true
	}
	return k.fs.Exists(keystoreFile)
}

// IsUnlocked reports whether the seed is currently held in memory.
func (k *Keystore) IsUnlocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unlocked
}

// Init creates a brand-new keystore from freshly generated entropy,
// returning the mnemonic exactly once so the caller can display it for
// owner backup. The seed remains unlocked in memory afterward.
func (k *Keystore) Init(passphrase string, entropyBits int) (mnemonic string, address string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.initialized || k.fs.Exists(keystoreFile) {
		return "", "", NewErr(ErrAlreadyInitialized, "keystore already exists", nil)
	}

	mnemonic, err = NewMnemonic(entropyBits)
	if err != nil {
		return "", "", err
	}
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return "", "", err
	}
	address, err = k.persistNewSeed(passphrase, seed)
	if err != nil {
		Wipe(seed)
		return "", "", err
	}
	return mnemonic, address, nil
}

// Recover re-creates the keystore from an owner-supplied mnemonic,
// e.g. after disk loss. Overwrites any existing keystore file.
func (k *Keystore) Recover(mnemonic, passphrase string) (address string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !ValidateMnemonic(mnemonic) {
		return "", NewErr(ErrInvalidMnemonic, "checksum mismatch", nil)
	}
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return "", err
	}
	address, err = k.persistNewSeed(passphrase, seed)
	if err != nil {
		Wipe(seed)
		return "", err
	}
	return address, nil
}

// persistNewSeed encrypts and atomically writes seed, deriving the
// first receiving address. Caller must hold k.mu.
func (k *Keystore) persistNewSeed(passphrase string, seed []byte) (string, error) {
	pub, err := DerivePublicKey(seed, 0, 0, k.net)
	if err != nil {
		return "", err
	}
	address, err := AddressFromPubKey(pub, k.net)
	if err != nil {
		return "", err
	}

	salt, nonce, ciphertext, err := EncryptSeed(passphrase, seed)
	if err != nil {
		return "", err
	}

	blob := keystoreFileV1{
		Version: 1,
		Network: string(k.net),
		Salt:    salt,
		Nonce:   nonce,
		Cipher:  ciphertext,
		Address: address,
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return "", NewErr(ErrValidation, "marshal keystore", err)
	}
	if err := k.fs.WriteFileAtomic(keystoreFile, data); err != nil {
		return "", err
	}

	k.seed = seed
	k.address = address
	k.initialized = true
	k.unlocked = true
	k.resetAutoLockTimerLocked()
	if k.log != nil {
		k.log.WithField("address", address).Info("keystore initialized")
	}
	return address, nil
}

// Unlock decrypts the on-disk keystore into memory.
func (k *Keystore) Unlock(passphrase string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.unlocked {
		return nil
	}
	raw, err := k.fs.ReadFile(keystoreFile)
	if err != nil {
		return NewErr(ErrNotInitialized, "no keystore on disk", err)
	}
	var blob keystoreFileV1
	if err := json.Unmarshal(raw, &blob); err != nil {
		return NewErr(ErrValidation, "corrupt keystore file", err)
	}
	seed, err := DecryptSeed(passphrase, blob.Salt, blob.Nonce, blob.Cipher)
	if err != nil {
		return err
	}
	k.seed = seed
	k.address = blob.Address
	k.initialized = true
	k.unlocked = true
	k.resetAutoLockTimerLocked()
	if k.log != nil {
		k.log.Info("keystore unlocked")
	}
	return nil
}

// Lock zeroes the in-memory seed. Safe to call repeatedly.
func (k *Keystore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lockLocked()
}

func (k *Keystore) lockLocked() {
	if k.seed != nil {
		Wipe(k.seed)
		k.seed = nil
	}
	k.unlocked = false
	if k.lockTimer != nil {
		k.lockTimer.Stop()
		k.lockTimer = nil
	}
}

// SetAutoLockMs configures (or disables, with ms<=0) the idle auto-lock
// duration and restarts the timer if currently unlocked.
func (k *Keystore) SetAutoLockMs(ms int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.autoLockMs = ms
	if k.unlocked {
		k.resetAutoLockTimerLocked()
	}
}

// OnAutoLocked registers a callback fired when the idle timer locks
// the keystore, so the orchestrator can log/notify.
func (k *Keystore) OnAutoLocked(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onAutoLocked = fn
}

func (k *Keystore) resetAutoLockTimerLocked() {
	if k.lockTimer != nil {
		k.lockTimer.Stop()
	}
	if k.autoLockMs <= 0 {
		k.lockTimer = nil
		return
	}
	k.lockTimer = time.AfterFunc(time.Duration(k.autoLockMs)*time.Millisecond, func() {
		k.mu.Lock()
		k.lockLocked()
		cb := k.onAutoLocked
		k.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// touch restarts the idle timer on an authenticated access; called by
// WithPrivateKey.
func (k *Keystore) touch() {
	if k.unlocked {
		k.resetAutoLockTimerLocked()
	}
}

// GetAddress returns the wallet's single receiving address. Available
// even while locked, since the address itself is not sensitive.
func (k *Keystore) GetAddress() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.address != "" {
		return k.address, nil
	}
	raw, err := k.fs.ReadFile(keystoreFile)
	if err != nil {
		return "", NewErr(ErrNotInitialized, "no keystore on disk", err)
	}
	var blob keystoreFileV1
	if err := json.Unmarshal(raw, &blob); err != nil {
		return "", NewErr(ErrValidation, "corrupt keystore file", err)
	}
	k.address = blob.Address
	return blob.Address, nil
}

// WithPrivateKey decrypts the signing key for (account, index) and
// hands a zeroing-guaranteed copy to fn. The key is wiped immediately
// after fn returns, regardless of error.
func (k *Keystore) WithPrivateKey(account, index uint32, fn func(priv []byte) error) error {
	k.mu.Lock()
	if !k.unlocked {
		k.mu.Unlock()
		return NewErr(ErrWalletLocked, "keystore is locked", nil)
	}
	seedCopy := make([]byte, len(k.seed))
	copy(seedCopy, k.seed)
	k.touch()
	k.mu.Unlock()
	defer Wipe(seedCopy)

	priv, err := DerivePrivateKey(seedCopy, account, index, k.net)
	if err != nil {
		return err
	}
	defer Wipe(priv)
	return fn(priv)
}
