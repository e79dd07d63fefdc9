package cli

// ──────────────────────────────────────────────────────────────────────────────
// Dogecoin wallet CLI – keystore lifecycle, address/balance, sending
//
// Root command:  `wallet`
// Sub-routes:
//   init     – generate a fresh mnemonic and initialize the keystore
//   recover  – restore the keystore from an existing mnemonic
//   unlock   – decrypt the keystore into memory for this process
//   lock     – zero the in-memory seed
//   address  – print the wallet's receiving address
//   balance  – print confirmed/unconfirmed balance
//   send     – submit a send request through the policy engine
//
// Env vars:
//   LOG_LEVEL   – trace|debug|info|warn|error (default info)
//   WALLET_ENV  – selects config/<env>.yaml override
// ──────────────────────────────────────────────────────────────────────────────

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/core"
	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/config"
)

var (
	logger = logrus.StandardLogger()
	once   sync.Once

	activeWallet *core.Wallet
	activeCfg    *config.Config
)

func initWalletMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	once.Do(func() {
		_ = godotenv.Load()
		lvl := os.Getenv("LOG_LEVEL")
		if lvl == "" {
			lvl = "info"
		}
		l, e := logrus.ParseLevel(lvl)
		if e != nil {
			err = e
			return
		}
		logger.SetLevel(l)

		cfg, loadErr := config.LoadFromEnv()
		if loadErr != nil {
			err = loadErr
			return
		}
		activeCfg = cfg

		w, walletErr := core.NewWallet(cfg, logger, core.SystemClock{})
		if walletErr != nil {
			err = walletErr
			return
		}
		activeWallet = w
	})
	return err
}

type initFlags struct {
	bits int
	pwd  string
}

type recoverFlags struct {
	mnemonic   string
	passphrase string
	pwd        string
}

type unlockFlags struct {
	pwd string
}

type sendFlags struct {
	to     string
	amount float64
}

func handleInit(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyInitFlags{}).(initFlags)
	mnemonic, address, err := activeWallet.Keystore.Init(f.pwd, f.bits)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "address: %s\n", address)
	fmt.Fprintf(cmd.OutOrStdout(), "mnemonic (write this down, it is shown only once): %s\n", mnemonic)
	return nil
}

func handleRecover(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyRecoverFlags{}).(recoverFlags)
	address, err := activeWallet.Keystore.Recover(f.mnemonic, f.pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "address: %s\n", address)
	return nil
}

func handleUnlock(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyUnlockFlags{}).(unlockFlags)
	if err := activeWallet.Keystore.Unlock(f.pwd); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
	return nil
}

func handleLock(cmd *cobra.Command, _ []string) error {
	activeWallet.Keystore.Lock()
	fmt.Fprintln(cmd.OutOrStdout(), "locked")
	return nil
}

func handleAddress(cmd *cobra.Command, _ []string) error {
	addr, err := activeWallet.Keystore.GetAddress()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), addr)
	return nil
}

func handleBalance(cmd *cobra.Command, _ []string) error {
	bal := activeWallet.UTXOs.GetBalance(activeCfg.UTXO.MinConfirmations)
	fmt.Fprintf(cmd.OutOrStdout(), "confirmed:   %.8f DOGE\n", core.KoinuToDoge(bal.ConfirmedKoinu))
	fmt.Fprintf(cmd.OutOrStdout(), "unconfirmed: %.8f DOGE\n", core.KoinuToDoge(bal.UnconfirmedKoinu))
	return nil
}

func handleSend(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeySendFlags{}).(sendFlags)
	amountKoinu := core.DogeToKoinu(f.amount)
	txid, approvalID, err := activeWallet.ExecuteSend(context.Background(), f.to, amountKoinu, core.InitiatedAgent)
	if err != nil {
		return err
	}
	if approvalID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "queued for approval: %s\n", approvalID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "broadcast: %s\n", txid)
	return nil
}

type ctxKeyInitFlags struct{}
type ctxKeyRecoverFlags struct{}
type ctxKeyUnlockFlags struct{}
type ctxKeySendFlags struct{}

var walletCmd = &cobra.Command{
	Use:               "wallet",
	Short:             "Dogecoin wallet keystore, balance, and sending",
	PersistentPreRunE: initWalletMiddleware,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a new mnemonic and initialize the keystore",
	Args:  cobra.NoArgs,
	RunE:  handleInit,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := initFlags{}
		f.bits, _ = cmd.Flags().GetInt("bits")
		f.pwd, _ = cmd.Flags().GetString("password")
		if f.pwd == "" {
			return fmt.Errorf("--password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyInitFlags{}, f))
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Restore the keystore from an existing mnemonic",
	Args:  cobra.NoArgs,
	RunE:  handleRecover,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := recoverFlags{}
		f.mnemonic, _ = cmd.Flags().GetString("mnemonic")
		f.passphrase, _ = cmd.Flags().GetString("passphrase")
		f.pwd, _ = cmd.Flags().GetString("password")
		if f.mnemonic == "" || f.pwd == "" {
			return fmt.Errorf("--mnemonic and --password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyRecoverFlags{}, f))
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Decrypt the keystore into memory",
	Args:  cobra.NoArgs,
	RunE:  handleUnlock,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := unlockFlags{}
		f.pwd, _ = cmd.Flags().GetString("password")
		if f.pwd == "" {
			return fmt.Errorf("--password required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyUnlockFlags{}, f))
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Zero the in-memory seed",
	Args:  cobra.NoArgs,
	RunE:  handleLock,
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet's receiving address",
	Args:  cobra.NoArgs,
	RunE:  handleAddress,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print confirmed/unconfirmed balance",
	Args:  cobra.NoArgs,
	RunE:  handleBalance,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send DOGE through the policy engine",
	Args:  cobra.NoArgs,
	RunE:  handleSend,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := sendFlags{}
		f.to, _ = cmd.Flags().GetString("to")
		f.amount, _ = cmd.Flags().GetFloat64("amount")
		if f.to == "" || f.amount <= 0 {
			return fmt.Errorf("--to and --amount required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeySendFlags{}, f))
		return nil
	},
}

func init() {
	initCmd.Flags().Int("bits", 128, "entropy bits (128|256)")
	initCmd.Flags().String("password", "", "keystore encryption password")

	recoverCmd.Flags().String("mnemonic", "", "bip39 words")
	recoverCmd.Flags().String("passphrase", "", "accepted but unused; --password also serves as the bip39 passphrase")
	recoverCmd.Flags().String("password", "", "keystore encryption password")

	unlockCmd.Flags().String("password", "", "keystore encryption password")

	sendCmd.Flags().String("to", "", "destination address")
	sendCmd.Flags().Float64("amount", 0, "amount in DOGE")

	walletCmd.AddCommand(initCmd, recoverCmd, unlockCmd, lockCmd, addressCmd, balanceCmd, sendCmd)
}

var WalletCmd = walletCmd

func RegisterWallet(root *cobra.Command) { root.AddCommand(WalletCmd) }
