package cli

// ──────────────────────────────────────────────────────────────────────────────
// Wallet management CLI – approvals, policy freeze, and A2A invoices
//
// Root command:  `wallet_mgmt`
// Sub-routes:
//   approve          – approve a pending send
//   deny             – deny a pending send
//   pending          – list pending approvals
//   freeze/unfreeze  – toggle the policy engine's emergency freeze
//   policy show      – print the active policy configuration
//   invoice create   – create an A2A invoice
//   invoice verify   – check an invoice against on-chain payment proof
// ──────────────────────────────────────────────────────────────────────────────

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/core"
)

func wmInit(cmd *cobra.Command, args []string) error {
	return initWalletMiddleware(cmd, args)
}

type ctxKeyApproveFlags struct{}
type ctxKeyInvoiceCreateFlags struct{}
type ctxKeyInvoiceVerifyFlags struct{}

type approveFlags struct {
	id         string
	resolvedBy string
}

type invoiceCreateFlags struct {
	payeeName    string
	payeeAddress string
	amount       float64
	description  string
	reference    string
	callbackURL  string
	ttlSeconds   int64
}

type invoiceVerifyFlags struct {
	id            string
	txid          string
	claimedAmount float64
}

func handleApprove(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyApproveFlags{}).(approveFlags)
	approval, err := activeWallet.Approve(f.id, f.resolvedBy)
	if err != nil {
		return err
	}
	txid, err := activeWallet.ExecuteApproved(context.Background(), approval.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "broadcast: %s\n", txid)
	return nil
}

func handleDeny(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyApproveFlags{}).(approveFlags)
	if _, err := activeWallet.Deny(f.id, f.resolvedBy); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "denied")
	return nil
}

func handlePending(cmd *cobra.Command, _ []string) error {
	pending := activeWallet.Approvals.ListPending()
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no pending approvals")
		return nil
	}
	for _, p := range pending {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  to=%s  amount=%.8f DOGE  tier=%s  expires=%s\n",
			p.ID, p.To, core.KoinuToDoge(p.AmountKoinu), p.Tier, p.ExpiresAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func handleFreeze(cmd *cobra.Command, _ []string) error {
	activeWallet.Policy.SetFrozen(true)
	fmt.Fprintln(cmd.OutOrStdout(), "frozen")
	return nil
}

func handleUnfreeze(cmd *cobra.Command, _ []string) error {
	activeWallet.Policy.SetFrozen(false)
	fmt.Fprintln(cmd.OutOrStdout(), "unfrozen")
	return nil
}

func handlePolicyShow(cmd *cobra.Command, _ []string) error {
	cfg := activeWallet.Policy.Config()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "frozen:       %v\n", activeWallet.Policy.IsFrozen())
	fmt.Fprintf(out, "micro_max:    %.8f DOGE\n", core.KoinuToDoge(cfg.Thresholds.MicroMaxKoinu))
	fmt.Fprintf(out, "small_max:    %.8f DOGE\n", core.KoinuToDoge(cfg.Thresholds.SmallMaxKoinu))
	fmt.Fprintf(out, "medium_max:   %.8f DOGE\n", core.KoinuToDoge(cfg.Thresholds.MediumMaxKoinu))
	fmt.Fprintf(out, "large_max:    %.8f DOGE\n", core.KoinuToDoge(cfg.Thresholds.LargeMaxKoinu))
	fmt.Fprintf(out, "daily_max:    %.8f DOGE\n", core.KoinuToDoge(cfg.Velocity.MaxDailyKoinu))
	fmt.Fprintf(out, "hourly_max:   %.8f DOGE\n", core.KoinuToDoge(cfg.Velocity.MaxHourlyKoinu))
	fmt.Fprintf(out, "daily_count:  %d\n", cfg.Velocity.TxCountDailyMax)
	fmt.Fprintf(out, "cooldown_sec: %d\n", cfg.Velocity.CooldownSeconds)
	return nil
}

func handleInvoiceCreate(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyInvoiceCreateFlags{}).(invoiceCreateFlags)

	var callback *core.InvoiceCallback
	if f.callbackURL != "" {
		callback = &core.InvoiceCallback{URL: f.callbackURL}
	}

	payee := core.InvoicePayee{Name: f.payeeName, Address: f.payeeAddress}
	payment := core.InvoicePayment{AmountDoge: f.amount, Description: f.description, Reference: f.reference}

	ttl := time.Duration(f.ttlSeconds) * time.Second
	inv, err := activeWallet.Invoices.CreateInvoice(payee, payment, callback, nil, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "invoice: %s\n", inv.InvoiceID)
	return nil
}

func handleInvoiceVerify(cmd *cobra.Command, _ []string) error {
	f := cmd.Context().Value(ctxKeyInvoiceVerifyFlags{}).(invoiceVerifyFlags)
	result, err := activeWallet.Invoices.VerifyPayment(context.Background(), f.id, f.txid, core.DogeToKoinu(f.claimedAmount))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: %t\n", result.Valid)
	if result.Reason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", result.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "confirmations: %d\n", result.Confirmations)
	return nil
}

var wmCmd = &cobra.Command{
	Use:               "wallet_mgmt",
	Short:             "Approvals, policy, and A2A invoice management",
	PersistentPreRunE: wmInit,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a pending send and broadcast it",
	Args:  cobra.NoArgs,
	RunE:  handleApprove,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := approveFlags{}
		f.id, _ = cmd.Flags().GetString("id")
		f.resolvedBy, _ = cmd.Flags().GetString("resolved-by")
		if f.id == "" {
			return fmt.Errorf("--id required")
		}
		if f.resolvedBy == "" {
			return fmt.Errorf("--resolved-by required (must match the configured owner identity)")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyApproveFlags{}, f))
		return nil
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Deny a pending send",
	Args:  cobra.NoArgs,
	RunE:  handleDeny,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := approveFlags{}
		f.id, _ = cmd.Flags().GetString("id")
		f.resolvedBy, _ = cmd.Flags().GetString("resolved-by")
		if f.id == "" {
			return fmt.Errorf("--id required")
		}
		if f.resolvedBy == "" {
			return fmt.Errorf("--resolved-by required (must match the configured owner identity)")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyApproveFlags{}, f))
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approvals",
	Args:  cobra.NoArgs,
	RunE:  handlePending,
}

var freezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Freeze the policy engine (blocks all sends)",
	Args:  cobra.NoArgs,
	RunE:  handleFreeze,
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze",
	Short: "Unfreeze the policy engine",
	Args:  cobra.NoArgs,
	RunE:  handleUnfreeze,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect policy configuration",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active policy configuration",
	Args:  cobra.NoArgs,
	RunE:  handlePolicyShow,
}

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "A2A invoice operations",
}

var invoiceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an A2A invoice",
	Args:  cobra.NoArgs,
	RunE:  handleInvoiceCreate,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := invoiceCreateFlags{}
		f.payeeName, _ = cmd.Flags().GetString("payee-name")
		f.payeeAddress, _ = cmd.Flags().GetString("payee-address")
		f.amount, _ = cmd.Flags().GetFloat64("amount")
		f.description, _ = cmd.Flags().GetString("description")
		f.reference, _ = cmd.Flags().GetString("reference")
		f.callbackURL, _ = cmd.Flags().GetString("callback-url")
		f.ttlSeconds, _ = cmd.Flags().GetInt64("ttl-seconds")
		if f.payeeAddress == "" || f.amount <= 0 {
			return fmt.Errorf("--payee-address and --amount required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyInvoiceCreateFlags{}, f))
		return nil
	},
}

var invoiceVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check an invoice against on-chain payment proof",
	Args:  cobra.NoArgs,
	RunE:  handleInvoiceVerify,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		f := invoiceVerifyFlags{}
		f.id, _ = cmd.Flags().GetString("id")
		f.txid, _ = cmd.Flags().GetString("txid")
		f.claimedAmount, _ = cmd.Flags().GetFloat64("claimed-amount")
		if f.id == "" {
			return fmt.Errorf("--id required")
		}
		if f.txid == "" {
			return fmt.Errorf("--txid required")
		}
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyInvoiceVerifyFlags{}, f))
		return nil
	},
}

func init() {
	approveCmd.Flags().String("id", "", "approval id")
	approveCmd.Flags().String("resolved-by", "", "identity resolving the approval")

	denyCmd.Flags().String("id", "", "approval id")
	denyCmd.Flags().String("resolved-by", "", "identity resolving the approval")

	invoiceCreateCmd.Flags().String("payee-name", "", "payee display name")
	invoiceCreateCmd.Flags().String("payee-address", "", "payee dogecoin address")
	invoiceCreateCmd.Flags().Float64("amount", 0, "amount in DOGE")
	invoiceCreateCmd.Flags().String("description", "", "invoice description")
	invoiceCreateCmd.Flags().String("reference", "", "invoice reference")
	invoiceCreateCmd.Flags().String("callback-url", "", "optional https webhook callback")
	invoiceCreateCmd.Flags().Int64("ttl-seconds", 86400, "time to live in seconds")

	invoiceVerifyCmd.Flags().String("id", "", "invoice id")
	invoiceVerifyCmd.Flags().String("txid", "", "on-chain transaction id claiming to pay the invoice")
	invoiceVerifyCmd.Flags().Float64("claimed-amount", 0, "amount in DOGE the caller claims was paid")

	policyCmd.AddCommand(policyShowCmd)
	invoiceCmd.AddCommand(invoiceCreateCmd, invoiceVerifyCmd)

	wmCmd.AddCommand(approveCmd, denyCmd, pendingCmd, freezeCmd, unfreezeCmd, policyCmd, invoiceCmd)
}

var WalletMgmtCmd = wmCmd

func RegisterWalletMgmt(root *cobra.Command) { root.AddCommand(WalletMgmtCmd) }
