package core

// orchestrator.go — startup sequence and cross-component wiring:
// NewWallet wires every subsystem from an already-loaded config in
// dependency order, Start launches the background loops, and Shutdown
// stops them.

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/config"
)

// Wallet is the fully wired set of components an owner or agent
// interacts with. Construct via NewWallet, then call Start to bring up
// background polling loops, and Shutdown to stop them cleanly.
type Wallet struct {
	cfg *config.Config
	log *logrus.Logger
	clk Clock
	net Network

	FS         *SecureFS
	Keystore   *Keystore
	UTXOs      *UTXOStore
	Chain      *ChainClient
	Tracker    *TxTracker
	Policy     *PolicyEngine
	Approvals  *ApprovalQueue
	Audit      *AuditLog
	Receive    *ReceiveMonitor
	Alerts     *AlertManager
	Invoices   *InvoiceEngine
	Gateway    *A2AGateway
	RateLimit  *RateLimiter

	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewWallet wires every component from cfg. No background loops are
// started yet; call Start for that.
func NewWallet(cfg *config.Config, log *logrus.Logger, clk Clock) (*Wallet, error) {
	if cfg.DataDir == "" {
		return nil, NewErr(ErrValidation, "data_dir must be set", nil)
	}
	net := Network(cfg.Network)
	if net != NetworkMainnet && net != NetworkTestnet {
		return nil, NewErr(ErrValidation, "network must be mainnet or testnet", nil)
	}

	fs, err := NewSecureFS(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	keystore := NewKeystore(fs, net, clk, log)
	utxos := NewUTXOStore(fs, clk, log)

	providers := buildProviders(cfg, net)
	chain := NewChainClient(providers, clk, log)
	tracker := NewTxTracker(chain, clk, log)

	policyCfg := policyConfigFromWallet(cfg)
	policy := NewPolicyEngine(policyCfg, clk)
	if cfg.Policy.Freeze {
		policy.SetFrozen(true)
	}

	approvals := NewApprovalQueue(fs, clk, log)

	audit, err := NewAuditLog(fs, clk)
	if err != nil {
		return nil, err
	}

	alerts := NewAlertManager(fs, clk)
	invoices := NewInvoiceEngine(fs, clk, log, chain, net)
	gateway := NewA2AGateway(invoices, log)
	rateLimit := NewRateLimiter(fs, clk, 30, 0.5)

	refreshInterval := time.Duration(cfg.UTXO.RefreshSeconds) * time.Second
	if refreshInterval <= 0 {
		refreshInterval = 60 * time.Second
	}

	w := &Wallet{
		cfg:       cfg,
		log:       log,
		clk:       clk,
		net:       net,
		FS:        fs,
		Keystore:  keystore,
		UTXOs:     utxos,
		Chain:     chain,
		Tracker:   tracker,
		Policy:    policy,
		Approvals: approvals,
		Audit:     audit,
		Alerts:    alerts,
		Invoices:  invoices,
		Gateway:   gateway,
		RateLimit: rateLimit,
	}

	keystore.OnAutoLocked(func() {
		log.Warn("keystore auto-locked after idle timeout")
	})

	// Terminal tracking outcomes drive the UTXO store: a confirmed send
	// finally removes its spent inputs, while a failed or unverified one
	// releases its lock so the coins become spendable again (spec
	// section 4.2/4.3, property P3).
	tracker.OnTerminal = func(tt TrackedTransaction) {
		switch tt.Status {
		case TrackConfirmed:
			if err := utxos.MarkSpent(tt.Metadata.Outpoints); err != nil && log != nil {
				log.WithError(err).WithField("txid", tt.Txid).Warn("failed to mark confirmed utxos spent")
			}
		case TrackFailed, TrackUnverified:
			if err := utxos.UnlockFor(tt.IntentID); err != nil && log != nil {
				log.WithError(err).WithField("txid", tt.Txid).Warn("failed to unlock utxos for terminal tx")
			}
			if _, err := audit.Append(AuditEntry{
				Action:      AuditError,
				Txid:        tt.Txid,
				Reason:      "tracking reached terminal state: " + string(tt.Status),
				InitiatedBy: InitiatedSystem,
			}); err != nil && log != nil {
				log.WithError(err).Warn("failed to audit terminal tracking state")
			}
		}
	}

	if keystore.IsInitialized() {
		if address, err := keystore.GetAddress(); err == nil {
			w.Receive = NewReceiveMonitor(chain, utxos, audit, clk, log, address, refreshInterval)
		}
	}

	return w, nil
}

func buildProviders(cfg *config.Config, net Network) []ChainProvider {
	providers := make([]ChainProvider, 0, 3)
	providers = append(providers, NewBlockCypherProvider(cfg.Providers.BlockCypherToken))
	providers = append(providers, NewSoChainProvider(net))
	providers = append(providers, NewBlockchairProvider(cfg.Providers.BlockchairAPIKey))
	return providers
}

func policyConfigFromWallet(cfg *config.Config) PolicyConfig {
	pc := DefaultPolicyConfig()
	pc.Enabled = cfg.Policy.Enabled
	for _, addr := range cfg.Policy.Allowlist {
		pc.AllowAddresses[addr] = true
	}
	for _, addr := range cfg.Policy.Denylist {
		pc.DenyAddresses[addr] = true
	}
	if cfg.Policy.MicroMaxDoge > 0 {
		pc.Thresholds.MicroMaxKoinu = DogeToKoinu(cfg.Policy.MicroMaxDoge)
	}
	if cfg.Policy.SmallMaxDoge > 0 {
		pc.Thresholds.SmallMaxKoinu = DogeToKoinu(cfg.Policy.SmallMaxDoge)
	}
	if cfg.Policy.MediumMaxDoge > 0 {
		pc.Thresholds.MediumMaxKoinu = DogeToKoinu(cfg.Policy.MediumMaxDoge)
	}
	if cfg.Policy.LargeMaxDoge > 0 {
		pc.Thresholds.LargeMaxKoinu = DogeToKoinu(cfg.Policy.LargeMaxDoge)
	}
	if cfg.Policy.MaxDailyDoge > 0 {
		pc.Velocity.MaxDailyKoinu = DogeToKoinu(cfg.Policy.MaxDailyDoge)
	}
	if cfg.Policy.MaxHourlyDoge > 0 {
		pc.Velocity.MaxHourlyKoinu = DogeToKoinu(cfg.Policy.MaxHourlyDoge)
	}
	if cfg.Policy.TxCountDailyMax > 0 {
		pc.Velocity.TxCountDailyMax = cfg.Policy.TxCountDailyMax
	}
	if cfg.Policy.CooldownSeconds > 0 {
		pc.Velocity.CooldownSeconds = cfg.Policy.CooldownSeconds
	}
	return pc
}

// approvalTimeout returns the configured approval auto-resolve window.
func (w *Wallet) approvalTimeout() time.Duration {
	sec := w.cfg.Policy.ApprovalTimeoutSeconds
	if sec <= 0 {
		sec = 3600
	}
	return time.Duration(sec) * time.Second
}

// resolveFeeRate picks a koinu-per-byte fee rate per spec section 4.3:
// the configured static rate, or, when UseNetworkEstimate is set, the
// provider's feeEstimate (fallbackFeePerKb/1000 when no estimate is
// available). fallbackFeePerKb/1000 also applies if the base rate is
// still zero. Strategy {low, medium, high} then scales the base rate.
func (w *Wallet) resolveFeeRate(ctx context.Context) Koinu {
	base := Koinu(w.cfg.Fees.StaticRateKoinuPerByte)
	if w.cfg.Fees.UseNetworkEstimate {
		if info, err := w.Chain.GetNetworkInfo(ctx); err == nil && info.FeeRateKoinu > 0 {
			base = info.FeeRateKoinu
		} else if w.cfg.Fees.FallbackFeePerKbKoinu > 0 {
			base = Koinu(w.cfg.Fees.FallbackFeePerKbKoinu / 1000)
		}
	}
	if base <= 0 && w.cfg.Fees.FallbackFeePerKbKoinu > 0 {
		base = Koinu(w.cfg.Fees.FallbackFeePerKbKoinu / 1000)
	}

	switch w.cfg.Fees.Strategy {
	case "low":
		return base / 2
	case "high":
		return base + base/2
	default: // "medium" and unset
		return base
	}
}

// isOwnerIdentity reports whether callerIdentity matches the
// configured owner identity (notifications.target or one of
// ownerChatIds), or the distinguished system:auto identity used for
// timer-driven auto-resolution.
func (w *Wallet) isOwnerIdentity(callerIdentity string) bool {
	if callerIdentity == "" {
		return false
	}
	if callerIdentity == SystemAutoIdentity {
		return true
	}
	if w.cfg.Notifications.Target != "" && callerIdentity == w.cfg.Notifications.Target {
		return true
	}
	for _, id := range w.cfg.Notifications.OwnerChatIDs {
		if id == callerIdentity {
			return true
		}
	}
	return false
}

// Approve resolves a pending approval to approved, but only if
// callerIdentity is the configured owner or system:auto (spec section
// 4.5, property P5). Any other caller gets ErrUnauthorized and the
// pending entry is left untouched, with an audit entry recording the
// rejected attempt.
func (w *Wallet) Approve(id, callerIdentity string) (*PendingApproval, error) {
	return w.resolveApproval(id, callerIdentity, true)
}

// Deny resolves a pending approval to denied under the same
// owner-authentication rule as Approve.
func (w *Wallet) Deny(id, callerIdentity string) (*PendingApproval, error) {
	return w.resolveApproval(id, callerIdentity, false)
}

func (w *Wallet) resolveApproval(id, callerIdentity string, approve bool) (*PendingApproval, error) {
	if !w.isOwnerIdentity(callerIdentity) {
		action := AuditDeny
		if approve {
			action = AuditApprove
		}
		if _, err := w.Audit.Append(AuditEntry{
			Action:      action,
			Reason:      "rejected: caller " + callerIdentity + " is not the configured owner",
			InitiatedBy: InitiatedExternal,
		}); err != nil && w.log != nil {
			w.log.WithError(err).Warn("failed to audit unauthorized approval attempt")
		}
		return nil, NewErr(ErrUnauthorized, "caller is not the configured owner", nil)
	}

	if approve {
		a, err := w.Approvals.Approve(id, callerIdentity)
		if err != nil {
			return nil, err
		}
		if _, err := w.Audit.Append(AuditEntry{Action: AuditApprove, Reason: a.Reason, InitiatedBy: InitiatedOwner}); err != nil && w.log != nil {
			w.log.WithError(err).Warn("failed to audit approval")
		}
		return a, nil
	}
	a, err := w.Approvals.Deny(id, callerIdentity)
	if err != nil {
		return nil, err
	}
	if _, err := w.Audit.Append(AuditEntry{Action: AuditDeny, Reason: a.Reason, InitiatedBy: InitiatedOwner}); err != nil && w.log != nil {
		w.log.WithError(err).Warn("failed to audit denial")
	}
	return a, nil
}

// Start launches background loops: receive polling, confirmation
// tracking, and approval expiry sweeping. It also starts the A2A HTTP
// gateway if enabled in config.
func (w *Wallet) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.Receive != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.Receive.Run(ctx)
		}()
	}

	w.wg.Add(1)
	go w.runLoop(ctx, 30*time.Second, func() {
		w.Tracker.PollDue(ctx)
	})

	w.wg.Add(1)
	go w.runLoop(ctx, 60*time.Second, func() {
		resolved, err := w.Approvals.ExpireDue()
		if err != nil {
			if w.log != nil {
				w.log.WithError(err).Warn("approval expiry sweep failed")
			}
			return
		}
		for _, a := range resolved {
			if a.Status != ApprovalApproved {
				continue
			}
			if _, err := w.ExecuteApproved(ctx, a.ID); err != nil && w.log != nil {
				w.log.WithError(err).WithField("approvalId", a.ID).Warn("auto-approved send failed")
			}
		}
	})

	w.wg.Add(1)
	go w.runLoop(ctx, 10*time.Minute, func() {
		if _, err := w.Invoices.CleanupExpired(); err != nil && w.log != nil {
			w.log.WithError(err).Warn("invoice cleanup sweep failed")
		}
	})

	if w.cfg.API.Enabled {
		addr := w.cfg.API.ListenAddr
		if addr == "" {
			addr = "127.0.0.1:8787"
		}
		w.httpServer = &http.Server{Addr: addr, Handler: w.Gateway.Handler()}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				w.log.WithError(err).Error("a2a gateway stopped unexpectedly")
			}
		}()
		w.log.WithField("addr", addr).Info("a2a gateway listening")
	}

	return nil
}

func (w *Wallet) runLoop(ctx context.Context, interval time.Duration, fn func()) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Shutdown stops every background loop and the HTTP gateway, and locks
// the keystore.
func (w *Wallet) Shutdown(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.httpServer != nil {
		if err := w.httpServer.Shutdown(ctx); err != nil {
			return NewErr(ErrValidation, "shutdown a2a gateway", err)
		}
	}
	w.wg.Wait()
	w.Keystore.Lock()
	if err := w.Audit.Close(); err != nil {
		return err
	}
	return nil
}

// ExecuteSend runs the full send pipeline: preflight, policy
// evaluation (possibly queueing for approval instead of sending
// immediately), coin selection and locking, build, sign, broadcast,
// and tracking. Returns the broadcast txid, or the pending approval ID
// if the send was queued rather than executed immediately.
func (w *Wallet) ExecuteSend(ctx context.Context, toAddress string, amountKoinu Koinu, initiatedBy InitiatedBy) (txid string, approvalID string, err error) {
	if !w.Keystore.IsUnlocked() {
		return "", "", NewErr(ErrWalletLocked, "unlock the wallet before sending", nil)
	}

	bal := w.UTXOs.GetBalance(w.cfg.UTXO.MinConfirmations)
	pre := PreflightCheck(ctx, toAddress, amountKoinu, w.net, bal.ConfirmedKoinu)
	if !pre.OK {
		return "", "", NewErr(ErrValidation, pre.Reason, nil)
	}

	decision, err := w.Policy.Evaluate(toAddress, amountKoinu, bal.ConfirmedKoinu)
	if err != nil {
		return "", "", err
	}

	if _, err := w.Audit.Append(AuditEntry{
		Action:      AuditPolicyCheck,
		Address:     toAddress,
		AmountKoinu: &amountKoinu,
		Tier:        string(decision.Tier),
		Reason:      decision.Reason,
		InitiatedBy: initiatedBy,
	}); err != nil && w.log != nil {
		w.log.WithError(err).Warn("failed to audit policy check")
	}

	switch decision.Action {
	case ActionDeny:
		return "", "", NewErr(ErrPolicyDenied, "policy denied this send", nil)
	case ActionAuto, ActionNotify:
		return w.executeSendNow(ctx, toAddress, amountKoinu, initiatedBy, decision)
	default:
		approval, err := w.Approvals.Enqueue(toAddress, amountKoinu, string(decision.Tier), decision.Action, decision.Reason, w.approvalTimeout(), ActionDeny)
		if err != nil {
			return "", "", err
		}
		return "", approval.ID, nil
	}
}

// ExecuteApproved runs the send pipeline for a previously approved
// PendingApproval, called after Approve or after an auto-approve
// expiry.
func (w *Wallet) ExecuteApproved(ctx context.Context, approvalID string) (string, error) {
	approval, ok := w.Approvals.Get(approvalID)
	if !ok {
		return "", NewErr(ErrValidation, "unknown approval id", nil)
	}
	if approval.Status != ApprovalApproved {
		return "", NewErr(ErrValidation, "approval is not in approved state", nil)
	}
	txid, _, err := w.executeSendNow(ctx, approval.To, approval.AmountKoinu, InitiatedOwner, Decision{Tier: Tier(approval.Tier)})
	if err != nil {
		return "", err
	}
	if err := w.Approvals.MarkExecuted(approvalID); err != nil {
		return "", err
	}
	return txid, nil
}

func (w *Wallet) executeSendNow(ctx context.Context, toAddress string, amountKoinu Koinu, initiatedBy InitiatedBy, decision Decision) (string, string, error) {
	lockID := fmt.Sprintf("send-%d-%s", w.clk.Now().UnixNano(), toAddress)

	feeRate := w.resolveFeeRate(ctx)

	selection, err := w.UTXOs.SelectAndLock(amountKoinu, feeRate, lockID, w.cfg.UTXO.MinConfirmations)
	if err != nil {
		return "", "", err
	}

	changeAddress, err := w.Keystore.GetAddress()
	if err != nil {
		_ = w.UTXOs.UnlockFor(lockID)
		return "", "", err
	}

	built, err := BuildTransaction(selection.Inputs, toAddress, amountKoinu, changeAddress, feeRate, w.net)
	if err != nil {
		_ = w.UTXOs.UnlockFor(lockID)
		return "", "", err
	}

	if maxKb := w.cfg.Fees.MaxFeePerKbKoinu; maxKb > 0 {
		sizeBytes := estimateTxSize(len(selection.Inputs), 2)
		maxFee := Koinu(maxKb * sizeBytes / 1000)
		if built.FeeKoinu > maxFee {
			_ = w.UTXOs.UnlockFor(lockID)
			return "", "", NewErr(ErrFeeExceedsLimit, "computed fee exceeds configured maxFeePerKb ceiling", nil)
		}
	}

	if err := SignTransaction(built, w.Keystore, 0, 0, w.net); err != nil {
		_ = w.UTXOs.UnlockFor(lockID)
		return "", "", err
	}

	rawHex, err := SerializeTx(built.Tx)
	if err != nil {
		_ = w.UTXOs.UnlockFor(lockID)
		return "", "", err
	}

	txid, err := w.Chain.BroadcastTx(ctx, rawHex)
	if err != nil {
		_ = w.UTXOs.UnlockFor(lockID)
		return "", "", err
	}

	outpoints := make([]OutPoint, len(selection.Inputs))
	for i, u := range selection.Inputs {
		outpoints[i] = u.OutPoint
	}

	// Optimistic change-add: BuildTransaction always places the payment
	// output at vout 0 and, when present, the change output at vout 1 —
	// wire.MsgTx.Serialize preserves insertion order, so this index
	// matches what lands on-chain (spec section 9, open question 1).
	if built.ChangeKoinu > 0 {
		changeScript, scriptErr := PayToAddrScript(changeAddress, w.net)
		if scriptErr == nil {
			changeUTXO := UTXO{
				OutPoint:     OutPoint{Txid: txid, Vout: 1},
				Address:      changeAddress,
				Amount:       built.ChangeKoinu,
				ScriptPubKey: hex.EncodeToString(changeScript),
			}
			if err := w.UTXOs.AddUTXO(changeUTXO); err != nil && w.log != nil {
				w.log.WithError(err).Warn("failed to optimistically add change utxo")
			}
		}
	}

	// Inputs stay locked under lockID until the tracker reaches a
	// terminal state: MarkSpent (remove) on confirmed, UnlockFor
	// (release) on failed/unverified, wired via Tracker.OnTerminal.
	w.Tracker.Track(txid, lockID, TrackedTxMeta{To: toAddress, AmountKoinu: amountKoinu, FeeKoinu: built.FeeKoinu, Outpoints: outpoints})
	w.Policy.RecordSpend(amountKoinu)

	fee := built.FeeKoinu
	if _, err := w.Audit.Append(AuditEntry{
		Action:      AuditSend,
		Txid:        txid,
		Address:     toAddress,
		AmountKoinu: &amountKoinu,
		FeeKoinu:    &fee,
		Tier:        string(decision.Tier),
		InitiatedBy: initiatedBy,
	}); err != nil && w.log != nil {
		w.log.WithError(err).Warn("failed to audit send")
	}

	return txid, "", nil
}
