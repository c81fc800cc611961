// Package orchestrator is the request router: it consults the policy, decides
// between direct and bridged settlement, creates the payment record, and
// spawns the detached monitor. The response returns to the caller before the
// monitor produces anything.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/bridge"
	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/monitor"
	"github.com/railclaw/railclaw/internal/policy"
	"github.com/railclaw/railclaw/internal/sealbox"
	"github.com/railclaw/railclaw/internal/sol"
	"github.com/railclaw/railclaw/internal/store"
)

// Request is a payment creation request.
type Request struct {
	Amount float64 `json:"amount"`
	Token  string  `json:"token"`
	Chain  string  `json:"chain"`
	EMI    bool    `json:"emi,omitempty"`
}

// BridgeInstructions tells the payer where and how much to deposit.
type BridgeInstructions struct {
	DepositAddress   string `json:"deposit_address"`
	AmountToSend     string `json:"amount_to_send"`
	RelayFee         string `json:"relay_fee"`
	BusinessReceives string `json:"business_receives"`
	SettlementChain  string `json:"settlement_chain"`
	SettlementWallet string `json:"settlement_wallet"`
}

// Response is the immediate outcome of a payment request. Status is one of
// executed, bridge_payment, rejected, not_ready.
type Response struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
	Link      string `json:"link,omitempty"`

	BridgeInstructions *BridgeInstructions `json:"bridge_instructions,omitempty"`

	// Rejection fields.
	Violation string      `json:"violation,omitempty"`
	Policy    interface{} `json:"policy,omitempty"`
	Received  interface{} `json:"received,omitempty"`

	// not_ready detail.
	Reason string `json:"reason,omitempty"`
}

// Orchestrator wires the policy store, record store, and monitors together.
type Orchestrator struct {
	policies *policy.Store
	store    store.Store
	registry *monitor.Registry
	direct   *monitor.Direct
	bridges  *monitor.Bridge
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates the orchestrator.
func New(policies *policy.Store, st store.Store, registry *monitor.Registry, direct *monitor.Direct, bridges *monitor.Bridge, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		policies: policies,
		store:    st,
		registry: registry,
		direct:   direct,
		bridges:  bridges,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Handle processes a payment creation request. The policy is re-read on
// every call; edits to the policy document take effect on the next request
// with no restart.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	pol, err := o.policies.Load()
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) || errors.Is(err, policy.ErrMalformed) {
			return Response{Status: "not_ready", Reason: err.Error()}, nil
		}
		var inv *policy.InvariantError
		if errors.As(err, &inv) {
			return Response{Status: "not_ready", Reason: inv.Error()}, nil
		}
		return Response{}, fmt.Errorf("load policy: %w", err)
	}
	if !pol.Active() {
		return Response{Status: "not_ready", Reason: "business not onboarded or policy inactive"}, nil
	}

	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return Response{
			Status:    "rejected",
			Violation: "amount",
			Policy:    "amount must be positive",
			Received:  req.Amount,
		}, nil
	}

	// Routing. Order is decisive: a user-payable chain with bridging enabled
	// routes through the bridge even if the chain is also directly allowed.
	var kind store.Kind
	settlementChain := strings.ToLower(req.Chain)
	switch {
	case pol.UserPayable(req.Chain) && pol.BridgeEnabled():
		kind = store.KindBridge
		settlementChain = strings.ToLower(pol.CrossChain.Bridge.SettlementChain)
	case pol.AllowsChain(req.Chain):
		kind = store.KindDirect
	default:
		return Response{
			Status:    "rejected",
			Violation: "chain",
			Policy:    pol.Specification.AllowedChains,
			Received:  req.Chain,
		}, nil
	}

	if !pol.AllowsToken(req.Token) {
		return Response{
			Status:    "rejected",
			Violation: "token",
			Policy:    pol.Specification.AllowedTokens,
			Received:  req.Token,
		}, nil
	}
	if !pol.WithinLimit(req.Amount) {
		return Response{
			Status:    "rejected",
			Violation: "amount",
			Policy:    pol.Restrictions.MaxSinglePayment,
			Received:  req.Amount,
		}, nil
	}
	if req.EMI && !pol.Operational.EMIEnabled {
		return Response{
			Status:    "rejected",
			Violation: "emi",
			Policy:    false,
			Received:  true,
		}, nil
	}

	rec := store.Record{
		PaymentID:        o.newPaymentID(),
		BusinessID:       pol.Business.ID,
		BusinessName:     pol.Business.Name,
		SettlementWallet: pol.Business.Wallet,
		ChatID:           pol.Business.ChatID,
		Kind:             kind,
		Token:            strings.ToUpper(req.Token),
		Amount:           req.Amount,
		SettlementChain:  settlementChain,
		Status:           store.StatusPending,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(time.Duration(o.cfg.Payment.DefaultExpiryHours) * time.Hour),
	}

	var resp Response
	if kind == store.KindBridge {
		leg, instructions, err := o.buildBridgeLeg(rec, req)
		if err != nil {
			return Response{}, err
		}
		rec.Status = store.StatusWaitingDeposit
		rec.Bridge = leg
		resp = Response{
			Status:             "bridge_payment",
			PaymentID:          rec.PaymentID,
			BridgeInstructions: instructions,
		}
	} else {
		resp = Response{
			Status:    "executed",
			PaymentID: rec.PaymentID,
			Link:      o.cfg.Payment.BaseURL + "/p/" + rec.PaymentID,
		}
	}

	if err := o.store.Create(ctx, rec); err != nil {
		return Response{}, fmt.Errorf("create record: %w", err)
	}
	o.metrics.PaymentCreated(string(kind))

	// Detached spawn: the response returns now, the monitor runs to its own
	// terminal status.
	if err := o.spawn(rec, false); err != nil {
		o.logger.Error().Err(err).
			Str("payment_id", rec.PaymentID).
			Msg("orchestrator.spawn_failed")
	}

	return resp, nil
}

// buildBridgeLeg generates the one-time deposit wallet and computes the
// bridge economics for a record.
func (o *Orchestrator) buildBridgeLeg(rec store.Record, req Request) (*store.BridgeLeg, *BridgeInstructions, error) {
	key := o.cfg.WalletKeyBytes()
	if key == nil {
		return nil, nil, fmt.Errorf("encryption.wallet_key not configured")
	}

	tempKey, err := sol.NewKeypair()
	if err != nil {
		return nil, nil, err
	}
	sealed, err := sealbox.Seal(tempKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("seal temp key: %w", err)
	}

	inputToken, ok := o.cfg.TokenFor("solana", req.Token)
	if !ok {
		return nil, nil, fmt.Errorf("token %s not configured on solana", req.Token)
	}
	mint, err := solana.PublicKeyFromBase58(inputToken.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("bad mint for %s: %w", req.Token, err)
	}
	depositAddr, err := sol.DeriveATA(tempKey.PublicKey(), mint)
	if err != nil {
		return nil, nil, err
	}

	outputToken, ok := o.cfg.TokenFor(rec.SettlementChain, req.Token)
	if !ok {
		return nil, nil, fmt.Errorf("token %s not configured on %s", req.Token, rec.SettlementChain)
	}

	sourcePool, ok := o.cfg.SpokePoolFor("solana")
	if !ok {
		return nil, nil, fmt.Errorf("solana spoke pool not configured")
	}
	destPool, ok := o.cfg.SpokePoolFor(rec.SettlementChain)
	if !ok {
		return nil, nil, fmt.Errorf("spoke pool for %s not configured", rec.SettlementChain)
	}
	destChainID, ok := o.cfg.Bridge.AcrossChainIDs[rec.SettlementChain]
	if !ok {
		return nil, nil, fmt.Errorf("across chain id for %s not configured", rec.SettlementChain)
	}

	relayFee := bridge.ComputeRelayFee(req.Amount, o.cfg.Bridge.EstimatedRelayFeePct, o.cfg.Bridge.MinRelayFeeBuffer)
	decimals := inputToken.Decimals
	if decimals == 0 {
		decimals = 6
	}
	scale := math.Pow10(int(decimals))

	now := time.Now().UTC()
	leg := &store.BridgeLeg{
		SourceChain:          "solana",
		InputTokenMint:       inputToken.Address,
		OutputTokenAddress:   outputToken.Address,
		RawInputAmount:       uint64(math.Round((req.Amount + relayFee) * scale)),
		RawOutputAmount:      uint64(math.Round(req.Amount * scale)),
		RelayFee:             formatAmount(relayFee),
		TempWalletPubkey:     tempKey.PublicKey().String(),
		DepositAddress:       depositAddr.String(),
		TempPrivateKeySealed: sealed,
		SpokePoolSource:      sourcePool,
		SpokePoolDestination: destPool,
		DestinationChainID:   destChainID,
		QuoteTimestamp:       uint32(now.Unix()),
		FillDeadline:         uint32(now.Add(o.cfg.Bridge.FillDeadlineOffset.Duration).Unix()),
	}

	instructions := &BridgeInstructions{
		DepositAddress:   leg.DepositAddress,
		AmountToSend:     formatAmount(req.Amount + relayFee),
		RelayFee:         leg.RelayFee,
		BusinessReceives: formatAmount(req.Amount),
		SettlementChain:  rec.SettlementChain,
		SettlementWallet: rec.SettlementWallet,
	}
	return leg, instructions, nil
}

// spawn launches the monitor matching the record's kind.
func (o *Orchestrator) spawn(rec store.Record, resumeStage3 bool) error {
	if rec.Kind == store.KindBridge {
		return o.registry.Spawn(rec.PaymentID, func(ctx context.Context) {
			o.bridges.Run(ctx, rec, resumeStage3)
		})
	}
	return o.registry.Spawn(rec.PaymentID, func(ctx context.Context) {
		o.direct.Run(ctx, rec)
	})
}

// CheckPayment returns the current record for a payment id.
func (o *Orchestrator) CheckPayment(ctx context.Context, paymentID string) (store.Record, error) {
	return o.store.Get(ctx, paymentID)
}

// ListPayments returns records matching the filter.
func (o *Orchestrator) ListPayments(ctx context.Context, f store.Filter) ([]store.Record, error) {
	return o.store.List(ctx, f)
}

// Resume respawns monitors for records interrupted by a restart: bridge
// records in status bridging continue at stage 3 with a widened look-back,
// waiting_deposit and direct records restart their watch, and records caught
// mid deposit submission are flagged as errors.
func (o *Orchestrator) Resume(ctx context.Context) error {
	records, err := o.store.List(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	resumed := 0
	for _, rec := range records {
		switch {
		case rec.Kind == store.KindBridge && rec.Status == store.StatusBridging:
			if err := o.spawn(rec, true); err == nil {
				resumed++
			}
		case rec.Kind == store.KindBridge && rec.Status == store.StatusDepositReceived:
			// The crash window spans the deposit submission: whether the
			// approve + deposit landed is unknown, and stage 2 must never be
			// repeated blind. Flag the record for manual review instead of
			// leaving it non-terminal with no monitor.
			if _, err := o.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
				r.Status = store.StatusError
				r.ErrorReason = "restarted during deposit submission"
				return nil
			}); err != nil {
				o.logger.Error().Err(err).
					Str("payment_id", rec.PaymentID).
					Msg("orchestrator.resume_flag_failed")
			}
		case rec.Kind == store.KindBridge && rec.Status == store.StatusWaitingDeposit:
			// Stage 1 is safe to restart: watching a balance has no side
			// effects. A record past its deadline is expired by the monitor
			// on spawn.
			if err := o.spawn(rec, false); err == nil {
				resumed++
			}
		case rec.Kind == store.KindDirect && (rec.Status == store.StatusPending || rec.Status == store.StatusConfirming):
			if err := o.spawn(rec, false); err == nil {
				resumed++
			}
		}
	}

	if resumed > 0 {
		o.logger.Info().Int("count", resumed).Msg("orchestrator.monitors_resumed")
	}
	return nil
}

// newPaymentID builds "<prefix>_<16 hex chars>".
func (o *Orchestrator) newPaymentID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("read random: %v", err))
	}
	return o.cfg.Payment.IDPrefix + "_" + hex.EncodeToString(buf)
}

// formatAmount renders a token amount with two decimal places, the form the
// payer-facing instructions use ("100.60").
func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
