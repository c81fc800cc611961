package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/bridge"
	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/evm"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/sealbox"
	"github.com/railclaw/railclaw/internal/sol"
	"github.com/railclaw/railclaw/internal/store"
)

// Deposit tolerance: stage 1 completes once the deposit ATA holds at least
// 99% of the requested input. Fill tolerance: the stage-3 match accepts an
// output amount within ±1% of the quoted output.
const (
	depositLowerPct   = 0.99
	fillToleranceLow  = 0.99
	fillToleranceHigh = 1.01
)

// Bridge drives the three-stage bridge pipeline: Solana deposit watch,
// Across deposit submission, and destination-chain fill watch. The record's
// status mirrors the current stage so a restart can resume at stage 3.
type Bridge struct {
	store      store.Store
	evmClients map[string]*evm.Client
	solClient  *sol.Client
	cfg        *config.Config
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewBridge creates a bridge pipeline monitor factory.
func NewBridge(st store.Store, evmClients map[string]*evm.Client, solClient *sol.Client, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Bridge {
	return &Bridge{
		store:      st,
		evmClients: evmClients,
		solClient:  solClient,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// Run executes the pipeline to a terminal status. With resumeStage3 set the
// record must already be in status bridging; stages 1 and 2 are never
// repeated because their on-chain effects are not idempotent.
func (b *Bridge) Run(ctx context.Context, rec store.Record, resumeStage3 bool) {
	log := b.logger.With().
		Str("payment_id", rec.PaymentID).
		Str("settlement_chain", rec.SettlementChain).
		Logger()

	b.metrics.MonitorStarted()
	outcome := "error"
	defer func() { b.metrics.MonitorFinished("bridge", outcome) }()

	if rec.Bridge == nil {
		b.fail(ctx, rec.PaymentID, "record has no bridge leg", log)
		return
	}
	if b.solClient == nil {
		b.fail(ctx, rec.PaymentID, "solana RPC not configured", log)
		return
	}

	deadline := rec.CreatedAt.Add(b.cfg.Monitoring.BridgeTimeout.Duration)
	if time.Until(deadline) <= 0 {
		b.expire(ctx, rec.PaymentID, log)
		outcome = "expired"
		return
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log.Info().
		Bool("resume_stage3", resumeStage3).
		Str("deposit_address", rec.Bridge.DepositAddress).
		Msg("monitor.bridge_started")

	if !resumeStage3 {
		stageStart := time.Now()
		updated, err := b.stageDepositWatch(ctx, rec, log)
		b.metrics.ObserveBridgeStage("deposit_watch", time.Since(stageStart))
		if err != nil {
			switch {
			case interrupted(ctx):
				// Shutdown, not deadline expiry. The deposit watch has no
				// side effects; the next boot restarts it from waiting_deposit.
				outcome = "interrupted"
				log.Info().Msg("monitor.bridge_interrupted")
			case ctx.Err() != nil:
				b.expire(context.WithoutCancel(ctx), rec.PaymentID, log)
				outcome = "expired"
			default:
				b.fail(ctx, rec.PaymentID, err.Error(), log)
			}
			return
		}
		rec = updated

		stageStart = time.Now()
		updated, err = b.stageSubmitDeposit(ctx, rec, log)
		b.metrics.ObserveBridgeStage("submit_deposit", time.Since(stageStart))
		if err != nil {
			// Stage 2 errors are fatal: an approve or deposit that may have
			// partially landed must never be retried blind.
			b.fail(context.WithoutCancel(ctx), rec.PaymentID, err.Error(), log)
			return
		}
		rec = updated
	}

	stageStart := time.Now()
	err := b.stageFillWatch(ctx, rec, resumeStage3, log)
	b.metrics.ObserveBridgeStage("fill_watch", time.Since(stageStart))
	if err != nil {
		switch {
		case interrupted(ctx):
			// The record stays in bridging; the next boot resumes stage 3
			// with the widened sweep.
			outcome = "interrupted"
			log.Info().Msg("monitor.bridge_interrupted")
		case ctx.Err() != nil:
			b.expire(context.WithoutCancel(ctx), rec.PaymentID, log)
			outcome = "expired"
		default:
			b.fail(ctx, rec.PaymentID, err.Error(), log)
		}
		return
	}

	outcome = "confirmed"
}

// stageDepositWatch polls the one-time deposit ATA until it holds the
// expected input. AccountNotFound is the normal initial state: the ATA only
// exists after the user's wallet creates it with the first transfer.
func (b *Bridge) stageDepositWatch(ctx context.Context, rec store.Record, log zerolog.Logger) (store.Record, error) {
	depositAddr, err := solana.PublicKeyFromBase58(rec.Bridge.DepositAddress)
	if err != nil {
		return rec, fmt.Errorf("bad deposit address: %w", err)
	}
	minBalance := uint64(float64(rec.Bridge.RawInputAmount) * depositLowerPct)

	ticker := time.NewTicker(b.cfg.Monitoring.PollInterval.Duration)
	defer ticker.Stop()

	for {
		balance, err := b.solClient.TokenAccountBalance(ctx, depositAddr)
		switch {
		case errors.Is(err, sol.ErrAccountNotFound):
			// Not created yet; keep waiting.
		case err != nil:
			log.Warn().Err(err).Msg("monitor.balance_poll_failed")
		case balance >= minBalance:
			log.Info().
				Uint64("balance", balance).
				Uint64("expected", rec.Bridge.RawInputAmount).
				Msg("monitor.deposit_received")

			return b.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
				r.Status = store.StatusDepositReceived
				r.Bridge.ActualInputAmount = balance
				return nil
			})
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stageSubmitDeposit unseals the temp key, optionally funds it with rent
// lamports, and submits the approve + deposit transaction to the SpokePool.
func (b *Bridge) stageSubmitDeposit(ctx context.Context, rec store.Record, log zerolog.Logger) (store.Record, error) {
	key := b.cfg.WalletKeyBytes()
	if key == nil {
		return rec, fmt.Errorf("encryption.wallet_key not configured")
	}
	keyBytes, err := sealbox.Open(rec.Bridge.TempPrivateKeySealed, key)
	if err != nil {
		return rec, fmt.Errorf("unseal temp key: %w", err)
	}
	tempKey := solana.PrivateKey(keyBytes)

	if b.cfg.Sol.DispenserKey != "" {
		if err := b.fundTempWallet(ctx, tempKey.PublicKey(), log); err != nil {
			return rec, fmt.Errorf("fund temp wallet: %w", err)
		}
	}

	program, err := solana.PublicKeyFromBase58(rec.Bridge.SpokePoolSource)
	if err != nil {
		return rec, fmt.Errorf("bad source spoke pool: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(rec.Bridge.InputTokenMint)
	if err != nil {
		return rec, fmt.Errorf("bad input mint: %w", err)
	}

	var recipient, outputToken [20]byte
	copy(recipient[:], common.HexToAddress(rec.SettlementWallet).Bytes())
	copy(outputToken[:], common.HexToAddress(rec.Bridge.OutputTokenAddress).Bytes())

	params := bridge.DepositParams{
		Depositor:          tempKey.PublicKey(),
		Recipient:          bridge.PadEVMAddress(recipient),
		InputToken:         mint,
		OutputToken:        bridge.PadEVMAddress(outputToken),
		InputAmount:        rec.Bridge.ActualInputAmount,
		OutputAmount:       bridge.U256BE(new(big.Int).SetUint64(rec.Bridge.RawOutputAmount)),
		DestinationChainID: rec.Bridge.DestinationChainID,
		QuoteTimestamp:     rec.Bridge.QuoteTimestamp,
		FillDeadline:       rec.Bridge.FillDeadline,
	}

	state, err := bridge.StatePDA(program)
	if err != nil {
		return rec, err
	}
	eventAuthority, err := bridge.EventAuthorityPDA(program)
	if err != nil {
		return rec, err
	}
	delegate, err := bridge.DelegatePDA(params, program)
	if err != nil {
		return rec, err
	}
	vault, err := sol.DeriveATA(state, mint)
	if err != nil {
		return rec, err
	}
	depositorATA, err := sol.DeriveATA(tempKey.PublicKey(), mint)
	if err != nil {
		return rec, err
	}

	tokenCfg, _ := b.cfg.TokenFor("solana", rec.Token)
	decimals := tokenCfg.Decimals
	if decimals == 0 {
		decimals = 6
	}

	approve := sol.BuildApproveChecked(
		rec.Bridge.ActualInputAmount,
		decimals,
		depositorATA,
		mint,
		delegate,
		tempKey.PublicKey(),
	)
	deposit, err := bridge.BuildDepositInstruction(params, bridge.DepositAccounts{
		Signer:                tempKey.PublicKey(),
		State:                 state,
		Delegate:              delegate,
		DepositorTokenAccount: depositorATA,
		Vault:                 vault,
		Mint:                  mint,
		EventAuthority:        eventAuthority,
		Program:               program,
	})
	if err != nil {
		return rec, err
	}

	sig, err := b.solClient.SendAndConfirm(ctx, []solana.Instruction{approve, deposit}, tempKey, nil, 2*time.Minute)
	if err != nil {
		return rec, fmt.Errorf("submit deposit: %w", err)
	}

	log.Info().
		Str("signature", sig.String()).
		Uint64("input_amount", rec.Bridge.ActualInputAmount).
		Msg("monitor.deposit_submitted")

	return b.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
		r.Status = store.StatusBridging
		r.DepositTxSig = sig.String()
		return nil
	})
}

// fundTempWallet transfers rent lamports from the dispenser so the temp
// wallet can pay transaction fees.
func (b *Bridge) fundTempWallet(ctx context.Context, tempWallet solana.PublicKey, log zerolog.Logger) error {
	dispenser, err := sol.ParsePrivateKey(b.cfg.Sol.DispenserKey)
	if err != nil {
		return fmt.Errorf("parse dispenser key: %w", err)
	}

	transfer := sol.BuildTransfer(b.cfg.Sol.FundAmountLamports, dispenser.PublicKey(), tempWallet)
	sig, err := b.solClient.SendAndConfirm(ctx, []solana.Instruction{transfer}, dispenser, nil, time.Minute)
	if err != nil {
		return err
	}

	log.Info().
		Str("signature", sig.String()).
		Uint64("lamports", b.cfg.Sol.FundAmountLamports).
		Msg("monitor.temp_wallet_funded")
	return nil
}

// stageFillWatch watches the destination SpokePool for the matching
// FilledRelay event. The live subscription is registered before the
// historical sweep starts so a fast fill cannot land between them.
func (b *Bridge) stageFillWatch(ctx context.Context, rec store.Record, resumed bool, log zerolog.Logger) error {
	client, ok := b.evmClients[strings.ToLower(rec.SettlementChain)]
	if !ok {
		return fmt.Errorf("no RPC configured for chain %s", rec.SettlementChain)
	}

	originChainID, ok := b.cfg.Bridge.AcrossChainIDs["solana"]
	if !ok {
		return fmt.Errorf("across chain id for solana not configured")
	}

	spokePool := common.HexToAddress(rec.Bridge.SpokePoolDestination)
	wallet := common.HexToAddress(rec.SettlementWallet)
	outputToken := common.HexToAddress(rec.Bridge.OutputTokenAddress)

	rawOutput := new(big.Float).SetUint64(rec.Bridge.RawOutputAmount)
	lower, _ := new(big.Float).Mul(rawOutput, big.NewFloat(fillToleranceLow)).Int(nil)
	upper, _ := new(big.Float).Mul(rawOutput, big.NewFloat(fillToleranceHigh)).Int(nil)

	match := func(lg types.Log) (evm.FilledRelay, bool) {
		fill, err := evm.ParseFilledRelay(lg)
		if err != nil {
			return evm.FilledRelay{}, false
		}
		if fill.OriginChainID.Uint64() != originChainID {
			return evm.FilledRelay{}, false
		}
		if fill.Recipient != wallet || fill.OutputToken != outputToken {
			return evm.FilledRelay{}, false
		}
		if fill.OutputAmount.Cmp(lower) < 0 || fill.OutputAmount.Cmp(upper) > 0 {
			return evm.FilledRelay{}, false
		}
		return fill, true
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{spokePool},
		Topics: [][]common.Hash{
			{evm.FilledRelayTopic},
			{common.BigToHash(new(big.Int).SetUint64(originChainID))},
		},
	}

	found := make(chan evm.FilledRelay, 2)
	scanErr := make(chan error, 1)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Live subscription first.
	if client.SupportsSubscriptions() {
		liveCh := make(chan types.Log, 16)
		sub, err := client.SubscribeLogs(raceCtx, query, liveCh)
		if err != nil {
			log.Warn().Err(err).Msg("monitor.fill_subscribe_failed")
		} else {
			go func() {
				defer sub.Unsubscribe()
				for {
					select {
					case <-raceCtx.Done():
						return
					case err := <-sub.Err():
						log.Warn().Err(err).Msg("monitor.fill_subscription_dropped")
						return
					case lg := <-liveCh:
						if fill, ok := match(lg); ok {
							found <- fill
							return
						}
					}
				}
			}()
		}
	}

	// 2. Historical sweep, widened when resuming an interrupted stage 3.
	lookback := b.cfg.Bridge.FillLookbackBlocks
	if resumed {
		lookback = b.cfg.Bridge.ResumeLookbackBlocks
	}

	go func() {
		head, err := client.BlockNumber(raceCtx)
		if err != nil {
			if raceCtx.Err() == nil {
				scanErr <- fmt.Errorf("get head block: %w", err)
			}
			return
		}
		from := uint64(0)
		if head > lookback {
			from = head - lookback
		}

		cursor := from
		tip := head
		ticker := time.NewTicker(b.cfg.Monitoring.PollInterval.Duration)
		defer ticker.Stop()

		for {
			if cursor <= tip {
				hit, err := client.ScanLogs(raceCtx, query, cursor, tip, b.cfg.Monitoring.LogChunkBlocks, b.cfg.Monitoring.ChunkDelay.Duration, func(lg types.Log) bool {
					if fill, ok := match(lg); ok {
						found <- fill
						return true
					}
					return false
				})
				if err != nil {
					if raceCtx.Err() == nil {
						scanErr <- err
					}
					return
				}
				if hit {
					return
				}
				cursor = tip + 1
			}

			select {
			case <-raceCtx.Done():
				return
			case <-ticker.C:
				h, err := client.BlockNumber(raceCtx)
				if err == nil && h > tip {
					tip = h
				}
			}
		}
	}()

	var fill evm.FilledRelay
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-scanErr:
		return err
	case fill = <-found:
	}

	head, err := client.BlockNumber(context.WithoutCancel(ctx))
	if err != nil || head < fill.Block {
		head = fill.Block
	}
	confirmations := head - fill.Block + 1

	now := time.Now().UTC()
	confirmed, err := b.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
		r.Status = store.StatusConfirmed
		r.TxHash = fill.TxHash.Hex()
		r.Confirmations = confirmations
		r.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("record update: %w", err)
	}

	if err := b.store.EnqueueNotification(ctx, store.Notification{
		Type:            store.NotifyBridgeConfirmed,
		PaymentID:       confirmed.PaymentID,
		BusinessID:      confirmed.BusinessID,
		ChatID:          confirmed.ChatID,
		Token:           confirmed.Token,
		Amount:          confirmed.Amount,
		SettlementChain: confirmed.SettlementChain,
		TxHash:          confirmed.TxHash,
		DepositTxSig:    confirmed.DepositTxSig,
		Confirmations:   confirmations,
		ConfirmedAt:     now,
	}); err != nil {
		log.Error().Err(err).Msg("monitor.notification_enqueue_failed")
	}

	log.Info().
		Str("tx_hash", fill.TxHash.Hex()).
		Uint64("confirmations", confirmations).
		Msg("monitor.bridge_confirmed")
	return nil
}

func (b *Bridge) expire(ctx context.Context, paymentID string, log zerolog.Logger) {
	now := time.Now().UTC()
	if _, err := b.store.Update(ctx, paymentID, func(r *store.Record) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = store.StatusExpired
		r.ExpiredAt = &now
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("monitor.expire_update_failed")
		return
	}
	log.Info().Msg("monitor.bridge_expired")
}

func (b *Bridge) fail(ctx context.Context, paymentID, reason string, log zerolog.Logger) {
	if _, err := b.store.Update(ctx, paymentID, func(r *store.Record) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = store.StatusError
		r.ErrorReason = reason
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("monitor.error_update_failed")
		return
	}
	log.Error().Str("reason", reason).Msg("monitor.bridge_failed")
}
