package monitor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/evm"
	"github.com/railclaw/railclaw/internal/logger"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/rpcutil"
	"github.com/railclaw/railclaw/internal/store"
)

// Amount tolerance for direct payments: accept transfers in
// [0.99·expected, 1.10·expected] after decimals scaling. The upper slack
// covers users rounding up; the lower covers sender-side fee deductions.
const (
	directAmountLowerPct = 0.99
	directAmountUpperPct = 1.10
)

// Direct watches one EVM chain for an inbound payment to the business
// settlement wallet and drives the record pending → confirming → confirmed.
type Direct struct {
	store   store.Store
	clients map[string]*evm.Client
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewDirect creates a direct payment monitor factory.
func NewDirect(st store.Store, clients map[string]*evm.Client, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Direct {
	return &Direct{
		store:   st,
		clients: clients,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// candidate is a transfer that passed the matching predicate.
type candidate struct {
	txHash common.Hash
	block  uint64
}

// Run executes the monitor to a terminal status. Errors never propagate to
// the caller; the record is the only output channel.
func (d *Direct) Run(ctx context.Context, rec store.Record) {
	log := d.logger.With().
		Str("payment_id", rec.PaymentID).
		Str("chain", rec.SettlementChain).
		Logger()

	d.metrics.MonitorStarted()
	outcome := "error"
	defer func() { d.metrics.MonitorFinished("direct", outcome) }()

	// The deadline runs from record creation so a resumed monitor does not
	// extend the payment window.
	deadline := rec.CreatedAt.Add(d.cfg.Monitoring.DirectTimeout.Duration)
	remaining := time.Until(deadline)
	if remaining <= 0 {
		d.expire(ctx, rec.PaymentID, log)
		outcome = "expired"
		return
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log.Info().
		Float64("amount", rec.Amount).
		Str("token", rec.Token).
		Str("wallet", logger.TruncateAddress(rec.SettlementWallet)).
		Dur("deadline", remaining).
		Msg("monitor.direct_started")

	client, ok := d.clients[strings.ToLower(rec.SettlementChain)]
	if !ok {
		d.fail(ctx, rec.PaymentID, fmt.Sprintf("no RPC configured for chain %s", rec.SettlementChain), log)
		return
	}

	var (
		cand *candidate
		err  error
	)
	if evm.IsNativeSymbol(rec.Token) {
		cand, err = d.watchNative(ctx, client, rec, log)
	} else {
		cand, err = d.watchERC20(ctx, client, rec, log)
	}
	if err != nil {
		switch {
		case interrupted(ctx):
			// Shutdown, not deadline expiry: leave the record untouched so
			// the next boot resumes the watch.
			outcome = "interrupted"
			log.Info().Msg("monitor.direct_interrupted")
		case ctx.Err() != nil:
			d.expire(context.WithoutCancel(ctx), rec.PaymentID, log)
			outcome = "expired"
		default:
			d.fail(ctx, rec.PaymentID, err.Error(), log)
		}
		return
	}

	// Candidate located: record it and wait out the confirmation window.
	if _, err := d.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
		r.Status = store.StatusConfirming
		r.TxHash = cand.txHash.Hex()
		return nil
	}); err != nil {
		if interrupted(ctx) {
			outcome = "interrupted"
			log.Info().Msg("monitor.direct_interrupted")
			return
		}
		d.fail(ctx, rec.PaymentID, fmt.Sprintf("record update: %v", err), log)
		return
	}
	log.Info().
		Str("tx_hash", cand.txHash.Hex()).
		Uint64("block", cand.block).
		Msg("monitor.transfer_matched")

	confirmations, err := d.awaitConfirmations(ctx, client, cand.block)
	if err != nil {
		if interrupted(ctx) {
			outcome = "interrupted"
			log.Info().Msg("monitor.direct_interrupted")
			return
		}
		d.expire(context.WithoutCancel(ctx), rec.PaymentID, log)
		outcome = "expired"
		return
	}

	now := time.Now().UTC()
	confirmed, err := d.store.Update(ctx, rec.PaymentID, func(r *store.Record) error {
		r.Status = store.StatusConfirmed
		r.Confirmations = confirmations
		r.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("monitor.confirm_update_failed")
		return
	}

	if err := d.store.EnqueueNotification(ctx, store.Notification{
		Type:            store.NotifyDirectConfirmed,
		PaymentID:       confirmed.PaymentID,
		BusinessID:      confirmed.BusinessID,
		ChatID:          confirmed.ChatID,
		Token:           confirmed.Token,
		Amount:          confirmed.Amount,
		SettlementChain: confirmed.SettlementChain,
		TxHash:          confirmed.TxHash,
		Confirmations:   confirmations,
		ConfirmedAt:     now,
	}); err != nil {
		log.Error().Err(err).Msg("monitor.notification_enqueue_failed")
	}

	outcome = "confirmed"
	log.Info().
		Uint64("confirmations", confirmations).
		Msg("monitor.direct_confirmed")
}

// watchERC20 looks for a Transfer to the settlement wallet: a historical
// chunked sweep from the record's creation block, then a live subscription
// when the chain has a websocket endpoint, else a tail poll.
func (d *Direct) watchERC20(ctx context.Context, client *evm.Client, rec store.Record, log zerolog.Logger) (*candidate, error) {
	token, ok := d.cfg.TokenFor(rec.SettlementChain, rec.Token)
	if !ok {
		return nil, fmt.Errorf("token %s not configured on chain %s", rec.Token, rec.SettlementChain)
	}
	tokenAddr := common.HexToAddress(token.Address)
	wallet := common.HexToAddress(rec.SettlementWallet)

	decimals := token.Decimals
	if decimals == 0 {
		decimals = client.TokenDecimals(ctx, tokenAddr)
	}
	lower, upper := amountWindow(rec.Amount, decimals)

	match := func(lg types.Log) bool {
		tr, err := evm.ParseERC20Transfer(lg)
		if err != nil || tr.To != wallet {
			return false
		}
		// A SpokePool fill on the same wallet belongs to a bridge monitor.
		if d.isSpokePool(tr.From) {
			log.Debug().Str("from", tr.From.Hex()).Msg("monitor.bridge_fill_excluded")
			return false
		}
		return tr.Value.Cmp(lower) >= 0 && tr.Value.Cmp(upper) <= 0
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{tokenAddr},
		Topics: [][]common.Hash{
			{evm.TransferTopic},
			nil,
			{evm.PadAddressTopic(wallet)},
		},
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head block: %w", err)
	}
	from := d.lookbackStart(rec, head)

	return d.race(ctx, client, query, from, head, match, log)
}

// race runs the live subscription and the historical sweep concurrently and
// returns whichever finds a match first. The subscription is registered
// before the sweep starts so nothing lands in the gap between them.
func (d *Direct) race(ctx context.Context, client *evm.Client, query ethereum.FilterQuery, from, to uint64, match func(types.Log) bool, log zerolog.Logger) (*candidate, error) {
	found := make(chan candidate, 2)
	scanErr := make(chan error, 1)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if client.SupportsSubscriptions() {
		liveCh := make(chan types.Log, 16)
		sub, err := client.SubscribeLogs(raceCtx, query, liveCh)
		if err != nil {
			log.Warn().Err(err).Msg("monitor.subscribe_failed")
		} else {
			go func() {
				defer sub.Unsubscribe()
				for {
					select {
					case <-raceCtx.Done():
						return
					case err := <-sub.Err():
						log.Warn().Err(err).Msg("monitor.subscription_dropped")
						return
					case lg := <-liveCh:
						if match(lg) {
							found <- candidate{txHash: lg.TxHash, block: lg.BlockNumber}
							return
						}
					}
				}
			}()
		}
	}

	// Historical sweep plus forward tail polling. The tail covers chains
	// without websocket endpoints and a dropped subscription alike.
	go func() {
		cursor := from
		tip := to
		ticker := time.NewTicker(d.cfg.Monitoring.PollInterval.Duration)
		defer ticker.Stop()

		for {
			if cursor <= tip {
				hit, err := client.ScanLogs(raceCtx, query, cursor, tip, d.cfg.Monitoring.LogChunkBlocks, d.cfg.Monitoring.ChunkDelay.Duration, func(lg types.Log) bool {
					if match(lg) {
						found <- candidate{txHash: lg.TxHash, block: lg.BlockNumber}
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
				head, err := client.BlockNumber(raceCtx)
				if err != nil {
					if !rpcutil.IsTransient(err) && raceCtx.Err() == nil {
						scanErr <- fmt.Errorf("get head block: %w", err)
						return
					}
					continue
				}
				if head > tip {
					tip = head
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-scanErr:
		return nil, err
	case cand := <-found:
		return &cand, nil
	}
}

// watchNative scans whole blocks for a plain value transfer to the wallet.
// Native payments have no log to subscribe to, so this is poll-only.
func (d *Direct) watchNative(ctx context.Context, client *evm.Client, rec store.Record, log zerolog.Logger) (*candidate, error) {
	wallet := common.HexToAddress(rec.SettlementWallet)

	// Native assets use 18 decimals; accept anything at or above 99% of the
	// expected amount (no upper bound for native overpayment).
	minWei, _ := new(big.Float).Mul(
		big.NewFloat(rec.Amount*directAmountLowerPct),
		big.NewFloat(1e18),
	).Int(nil)

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head block: %w", err)
	}
	cursor := d.lookbackStart(rec, head)

	ticker := time.NewTicker(d.cfg.Monitoring.PollInterval.Duration)
	defer ticker.Stop()

	for {
		for ; cursor <= head; cursor++ {
			block, err := client.BlockByNumber(ctx, cursor)
			if err != nil {
				if rpcutil.IsTransient(err) {
					log.Warn().Err(err).Uint64("block", cursor).Msg("monitor.block_fetch_retry")
					break
				}
				return nil, fmt.Errorf("get block %d: %w", cursor, err)
			}

			for _, tx := range block.Transactions() {
				if tx.To() == nil || *tx.To() != wallet {
					continue
				}
				if tx.Value().Cmp(minWei) >= 0 {
					return &candidate{txHash: tx.Hash(), block: cursor}, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			h, err := client.BlockNumber(ctx)
			if err == nil && h > head {
				head = h
			}
		}
	}
}

// awaitConfirmations polls the head until the matched block has the required
// depth.
func (d *Direct) awaitConfirmations(ctx context.Context, client *evm.Client, txBlock uint64) (uint64, error) {
	required := d.cfg.Monitoring.RequiredConfirmations

	ticker := time.NewTicker(d.cfg.Monitoring.PollInterval.Duration)
	defer ticker.Stop()

	for {
		head, err := client.BlockNumber(ctx)
		if err == nil && head >= txBlock {
			confirmations := head - txBlock + 1
			if confirmations >= required {
				return confirmations, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// lookbackStart estimates the block the record was created at and bounds the
// sweep depth by the chain's look-back class.
func (d *Direct) lookbackStart(rec store.Record, head uint64) uint64 {
	rpc := d.cfg.RPC[strings.ToLower(rec.SettlementChain)]
	blockTime := rpc.BlockTimeSeconds
	if blockTime <= 0 {
		blockTime = 2
	}

	elapsed := time.Since(rec.CreatedAt)
	back := uint64(elapsed.Seconds()) / uint64(blockTime)
	if back > rpc.MaxLookbackBlocks {
		back = rpc.MaxLookbackBlocks
	}
	if back > head {
		return 0
	}
	return head - back
}

func (d *Direct) isSpokePool(addr common.Address) bool {
	for _, pool := range d.cfg.KnownSpokePools() {
		if common.HexToAddress(pool) == addr {
			return true
		}
	}
	return false
}

func (d *Direct) expire(ctx context.Context, paymentID string, log zerolog.Logger) {
	now := time.Now().UTC()
	if _, err := d.store.Update(ctx, paymentID, func(r *store.Record) error {
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
	log.Info().Msg("monitor.direct_expired")
}

func (d *Direct) fail(ctx context.Context, paymentID, reason string, log zerolog.Logger) {
	if _, err := d.store.Update(ctx, paymentID, func(r *store.Record) error {
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
	log.Error().Str("reason", reason).Msg("monitor.direct_failed")
}

// amountWindow scales the expected amount by the token decimals and returns
// the inclusive raw-value acceptance window.
func amountWindow(amount float64, decimals uint8) (lower, upper *big.Int) {
	scale := math.Pow10(int(decimals))
	lower, _ = big.NewFloat(amount * directAmountLowerPct * scale).Int(nil)
	upper, _ = big.NewFloat(amount * directAmountUpperPct * scale).Int(nil)
	return lower, upper
}
