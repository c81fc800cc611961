// Package sol wraps the Solana RPC client with the primitives the bridge
// pipeline needs: token balance polling, ATA and PDA derivation, instruction
// building, and send-with-confirmation.
package sol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/circuitbreaker"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/rpcutil"
)

// ErrAccountNotFound marks a token account that does not exist yet. A fresh
// deposit ATA stays in this state until the user's wallet funds it, so the
// balance poller treats it as zero rather than as a failure.
var ErrAccountNotFound = errors.New("sol: account not found")

// Client is the Solana RPC adapter.
type Client struct {
	rpc      *rpc.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewClient creates a Solana client for the given RPC endpoint.
func NewClient(endpoint string, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		rpc:      rpc.New(endpoint),
		breakers: breakers,
		metrics:  m,
		logger:   logger.With().Str("chain", "solana").Logger(),
	}
}

// execute routes a call through the Solana breaker with retry on transient errors.
func execute[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := rpcutil.WithRetry(ctx, func() (T, error) {
		result, err := c.breakers.Execute(circuitbreaker.ServiceSolanaRPC, func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return result.(T), nil
	})
	if c.metrics != nil {
		c.metrics.ObserveRPCCall("solana", time.Since(start), err)
	}
	return result, err
}

// TokenAccountBalance returns the raw token balance of an SPL token account.
// Returns ErrAccountNotFound when the account has not been created yet.
func (c *Client) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	result, err := execute(ctx, c, func() (*rpc.GetTokenAccountBalanceResult, error) {
		return c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	})
	if err != nil {
		if isAccountNotFound(err) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, ErrAccountNotFound
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	result, err := execute(ctx, c, func() (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return result.Value, nil
}

// DeriveATA derives the associated token account for an owner and mint. The
// owner may be off-curve (a PDA), which is how the SpokePool vault is found.
func DeriveATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive ata: %w", err)
	}
	return ata, nil
}

// DerivePDA finds a program-derived address for the given seeds.
func DerivePDA(seeds [][]byte, program solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pda: %w", err)
	}
	return pda, nil
}

// BuildApproveChecked builds an SPL token ApproveChecked instruction granting
// a delegate spend authority over the source account.
func BuildApproveChecked(amount uint64, decimals uint8, source, mint, delegate, owner solana.PublicKey) solana.Instruction {
	return token.NewApproveCheckedInstruction(
		amount,
		decimals,
		source,
		mint,
		delegate,
		owner,
		nil,
	).Build()
}

// BuildTransfer builds a system-program lamport transfer.
func BuildTransfer(lamports uint64, from, to solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// SendAndConfirm signs a transaction with the given keys, submits it, and
// polls signature status until the commitment is reached or the deadline
// passes. The websocket-less poll loop is deliberate: bridge stage 2 runs
// inside a long-lived monitor where a 30s confirmation latency is fine.
func (c *Client) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, payer solana.PrivateKey, extraSigners []solana.PrivateKey, timeout time.Duration) (solana.Signature, error) {
	blockhash, err := execute(ctx, c, func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signers := append([]solana.PrivateKey{payer}, extraSigners...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if key.Equals(signers[i].PublicKey()) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := execute(ctx, c, func() (solana.Signature, error) {
		return c.rpc.SendTransaction(ctx, tx)
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.Info().
		Str("signature", sig.String()).
		Msg("sol.transaction_sent")

	if err := c.awaitConfirmation(ctx, sig, timeout); err != nil {
		return sig, err
	}
	return sig, nil
}

// awaitConfirmation polls GetSignatureStatuses until the transaction reaches
// confirmed commitment or the timeout elapses.
func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("transaction %s not confirmed within %s", sig, timeout)
			}

			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				// Transient status failures are absorbed; the ticker retries.
				c.logger.Debug().Err(err).Msg("sol.status_poll_failed")
				continue
			}
			if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}

			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

func isAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "account not found") ||
		strings.Contains(msg, "invalid param: could not find")
}
