// Package evm wraps the go-ethereum client with retry, circuit breaking,
// and the log-scanning primitives the payment monitors are built on.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/circuitbreaker"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/rpcutil"
)

// Client is a per-chain EVM RPC adapter. One Client per configured chain;
// the websocket client is nil when no ws_url is configured and callers fall
// back to polling.
type Client struct {
	chain    string
	http     *ethclient.Client
	ws       *ethclient.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Dial connects to a chain's JSON-RPC endpoint. The websocket endpoint is
// optional; a ws dial failure is logged and degrades to polling rather than
// failing startup.
func Dial(ctx context.Context, chain, httpURL, wsURL string, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger zerolog.Logger) (*Client, error) {
	httpClient, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}

	c := &Client{
		chain:    chain,
		http:     httpClient,
		breakers: breakers,
		metrics:  m,
		logger:   logger.With().Str("chain", chain).Logger(),
	}

	if wsURL != "" {
		wsClient, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("evm.ws_dial_failed")
		} else {
			c.ws = wsClient
		}
	}

	return c, nil
}

// Chain returns the chain name this client serves.
func (c *Client) Chain() string {
	return c.chain
}

// SupportsSubscriptions reports whether a websocket endpoint is available.
func (c *Client) SupportsSubscriptions() bool {
	return c.ws != nil
}

// Close releases both underlying connections.
func (c *Client) Close() error {
	c.http.Close()
	if c.ws != nil {
		c.ws.Close()
	}
	return nil
}

// execute routes a call through the EVM breaker with retry on transient errors.
func execute[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := rpcutil.WithRetry(ctx, func() (T, error) {
		result, err := c.breakers.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return result.(T), nil
	})
	if c.metrics != nil {
		c.metrics.ObserveRPCCall(c.chain, time.Since(start), err)
	}
	return result, err
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return execute(ctx, c, func() (uint64, error) {
		return c.http.BlockNumber(ctx)
	})
}

// FilterLogs runs eth_getLogs for one block range. Callers are expected to
// chunk wide ranges with ChunkRanges first; public providers reject wide
// queries.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return execute(ctx, c, func() ([]types.Log, error) {
		return c.http.FilterLogs(ctx, q)
	})
}

// SubscribeLogs opens a live log subscription over the websocket endpoint.
// Returns an error when no websocket endpoint is configured.
func (c *Client) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, fmt.Errorf("chain %s: no websocket endpoint configured", c.chain)
	}
	return c.ws.SubscribeFilterLogs(ctx, q, ch)
}

// TransactionReceipt returns the receipt for a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return execute(ctx, c, func() (*types.Receipt, error) {
		return c.http.TransactionReceipt(ctx, txHash)
	})
}

// BlockByNumber returns a full block, used by the native-transfer scanner.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return execute(ctx, c, func() (*types.Block, error) {
		return c.http.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})
}

// BalanceAt returns the native balance of an address at the latest block.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return execute(ctx, c, func() (*big.Int, error) {
		return c.http.BalanceAt(ctx, addr, nil)
	})
}

// decimalsSelector is the 4-byte selector of decimals().
var decimalsSelector = common.Hex2Bytes("313ce567")

// TokenDecimals calls decimals() on an ERC-20 contract. Non-standard tokens
// that revert or return garbage fall back to 6, the stablecoin norm.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) uint8 {
	result, err := execute(ctx, c, func() ([]byte, error) {
		return c.http.CallContract(ctx, ethereum.CallMsg{
			To:   &token,
			Data: decimalsSelector,
		}, nil)
	})
	if err != nil || len(result) < 32 {
		c.logger.Debug().
			Err(err).
			Str("token", token.Hex()).
			Msg("evm.decimals_fallback")
		return 6
	}
	d := new(big.Int).SetBytes(result).Uint64()
	if d == 0 || d > 36 {
		return 6
	}
	return uint8(d)
}

// ChunkRange is a closed block interval [From, To].
type ChunkRange struct {
	From uint64
	To   uint64
}

// ChunkRanges splits [from, to] into intervals of at most size blocks.
func ChunkRanges(from, to, size uint64) []ChunkRange {
	if to < from || size == 0 {
		return nil
	}
	var chunks []ChunkRange
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to {
			end = to
		}
		chunks = append(chunks, ChunkRange{From: start, To: end})
	}
	return chunks
}

// ScanLogs walks a block range in chunks, calling handler with each chunk's
// logs. A transient chunk failure is logged and skipped so one bad range
// does not starve the rest of the scan; other errors abort.
func (c *Client) ScanLogs(ctx context.Context, q ethereum.FilterQuery, from, to, chunkSize uint64, delay time.Duration, handler func(types.Log) bool) (bool, error) {
	for _, chunk := range ChunkRanges(from, to, chunkSize) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		cq := q
		cq.FromBlock = new(big.Int).SetUint64(chunk.From)
		cq.ToBlock = new(big.Int).SetUint64(chunk.To)

		logs, err := c.FilterLogs(ctx, cq)
		if err != nil {
			if rpcutil.IsTransient(err) {
				c.logger.Warn().
					Err(err).
					Uint64("from", chunk.From).
					Uint64("to", chunk.To).
					Msg("evm.chunk_skipped")
				continue
			}
			return false, fmt.Errorf("scan logs [%d,%d]: %w", chunk.From, chunk.To, err)
		}

		for _, lg := range logs {
			if handler(lg) {
				return true, nil
			}
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return false, nil
}

// IsNativeSymbol reports whether a token symbol names a chain's native asset
// rather than an ERC-20 contract.
func IsNativeSymbol(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "ETH", "MATIC", "AVAX", "BNB", "SOL":
		return true
	}
	return false
}
