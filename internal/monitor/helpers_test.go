package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/circuitbreaker"
	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/evm"
	"github.com/railclaw/railclaw/internal/metrics"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New()
}

func addr(hex string) common.Address {
	return common.HexToAddress(hex)
}

func testBreakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{}, zerolog.Nop())
}

// rpcHandler answers one JSON-RPC call. A non-empty errMsg becomes a JSON-RPC
// error response.
type rpcHandler func(method string, params []json.RawMessage) (result any, errMsg string)

func newRPCStub(t *testing.T, handle rpcHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		result, errMsg := handle(req.Method, req.Params)
		if errMsg != "" {
			resp["error"] = map[string]any{"code": -32005, "message": errMsg}
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialTestClient(t *testing.T, chain, url string) *evm.Client {
	t.Helper()
	client, err := evm.Dial(context.Background(), chain, url, "", testBreakers(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
