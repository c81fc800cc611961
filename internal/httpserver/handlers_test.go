package httpserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/monitor"
	"github.com/railclaw/railclaw/internal/orchestrator"
	"github.com/railclaw/railclaw/internal/policy"
	"github.com/railclaw/railclaw/internal/store"
)

const testPolicy = `---
version: 1
status: active
updated_at: 2026-08-01T00:00:00Z
---
business:
  id: biz_001
  name: Acme Groceries
  wallet: "0x4444444444444444444444444444444444444444"
  onboarded: true
specification:
  allowed_chains: [polygon]
  allowed_tokens: [USDC]
restrictions:
  max_single_payment: 10000
operational:
  emi_enabled: false
cross_chain:
  user_payable_chains: []
  bridge:
    enabled: false
    provider: across
    settlement_chain: polygon
`

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Payment.BaseURL = "https://pay.example.com"
	cfg.Payment.IDPrefix = "pay"
	cfg.Payment.DefaultExpiryHours = 24
	cfg.Monitoring.PollInterval = config.Duration{Duration: 30 * time.Second}
	cfg.Monitoring.DirectTimeout = config.Duration{Duration: time.Hour}
	cfg.Monitoring.BridgeTimeout = config.Duration{Duration: 2 * time.Hour}
	cfg.Encryption.WalletKey = hex.EncodeToString(make([]byte, 32))
	cfg.Tokens = map[string]config.TokenTable{
		"polygon": {"USDC": {Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6}},
	}

	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(testPolicy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	m := metrics.New()
	registry := monitor.NewRegistry(zerolog.Nop())
	registry.Close() // no live monitors in handler tests

	orch := orchestrator.New(
		policy.NewStore(policyPath), st, registry,
		monitor.NewDirect(st, nil, cfg, m, zerolog.Nop()),
		monitor.NewBridge(st, nil, nil, cfg, m, zerolog.Nop()),
		cfg, m, zerolog.Nop(),
	)
	return New(cfg, orch, st, m, zerolog.Nop()), st
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doRequest(s, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCreatePaymentExecuted(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doRequest(s, http.MethodPost, "/v1/payments", orchestrator.Request{
		Amount: 100, Token: "USDC", Chain: "polygon",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}

	var resp orchestrator.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "executed" || resp.Link == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCreatePaymentRejected(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doRequest(s, http.MethodPost, "/v1/payments", orchestrator.Request{
		Amount: 100, Token: "USDC", Chain: "solana",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}

	var resp orchestrator.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "rejected" || resp.Violation != "chain" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCreatePaymentBadBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}

	rr = doRequest(s, http.MethodPost, "/v1/payments", map[string]any{"amount": 5})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d", rr.Code)
	}
}

func TestCheckPayment(t *testing.T) {
	s, _ := newTestServer(t)

	created := doRequest(s, http.MethodPost, "/v1/payments", orchestrator.Request{
		Amount: 42, Token: "USDC", Chain: "polygon",
	})
	var resp orchestrator.Response
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rr := doRequest(s, http.MethodGet, "/v1/payments/"+resp.PaymentID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rec store.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.PaymentID != resp.PaymentID || rec.Amount != 42 {
		t.Errorf("record = %+v", rec)
	}

	rr = doRequest(s, http.MethodGet, "/v1/payments/pay_missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing payment: status = %d", rr.Code)
	}
}

func TestListPayments(t *testing.T) {
	s, _ := newTestServer(t)

	for range 3 {
		doRequest(s, http.MethodPost, "/v1/payments", orchestrator.Request{
			Amount: 10, Token: "USDC", Chain: "polygon",
		})
	}

	rr := doRequest(s, http.MethodGet, "/v1/payments?business_id=biz_001&limit=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var out struct {
		Payments []store.Record `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Payments) != 2 {
		t.Errorf("payments = %d, want 2", len(out.Payments))
	}

	rr = doRequest(s, http.MethodGet, "/v1/payments?limit=bogus", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rr.Code)
	}
}

func TestDrainNotifications(t *testing.T) {
	s, st := newTestServer(t)

	if err := st.EnqueueNotification(context.Background(), store.Notification{
		Type:        store.NotifyDirectConfirmed,
		PaymentID:   "pay_note",
		BusinessID:  "biz_001",
		Token:       "USDC",
		Amount:      10,
		TxHash:      "0xabc",
		ConfirmedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rr := doRequest(s, http.MethodGet, "/v1/notifications", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var out struct {
		Notifications []store.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Notifications) != 1 || out.Notifications[0].PaymentID != "pay_note" {
		t.Fatalf("notifications = %+v", out.Notifications)
	}

	// Drained once, gone.
	rr = doRequest(s, http.MethodGet, "/v1/notifications", nil)
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if len(out.Notifications) != 0 {
		t.Errorf("second drain = %+v", out.Notifications)
	}
}
