package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func testRecord(id string) Record {
	return Record{
		PaymentID:        id,
		BusinessID:       "biz_001",
		BusinessName:     "Acme Groceries",
		SettlementWallet: "0x1111111111111111111111111111111111111111",
		Kind:             KindDirect,
		Token:            "USDC",
		Amount:           42.5,
		SettlementChain:  "polygon",
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("pay_abc")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "pay_abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PaymentID != rec.PaymentID || got.Amount != rec.Amount || got.Status != StatusPending {
		t.Errorf("Get returned %+v, want %+v", got, rec)
	}
}

func TestCreateConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testRecord("pay_dup")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := s.Create(ctx, testRecord("pay_dup")); !errors.Is(err, ErrConflict) {
		t.Errorf("second Create: got %v, want ErrConflict", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(context.Background(), "pay_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestUpdateTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testRecord("pay_tr")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := s.Update(ctx, "pay_tr", func(r *Record) error {
		r.Status = StatusConfirming
		return nil
	})
	if err != nil {
		t.Fatalf("Update pending->confirming: %v", err)
	}
	if rec.Status != StatusConfirming {
		t.Errorf("status = %s, want confirming", rec.Status)
	}

	now := time.Now().UTC()
	rec, err = s.Update(ctx, "pay_tr", func(r *Record) error {
		r.Status = StatusConfirmed
		r.TxHash = "0xdeadbeef"
		r.Confirmations = 20
		r.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Update confirming->confirmed: %v", err)
	}
	if rec.TxHash != "0xdeadbeef" || rec.ConfirmedAt == nil {
		t.Errorf("confirmed fields not persisted: %+v", rec)
	}
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("pay_bad")
	rec.Status = StatusConfirmed
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := s.Update(ctx, "pay_bad", func(r *Record) error {
		r.Status = StatusPending
		return nil
	})
	if !errors.Is(err, ErrBadTransition) {
		t.Errorf("Update confirmed->pending: got %v, want ErrBadTransition", err)
	}

	// The illegal update must not have been persisted.
	got, err := s.Get(ctx, "pay_bad")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("status after rejected update = %s, want confirmed", got.Status)
	}
}

func TestUpdateMutatorErrorAborts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testRecord("pay_abort")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	boom := errors.New("boom")
	if _, err := s.Update(ctx, "pay_abort", func(r *Record) error {
		r.Status = StatusError
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Update: got %v, want boom", err)
	}

	got, _ := s.Get(ctx, "pay_abort")
	if got.Status != StatusPending {
		t.Errorf("status after aborted update = %s, want pending", got.Status)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord("pay_a")
	a.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)

	b := testRecord("pay_b")
	b.Kind = KindBridge
	b.Status = StatusWaitingDeposit
	b.CreatedAt = time.Now().UTC().Add(-time.Minute)

	c := testRecord("pay_c")
	c.BusinessID = "biz_other"

	for _, rec := range []Record{a, b, c} {
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create %s: %v", rec.PaymentID, err)
		}
	}

	got, err := s.List(ctx, Filter{BusinessID: "biz_001"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List by business: got %d records, want 2", len(got))
	}
	// Newest first.
	if got[0].PaymentID != "pay_b" || got[1].PaymentID != "pay_a" {
		t.Errorf("List order = [%s %s], want [pay_b pay_a]", got[0].PaymentID, got[1].PaymentID)
	}

	got, err = s.List(ctx, Filter{Kind: KindBridge})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].PaymentID != "pay_b" {
		t.Errorf("List by kind: got %+v", got)
	}

	got, err = s.List(ctx, Filter{Status: StatusPending, Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("List with limit: got %d records, want 1", len(got))
	}
}

func TestNotificationsDrainDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"pay_n2", "pay_n1"} {
		n := Notification{
			Type:        NotifyDirectConfirmed,
			PaymentID:   id,
			BusinessID:  "biz_001",
			Token:       "USDC",
			Amount:      10,
			TxHash:      "0xabc",
			ConfirmedAt: base.Add(time.Duration(1-i) * time.Minute),
		}
		if err := s.EnqueueNotification(ctx, n); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	got, err := s.DrainNotifications(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Drain: got %d notifications, want 2", len(got))
	}
	// Oldest confirmation first.
	if !got[0].ConfirmedAt.Before(got[1].ConfirmedAt) {
		t.Errorf("Drain order: %v after %v", got[0].ConfirmedAt, got[1].ConfirmedAt)
	}

	again, err := s.DrainNotifications(ctx)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Drain returned %d notifications, want 0", len(again))
	}
}

func TestWalletRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := WalletRecord{
		BusinessID:          "biz_001",
		Email:               "owner@example.com",
		Address:             "0x2222222222222222222222222222222222222222",
		EncryptedPrivateKey: "deadbeef",
		DerivationPath:      "m/44'/60'/0'/0/0",
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.SaveWallet(ctx, w); err != nil {
		t.Fatalf("SaveWallet: %v", err)
	}

	got, err := s.LoadWallet(ctx, "biz_001")
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	if got.Address != w.Address || got.EncryptedPrivateKey != w.EncryptedPrivateKey {
		t.Errorf("LoadWallet = %+v, want %+v", got, w)
	}

	if _, err := s.LoadWallet(ctx, "biz_none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadWallet missing: got %v, want ErrNotFound", err)
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirming, true},
		{StatusPending, StatusWaitingDeposit, true},
		{StatusPending, StatusConfirmed, false},
		{StatusWaitingDeposit, StatusDepositReceived, true},
		{StatusDepositReceived, StatusBridging, true},
		{StatusBridging, StatusConfirmed, true},
		{StatusConfirming, StatusConfirmed, true},
		{StatusConfirmed, StatusPending, false},
		{StatusExpired, StatusConfirming, false},
		{StatusError, StatusError, true}, // self-transition always allowed
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
