package store

import (
	"time"
)

// Kind distinguishes the two payment shapes.
type Kind string

const (
	KindDirect Kind = "direct"
	KindBridge Kind = "bridge"
)

// Status is the payment lifecycle state. The vocabulary is part of the
// on-disk interchange format and must not be extended casually.
type Status string

const (
	StatusPending         Status = "pending"
	StatusWaitingDeposit  Status = "waiting_deposit"
	StatusDepositReceived Status = "deposit_received"
	StatusBridging        Status = "bridging"
	StatusConfirming      Status = "confirming"
	StatusConfirmed       Status = "confirmed"
	StatusExpired         Status = "expired"
	StatusError           Status = "error"
)

// Terminal reports whether a status ends the payment lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusExpired, StatusError:
		return true
	}
	return false
}

// allowedTransitions encodes the legal status graph. Every mutation through
// Store.Update is checked against it.
var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusWaitingDeposit, StatusConfirming, StatusExpired, StatusError},
	StatusWaitingDeposit:  {StatusDepositReceived, StatusExpired, StatusError},
	StatusDepositReceived: {StatusBridging, StatusExpired, StatusError},
	StatusBridging:        {StatusConfirmed, StatusExpired, StatusError},
	StatusConfirming:      {StatusConfirmed, StatusExpired, StatusError},
}

// CanTransition reports whether moving from one status to another is legal.
// A status may always "transition" to itself (idempotent record rewrites).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BridgeLeg carries the bridge-only fields of a payment record.
type BridgeLeg struct {
	SourceChain          string `json:"source_chain"`
	InputTokenMint       string `json:"input_token_mint"`
	OutputTokenAddress   string `json:"output_token_address"`
	RawInputAmount       uint64 `json:"raw_input_amount"`
	RawOutputAmount      uint64 `json:"raw_output_amount"`
	RelayFee             string `json:"relay_fee"`
	TempWalletPubkey     string `json:"temp_wallet_pubkey"`
	DepositAddress       string `json:"deposit_address"`
	TempPrivateKeySealed string `json:"temp_private_key_sealed"`
	SpokePoolSource      string `json:"spoke_pool_source"`
	SpokePoolDestination string `json:"spoke_pool_destination"`
	DestinationChainID   uint64 `json:"destination_chain_id"`
	QuoteTimestamp       uint32 `json:"quote_timestamp"`
	FillDeadline         uint32 `json:"fill_deadline"`

	// ActualInputAmount is the balance observed on the deposit ATA at the
	// end of stage 1. Zero until the deposit arrives.
	ActualInputAmount uint64 `json:"actual_input_amount,omitempty"`
}

// Record is the durable per-payment document — the system's source of truth
// for payment state. Created by the orchestrator, mutated only by the monitor
// that owns the payment.
type Record struct {
	PaymentID        string `json:"payment_id"`
	BusinessID       string `json:"business_id"`
	BusinessName     string `json:"business_name"`
	SettlementWallet string `json:"settlement_wallet"`
	ChatID           string `json:"chat_id,omitempty"`

	Kind            Kind    `json:"kind"`
	Token           string  `json:"token"`
	Amount          float64 `json:"amount"`
	SettlementChain string  `json:"settlement_chain"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Post-hoc fields written by monitors.
	TxHash        string     `json:"tx_hash,omitempty"`
	DepositTxSig  string     `json:"deposit_tx_sig,omitempty"`
	Confirmations uint64     `json:"confirmations,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
	ErrorReason   string     `json:"error_reason,omitempty"`

	Bridge *BridgeLeg `json:"bridge,omitempty"`
}

// NotificationType distinguishes the user-facing confirmation kinds.
type NotificationType string

const (
	NotifyDirectConfirmed NotificationType = "direct_confirmed"
	NotifyBridgeConfirmed NotificationType = "bridge_confirmed"
)

// Notification is written when a monitor reaches confirmed and consumed once
// by the delivery layer.
type Notification struct {
	Type            NotificationType `json:"type"`
	PaymentID       string           `json:"payment_id"`
	BusinessID      string           `json:"business_id"`
	ChatID          string           `json:"chat_id,omitempty"`
	Token           string           `json:"token"`
	Amount          float64          `json:"amount"`
	SettlementChain string           `json:"settlement_chain"`
	TxHash          string           `json:"tx_hash"`
	DepositTxSig    string           `json:"deposit_tx_sig,omitempty"`
	Confirmations   uint64           `json:"confirmations"`
	ConfirmedAt     time.Time        `json:"confirmed_at"`
}

// WalletRecord is the encrypted business wallet keystore entry.
type WalletRecord struct {
	BusinessID          string    `json:"business_id"`
	Email               string    `json:"email"`
	Address             string    `json:"address"`
	EncryptedPrivateKey string    `json:"encrypted_private_key"`
	DerivationPath      string    `json:"derivation_path"`
	CreatedAt           time.Time `json:"created_at"`
}

// Filter bounds a record scan.
type Filter struct {
	BusinessID string
	Kind       Kind
	Status     Status
	Limit      int
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(r Record) bool {
	if f.BusinessID != "" && r.BusinessID != f.BusinessID {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
