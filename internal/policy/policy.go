// Package policy provides a typed read-only view over the versioned business
// policy document. The document is owned by the external policy editor; this
// package only parses and validates it. Every request path re-reads the file
// so that policy edits take effect on the next request without a restart.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status values for a policy document.
const (
	StatusPendingOnboarding = "pending_onboarding"
	StatusActive            = "active"
)

var (
	// ErrNotFound indicates the policy document does not exist.
	ErrNotFound = errors.New("policy: document not found")
	// ErrMalformed indicates the document could not be parsed.
	ErrMalformed = errors.New("policy: document malformed")
)

// InvariantError reports a structurally valid document that violates a
// policy invariant.
type InvariantError struct {
	Which string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("policy: invariant violated: %s", e.Which)
}

// Business identifies the merchant the policy belongs to.
type Business struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Wallet    string `yaml:"wallet"` // EVM settlement address
	Onboarded bool   `yaml:"onboarded"`
	ChatID    string `yaml:"chat_id,omitempty"`
}

// Specification declares what the business accepts.
type Specification struct {
	AllowedChains []string `yaml:"allowed_chains"`
	AllowedTokens []string `yaml:"allowed_tokens"`
}

// Restrictions bounds individual payments. MaxSinglePayment of 0 means unlimited.
type Restrictions struct {
	MaxSinglePayment float64 `yaml:"max_single_payment"`
}

// Operational holds optional EMI (installment) settings.
type Operational struct {
	EMIEnabled        bool    `yaml:"emi_enabled"`
	EMIPremiumPercent float64 `yaml:"emi_premium_percent"`
}

// Bridge configures cross-chain settlement via the bridge provider.
type Bridge struct {
	Enabled         bool   `yaml:"enabled"`
	Provider        string `yaml:"provider"`
	SettlementChain string `yaml:"settlement_chain"`
}

// CrossChain declares the chains users may pay from and how they settle.
type CrossChain struct {
	UserPayableChains []string `yaml:"user_payable_chains"`
	Bridge            Bridge   `yaml:"bridge"`
}

// Policy is the parsed, validated policy document.
type Policy struct {
	Version   int       `yaml:"version"`
	Status    string    `yaml:"status"`
	UpdatedAt time.Time `yaml:"updated_at"`

	Business      Business      `yaml:"business"`
	Specification Specification `yaml:"specification"`
	Restrictions  Restrictions  `yaml:"restrictions"`
	Operational   Operational   `yaml:"operational"`
	CrossChain    CrossChain    `yaml:"cross_chain"`
}

// Active reports whether the business can accept payments at all.
func (p *Policy) Active() bool {
	return p.Status == StatusActive && p.Business.Onboarded
}

// AllowsChain reports whether payments may settle on the given chain.
func (p *Policy) AllowsChain(chain string) bool {
	return containsFold(p.Specification.AllowedChains, chain)
}

// AllowsToken reports whether the token symbol is accepted. Matching is
// case-insensitive so "usdc" and "USDC" are the same token.
func (p *Policy) AllowsToken(symbol string) bool {
	return containsFold(p.Specification.AllowedTokens, symbol)
}

// UserPayable reports whether end users may pay from the given source chain.
func (p *Policy) UserPayable(chain string) bool {
	return containsFold(p.CrossChain.UserPayableChains, chain)
}

// BridgeEnabled reports whether cross-chain bridged payments are switched on.
func (p *Policy) BridgeEnabled() bool {
	return p.CrossChain.Bridge.Enabled
}

// WithinLimit reports whether an amount respects max_single_payment.
func (p *Policy) WithinLimit(amount float64) bool {
	max := p.Restrictions.MaxSinglePayment
	return max == 0 || amount <= max
}

// validate enforces the cross-field policy invariants.
func (p *Policy) validate() error {
	if p.Status != StatusActive && p.Status != StatusPendingOnboarding {
		return &InvariantError{Which: fmt.Sprintf("unknown status %q", p.Status)}
	}

	if p.Status == StatusActive {
		if len(p.Specification.AllowedChains) == 0 {
			return &InvariantError{Which: "active policy has empty allowed_chains"}
		}
		if len(p.Specification.AllowedTokens) == 0 {
			return &InvariantError{Which: "active policy has empty allowed_tokens"}
		}
	}

	if p.CrossChain.Bridge.Enabled {
		if !p.AllowsChain(p.CrossChain.Bridge.SettlementChain) {
			return &InvariantError{Which: "bridge settlement_chain not in allowed_chains"}
		}
	}

	return nil
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
