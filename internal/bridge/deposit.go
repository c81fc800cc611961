// Package bridge implements the Across protocol Solana-side deposit
// encoding: the Borsh parameter layout, the Anchor discriminator, and the
// PDA derivations the SpokePool program expects. The byte layouts here are
// wire formats; any change breaks on-chain compatibility.
package bridge

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DepositParams is the Borsh-encoded argument struct of the SpokePool
// deposit instruction. Field order is the wire order. EVM addresses travel
// left-padded inside 32-byte fields; OutputAmount is a big-endian u256.
type DepositParams struct {
	Depositor            solana.PublicKey
	Recipient            [32]byte
	InputToken           solana.PublicKey
	OutputToken          [32]byte
	InputAmount          uint64
	OutputAmount         [32]byte
	DestinationChainID   uint64
	ExclusiveRelayer     [32]byte
	QuoteTimestamp       uint32
	FillDeadline         uint32
	ExclusivityParameter uint32
	Message              []byte
}

// Discriminator returns the 8-byte Anchor instruction discriminator for a
// global instruction name: the first 8 bytes of SHA256("global:<name>").
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// depositDiscriminator prefixes every deposit instruction.
var depositDiscriminator = Discriminator("deposit")

// PadEVMAddress left-pads a 20-byte EVM address into the 32-byte form the
// SpokePool program uses for cross-chain addresses.
func PadEVMAddress(addr [20]byte) [32]byte {
	var out [32]byte
	copy(out[12:], addr[:])
	return out
}

// U256BE encodes an amount as a 32-byte big-endian unsigned integer.
func U256BE(v *big.Int) [32]byte {
	var out [32]byte
	v.FillBytes(out[:])
	return out
}

// Encode returns the raw Borsh encoding of the parameters, without the
// discriminator. This exact byte sequence also feeds the delegate PDA seed.
func (p DepositParams) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encode deposit params: %w", err)
	}
	return buf.Bytes(), nil
}

// DelegatePDA derives the per-deposit delegate account. The program binds
// the delegate to one exact parameter tuple by hashing the Borsh encoding
// into the seed, so approving this PDA cannot authorize any other deposit.
func DelegatePDA(p DepositParams, program solana.PublicKey) (solana.PublicKey, error) {
	encoded, err := p.Encode()
	if err != nil {
		return solana.PublicKey{}, err
	}

	hash := ethcrypto.Keccak256(encoded)
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("delegate"), hash}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive delegate pda: %w", err)
	}
	return pda, nil
}

// StatePDA derives the SpokePool state account (seed index 0).
func StatePDA(program solana.PublicKey) (solana.PublicKey, error) {
	var seed [8]byte // u64 little-endian zero
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("state"), seed[:]}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive state pda: %w", err)
	}
	return pda, nil
}

// EventAuthorityPDA derives the Anchor event CPI authority.
func EventAuthorityPDA(program solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive event authority pda: %w", err)
	}
	return pda, nil
}

// DepositAccounts carries every account the deposit instruction touches.
type DepositAccounts struct {
	Signer                solana.PublicKey
	State                 solana.PublicKey
	Delegate              solana.PublicKey
	DepositorTokenAccount solana.PublicKey
	Vault                 solana.PublicKey
	Mint                  solana.PublicKey
	EventAuthority        solana.PublicKey
	Program               solana.PublicKey
}

// BuildDepositInstruction assembles the SpokePool deposit instruction:
// discriminator plus Borsh parameters, with the account order the program
// defines. Reordering accounts makes the instruction fail on-chain.
func BuildDepositInstruction(p DepositParams, accts DepositAccounts) (solana.Instruction, error) {
	encoded, err := p.Encode()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 8+len(encoded))
	data = append(data, depositDiscriminator[:]...)
	data = append(data, encoded...)

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.Signer, true, true),
		solana.NewAccountMeta(accts.State, true, false),
		solana.NewAccountMeta(accts.Delegate, false, false),
		solana.NewAccountMeta(accts.DepositorTokenAccount, true, false),
		solana.NewAccountMeta(accts.Vault, true, false),
		solana.NewAccountMeta(accts.Mint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(accts.EventAuthority, false, false),
		solana.NewAccountMeta(accts.Program, false, false),
	}

	return solana.NewInstruction(accts.Program, metas, data), nil
}

// ComputeRelayFee returns the relayer fee for a bridge amount: a percentage
// estimate floored at the configured buffer.
func ComputeRelayFee(amount, feePct, minBuffer float64) float64 {
	fee := amount * feePct
	if fee < minBuffer {
		fee = minBuffer
	}
	return fee
}
