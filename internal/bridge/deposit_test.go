package bridge

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("across5bnsVbQkqjJ97cy3Fn2wpkbkM22LUmLCjQnSH")
	testMint    = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func testParams() DepositParams {
	var recipient, outputToken [20]byte
	recipient[19] = 0x42
	outputToken[19] = 0x07

	return DepositParams{
		Depositor:            solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		Recipient:            PadEVMAddress(recipient),
		InputToken:           testMint,
		OutputToken:          PadEVMAddress(outputToken),
		InputAmount:          100_600_000,
		OutputAmount:         U256BE(big.NewInt(100_000_000)),
		DestinationChainID:   42161,
		QuoteTimestamp:       1_700_000_000,
		FillDeadline:         1_700_021_600,
		ExclusivityParameter: 0,
		Message:              nil,
	}
}

// The published vector: first 8 bytes of SHA256("global:deposit").
func TestDepositDiscriminator(t *testing.T) {
	want, _ := hex.DecodeString("f223c68952e1f2b6")
	if !bytes.Equal(depositDiscriminator[:], want) {
		t.Errorf("discriminator = %x, want %x", depositDiscriminator, want)
	}
}

func TestEncodeLayout(t *testing.T) {
	p := testParams()
	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Fixed fields: 4x32 pubkey/bytes32 + u64 + 32 (u256) + u64 + 32 + 3x u32,
	// then the message vec length prefix.
	wantLen := 32 + 32 + 32 + 32 + 8 + 32 + 8 + 32 + 4 + 4 + 4 + 4
	if len(encoded) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), wantLen)
	}

	if !bytes.Equal(encoded[:32], p.Depositor[:]) {
		t.Error("depositor not at offset 0")
	}
	if !bytes.Equal(encoded[32:64], p.Recipient[:]) {
		t.Error("recipient not at offset 32")
	}

	// InputAmount is Borsh little-endian at offset 128.
	if got := binary.LittleEndian.Uint64(encoded[128:136]); got != p.InputAmount {
		t.Errorf("input amount = %d, want %d", got, p.InputAmount)
	}

	// OutputAmount is a raw big-endian u256 at offset 136.
	if got := new(big.Int).SetBytes(encoded[136:168]); got.Int64() != 100_000_000 {
		t.Errorf("output amount = %s, want 100000000", got)
	}

	// QuoteTimestamp little-endian after destination chain id + relayer.
	off := 168 + 8 + 32
	if got := binary.LittleEndian.Uint32(encoded[off : off+4]); got != p.QuoteTimestamp {
		t.Errorf("quote timestamp = %d, want %d", got, p.QuoteTimestamp)
	}

	// Empty message encodes as a zero u32 length.
	if got := binary.LittleEndian.Uint32(encoded[len(encoded)-4:]); got != 0 {
		t.Errorf("message length = %d, want 0", got)
	}
}

func TestPadEVMAddress(t *testing.T) {
	var addr [20]byte
	addr[0] = 0xAA
	addr[19] = 0xBB

	padded := PadEVMAddress(addr)
	for i := 0; i < 12; i++ {
		if padded[i] != 0 {
			t.Fatalf("byte %d = %x, want 0", i, padded[i])
		}
	}
	if padded[12] != 0xAA || padded[31] != 0xBB {
		t.Errorf("address not right-aligned: %x", padded)
	}
}

func TestU256BE(t *testing.T) {
	out := U256BE(big.NewInt(256))
	if out[30] != 1 || out[31] != 0 {
		t.Errorf("U256BE(256) = %x", out)
	}
	if got := new(big.Int).SetBytes(out[:]); got.Int64() != 256 {
		t.Errorf("round trip = %s", got)
	}
}

func TestDelegatePDABindsToParams(t *testing.T) {
	p := testParams()

	a, err := DelegatePDA(p, testProgram)
	if err != nil {
		t.Fatalf("DelegatePDA: %v", err)
	}
	b, err := DelegatePDA(p, testProgram)
	if err != nil {
		t.Fatalf("DelegatePDA: %v", err)
	}
	if !a.Equals(b) {
		t.Error("delegate PDA not deterministic")
	}

	// Any parameter change must change the delegate.
	p2 := p
	p2.OutputAmount = U256BE(big.NewInt(100_000_001))
	c, err := DelegatePDA(p2, testProgram)
	if err != nil {
		t.Fatalf("DelegatePDA: %v", err)
	}
	if a.Equals(c) {
		t.Error("delegate PDA identical for different output amounts")
	}
}

func TestStaticPDAs(t *testing.T) {
	state, err := StatePDA(testProgram)
	if err != nil {
		t.Fatalf("StatePDA: %v", err)
	}
	auth, err := EventAuthorityPDA(testProgram)
	if err != nil {
		t.Fatalf("EventAuthorityPDA: %v", err)
	}
	if state.Equals(auth) || state.IsZero() || auth.IsZero() {
		t.Errorf("state=%s auth=%s", state, auth)
	}
}

func TestBuildDepositInstructionAccountOrder(t *testing.T) {
	p := testParams()

	signer := solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	state, _ := StatePDA(testProgram)
	auth, _ := EventAuthorityPDA(testProgram)
	delegate, err := DelegatePDA(p, testProgram)
	if err != nil {
		t.Fatalf("DelegatePDA: %v", err)
	}
	depositorATA, _, _ := solana.FindAssociatedTokenAddress(signer, testMint)
	vault, _, _ := solana.FindAssociatedTokenAddress(state, testMint)

	inst, err := BuildDepositInstruction(p, DepositAccounts{
		Signer:                signer,
		State:                 state,
		Delegate:              delegate,
		DepositorTokenAccount: depositorATA,
		Vault:                 vault,
		Mint:                  testMint,
		EventAuthority:        auth,
		Program:               testProgram,
	})
	if err != nil {
		t.Fatalf("BuildDepositInstruction: %v", err)
	}

	if !inst.ProgramID().Equals(testProgram) {
		t.Errorf("program id = %s", inst.ProgramID())
	}

	accounts := inst.Accounts()
	wantOrder := []solana.PublicKey{
		signer, state, delegate, depositorATA, vault, testMint,
		solana.TokenProgramID, solana.SPLAssociatedTokenAccountProgramID,
		solana.SystemProgramID, auth, testProgram,
	}
	if len(accounts) != len(wantOrder) {
		t.Fatalf("account count = %d, want %d", len(accounts), len(wantOrder))
	}
	for i, want := range wantOrder {
		if !accounts[i].PublicKey.Equals(want) {
			t.Errorf("account %d = %s, want %s", i, accounts[i].PublicKey, want)
		}
	}

	// Writability per the program definition.
	writable := []bool{true, true, false, true, true, false, false, false, false, false, false}
	for i, want := range writable {
		if accounts[i].IsWritable != want {
			t.Errorf("account %d writable = %v, want %v", i, accounts[i].IsWritable, want)
		}
	}
	if !accounts[0].IsSigner {
		t.Error("signer account must sign")
	}

	data, err := inst.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(data[:8], depositDiscriminator[:]) {
		t.Errorf("data prefix = %x, want discriminator", data[:8])
	}
	encoded, _ := p.Encode()
	if !bytes.Equal(data[8:], encoded) {
		t.Error("data body differs from Borsh params")
	}
}

func TestComputeRelayFee(t *testing.T) {
	cases := []struct {
		amount, pct, buffer, want float64
	}{
		{100, 0.006, 0.30, 0.60}, // pct wins
		{10, 0.006, 0.30, 0.30},  // buffer floor
		{0, 0.006, 0.30, 0.30},
	}
	for _, tc := range cases {
		if got := ComputeRelayFee(tc.amount, tc.pct, tc.buffer); got != tc.want {
			t.Errorf("ComputeRelayFee(%v, %v, %v) = %v, want %v", tc.amount, tc.pct, tc.buffer, got, tc.want)
		}
	}
}
