package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event topic hashes. FilledRelayTopic is the Across v3 "bytes32" schema;
// older FilledV3Relay variants are intentionally not recognized.
var (
	TransferTopic    = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	FilledRelayTopic = common.HexToHash("0x44b559f101f8fbcc8a0ea43fa91a05a729a5ea6e14a7c75aa750374690137208")
)

// Canonical event signatures the topic constants are derived from.
const (
	transferSignature    = "Transfer(address,address,uint256)"
	filledRelaySignature = "FilledRelay(bytes32,bytes32,uint256,uint256,uint256,uint256,uint256,uint32,uint32,bytes32,bytes32,bytes32,bytes32,bytes32,(bytes32,bytes32,uint256,uint8))"
)

// ERC20Transfer is a decoded Transfer event.
type ERC20Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Value  *big.Int
	TxHash common.Hash
	Block  uint64
}

// ParseERC20Transfer decodes a Transfer log. The indexed from/to topics are
// 32-byte left-padded addresses.
func ParseERC20Transfer(lg types.Log) (ERC20Transfer, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return ERC20Transfer{}, fmt.Errorf("not an erc20 transfer log")
	}
	if len(lg.Data) < 32 {
		return ERC20Transfer{}, fmt.Errorf("transfer log data too short: %d bytes", len(lg.Data))
	}

	return ERC20Transfer{
		Token:  lg.Address,
		From:   common.BytesToAddress(lg.Topics[1].Bytes()),
		To:     common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:  new(big.Int).SetBytes(lg.Data[:32]),
		TxHash: lg.TxHash,
		Block:  lg.BlockNumber,
	}, nil
}

// FilledRelay is a decoded Across v3 SpokePool fill event. Address-typed
// fields arrive right-aligned in a bytes32 and are reduced to their last
// 20 bytes here.
type FilledRelay struct {
	InputToken    common.Hash
	OutputToken   common.Address
	InputAmount   *big.Int
	OutputAmount  *big.Int
	OriginChainID *big.Int
	DepositID     *big.Int
	FillDeadline  uint32
	Relayer       common.Address
	Depositor     common.Hash
	Recipient     common.Address
	TxHash        common.Hash
	Block         uint64
}

// filledRelayDataWords is the fixed non-indexed payload size: eleven fields
// plus the inlined four-word relayExecutionInfo tuple.
const filledRelayDataWords = 15

// ParseFilledRelay decodes a FilledRelay log from the bytes32 event schema.
//
// Non-indexed layout (32-byte words): inputToken, outputToken, inputAmount,
// outputAmount, repaymentChainId, fillDeadline, exclusivityDeadline,
// exclusiveRelayer, depositor, recipient, messageHash, then the
// relayExecutionInfo tuple. Indexed: originChainId, depositId, relayer.
func ParseFilledRelay(lg types.Log) (FilledRelay, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != FilledRelayTopic {
		return FilledRelay{}, fmt.Errorf("not a filled relay log")
	}
	if len(lg.Data) < filledRelayDataWords*32 {
		return FilledRelay{}, fmt.Errorf("filled relay log data too short: %d bytes", len(lg.Data))
	}

	word := func(i int) []byte { return lg.Data[i*32 : (i+1)*32] }

	return FilledRelay{
		InputToken:    common.BytesToHash(word(0)),
		OutputToken:   common.BytesToAddress(word(1)[12:]),
		InputAmount:   new(big.Int).SetBytes(word(2)),
		OutputAmount:  new(big.Int).SetBytes(word(3)),
		OriginChainID: new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		DepositID:     new(big.Int).SetBytes(lg.Topics[2].Bytes()),
		FillDeadline:  uint32(new(big.Int).SetBytes(word(5)).Uint64()),
		Relayer:       common.BytesToAddress(lg.Topics[3].Bytes()[12:]),
		Depositor:     common.BytesToHash(word(8)),
		Recipient:     common.BytesToAddress(word(9)[12:]),
		TxHash:        lg.TxHash,
		Block:         lg.BlockNumber,
	}, nil
}

// PadAddressTopic left-pads an EVM address into a 32-byte topic value, the
// form indexed address parameters take in log topics.
func PadAddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
