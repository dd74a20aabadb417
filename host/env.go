package host

import (
	"math"

	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockEnv is the block environment handed to the interpreter. It is captured
// once at startup from the chain head and stays fixed for the whole run.
type BlockEnv struct {
	ChainID    *uint256.Int
	Number     uint64
	Timestamp  uint64
	Coinbase   common.Address
	BaseFee    *uint256.Int
	PrevRandao common.Hash
}

// DefaultBlockEnv is the environment used when no chain head is available,
// e.g. in tests: chain id 1, every other field zero.
func DefaultBlockEnv() BlockEnv {
	return BlockEnv{
		ChainID: uint256.NewInt(1),
		BaseFee: uint256.NewInt(0),
	}
}

// txContext renders the environment in the interpreter's shape. Gas price is
// zero and the gas limit is unbounded: gas accounting fidelity is a non-goal.
// Origin stays zero; tx.origin semantics are not modeled.
func (e BlockEnv) txContext() evmc.TxContext {
	return evmc.TxContext{
		GasPrice:   evmc.Hash{},
		Origin:     evmc.Address{},
		Coinbase:   evmc.Address(e.Coinbase),
		Number:     int64(e.Number),
		Timestamp:  int64(e.Timestamp),
		GasLimit:   math.MaxInt64,
		PrevRandao: evmc.Hash(e.PrevRandao),
		ChainID:    evmc.Hash(e.ChainID.Bytes32()),
		BaseFee:    evmc.Hash(e.BaseFee.Bytes32()),
	}
}
