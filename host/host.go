package host

import (
	"bytes"
	"math"

	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// callGas is handed to every frame; gas accounting fidelity is a non-goal.
const callGas = math.MaxInt64

// Interpreter is the two-sided boundary to the external EVM: the harness
// drives it with Execute, and the interpreter calls back into the Host for
// all state access. *evmc.VM satisfies it.
type Interpreter interface {
	Execute(ctx evmc.HostContext, rev evmc.Revision, kind evmc.CallKind,
		static bool, depth int, gas int64,
		recipient evmc.Address, sender evmc.Address, input []byte, value evmc.Hash,
		code []byte) (res evmc.Result, err error)
}

// TestContext reflects the transaction currently under test back into the
// executing invariant through the context address.
type TestContext struct {
	Caller common.Address
	Target common.Address
	Value  *uint256.Int
	Data   []byte
}

// Host backs the interpreter with the lazily fetched overlay, records the
// audit trail, and services the reserved context address. It implements
// evmc.HostContext.
type Host struct {
	State    *Overlay
	Recorder *Recorder

	interp     Interpreter
	rev        evmc.Revision
	dispatcher *dispatcher

	// origin mirrors the upstream host field: written by CallFunc, read by
	// nothing.
	origin common.Address

	test               TestContext
	prev               Storage
	insideContractCall bool
}

// New wires a Host over the given chain client and interpreter. contextABI
// must describe the reflective helpers served at the context address.
func New(client ChainClient, interp Interpreter, contextABI abi.ABI, env BlockEnv) *Host {
	h := &Host{
		State:    NewOverlay(client, env),
		Recorder: new(Recorder),
		interp:   interp,
		rev:      evmc.Shanghai,
	}
	h.dispatcher = newDispatcher(h, contextABI)
	h.test.Value = uint256.NewInt(0)
	return h
}

// BeginTest opens a test window: snapshot the pre-test storage, clear the
// recorders, establish the test context and arm call recording.
func (h *Host) BeginTest(caller, target common.Address, data []byte) {
	h.test = TestContext{
		Caller: caller,
		Target: target,
		Value:  uint256.NewInt(0),
		Data:   bytes.Clone(data),
	}
	h.prev = h.State.Snapshot()
	h.Recorder.Reset()
	h.insideContractCall = true
}

// evmc.HostContext

func (h *Host) AccountExists(addr evmc.Address) bool {
	return true
}

func (h *Host) GetStorage(addr evmc.Address, key evmc.Hash) evmc.Hash {
	val, err := h.State.SLoad(common.Address(addr), common.Hash(key))
	if err != nil {
		log.Crit("storage fetch failed", "address", common.Address(addr), "slot", common.Hash(key), "err", err)
	}
	return evmc.Hash(val)
}

func (h *Host) SetStorage(addr evmc.Address, key evmc.Hash, value evmc.Hash) evmc.StorageStatus {
	h.State.SStore(common.Address(addr), common.Hash(key), common.Hash(value))
	return evmc.StorageAssigned
}

func (h *Host) GetBalance(addr evmc.Address) evmc.Hash {
	balance, err := h.State.BalanceOf(common.Address(addr))
	if err != nil {
		log.Crit("balance fetch failed", "address", common.Address(addr), "err", err)
	}
	return evmc.Hash(balance.Bytes32())
}

func (h *Host) GetCodeSize(addr evmc.Address) int {
	return len(h.mustCode(common.Address(addr)))
}

func (h *Host) GetCodeHash(addr evmc.Address) evmc.Hash {
	log.Crit("code_hash is not supported", "address", common.Address(addr))
	return evmc.Hash{}
}

func (h *Host) GetCode(addr evmc.Address) []byte {
	return h.mustCode(common.Address(addr))
}

func (h *Host) Selfdestruct(addr evmc.Address, beneficiary evmc.Address) bool {
	log.Crit("selfdestruct is not supported", "address", common.Address(addr))
	return false
}

func (h *Host) GetTxContext() evmc.TxContext {
	return h.State.Env().txContext()
}

func (h *Host) GetBlockHash(number int64) evmc.Hash {
	hash, err := h.State.BlockHash(uint256.NewInt(uint64(number)))
	if err != nil {
		log.Crit("block hash fetch failed", "number", number, "err", err)
	}
	return evmc.Hash(hash)
}

func (h *Host) EmitLog(addr evmc.Address, topics []evmc.Hash, data []byte) {
	hashes := make([]common.Hash, len(topics))
	for i, topic := range topics {
		hashes[i] = common.Hash(topic)
	}
	h.State.AddLog(common.Address(addr), hashes, bytes.Clone(data))
}

func (h *Host) AccessAccount(addr evmc.Address) evmc.AccessStatus {
	return evmc.ColdAccess
}

func (h *Host) AccessStorage(addr evmc.Address, key evmc.Hash) evmc.AccessStatus {
	return evmc.ColdAccess
}

// Call services every nested call the interpreter issues. Calls to the
// context address never touch chain state; everything else resolves code
// through the overlay and runs a fresh sub-frame.
func (h *Host) Call(kind evmc.CallKind,
	recipient evmc.Address, sender evmc.Address, value evmc.Hash, input []byte,
	gas int64, depth int, static bool, salt evmc.Hash,
	codeAddress evmc.Address) (output []byte, gasLeft int64, gasRefund int64, createAddr evmc.Address, err error) {

	if kind == evmc.Create || kind == evmc.Create2 {
		log.Crit("create is not supported inside invariants", "sender", common.Address(sender))
	}

	callee := common.Address(recipient)
	if callee == ContextAddress {
		output, err = h.dispatcher.dispatch(input)
		return output, callGas, 0, evmc.Address{}, err
	}

	if h.insideContractCall {
		h.Recorder.RecordCall(callee, input)
		h.Recorder.ObserveERC20(input, callee)
	}

	code := h.mustCode(common.Address(codeAddress))
	res, err := h.interp.Execute(h, h.rev, evmc.Call, static, depth, callGas,
		recipient, sender, input, value, code)
	h.insideContractCall = false

	if err != nil && err != evmc.Revert {
		if evmErr, ok := err.(evmc.Error); !ok || evmErr.IsInternalError() {
			log.Crit("nested call failed", "callee", callee, "err", err)
		}
	}
	if err == evmc.Revert {
		log.Debug("nested call reverted", "callee", callee, "input", hexutil.Encode(input))
	}

	return res.Output, callGas, 0, evmc.Address{}, err
}

func (h *Host) mustCode(addr common.Address) []byte {
	code, err := h.State.Code(addr)
	if err != nil {
		log.Crit("code fetch failed", "address", addr, "err", err)
	}
	return code
}
