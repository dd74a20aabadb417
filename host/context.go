package host

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// ContextAddress is the reserved pseudo-contract every invariant talks to for
// reflective queries. It is never fetched from the chain; calls to it are
// serviced entirely inside the harness.
var ContextAddress = common.HexToAddress("0x8891e33ba3c6A7b4E020A6180Eb07f4AED2d70CE")

// dispatcher maps the 4-byte selectors of Context.abi to their host-side
// implementations.
type dispatcher struct {
	host    *Host
	abi     abi.ABI
	methods map[[4]byte]string
}

func newDispatcher(h *Host, contextABI abi.ABI) *dispatcher {
	methods := make(map[[4]byte]string, len(contextABI.Methods))
	for name, method := range contextABI.Methods {
		var sel [4]byte
		copy(sel[:], method.ID)
		methods[sel] = name
	}
	return &dispatcher{host: h, abi: contextABI, methods: methods}
}

// dispatch services one call to the context address. Unknown selectors are a
// fault of the invariant artifact, not an execution outcome, and abort the
// run. The returned error is nil, or evmc.Revert or evmc.Failure propagated
// from a recursive execution.
func (d *dispatcher) dispatch(input []byte) ([]byte, error) {
	if len(input) < 4 {
		log.Crit("call to context address without selector", "input", hexutil.Encode(input))
	}
	var sel [4]byte
	copy(sel[:], input)
	name, ok := d.methods[sel]
	if !ok {
		log.Crit("unknown context function", "selector", hexutil.Encode(sel[:]))
	}
	method := d.abi.Methods[name]

	switch name {
	case "get_caller":
		return addrWord(d.host.test.Caller), nil

	case "get_target":
		return addrWord(d.host.test.Target), nil

	case "get_value":
		word := d.host.test.Value.Bytes32()
		return word[:], nil

	case "get_data":
		// raw calldata, deliberately not ABI-wrapped
		return bytes.Clone(d.host.test.Data), nil

	case "get_affected_contracts":
		calls := d.host.Recorder.Calls
		addrs := make([]common.Address, len(calls))
		datas := make([][]byte, len(calls))
		for i, call := range calls {
			addrs[i] = call.Callee
			datas[i] = call.Input
		}
		return d.pack(method, addrs, datas)

	case "get_affected_accounts_ierc20":
		flows := d.host.Recorder.ERC20
		accounts := make([]common.Address, len(flows))
		tokens := make([]common.Address, len(flows))
		for i, flow := range flows {
			accounts[i] = flow.Account
			tokens[i] = flow.Token
		}
		return d.pack(method, accounts, tokens)

	case "call_prev_state":
		target, caller, data, callValue := d.callArgs(method, input[4:])

		// run against a scratch copy of the pre-test snapshot so repeated
		// queries all see the same baseline, then put the live state back
		live := d.host.State.Swap(d.host.prev.Copy())
		status, out := d.host.CallFunc(caller, target, data, callValue)
		d.host.State.Swap(live)

		return d.wrapBytes(method, status, out)

	case "test_call":
		target, caller, data, callValue := d.callArgs(method, input[4:])

		d.host.test = TestContext{
			Caller: caller,
			Target: target,
			Value:  callValue,
			Data:   bytes.Clone(data),
		}
		d.host.prev = d.host.State.Snapshot()
		d.host.Recorder.Reset()
		d.host.Recorder.ObserveERC20(data, target)

		d.host.insideContractCall = true
		status, out := d.host.CallFunc(caller, target, data, callValue)
		d.host.insideContractCall = false

		return d.wrapBytes(method, status, out)
	}

	log.Crit("context function not implemented", "name", name)
	return nil, nil
}

// callArgs decodes the shared (target, caller, data, value) argument tuple of
// call_prev_state and test_call.
func (d *dispatcher) callArgs(method abi.Method, tail []byte) (common.Address, common.Address, []byte, *uint256.Int) {
	args, err := method.Inputs.Unpack(tail)
	if err != nil {
		log.Crit("malformed context call arguments", "function", method.Name, "err", err)
	}
	if len(args) != 4 {
		log.Crit("context call arity mismatch", "function", method.Name, "got", len(args))
	}

	target, ok := args[0].(common.Address)
	if !ok {
		log.Crit("invalid target", "function", method.Name)
	}
	caller, ok := args[1].(common.Address)
	if !ok {
		log.Crit("invalid caller", "function", method.Name)
	}
	data, ok := args[2].([]byte)
	if !ok {
		log.Crit("invalid data", "function", method.Name)
	}
	value, ok := args[3].(*big.Int)
	if !ok {
		log.Crit("invalid value", "function", method.Name)
	}

	word, overflow := uint256.FromBig(value)
	if overflow {
		log.Crit("value does not fit 256 bits", "function", method.Name)
	}
	return target, caller, data, word
}

// wrapBytes ABI-wraps a recursive execution's output as `bytes` and carries
// its status through to the outer frame.
func (d *dispatcher) wrapBytes(method abi.Method, status Status, out []byte) ([]byte, error) {
	encoded, err := method.Outputs.Pack(out)
	if err != nil {
		log.Crit("context result encoding failed", "function", method.Name, "err", err)
	}
	return encoded, errOf(status)
}

func (d *dispatcher) pack(method abi.Method, values ...interface{}) ([]byte, error) {
	encoded, err := method.Outputs.Pack(values...)
	if err != nil {
		log.Crit("context result encoding failed", "function", method.Name, "err", err)
	}
	return encoded, nil
}

// addrWord left-pads an address to a 32-byte word.
func addrWord(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}
