package host

import (
	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// CallFunc runs the contract at target: it resolves the target's code through
// the overlay (fetching it on a miss), builds the entry frame and drives the interpreter to
// completion with unlimited gas. The output buffer is returned verbatim.
func (h *Host) CallFunc(caller, target common.Address, input []byte, value *uint256.Int) (Status, []byte) {
	h.origin = target
	h.State.ClearLogs()

	code := h.mustCode(target)
	res, err := h.interp.Execute(h, h.rev, evmc.Call, false, 0, callGas,
		evmc.Address(target), evmc.Address(caller), input, evmc.Hash(value.Bytes32()), code)

	status := statusOf(err)
	if status == StatusRevert {
		log.Debug("execution reverted", "target", target)
	}
	return status, res.Output
}

// RunCode executes raw bytecode as if it were installed at the given address,
// with empty storage semantics identical to any other frame. The driver uses
// it to run constructor bytecode during deployment; the returned output is
// the runtime code.
func (h *Host) RunCode(caller, address common.Address, code, input []byte, value *uint256.Int) (Status, []byte) {
	res, err := h.interp.Execute(h, h.rev, evmc.Call, false, 0, callGas,
		evmc.Address(address), evmc.Address(caller), input, evmc.Hash(value.Bytes32()), code)
	return statusOf(err), res.Output
}
