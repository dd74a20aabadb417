package host

import (
	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/log"
)

// Status is the terminal state of one interpreter run. Statuses are data the
// harness reports, not harness errors; only interpreter-internal faults abort
// the run.
type Status string

const (
	StatusReturn Status = "Return"
	StatusRevert Status = "Revert"
)

func statusOf(err error) Status {
	if err == nil {
		return StatusReturn
	}
	if err == evmc.Revert {
		return StatusRevert
	}
	if evmErr, ok := err.(evmc.Error); ok {
		if evmErr.IsInternalError() {
			log.Crit("interpreter internal error", "err", evmErr)
		}
		// out of gas, invalid instruction, stack overflow, ...
		return Status(evmErr.Error())
	}
	log.Crit("interpreter failure", "err", err)
	return ""
}

// errOf maps a Status back to the interpreter's error domain so a recursive
// execution's outcome can propagate through the host Call boundary.
func errOf(status Status) error {
	switch status {
	case StatusReturn:
		return nil
	case StatusRevert:
		return evmc.Revert
	default:
		return evmc.Failure
	}
}
