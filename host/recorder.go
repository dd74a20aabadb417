package host

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

var (
	selTransfer     = [4]byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	selTransferFrom = [4]byte{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)
)

// CallRecord is one nested call observed during a test window.
type CallRecord struct {
	Callee common.Address
	Input  []byte
}

// TokenFlow names an account whose ERC-20 balance was touched and the token
// contract it was touched through.
type TokenFlow struct {
	Account common.Address
	Token   common.Address
}

// Recorder accumulates the audit trail for a single test window: the ordered
// call trace and the ERC-20 transfer participants.
type Recorder struct {
	Calls []CallRecord
	ERC20 []TokenFlow
}

// Reset clears both sequences. Called at the start of every test window.
func (r *Recorder) Reset() {
	r.Calls = r.Calls[:0]
	r.ERC20 = r.ERC20[:0]
}

// RecordCall appends to the call trace.
func (r *Recorder) RecordCall(callee common.Address, input []byte) {
	r.Calls = append(r.Calls, CallRecord{Callee: callee, Input: bytes.Clone(input)})
}

// ObserveERC20 inspects calldata for the two transfer selectors and records
// the participating accounts. Calldata too short to carry the decoded
// arguments records nothing.
func (r *Recorder) ObserveERC20(input []byte, callee common.Address) {
	if len(input) < 4 {
		return
	}
	var sel [4]byte
	copy(sel[:], input)

	switch sel {
	case selTransfer:
		if len(input) < 36 {
			return
		}
		dst := common.BytesToAddress(input[16:36])
		r.ERC20 = append(r.ERC20, TokenFlow{Account: dst, Token: callee})
	case selTransferFrom:
		if len(input) < 68 {
			return
		}
		src := common.BytesToAddress(input[12:32])
		dst := common.BytesToAddress(input[48:68])
		r.ERC20 = append(r.ERC20, TokenFlow{Account: dst, Token: callee}, TokenFlow{Account: src, Token: callee})
	}
}
