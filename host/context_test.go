package host

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const contextABIJSON = `[
  {"type":"function","name":"get_caller","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"get_target","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"get_value","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"get_data","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"get_affected_contracts","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"},{"name":"","type":"bytes[]"}]},
  {"type":"function","name":"get_affected_accounts_ierc20","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"},{"name":"","type":"address[]"}]},
  {"type":"function","name":"call_prev_state","stateMutability":"nonpayable","inputs":[{"name":"target","type":"address"},{"name":"caller","type":"address"},{"name":"data","type":"bytes"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"test_call","stateMutability":"nonpayable","inputs":[{"name":"target","type":"address"},{"name":"caller","type":"address"},{"name":"data","type":"bytes"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bytes"}]}
]`

// fakeInterp scripts the interpreter side of the host boundary.
type fakeInterp struct {
	exec func(ctx evmc.HostContext, kind evmc.CallKind, depth int,
		recipient, sender evmc.Address, input []byte, value evmc.Hash, code []byte) (evmc.Result, error)
}

func (f *fakeInterp) Execute(ctx evmc.HostContext, rev evmc.Revision, kind evmc.CallKind,
	static bool, depth int, gas int64,
	recipient evmc.Address, sender evmc.Address, input []byte, value evmc.Hash,
	code []byte) (evmc.Result, error) {
	if f.exec == nil {
		return evmc.Result{GasLeft: gas}, nil
	}
	return f.exec(ctx, kind, depth, recipient, sender, input, value, code)
}

func mustContextABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(contextABIJSON))
	require.NoError(t, err)
	return parsed
}

func newTestHost(t *testing.T, clt *stubClient, interp *fakeInterp) *Host {
	t.Helper()
	if clt.storage == nil {
		clt.storage = make(map[common.Address]map[common.Hash]common.Hash)
	}
	if interp == nil {
		interp = &fakeInterp{}
	}
	return New(clt, interp, mustContextABI(t), DefaultBlockEnv())
}

func TestDispatchGetters(t *testing.T) {
	h := newTestHost(t, &stubClient{}, nil)
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	h.BeginTest(accB, tokenA, data)

	out, err := h.dispatcher.dispatch(h.dispatcher.abi.Methods["get_caller"].ID)
	require.NoError(t, err)
	require.Equal(t, common.LeftPadBytes(accB.Bytes(), 32), out)

	out, err = h.dispatcher.dispatch(h.dispatcher.abi.Methods["get_target"].ID)
	require.NoError(t, err)
	require.Equal(t, common.LeftPadBytes(tokenA.Bytes(), 32), out)

	out, err = h.dispatcher.dispatch(h.dispatcher.abi.Methods["get_value"].ID)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 32), out)

	// raw calldata, no ABI envelope
	out, err = h.dispatcher.dispatch(h.dispatcher.abi.Methods["get_data"].ID)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestDispatchAffectedAccounts(t *testing.T) {
	h := newTestHost(t, &stubClient{}, nil)
	h.BeginTest(accB, tokenA, nil)
	h.Recorder.ObserveERC20(transferInput(accC), tokenA)

	method := h.dispatcher.abi.Methods["get_affected_accounts_ierc20"]
	out, err := h.dispatcher.dispatch(method.ID)
	require.NoError(t, err)

	decoded, err := method.Outputs.Unpack(out)
	require.NoError(t, err)
	require.Equal(t, []common.Address{accC}, decoded[0])
	require.Equal(t, []common.Address{tokenA}, decoded[1])
}

func TestDispatchAffectedContracts(t *testing.T) {
	h := newTestHost(t, &stubClient{}, nil)
	h.BeginTest(accB, tokenA, nil)
	h.Recorder.RecordCall(tokenA, []byte{0x01, 0x02})
	h.Recorder.RecordCall(accC, []byte{0x03})

	method := h.dispatcher.abi.Methods["get_affected_contracts"]
	out, err := h.dispatcher.dispatch(method.ID)
	require.NoError(t, err)

	decoded, err := method.Outputs.Unpack(out)
	require.NoError(t, err)
	require.Equal(t, []common.Address{tokenA, accC}, decoded[0])
	require.Equal(t, [][]byte{{0x01, 0x02}, {0x03}}, decoded[1])
}

func TestHostCallRecordsOnlyFirstNestedCall(t *testing.T) {
	clt := &stubClient{code: map[common.Address][]byte{tokenA: {0x00}}}
	h := newTestHost(t, clt, &fakeInterp{})
	h.BeginTest(accB, tokenA, nil)

	input := transferInput(accC)
	_, _, _, _, err := h.Call(evmc.Call, evmc.Address(tokenA), evmc.Address(accB), evmc.Hash{},
		input, callGas, 0, false, evmc.Hash{}, evmc.Address(tokenA))
	require.NoError(t, err)

	require.Len(t, h.Recorder.Calls, 1)
	require.Equal(t, tokenA, h.Recorder.Calls[0].Callee)
	require.Equal(t, []TokenFlow{{Account: accC, Token: tokenA}}, h.Recorder.ERC20)

	// the window closes after a nested call completes; only test_call or a new
	// test window re-arms it
	_, _, _, _, err = h.Call(evmc.Call, evmc.Address(tokenA), evmc.Address(accB), evmc.Hash{},
		input, callGas, 0, false, evmc.Hash{}, evmc.Address(tokenA))
	require.NoError(t, err)
	require.Len(t, h.Recorder.Calls, 1)
}

func TestHostCallContextAddressExcluded(t *testing.T) {
	clt := &stubClient{}
	h := newTestHost(t, clt, nil)
	h.BeginTest(accB, tokenA, nil)

	sel := h.dispatcher.abi.Methods["get_caller"].ID
	out, _, _, _, err := h.Call(evmc.Call, evmc.Address(ContextAddress), evmc.Address(tokenA), evmc.Hash{},
		sel, callGas, 0, false, evmc.Hash{}, evmc.Address(ContextAddress))
	require.NoError(t, err)
	require.Equal(t, common.LeftPadBytes(accB.Bytes(), 32), out)

	require.Empty(t, h.Recorder.Calls, "context calls are not part of the trace")
	require.NotContains(t, clt.codeTouched, ContextAddress, "the context address is never fetched")
	require.Zero(t, clt.codeCalls)
}

func TestTestCallEstablishesContext(t *testing.T) {
	clt := &stubClient{code: map[common.Address][]byte{tokenA: {0x00}}}
	var seenRecipient, seenSender evmc.Address
	interp := &fakeInterp{exec: func(ctx evmc.HostContext, kind evmc.CallKind, depth int,
		recipient, sender evmc.Address, input []byte, value evmc.Hash, code []byte) (evmc.Result, error) {
		seenRecipient, seenSender = recipient, sender
		return evmc.Result{Output: []byte("ok")}, nil
	}}
	h := newTestHost(t, clt, interp)

	inner := transferInput(accC)
	packed, err := h.dispatcher.abi.Pack("test_call", tokenA, accB, inner, big.NewInt(5))
	require.NoError(t, err)

	out, err := h.dispatcher.dispatch(packed)
	require.NoError(t, err)

	require.Equal(t, accB, h.test.Caller)
	require.Equal(t, tokenA, h.test.Target)
	require.Equal(t, uint64(5), h.test.Value.Uint64())
	require.Equal(t, inner, h.test.Data)
	require.False(t, h.insideContractCall, "window closes when test_call returns")

	require.Equal(t, evmc.Address(tokenA), seenRecipient)
	require.Equal(t, evmc.Address(accB), seenSender)

	// the simulated transaction's own calldata is observed for ERC-20 flow
	require.Equal(t, []TokenFlow{{Account: accC, Token: tokenA}}, h.Recorder.ERC20)

	method := h.dispatcher.abi.Methods["test_call"]
	decoded, err := method.Outputs.Unpack(out)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), decoded[0])
}

func TestTestCallPropagatesRevert(t *testing.T) {
	clt := &stubClient{code: map[common.Address][]byte{tokenA: {0xfd}}}
	interp := &fakeInterp{exec: func(ctx evmc.HostContext, kind evmc.CallKind, depth int,
		recipient, sender evmc.Address, input []byte, value evmc.Hash, code []byte) (evmc.Result, error) {
		return evmc.Result{Output: []byte("no")}, evmc.Revert
	}}
	h := newTestHost(t, clt, interp)

	packed, err := h.dispatcher.abi.Pack("test_call", tokenA, accB, []byte{}, big.NewInt(0))
	require.NoError(t, err)

	out, err := h.dispatcher.dispatch(packed)
	require.Equal(t, evmc.Revert, err)
	require.NotEmpty(t, out)
}

func TestCallPrevStateSeesSnapshot(t *testing.T) {
	clt := &stubClient{
		storage: map[common.Address]map[common.Hash]common.Hash{
			tokenA: {slot7: common.HexToHash("0x07")},
		},
		code: map[common.Address][]byte{tokenA: {0x00}},
	}
	interp := &fakeInterp{exec: func(ctx evmc.HostContext, kind evmc.CallKind, depth int,
		recipient, sender evmc.Address, input []byte, value evmc.Hash, code []byte) (evmc.Result, error) {
		word := ctx.GetStorage(recipient, evmc.Hash(slot7))
		return evmc.Result{Output: word[:]}, nil
	}}
	h := newTestHost(t, clt, interp)

	h.BeginTest(accB, tokenA, nil)
	h.State.SStore(tokenA, slot7, common.HexToHash("0x2a"))

	packed, err := h.dispatcher.abi.Pack("call_prev_state", tokenA, accB, []byte{}, big.NewInt(0))
	require.NoError(t, err)

	out, err := h.dispatcher.dispatch(packed)
	require.NoError(t, err)

	method := h.dispatcher.abi.Methods["call_prev_state"]
	decoded, err := method.Outputs.Unpack(out)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x07").Bytes(), decoded[0], "prev-state call must see the chain value, not the overlay write")

	// the in-progress write survives the round trip
	val, err := h.State.SLoad(tokenA, slot7)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x2a"), val)
}

func TestCallPrevStateKeepsRecorders(t *testing.T) {
	clt := &stubClient{code: map[common.Address][]byte{tokenA: {0x00}}}
	h := newTestHost(t, clt, nil)

	h.BeginTest(accB, tokenA, nil)
	h.Recorder.RecordCall(accC, []byte{0x01})

	packed, err := h.dispatcher.abi.Pack("call_prev_state", tokenA, accB, []byte{}, big.NewInt(0))
	require.NoError(t, err)
	_, err = h.dispatcher.dispatch(packed)
	require.NoError(t, err)

	require.Len(t, h.Recorder.Calls, 1, "call_prev_state must not clear recorders")
}

func TestCallFuncReturnsOutputVerbatim(t *testing.T) {
	clt := &stubClient{code: map[common.Address][]byte{tokenA: {0x00}}}
	interp := &fakeInterp{exec: func(ctx evmc.HostContext, kind evmc.CallKind, depth int,
		recipient, sender evmc.Address, input []byte, value evmc.Hash, code []byte) (evmc.Result, error) {
		return evmc.Result{Output: []byte{0xca, 0xfe}}, nil
	}}
	h := newTestHost(t, clt, interp)

	status, out := h.CallFunc(accB, tokenA, nil, uint256.NewInt(0))
	require.Equal(t, StatusReturn, status)
	require.Equal(t, []byte{0xca, 0xfe}, out)
}
