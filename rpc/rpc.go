package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Client is a synchronous JSON-RPC facade over a chain endpoint. It only
// speaks the read methods the harness needs; everything else about the
// remote node is out of scope.
type Client struct {
	Endpoint string
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

// BalanceAt calls eth_getBalance at the latest block.
func (c *Client) BalanceAt(address common.Address) (*uint256.Int, error) {
	params := []interface{}{address.Hex(), "latest"}

	result, err := c.callStr("eth_getBalance", params)
	if err != nil {
		return nil, err
	}

	balance, err := uint256.FromHex(result)
	if err != nil {
		return nil, fmt.Errorf("invalid balance received in response: %s", result)
	}

	return balance, nil
}

// CodeAt calls eth_getCode at the latest block. The returned slice is empty
// for accounts without code.
func (c *Client) CodeAt(address common.Address) ([]byte, error) {
	params := []interface{}{address.Hex(), "latest"}

	result, err := c.callStr("eth_getCode", params)
	if err != nil {
		return nil, err
	}

	return hexutil.Decode(result)
}

// StorageAt calls eth_getStorageAt for a single 32-byte slot at the latest
// block.
func (c *Client) StorageAt(address common.Address, slot common.Hash) (common.Hash, error) {
	params := []interface{}{address.Hex(), slot.Hex(), "latest"}

	result, err := c.callStr("eth_getStorageAt", params)
	if err != nil {
		return common.Hash{}, err
	}

	return common.HexToHash(result), nil
}

// BlockHash fetches the hash of the given block via eth_getBlockByNumber.
// The number is sent as a full 32-byte hex quantity, which every endpoint in
// the registry accepts.
func (c *Client) BlockHash(number *uint256.Int) (common.Hash, error) {
	params := []interface{}{common.Hash(number.Bytes32()).Hex(), false}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getBlockByNumber", params)
	if err != nil {
		return common.Hash{}, err
	}
	if rpcResp.Err != nil {
		return common.Hash{}, rpcResp.Err
	}

	var blk struct {
		Hash common.Hash `json:"hash"`
	}
	if err := json.Unmarshal(rpcResp.Result, &blk); err != nil {
		return common.Hash{}, err
	}

	return blk.Hash, nil
}

// Header carries the subset of a block header the harness cares about.
type Header struct {
	Number    *uint256.Int
	Timestamp uint64
	BaseFee   *uint256.Int
	Hash      common.Hash
}

// HeaderByLatest fetches the current head block so the execution environment
// can be pinned to a consistent number/timestamp/basefee for the whole run.
func (c *Client) HeaderByLatest() (*Header, error) {
	params := []interface{}{"latest", false}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getBlockByNumber", params)
	if err != nil {
		return nil, err
	}
	if rpcResp.Err != nil {
		return nil, rpcResp.Err
	}

	var blk struct {
		Number        string      `json:"number"`
		Timestamp     string      `json:"timestamp"`
		BaseFeePerGas string      `json:"baseFeePerGas"`
		Hash          common.Hash `json:"hash"`
	}
	if err := json.Unmarshal(rpcResp.Result, &blk); err != nil {
		return nil, err
	}

	header := &Header{Hash: blk.Hash, BaseFee: uint256.NewInt(0)}
	header.Number, err = uint256.FromHex(blk.Number)
	if err != nil {
		return nil, fmt.Errorf("invalid block number in response: %s", blk.Number)
	}

	ts, err := hexutil.DecodeUint64(blk.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp in response: %s", blk.Timestamp)
	}
	header.Timestamp = ts

	// pre-London chains omit the base fee
	if blk.BaseFeePerGas != "" {
		header.BaseFee, err = uint256.FromHex(blk.BaseFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("invalid base fee in response: %s", blk.BaseFeePerGas)
		}
	}

	return header, nil
}

// callStr performs a request whose result member is a plain hex string.
func (c *Client) callStr(method string, params []interface{}) (string, error) {
	rpcResp, err := rpcPost(c.Endpoint, method, params)
	if err != nil {
		return "", err
	}
	if rpcResp.Err != nil {
		return "", rpcResp.Err
	}

	var result string
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return "", err
	}
	if !strings.HasPrefix(result, "0x") {
		return "", fmt.Errorf("result is not 0x-prefixed: %s", result)
	}

	return result, nil
}

type RPCRequest struct {
	ID      int           `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type RPCResponse struct {
	ID      int             `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Err     *ErrResponse    `json:"error,omitempty"`
}

type ErrResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *ErrResponse) Error() string {
	return fmt.Sprintf(`{"code": "%d", "message": "%s"}`, e.Code, e.Message)
}

func rpcPost(rpcEndpoint, method string, params []interface{}) (*RPCResponse, error) {
	payload := RPCRequest{
		ID:      1,
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, err
	}
	body := bytes.NewBuffer(data)

	resp, err := http.Post(rpcEndpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result RPCResponse
	err = json.Unmarshal(b, &result)

	return &result, err
}
