// Package liquidation values exploit proceeds by routing them through the
// 1inch aggregator: it builds the swap transaction an invariant can replay
// through test_call to liquidate a token position into the native asset.
package liquidation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// DefaultAPI is the public 1inch v5 endpoint.
const DefaultAPI = "https://api.1inch.exchange/v5.0/"

// NativeToken is the aggregator's placeholder address for the chain's native
// asset.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// selDeposit is WETH deposit().
var selDeposit = []byte{0xd0, 0xe3, 0x0d, 0xb0}

// Network is the per-chain liquidation config: the V2 router, the wrapped
// native token and the aggregator chain id.
type Network struct {
	Router  common.Address
	WETH    common.Address
	ChainID uint64
}

var networks = map[string]Network{
	"ETH": {
		Router:  common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d"),
		WETH:    common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
		ChainID: 1,
	},
	"BSC": {
		Router:  common.HexToAddress("0x05ff2b0db69458a0750badebc4f9e13add608c7f"),
		WETH:    common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"),
		ChainID: 56,
	},
	"POLYGON": {
		Router:  common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"),
		WETH:    common.HexToAddress("0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270"),
		ChainID: 137,
	},
}

// RouterAndWeth resolves the liquidation config for a network name.
func RouterAndWeth(network string) (Network, error) {
	net, ok := networks[network]
	if !ok {
		return Network{}, fmt.Errorf("unsupported network for buying / liquidation: %s", network)
	}
	return net, nil
}

// SwapCall is a ready-to-execute call: send Value to To with Data.
type SwapCall struct {
	Value *uint256.Int
	To    common.Address
	Data  []byte
}

// Client talks to the 1inch HTTP API.
type Client struct {
	BaseURL string
	httpc   *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPI
	}
	return &Client{BaseURL: baseURL, httpc: http.DefaultClient}
}

// SwapArgs asks the aggregator for a direct swap transaction. Estimation is
// disabled because the calldata is replayed inside the harness, not sent to
// the chain.
func (c *Client) SwapArgs(from, to common.Address, amount *uint256.Int, caller common.Address, network string) (*SwapCall, error) {
	net, err := RouterAndWeth(network)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"%s%d/swap?fromTokenAddress=%s&toTokenAddress=%s&amount=%s&disableEstimate=true&slippage=50&fromAddress=%s",
		c.BaseURL, net.ChainID,
		strings.ToLower(from.Hex()), strings.ToLower(to.Hex()),
		amount.Dec(), strings.ToLower(caller.Hex()),
	)

	var swap struct {
		Tx struct {
			To    common.Address `json:"to"`
			Data  string         `json:"data"`
			Value string         `json:"value"`
		} `json:"tx"`
	}
	if err := c.getJSON(url, &swap); err != nil {
		return nil, err
	}

	data, err := hexutil.Decode(swap.Tx.Data)
	if err != nil {
		return nil, fmt.Errorf("swap tx data: %w", err)
	}
	value, err := uint256.FromDecimal(swap.Tx.Value)
	if err != nil {
		return nil, fmt.Errorf("swap tx value: %w", err)
	}

	return &SwapCall{Value: value, To: swap.Tx.To, Data: data}, nil
}

// BestPath quotes the given protocols and returns the token path of the
// shortest route whose hops all execute in a single split.
func (c *Client) BestPath(from, to common.Address, amount *uint256.Int, protocols string) ([]common.Address, error) {
	url := fmt.Sprintf(
		"%s1/quote?fromTokenAddress=%s&toTokenAddress=%s&amount=%s&protocols=%s",
		c.BaseURL,
		strings.ToLower(from.Hex()), strings.ToLower(to.Hex()),
		amount.Dec(), protocols,
	)

	type hopSegment struct {
		FromTokenAddress common.Address `json:"fromTokenAddress"`
		ToTokenAddress   common.Address `json:"toTokenAddress"`
	}
	var quote struct {
		Protocols [][][]hopSegment `json:"protocols"`
	}
	if err := c.getJSON(url, &quote); err != nil {
		return nil, err
	}
	if len(quote.Protocols) == 0 {
		return nil, fmt.Errorf("cannot find swap path for %s -> %s", from.Hex(), to.Hex())
	}

	var best [][]hopSegment
	for _, route := range quote.Protocols {
		proper := true
		for _, hop := range route {
			if len(hop) != 1 {
				proper = false
				break
			}
		}
		if !proper {
			continue
		}
		if best == nil || len(route) < len(best) {
			best = route
		}
	}
	if len(best) == 0 {
		return nil, fmt.Errorf("cannot find proper swap path for %s -> %s", from.Hex(), to.Hex())
	}

	path := []common.Address{best[0][0].FromTokenAddress}
	for _, hop := range best {
		path = append(path, hop[0].ToTokenAddress)
	}
	return path, nil
}

// BuyToken produces the call that converts `amount` of native asset into the
// token: a plain WETH deposit when the token is the wrapped native asset,
// otherwise a 1inch swap from the native placeholder.
func (c *Client) BuyToken(token common.Address, amount *uint256.Int, caller common.Address, network string) (*SwapCall, error) {
	net, err := RouterAndWeth(network)
	if err != nil {
		return nil, err
	}
	if token == net.WETH {
		return &SwapCall{Value: amount, To: net.WETH, Data: selDeposit}, nil
	}
	return c.SwapArgs(NativeToken, token, amount, caller, network)
}

func (c *Client) getJSON(url string, out interface{}) error {
	resp, err := c.httpc.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("1inch: unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
