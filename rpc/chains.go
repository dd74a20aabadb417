package rpc

import "fmt"

// Chain describes a registered network: a short name, the public endpoint the
// harness reads state from, and the EIP-155 chain id.
type Chain struct {
	Name     string
	Endpoint string
	ID       uint64
}

var chains = map[string]Chain{
	"ETH":         {Name: "ETH", Endpoint: "https://eth.llamarpc.com", ID: 1},
	"BSC":         {Name: "BSC", Endpoint: "https://bsc-dataseed.binance.org/", ID: 56},
	"BSC_TESTNET": {Name: "BSC_TESTNET", Endpoint: "https://data-seed-prebsc-1-s1.binance.org:8545/", ID: 97},
	"POLYGON":     {Name: "POLYGON", Endpoint: "https://rpc-mainnet.maticvigil.com/", ID: 137},
	"MUMBAI":      {Name: "MUMBAI", Endpoint: "https://rpc-mumbai.maticvigil.com/", ID: 80001},
	"ARBITRUM":    {Name: "ARBITRUM", Endpoint: "https://arb1.arbitrum.io/rpc", ID: 42161},
}

// ChainByName resolves a registered chain name. Unknown names are a
// configuration fault and abort the run at the caller.
func ChainByName(name string) (Chain, error) {
	chain, ok := chains[name]
	if !ok {
		return Chain{}, fmt.Errorf("invalid chain type: %s", name)
	}
	return chain, nil
}
