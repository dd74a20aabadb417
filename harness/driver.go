package harness

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/fuzzland/api/host"
)

// Result is the outcome of one test_* invocation. Statuses other than Return
// are still results, not harness errors.
type Result struct {
	Name    string
	Address common.Address
	Status  host.Status
	Output  []byte
}

// Driver deploys invariant artifacts into the host and invokes their test_*
// entrypoints one after another.
type Driver struct {
	host *host.Host
	rng  *rand.Rand

	abis     map[common.Address]abi.ABI
	deployed []common.Address
	stems    map[common.Address]string
}

// NewDriver takes a seeded rng so deployment and caller addresses are
// reproducible.
func NewDriver(h *host.Host, rng *rand.Rand) *Driver {
	return &Driver{
		host:  h,
		rng:   rng,
		abis:  make(map[common.Address]abi.ABI),
		stems: make(map[common.Address]string),
	}
}

func (d *Driver) randomAddress() common.Address {
	var addr common.Address
	d.rng.Read(addr[:])
	return addr
}

// Deploy runs every constructor through the engine at a fresh random address
// and installs the returned runtime code in the overlay. A reverted
// constructor aborts before any test_* is listed.
func (d *Driver) Deploy(arts *ArtifactSet) error {
	stemToAddr := make(map[string]common.Address, len(arts.Bins))

	for _, bin := range arts.Bins {
		addr := d.randomAddress()
		status, runtime := d.host.RunCode(d.randomAddress(), addr, bin.Code, nil, uint256.NewInt(0))
		if status == host.StatusRevert {
			return fmt.Errorf("constructor reverted: %s.bin", bin.Stem)
		}

		d.host.State.SetCode(addr, runtime)
		d.deployed = append(d.deployed, addr)
		d.stems[addr] = bin.Stem
		stemToAddr[bin.Stem] = addr
		log.Info("deployed invariant", "artifact", bin.Stem, "address", addr)
	}

	for stem, parsed := range arts.ABIs {
		addr, ok := stemToAddr[stem]
		if !ok {
			return fmt.Errorf("abi without a matching bin: %s.abi", stem)
		}
		d.abis[addr] = parsed
	}

	return nil
}

// Run enumerates every deployed invariant's test_* functions, invokes each
// with a fresh random caller and zero value, and reports the outcomes.
func (d *Driver) Run() ([]Result, error) {
	var results []Result

	for _, addr := range d.deployed {
		parsed, ok := d.abis[addr]
		if !ok {
			return nil, fmt.Errorf("deployed artifact %s.bin has no abi", d.stems[addr])
		}

		names := make([]string, 0, len(parsed.Methods))
		for name := range parsed.Methods {
			if strings.HasPrefix(name, "test_") {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			data, err := parsed.Pack(name)
			if err != nil {
				return nil, fmt.Errorf("encoding %s on %s: %w", name, d.stems[addr], err)
			}

			caller := d.randomAddress()
			d.host.BeginTest(caller, addr, data)
			status, output := d.host.CallFunc(caller, addr, data, uint256.NewInt(0))

			log.Info("invariant result",
				"function", name, "address", addr,
				"status", status, "output", hexutil.Encode(output))
			results = append(results, Result{
				Name:    name,
				Address: addr,
				Status:  status,
				Output:  output,
			})
		}
	}

	return results, nil
}
