package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ethereum/evmc/v10/bindings/go/evmc"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/fuzzland/api/harness"
	"github.com/fuzzland/api/host"
	"github.com/fuzzland/api/rpc"
)

// contextABIPath is fixed by convention: the harness always runs from the
// directory holding the compiled invariant helpers.
const contextABIPath = "Context.abi"

var (
	vmFlag = &cli.StringFlag{
		Name:  "vm",
		Value: "libevmone.so",
		Usage: "path to the evmone shared library",
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Value: 0,
		Usage: "seed for deployment and caller addresses (0 picks one)",
	}
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))

	app := &cli.App{
		Name:      "harness",
		Usage:     "execute invariant contracts against live chain state",
		ArgsUsage: "<glob> <chain>",
		Flags:     []cli.Flag{vmFlag, seedFlag},
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("harness failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s <glob> <chain>", c.App.Name)
	}
	pattern, chainName := c.Args().Get(0), c.Args().Get(1)

	chain, err := rpc.ChainByName(chainName)
	if err != nil {
		return err
	}
	client := rpc.NewClient(chain.Endpoint)

	contextABI, err := harness.LoadContextABI(contextABIPath)
	if err != nil {
		return err
	}

	vm, err := evmc.Load(c.String("vm"))
	if err != nil {
		return fmt.Errorf("loading interpreter: %w", err)
	}
	defer vm.Destroy()
	if !vm.HasCapability(evmc.CapabilityEVM1) {
		return fmt.Errorf("interpreter %s has no EVM1 capability", vm.Name())
	}
	log.Info("interpreter loaded", "name", vm.Name(), "version", vm.Version())

	// pin the environment to the current head for the whole run
	header, err := client.HeaderByLatest()
	if err != nil {
		return fmt.Errorf("fetching chain head: %w", err)
	}
	env := host.BlockEnv{
		ChainID:   uint256.NewInt(chain.ID),
		Number:    header.Number.Uint64(),
		Timestamp: header.Timestamp,
		BaseFee:   header.BaseFee,
	}

	seed := c.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info("running invariants",
		"glob", pattern, "chain", chain.Name,
		"block", header.Number.Uint64(), "seed", seed)

	arts, err := harness.LoadArtifacts(pattern)
	if err != nil {
		return err
	}

	h := host.New(client, vm, contextABI, env)
	driver := harness.NewDriver(h, rand.New(rand.NewSource(seed)))

	if err := driver.Deploy(arts); err != nil {
		return err
	}
	_, err = driver.Run()
	return err
}
