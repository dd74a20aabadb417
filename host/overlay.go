package host

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChainClient is the read-only view of the remote chain the overlay fills
// itself from. *rpc.Client satisfies it; tests plug in a stub.
type ChainClient interface {
	BalanceAt(address common.Address) (*uint256.Int, error)
	CodeAt(address common.Address) ([]byte, error)
	StorageAt(address common.Address, slot common.Hash) (common.Hash, error)
	BlockHash(number *uint256.Int) (common.Hash, error)
}

// Storage maps account address to slot map. A missing slot means "not yet
// fetched"; a present slot is authoritative for the rest of the run.
type Storage map[common.Address]map[common.Hash]common.Hash

// Copy deep-copies the slot maps.
func (s Storage) Copy() Storage {
	cp := make(Storage, len(s))
	for addr, slots := range s {
		m := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			m[k] = v
		}
		cp[addr] = m
	}
	return cp
}

// LogRecord is one LOG* emission.
type LogRecord struct {
	Topics []common.Hash
	Data   []byte
}

// Overlay is the lazily filled local view of remote state. Reads fall through
// to the ChainClient on first touch and are cached; writes live only here.
// Balances and block hashes are never overlaid.
type Overlay struct {
	client  ChainClient
	storage Storage
	codes   map[common.Address][]byte
	logs    map[common.Address][]LogRecord
	env     BlockEnv
}

func NewOverlay(client ChainClient, env BlockEnv) *Overlay {
	return &Overlay{
		client:  client,
		storage: make(Storage),
		codes:   make(map[common.Address][]byte),
		logs:    make(map[common.Address][]LogRecord),
		env:     env,
	}
}

// SLoad returns the overlaid value for the slot, fetching it from the remote
// chain on first access.
func (o *Overlay) SLoad(addr common.Address, slot common.Hash) (common.Hash, error) {
	slots, ok := o.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		o.storage[addr] = slots
	}
	if val, ok := slots[slot]; ok {
		return val, nil
	}

	val, err := o.client.StorageAt(addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	slots[slot] = val

	return val, nil
}

// SStore overwrites the slot in the overlay. No refund bookkeeping.
func (o *Overlay) SStore(addr common.Address, slot, value common.Hash) {
	slots, ok := o.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		o.storage[addr] = slots
	}
	slots[slot] = value
}

// Code returns the account's code, fetching and caching it on first access.
// The cache is append-only for the whole run: locally deployed code and
// remotely fetched code are never re-fetched.
func (o *Overlay) Code(addr common.Address) ([]byte, error) {
	if code, ok := o.codes[addr]; ok {
		return code, nil
	}

	code, err := o.client.CodeAt(addr)
	if err != nil {
		return nil, err
	}
	o.codes[addr] = code

	return code, nil
}

// SetCode installs code without consulting the remote chain, used for
// invariant deployment.
func (o *Overlay) SetCode(addr common.Address, code []byte) {
	o.codes[addr] = code
}

// BalanceOf always defers to the remote chain; balances are not overlaid and
// harness execution does not mutate them.
func (o *Overlay) BalanceOf(addr common.Address) (*uint256.Int, error) {
	return o.client.BalanceAt(addr)
}

// BlockHash always defers to the remote chain.
func (o *Overlay) BlockHash(number *uint256.Int) (common.Hash, error) {
	return o.client.BlockHash(number)
}

func (o *Overlay) AddLog(addr common.Address, topics []common.Hash, data []byte) {
	o.logs[addr] = append(o.logs[addr], LogRecord{Topics: topics, Data: data})
}

func (o *Overlay) ClearLogs() {
	o.logs = make(map[common.Address][]LogRecord)
}

// Snapshot deep-copies the storage map. Codes are shared: they are immutable
// once cached.
func (o *Overlay) Snapshot() Storage {
	return o.storage.Copy()
}

// Restore installs a snapshot as the live storage.
func (o *Overlay) Restore(snap Storage) {
	o.storage = snap
}

// Swap atomically exchanges the live storage with the given snapshot and
// returns the previous live map. Used to serve calls against the pre-test
// state without destroying in-progress writes.
func (o *Overlay) Swap(snap Storage) Storage {
	old := o.storage
	o.storage = snap
	return old
}

// Env returns the block environment captured at startup.
func (o *Overlay) Env() BlockEnv {
	return o.env
}
