package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/core/types"
	"omnibridge/storage"
)

var (
	ErrNoContract     = errors.New("chain: no contract at address")
	errNilTransaction = errors.New("chain: transaction function required")
)

// Receiver is implemented by contracts that accept ERC677 transferAndCall
// notifications.
type Receiver interface {
	OnTokenTransfer(tx *Tx, token, from common.Address, amount *big.Int, data []byte) error
}

// Chain is one side of the bridge. It executes transactions one at a time;
// each transaction runs on a journal and commits atomically or not at all.
type Chain struct {
	name  string
	id    uint64
	state *state.Manager

	mu      sync.RWMutex
	nowFn   func() int64
	emitter events.Emitter
	txIndex uint64

	contractsMu sync.RWMutex
	contracts   map[common.Address]Receiver
}

// New creates a chain over the provided database.
func New(name string, id uint64, db storage.Database) *Chain {
	return &Chain{
		name:      name,
		id:        id,
		state:     state.NewManager(db),
		nowFn:     func() int64 { return time.Now().Unix() },
		emitter:   events.NoopEmitter{},
		contracts: make(map[common.Address]Receiver),
	}
}

// Name returns the configured chain name.
func (c *Chain) Name() string { return c.name }

// ID returns the configured chain id.
func (c *Chain) ID() uint64 { return c.id }

// SetNowFunc overrides the block clock. Primarily intended for tests to
// provide deterministic timestamps.
func (c *Chain) SetNowFunc(now func() int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// SetEmitter configures where committed events are delivered. Passing nil
// resets the emitter to a no-op implementation.
func (c *Chain) SetEmitter(emitter events.Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// Now returns the current block timestamp.
func (c *Chain) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowFn()
}

// Deploy installs contract code at addr.
func (c *Chain) Deploy(addr common.Address, contract Receiver) {
	c.contractsMu.Lock()
	defer c.contractsMu.Unlock()
	c.contracts[addr] = contract
}

// Contract returns the code installed at addr.
func (c *Chain) Contract(addr common.Address) (Receiver, bool) {
	c.contractsMu.RLock()
	defer c.contractsMu.RUnlock()
	contract, ok := c.contracts[addr]
	return contract, ok
}

// IsContract reports whether code is installed at addr.
func (c *Chain) IsContract(addr common.Address) bool {
	_, ok := c.Contract(addr)
	return ok
}

// Execute runs fn as one transaction. On success the journal and the buffered
// events are committed and the commit hooks run; on error every effect of fn
// is discarded. Code running inside fn must use tx.Now rather than Chain.Now.
func (c *Chain) Execute(fn func(tx *Tx) error) (*types.Receipt, error) {
	if fn == nil {
		return nil, errNilTransaction
	}
	tx, emitter, err := c.run(fn)
	receipt := &types.Receipt{Chain: c.name, Index: tx.index, Timestamp: tx.now}
	if err != nil {
		receipt.Error = err.Error()
		return receipt, err
	}
	receipt.Status = true
	receipt.Events = make([]*types.Event, 0, len(tx.events))
	for _, evt := range tx.events {
		receipt.Events = append(receipt.Events, events.Flatten(evt))
		emitter.Emit(evt)
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	return receipt, nil
}

func (c *Chain) run(fn func(tx *Tx) error) (*Tx, events.Emitter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txIndex++
	tx := &Tx{
		Journal: c.state.Begin(),
		chain:   c,
		now:     c.nowFn(),
		index:   c.txIndex,
	}
	if err := fn(tx); err != nil {
		tx.Discard()
		return tx, nil, err
	}
	if err := tx.Commit(); err != nil {
		return tx, nil, fmt.Errorf("chain %s: commit: %w", c.name, err)
	}
	return tx, c.emitter, nil
}

// View runs fn against committed state. Writes made by fn are never persisted.
func (c *Chain) View(fn func(kv state.KV) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j := c.state.Begin()
	defer j.Discard()
	return fn(j)
}

// Call runs fn as a read-only transaction against committed state. Writes,
// events and commit hooks produced by fn are dropped.
func (c *Chain) Call(fn func(tx *Tx) error) error {
	if fn == nil {
		return errNilTransaction
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx := &Tx{Journal: c.state.Begin(), chain: c, now: c.nowFn()}
	defer tx.Discard()
	return fn(tx)
}

// Tx is the execution context of one transaction.
type Tx struct {
	*state.Journal
	chain    *Chain
	now      int64
	index    uint64
	events   []events.Event
	onCommit []func()
}

// Chain returns the chain executing the transaction.
func (tx *Tx) Chain() *Chain { return tx.chain }

// Now returns the block timestamp of the transaction.
func (tx *Tx) Now() int64 { return tx.now }

// Index returns the sequence number of the transaction on its chain.
func (tx *Tx) Index() uint64 { return tx.index }

// Emit buffers an event until the transaction commits.
func (tx *Tx) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	tx.events = append(tx.events, evt)
}

// OnCommit registers fn to run after the transaction committed.
func (tx *Tx) OnCommit(fn func()) {
	if fn != nil {
		tx.onCommit = append(tx.onCommit, fn)
	}
}

// Try runs fn in a nested scope. When fn fails its state writes, events and
// commit hooks are rolled back while the enclosing transaction continues.
func (tx *Tx) Try(fn func() error) error {
	snap := tx.Snapshot()
	eventCount := len(tx.events)
	hookCount := len(tx.onCommit)
	if err := fn(); err != nil {
		tx.RevertToSnapshot(snap)
		tx.events = tx.events[:eventCount]
		tx.onCommit = tx.onCommit[:hookCount]
		return err
	}
	return nil
}
