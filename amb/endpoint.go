package amb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/core/state"
	"omnibridge/core/types"
)

var (
	nonceKey       = []byte("amb/nonce")
	undeliveredKey = []byte("amb/undelivered")
)

func outboxKey(id common.Hash) []byte { return []byte("amb/out/" + id.Hex()) }

func executionKey(id common.Hash) []byte { return []byte("amb/exec/" + id.Hex()) }

type executionRecord struct {
	Status   bool
	Sender   common.Address
	Executor common.Address
	Error    string
}

// Endpoint is the bridge contract deployed on one chain. It accepts outgoing
// requests from local contracts and executes incoming messages exactly once.
type Endpoint struct {
	address common.Address
	chain   *chain.Chain
	maxGas  uint64

	mu       sync.RWMutex
	handlers map[common.Address]Handler
	bus      *Bus
	remoteID uint64
}

// NewEndpoint creates the bridge contract at addr on c.
func NewEndpoint(addr common.Address, c *chain.Chain, maxGasPerTx uint64) *Endpoint {
	return &Endpoint{
		address:  addr,
		chain:    c,
		maxGas:   maxGasPerTx,
		handlers: make(map[common.Address]Handler),
	}
}

// Address returns the bridge contract address.
func (e *Endpoint) Address() common.Address { return e.address }

// Chain returns the chain the endpoint is deployed on.
func (e *Endpoint) Chain() *chain.Chain { return e.chain }

// MaxGasPerTx returns the largest gas hint a message may carry.
func (e *Endpoint) MaxGasPerTx() uint64 { return e.maxGas }

// Register routes messages addressed to executor to h.
func (e *Endpoint) Register(executor common.Address, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[executor] = h
}

func (e *Endpoint) handler(executor common.Address) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[executor]
}

func (e *Endpoint) attach(bus *Bus, remoteChainID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bus = bus
	e.remoteID = remoteChainID
}

func (e *Endpoint) link() (*Bus, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bus, e.remoteID
}

// Port returns the transport as seen by the contract at sender.
func (e *Endpoint) Port(sender common.Address) Transport {
	return &port{endpoint: e, sender: sender}
}

// requireToPassMessage stores an outgoing message. The message reaches the bus
// only once tx commits.
func (e *Endpoint) requireToPassMessage(tx *chain.Tx, sender, executor common.Address, data []byte, gas uint64, dataType byte) (common.Hash, error) {
	bus, remote := e.link()
	if bus == nil {
		return common.Hash{}, errNotBound
	}
	if executor == (common.Address{}) {
		return common.Hash{}, ErrInvalidExecutor
	}
	if e.maxGas > 0 && gas > e.maxGas {
		return common.Hash{}, fmt.Errorf("%w: %d > %d", ErrGasTooHigh, gas, e.maxGas)
	}
	var nonce uint64
	if _, err := tx.KVGet(nonceKey, &nonce); err != nil {
		return common.Hash{}, err
	}
	msg := &Message{
		ID:                 MessageID(e.chain.ID(), remote, nonce, sender),
		SourceChainID:      e.chain.ID(),
		DestinationChainID: remote,
		Nonce:              nonce,
		Sender:             sender,
		Executor:           executor,
		Gas:                gas,
		DataType:           dataType,
		Data:               append([]byte(nil), data...),
	}
	if err := tx.KVPut(nonceKey, nonce+1); err != nil {
		return common.Hash{}, err
	}
	if err := tx.KVPut(outboxKey(msg.ID), msg); err != nil {
		return common.Hash{}, err
	}
	undelivered, err := loadUndelivered(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := tx.KVPut(undeliveredKey, append(undelivered, msg.ID)); err != nil {
		return common.Hash{}, err
	}
	tx.Emit(ambEvent{evt: NewUserRequestEvent(msg)})
	pending := msg.Clone()
	tx.OnCommit(func() { bus.submit(pending) })
	return msg.ID, nil
}

// Outgoing returns a message previously requested on this chain.
func (e *Endpoint) Outgoing(id common.Hash) (*Message, error) {
	var msg Message
	var found bool
	err := e.chain.View(func(kv state.KV) error {
		var err error
		found, err = kv.KVGet(outboxKey(id), &msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id.Hex())
	}
	return &msg, nil
}

func loadUndelivered(kv state.KV) ([]common.Hash, error) {
	var ids []common.Hash
	if _, err := kv.KVGet(undeliveredKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Undelivered returns the outgoing messages the other side has not processed
// yet, oldest first.
func (e *Endpoint) Undelivered() ([]*Message, error) {
	var out []*Message
	err := e.chain.View(func(kv state.KV) error {
		ids, err := loadUndelivered(kv)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var msg Message
			found, err := kv.KVGet(outboxKey(id), &msg)
			if err != nil {
				return err
			}
			if found {
				out = append(out, &msg)
			}
		}
		return nil
	})
	return out, err
}

// forget drops id from the undelivered index once the other side processed
// it.
func (e *Endpoint) forget(id common.Hash) error {
	_, err := e.chain.Execute(func(tx *chain.Tx) error {
		ids, err := loadUndelivered(tx)
		if err != nil {
			return err
		}
		for i, queued := range ids {
			if queued == id {
				return tx.KVPut(undeliveredKey, append(ids[:i], ids[i+1:]...))
			}
		}
		return nil
	})
	return err
}

// processed reports whether message id was executed on this chain.
func (e *Endpoint) processed(id common.Hash) (bool, error) {
	var ok bool
	err := e.chain.View(func(kv state.KV) error {
		var err error
		ok, err = e.Processed(kv, id)
		return err
	})
	return ok, err
}

// ExecutionResult describes one attempt to execute an incoming message.
type ExecutionResult struct {
	Message *Message
	Status  bool
	// Err is the handler failure when Status is false.
	Err     error
	Receipt *types.Receipt
}

// Execute runs an incoming message. A failing handler has all of its effects
// rolled back while the failure itself is recorded, so the message can later
// be inspected by the recovery protocol. A message id executes at most once.
func (e *Endpoint) Execute(msg *Message) (*ExecutionResult, error) {
	if msg == nil {
		return nil, ErrUnknownMessage
	}
	result := &ExecutionResult{Message: msg.Clone()}
	receipt, err := e.chain.Execute(func(tx *chain.Tx) error {
		processed, err := tx.KVGet(executionKey(msg.ID), nil)
		if err != nil {
			return err
		}
		if processed {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, msg.ID.Hex())
		}
		var execErr error
		if h := e.handler(msg.Executor); h == nil {
			execErr = fmt.Errorf("%w: %s", ErrNoExecutor, msg.Executor.Hex())
		} else {
			delivery := Delivery{
				MessageID:     msg.ID,
				SourceChainID: msg.SourceChainID,
				Sender:        msg.Sender,
				Executor:      msg.Executor,
				Data:          append([]byte(nil), msg.Data...),
			}
			execErr = tx.Try(func() error { return h.HandleMessage(tx, delivery) })
		}
		record := executionRecord{Status: execErr == nil, Sender: msg.Sender, Executor: msg.Executor}
		if execErr != nil {
			record.Error = execErr.Error()
		}
		if err := tx.KVPut(executionKey(msg.ID), &record); err != nil {
			return err
		}
		tx.Emit(ambEvent{evt: NewRelayedMessageEvent(msg, record.Status, record.Error)})
		result.Status = record.Status
		result.Err = execErr
		return nil
	})
	result.Receipt = receipt
	if err != nil {
		return result, err
	}
	return result, nil
}

func (e *Endpoint) execution(kv state.KV, id common.Hash) (*executionRecord, bool, error) {
	var record executionRecord
	ok, err := kv.KVGet(executionKey(id), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// MessageCallStatus reports whether message id executed successfully here.
func (e *Endpoint) MessageCallStatus(kv state.KV, id common.Hash) (bool, error) {
	record, ok, err := e.execution(kv, id)
	if err != nil || !ok {
		return false, err
	}
	return record.Status, nil
}

// Processed reports whether message id was executed here, successfully or
// not.
func (e *Endpoint) Processed(kv state.KV, id common.Hash) (bool, error) {
	_, ok, err := e.execution(kv, id)
	return ok, err
}

// FailedMessageSender returns the requester of a message whose execution
// failed here, zero otherwise.
func (e *Endpoint) FailedMessageSender(kv state.KV, id common.Hash) (common.Address, error) {
	record, ok, err := e.execution(kv, id)
	if err != nil || !ok || record.Status {
		return common.Address{}, err
	}
	return record.Sender, nil
}

// FailedMessageReceiver returns the executor of a message whose execution
// failed here, zero otherwise.
func (e *Endpoint) FailedMessageReceiver(kv state.KV, id common.Hash) (common.Address, error) {
	record, ok, err := e.execution(kv, id)
	if err != nil || !ok || record.Status {
		return common.Address{}, err
	}
	return record.Executor, nil
}

type port struct {
	endpoint *Endpoint
	sender   common.Address
}

func (p *port) Address() common.Address { return p.endpoint.address }

func (p *port) RequireToPassMessage(tx *chain.Tx, executor common.Address, data []byte, gas uint64, dataType byte) (common.Hash, error) {
	if tx.Chain() != p.endpoint.chain {
		return common.Hash{}, errors.New("amb: transaction belongs to another chain")
	}
	return p.endpoint.requireToPassMessage(tx, p.sender, executor, data, gas, dataType)
}

func (p *port) MessageCallStatus(kv state.KV, id common.Hash) (bool, error) {
	return p.endpoint.MessageCallStatus(kv, id)
}

func (p *port) FailedMessageSender(kv state.KV, id common.Hash) (common.Address, error) {
	return p.endpoint.FailedMessageSender(kv, id)
}

func (p *port) FailedMessageReceiver(kv state.KV, id common.Hash) (common.Address, error) {
	return p.endpoint.FailedMessageReceiver(kv, id)
}

func (p *port) MaxGasPerTx() uint64 { return p.endpoint.maxGas }
