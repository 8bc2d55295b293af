package amb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errSameChain = errors.New("amb: endpoints must live on different chains")

// Bus carries messages between two endpoints. Messages are held until a
// relayer delivers them; delivery order is up to the caller.
type Bus struct {
	mu        sync.Mutex
	endpoints map[uint64]*Endpoint
	pending   []*Message
	seen      map[common.Hash]*Message
	notify    chan struct{}
}

// Connect links two endpoints with a new bus. Messages committed on either
// side but not yet processed by the other are queued again.
func Connect(a, b *Endpoint) (*Bus, error) {
	if a == nil || b == nil {
		return nil, errors.New("amb: both endpoints are required")
	}
	if a.chain.ID() == b.chain.ID() {
		return nil, errSameChain
	}
	bus := &Bus{
		endpoints: map[uint64]*Endpoint{a.chain.ID(): a, b.chain.ID(): b},
		seen:      make(map[common.Hash]*Message),
		notify:    make(chan struct{}, 1),
	}
	a.attach(bus, b.chain.ID())
	b.attach(bus, a.chain.ID())
	if err := bus.restore(a, b); err != nil {
		return nil, err
	}
	if err := bus.restore(b, a); err != nil {
		return nil, err
	}
	return bus, nil
}

func (b *Bus) restore(src, dst *Endpoint) error {
	msgs, err := src.Undelivered()
	if err != nil {
		return fmt.Errorf("amb: load undelivered from chain %d: %w", src.chain.ID(), err)
	}
	for _, msg := range msgs {
		done, err := dst.processed(msg.ID)
		if err != nil {
			return err
		}
		if done {
			if err := src.forget(msg.ID); err != nil {
				return err
			}
			continue
		}
		b.pending = append(b.pending, msg)
		b.seen[msg.ID] = msg
	}
	return nil
}

func (b *Bus) submit(msg *Message) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.seen[msg.ID] = msg
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Notify signals that new messages were submitted.
func (b *Bus) Notify() <-chan struct{} { return b.notify }

// Pending lists undelivered messages in submission order. Manual lane
// messages are only listed when includeManual is set.
func (b *Bus) Pending(includeManual bool) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, 0, len(b.pending))
	for _, msg := range b.pending {
		if msg.Manual() && !includeManual {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// Endpoint returns the endpoint deployed on chainID.
func (b *Bus) Endpoint(chainID uint64) (*Endpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.endpoints[chainID]
	return e, ok
}

// ChainIDs lists the chains the bus connects.
func (b *Bus) ChainIDs() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint64, 0, len(b.endpoints))
	for id := range b.endpoints {
		ids = append(ids, id)
	}
	return ids
}

// Message returns a message ever requested on either endpoint.
func (b *Bus) Message(id common.Hash) (*Message, bool) {
	b.mu.Lock()
	msg, ok := b.seen[id]
	endpoints := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		endpoints = append(endpoints, e)
	}
	b.mu.Unlock()
	if ok {
		return msg.Clone(), true
	}
	for _, e := range endpoints {
		if stored, err := e.Outgoing(id); err == nil {
			return stored, true
		}
	}
	return nil, false
}

func (b *Bus) take(id common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, msg := range b.pending {
		if msg.ID == id {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

// Deliver executes message id on its destination chain. Messages already
// delivered may be delivered again; the destination rejects the replay with
// ErrAlreadyProcessed.
func (b *Bus) Deliver(id common.Hash) (*ExecutionResult, error) {
	msg, ok := b.Message(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id.Hex())
	}
	dest, ok := b.Endpoint(msg.DestinationChainID)
	if !ok {
		return nil, fmt.Errorf("amb: no endpoint for chain %d", msg.DestinationChainID)
	}
	result, err := dest.Execute(msg)
	if err == nil || errors.Is(err, ErrAlreadyProcessed) {
		b.take(id)
		if src, ok := b.Endpoint(msg.SourceChainID); ok {
			if ferr := src.forget(id); ferr != nil {
				return result, fmt.Errorf("amb: prune outbox %s: %w", id.Hex(), ferr)
			}
		}
	}
	return result, err
}
