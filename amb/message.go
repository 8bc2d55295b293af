package amb

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"omnibridge/core/chain"
	"omnibridge/core/state"
)

var (
	ErrAlreadyProcessed = errors.New("amb: message already processed")
	ErrUnknownMessage   = errors.New("amb: unknown message")
	ErrGasTooHigh       = errors.New("amb: gas limit above maximum")
	ErrNoExecutor       = errors.New("amb: no handler registered for executor")
	ErrInvalidExecutor  = errors.New("amb: invalid executor")
	errNotBound         = errors.New("amb: endpoint not bound to a bus")
)

// DataTypeManual marks messages that wait for an explicit delivery request.
const DataTypeManual byte = 0x80

// Message is one cross-chain call request.
type Message struct {
	ID                 common.Hash
	SourceChainID      uint64
	DestinationChainID uint64
	Nonce              uint64
	Sender             common.Address
	Executor           common.Address
	Gas                uint64
	DataType           byte
	Data               []byte
}

// Manual reports whether the message waits for an explicit relay request.
func (m *Message) Manual() bool { return m.DataType&DataTypeManual != 0 }

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Data = append([]byte(nil), m.Data...)
	return &out
}

// MessageID derives the id of a message from its origin coordinates.
func MessageID(sourceChain, destinationChain, nonce uint64, sender common.Address) common.Hash {
	buf := make([]byte, 24, 24+common.AddressLength)
	binary.BigEndian.PutUint64(buf[0:8], sourceChain)
	binary.BigEndian.PutUint64(buf[8:16], destinationChain)
	binary.BigEndian.PutUint64(buf[16:24], nonce)
	buf = append(buf, sender.Bytes()...)
	return ethcrypto.Keccak256Hash(buf)
}

// Delivery is what a handler observes while executing a message. Sender is the
// contract that requested the message on the source chain.
type Delivery struct {
	MessageID     common.Hash
	SourceChainID uint64
	Sender        common.Address
	Executor      common.Address
	Data          []byte
}

// Handler executes messages addressed to a contract.
type Handler interface {
	HandleMessage(tx *chain.Tx, delivery Delivery) error
}

// Transport is the outgoing and status surface of the bridge as seen by one
// contract.
type Transport interface {
	// Address identifies the bridge contract on the local chain.
	Address() common.Address
	RequireToPassMessage(tx *chain.Tx, executor common.Address, data []byte, gas uint64, dataType byte) (common.Hash, error)
	MessageCallStatus(kv state.KV, id common.Hash) (bool, error)
	FailedMessageSender(kv state.KV, id common.Hash) (common.Address, error)
	FailedMessageReceiver(kv state.KV, id common.Hash) (common.Address, error)
	MaxGasPerTx() uint64
}
