package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/core/types"
)

var (
	ErrUnknownToken         = errors.New("registry: unknown token")
	ErrReplayRejected       = errors.New("registry: bridged token replay rejected")
	ErrRegistrationMismatch = errors.New("registry: message is not the registration message")
	ErrInsufficientCustody  = errors.New("registry: insufficient custody balance")
	ErrInvalidToken         = errors.New("registry: invalid token address")
	errNilState             = errors.New("registry: state not configured")
	errNilDeployer          = errors.New("registry: token deployer not configured")
)

const (
	entryPrefix   = "registry/entry/"
	bridgedPrefix = "registry/bridged/"
	custodyPrefix = "registry/custody/"
)

var tokenIndexKey = []byte("registry/tokens")

// Entry links a token on this side with its counterpart on the other side.
// Remote is the native address of a bridged token and zero for native tokens.
type Entry struct {
	Local    common.Address
	Remote   common.Address
	Native   bool
	Decimals uint8
	// RegistrationMessageID is the first message that announced a native token
	// to the other side. Zero means the token has not been announced yet.
	RegistrationMessageID common.Hash
	// DeployMessageID is the message that deployed a bridged representation.
	DeployMessageID common.Hash
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	return &out
}

// Deployer creates bridged token representations.
type Deployer interface {
	DeployToken(name, symbol string, decimals uint8) (common.Address, error)
}

// Registry records the native/bridged token mapping and the custody balance of
// native tokens locked by the mediator.
type Registry struct {
	state   state.KV
	emitter events.Emitter
	suffix  string
}

// New creates a registry. suffix is appended to the name of bridged tokens
// deployed on this side, for example " on xDai".
func New(kv state.KV, suffix string) *Registry {
	return &Registry{state: kv, emitter: events.NoopEmitter{}, suffix: suffix}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

func entryKey(token common.Address) []byte   { return []byte(entryPrefix + token.Hex()) }
func bridgedKey(native common.Address) []byte { return []byte(bridgedPrefix + native.Hex()) }
func custodyKey(token common.Address) []byte  { return []byte(custodyPrefix + token.Hex()) }

// Entry returns the mapping recorded for a local token.
func (r *Registry) Entry(token common.Address) (*Entry, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	var entry Entry
	ok, err := r.state.KVGet(entryKey(token), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

func (r *Registry) putEntry(entry *Entry) error {
	if err := r.state.KVPut(entryKey(entry.Local), entry); err != nil {
		return err
	}
	return r.state.KVAppend(tokenIndexKey, entry.Local.Bytes())
}

// RegisterNative records token as native to this side. Registering twice is a
// no-op and returns the existing entry.
func (r *Registry) RegisterNative(token common.Address, decimals uint8) (*Entry, error) {
	if token == (common.Address{}) {
		return nil, ErrInvalidToken
	}
	existing, ok, err := r.Entry(token)
	if err != nil {
		return nil, err
	}
	if ok {
		if !existing.Native {
			return nil, fmt.Errorf("%w: %s is a bridged token", ErrInvalidToken, token.Hex())
		}
		return existing, nil
	}
	entry := &Entry{Local: token, Native: true, Decimals: decimals}
	if err := r.putEntry(entry); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// BridgedOf returns the local representation of a token native to the other
// side.
func (r *Registry) BridgedOf(native common.Address) (common.Address, bool, error) {
	if r == nil || r.state == nil {
		return common.Address{}, false, errNilState
	}
	var bridged common.Address
	ok, err := r.state.KVGet(bridgedKey(native), &bridged)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return bridged, true, nil
}

// NativeOf returns the other-side address of a bridged token.
func (r *Registry) NativeOf(bridged common.Address) (common.Address, bool, error) {
	entry, ok, err := r.Entry(bridged)
	if err != nil || !ok || entry.Native {
		return common.Address{}, false, err
	}
	return entry.Remote, true, nil
}

// IsBridged reports whether token is a representation deployed by the
// mediator.
func (r *Registry) IsBridged(token common.Address) (bool, error) {
	entry, ok, err := r.Entry(token)
	if err != nil || !ok {
		return false, err
	}
	return !entry.Native, nil
}

// NameOrSymbolFallback fills a missing name from the symbol and vice versa.
func NameOrSymbolFallback(name, symbol string) (string, string) {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" {
		name = symbol
	}
	if symbol == "" {
		symbol = name
	}
	return name, symbol
}

// DeployBridged returns the local representation of a token native to the
// other side, deploying it on first sight. A later message naming the same
// native token with different decimals is rejected.
func (r *Registry) DeployBridged(native common.Address, name, symbol string, decimals uint8, messageID common.Hash, deployer Deployer) (*Entry, bool, error) {
	if native == (common.Address{}) {
		return nil, false, ErrInvalidToken
	}
	bridged, ok, err := r.BridgedOf(native)
	if err != nil {
		return nil, false, err
	}
	if ok {
		entry, found, err := r.Entry(bridged)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("%w: missing entry for %s", ErrUnknownToken, bridged.Hex())
		}
		if entry.Decimals != decimals {
			return nil, false, fmt.Errorf("%w: decimals %d, recorded %d", ErrReplayRejected, decimals, entry.Decimals)
		}
		return entry, false, nil
	}
	if deployer == nil {
		return nil, false, errNilDeployer
	}
	name, symbol = NameOrSymbolFallback(name, symbol)
	addr, err := deployer.DeployToken(name+r.suffix, symbol, decimals)
	if err != nil {
		return nil, false, err
	}
	entry := &Entry{Local: addr, Remote: native, Decimals: decimals, DeployMessageID: messageID}
	if err := r.putEntry(entry); err != nil {
		return nil, false, err
	}
	if err := r.state.KVPut(bridgedKey(native), addr); err != nil {
		return nil, false, err
	}
	r.emit(NewTokenRegisteredEvent(native, addr))
	return entry.Clone(), true, nil
}

// RegistrationMessage returns the id of the message that announced token to
// the other side.
func (r *Registry) RegistrationMessage(token common.Address) (common.Hash, error) {
	entry, ok, err := r.Entry(token)
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		return common.Hash{}, nil
	}
	return entry.RegistrationMessageID, nil
}

// SetRegistrationMessage records the announcing message of a native token.
func (r *Registry) SetRegistrationMessage(token common.Address, id common.Hash) error {
	entry, ok, err := r.Entry(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	entry.RegistrationMessageID = id
	return r.state.KVPut(entryKey(token), entry)
}

// Unregister forgets that token was announced when messageID is its
// registration message, so the next transfer announces it again.
func (r *Registry) Unregister(token common.Address, messageID common.Hash) error {
	entry, ok, err := r.Entry(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if entry.RegistrationMessageID == (common.Hash{}) || entry.RegistrationMessageID != messageID {
		return ErrRegistrationMismatch
	}
	entry.RegistrationMessageID = common.Hash{}
	return r.state.KVPut(entryKey(token), entry)
}

// Tokens lists every token known to the registry in registration order.
func (r *Registry) Tokens() ([]common.Address, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := r.state.KVGetList(tokenIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}

// Custody returns the amount of a native token locked by the mediator.
func (r *Registry) Custody(token common.Address) (*big.Int, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	v := new(big.Int)
	if _, err := r.state.KVGet(custodyKey(token), v); err != nil {
		return nil, err
	}
	return v, nil
}

// AddCustody increases the locked amount of token.
func (r *Registry) AddCustody(token common.Address, amount *big.Int) error {
	current, err := r.Custody(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return r.state.KVPut(custodyKey(token), current.Add(current, amount))
}

// SubCustody decreases the locked amount of token.
func (r *Registry) SubCustody(token common.Address, amount *big.Int) error {
	current, err := r.Custody(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCustody, current, amount)
	}
	return r.state.KVPut(custodyKey(token), current.Sub(current, amount))
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: evt})
}
