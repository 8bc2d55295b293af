package gaslimit

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/state"
)

var (
	ErrGasLimitTooHigh = errors.New("gaslimit: gas limit above transport maximum")
	errNilState        = errors.New("gaslimit: state not configured")
)

var defaultKey = []byte("gaslimit/default")

// Selector is the 4-byte method id of a bridge payload.
type Selector [4]byte

func (s Selector) String() string { return "0x" + hex.EncodeToString(s[:]) }

// SelectorOf returns the selector at the start of an encoded payload.
func SelectorOf(data []byte) (Selector, bool) {
	var sel Selector
	if len(data) < len(sel) {
		return sel, false
	}
	copy(sel[:], data)
	return sel, true
}

func selectorKey(sel Selector) []byte {
	return []byte("gaslimit/selector/" + sel.String())
}

func tokenKey(sel Selector, token common.Address) []byte {
	return []byte("gaslimit/selector/" + sel.String() + "/" + token.Hex())
}

// Manager resolves the gas hint attached to outgoing messages. A hint set for
// a selector and token wins over a selector hint, which wins over the default.
type Manager struct {
	state  state.KV
	maxGas uint64
}

// NewManager creates a manager bounded by the transport's per-message gas cap.
func NewManager(kv state.KV, maxGas uint64) *Manager {
	return &Manager{state: kv, maxGas: maxGas}
}

func (m *Manager) check(gas uint64) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.maxGas > 0 && gas > m.maxGas {
		return fmt.Errorf("%w: %d > %d", ErrGasLimitTooHigh, gas, m.maxGas)
	}
	return nil
}

// SetDefault stores the gas hint used when nothing more specific is set.
func (m *Manager) SetDefault(gas uint64) error {
	if err := m.check(gas); err != nil {
		return err
	}
	return m.state.KVPut(defaultKey, gas)
}

// SetForSelector stores the hint for a payload kind. Zero clears it.
func (m *Manager) SetForSelector(sel Selector, gas uint64) error {
	if err := m.check(gas); err != nil {
		return err
	}
	if gas == 0 {
		return m.state.KVDelete(selectorKey(sel))
	}
	return m.state.KVPut(selectorKey(sel), gas)
}

// SetForToken stores the hint for a payload kind carrying a specific token.
// Zero clears it.
func (m *Manager) SetForToken(sel Selector, token common.Address, gas uint64) error {
	if err := m.check(gas); err != nil {
		return err
	}
	if gas == 0 {
		return m.state.KVDelete(tokenKey(sel, token))
	}
	return m.state.KVPut(tokenKey(sel, token), gas)
}

// Default returns the fallback hint.
func (m *Manager) Default() (uint64, error) {
	if m == nil || m.state == nil {
		return 0, errNilState
	}
	var gas uint64
	if _, err := m.state.KVGet(defaultKey, &gas); err != nil {
		return 0, err
	}
	return gas, nil
}

// ForSelector returns the hint stored for sel, zero if none.
func (m *Manager) ForSelector(sel Selector) (uint64, error) {
	return m.lookup(selectorKey(sel))
}

// ForToken returns the hint stored for sel and token, zero if none.
func (m *Manager) ForToken(sel Selector, token common.Address) (uint64, error) {
	return m.lookup(tokenKey(sel, token))
}

func (m *Manager) lookup(key []byte) (uint64, error) {
	if m == nil || m.state == nil {
		return 0, errNilState
	}
	var gas uint64
	if _, err := m.state.KVGet(key, &gas); err != nil {
		return 0, err
	}
	return gas, nil
}

// Resolve returns the hint for a payload that moves token.
func (m *Manager) Resolve(data []byte, token common.Address) (uint64, error) {
	if sel, ok := SelectorOf(data); ok {
		gas, err := m.ForToken(sel, token)
		if err != nil || gas > 0 {
			return gas, err
		}
		gas, err = m.ForSelector(sel)
		if err != nil || gas > 0 {
			return gas, err
		}
	}
	return m.Default()
}
