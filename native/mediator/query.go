package mediator

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/native/fees"
	"omnibridge/native/forwarding"
	"omnibridge/native/limits"
	"omnibridge/native/registry"
)

// view runs fn against committed state. It must not be called from inside a
// transaction on the same chain.
func (m *Mediator) view(fn func(s *session) error) error {
	return m.chain.Call(func(tx *chain.Tx) error {
		s, err := m.open(tx)
		if err != nil {
			return err
		}
		return fn(s)
	})
}

// Initialized reports whether Initialize succeeded.
func (m *Mediator) Initialized() (bool, error) {
	err := m.view(func(*session) error { return nil })
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return err == nil, err
}

// Owner returns the admin of the mediator.
func (m *Mediator) Owner() (owner common.Address, err error) {
	err = m.view(func(s *session) error {
		owner = s.cfg.Owner
		return nil
	})
	return owner, err
}

// Counterpart returns the mediator on the other side.
func (m *Mediator) Counterpart() (counterpart common.Address, err error) {
	err = m.view(func(s *session) error {
		counterpart = s.cfg.Counterpart
		return nil
	})
	return counterpart, err
}

// CurrentDay returns the day index used for the daily counters.
func (m *Mediator) CurrentDay() (day uint64, err error) {
	err = m.view(func(s *session) error {
		day = s.limits.CurrentDay()
		return nil
	})
	return day, err
}

// Limits returns the caps in force for tokenAddr, the defaults when it has
// none of its own.
func (m *Mediator) Limits(tokenAddr common.Address) (caps limits.Limits, err error) {
	err = m.view(func(s *session) error {
		caps, err = s.limits.Effective(tokenAddr)
		return err
	})
	return caps, err
}

// DefaultLimits returns the global caps.
func (m *Mediator) DefaultLimits() (caps limits.Limits, err error) {
	err = m.view(func(s *session) error {
		caps, err = s.limits.Defaults()
		return err
	})
	return caps, err
}

// IsTokenRegistered reports whether tokenAddr has limits of its own.
func (m *Mediator) IsTokenRegistered(tokenAddr common.Address) (registered bool, err error) {
	err = m.view(func(s *session) error {
		registered, err = s.limits.IsRegistered(tokenAddr)
		return err
	})
	return registered, err
}

// TotalSpentPerDay returns the outbound volume of tokenAddr on day.
func (m *Mediator) TotalSpentPerDay(tokenAddr common.Address, day uint64) (total *big.Int, err error) {
	err = m.view(func(s *session) error {
		total, err = s.limits.TotalSpentPerDay(tokenAddr, day)
		return err
	})
	return total, err
}

// TotalExecutedPerDay returns the inbound volume of tokenAddr on day.
func (m *Mediator) TotalExecutedPerDay(tokenAddr common.Address, day uint64) (total *big.Int, err error) {
	err = m.view(func(s *session) error {
		total, err = s.limits.TotalExecutedPerDay(tokenAddr, day)
		return err
	})
	return total, err
}

// MaxAvailablePerTx returns the largest amount of tokenAddr a relay call may
// move right now.
func (m *Mediator) MaxAvailablePerTx(tokenAddr common.Address) (available *big.Int, err error) {
	err = m.view(func(s *session) error {
		available, err = s.limits.MaxAvailablePerTx(tokenAddr)
		return err
	})
	if err == nil {
		m.metrics.RecordAvailable(m.side.String(), tokenAddr.Hex(), limits.Outbound.String(), available)
	}
	return available, err
}

// ExecutionAvailablePerTx returns the largest incoming transfer of tokenAddr
// that would execute right now.
func (m *Mediator) ExecutionAvailablePerTx(tokenAddr common.Address) (available *big.Int, err error) {
	err = m.view(func(s *session) error {
		available, err = s.limits.ExecutionAvailablePerTx(tokenAddr)
		return err
	})
	if err == nil {
		m.metrics.RecordAvailable(m.side.String(), tokenAddr.Hex(), limits.Inbound.String(), available)
	}
	return available, err
}

// TokenEntry returns the registry record of a local token.
func (m *Mediator) TokenEntry(tokenAddr common.Address) (entry *registry.Entry, found bool, err error) {
	err = m.view(func(s *session) error {
		entry, found, err = s.registry.Entry(tokenAddr)
		return err
	})
	return entry, found, err
}

// Tokens lists every token the mediator has seen.
func (m *Mediator) Tokens() (tokens []common.Address, err error) {
	err = m.view(func(s *session) error {
		tokens, err = s.registry.Tokens()
		return err
	})
	return tokens, err
}

// BridgedTokenAddress returns the local representation of a token native to
// the other side.
func (m *Mediator) BridgedTokenAddress(native common.Address) (bridged common.Address, err error) {
	err = m.view(func(s *session) error {
		bridged, _, err = s.registry.BridgedOf(native)
		return err
	})
	return bridged, err
}

// NativeTokenAddress returns the other-side address of a bridged token, zero
// for tokens native to this chain.
func (m *Mediator) NativeTokenAddress(bridged common.Address) (native common.Address, err error) {
	err = m.view(func(s *session) error {
		native, _, err = s.registry.NativeOf(bridged)
		return err
	})
	return native, err
}

// TokenRegistrationMessageID returns the message that announced a native
// token to the other side, zero when not announced.
func (m *Mediator) TokenRegistrationMessageID(tokenAddr common.Address) (id common.Hash, err error) {
	err = m.view(func(s *session) error {
		id, err = s.registry.RegistrationMessage(tokenAddr)
		return err
	})
	return id, err
}

// MediatorBalance returns the amount of a native token held in custody.
func (m *Mediator) MediatorBalance(tokenAddr common.Address) (balance *big.Int, err error) {
	err = m.view(func(s *session) error {
		balance, err = s.registry.Custody(tokenAddr)
		return err
	})
	return balance, err
}

// Fee returns the fee percentage applied to tokenAddr in a direction.
func (m *Mediator) Fee(dir fees.Direction, tokenAddr common.Address) (pct *big.Int, err error) {
	err = m.view(func(s *session) error {
		pct, err = s.fees.Fee(dir, tokenAddr)
		return err
	})
	return pct, err
}

// CalculateFee returns the fee that would be charged on amount. It ignores
// the reward address exemption.
func (m *Mediator) CalculateFee(dir fees.Direction, tokenAddr common.Address, amount *big.Int) (fee *big.Int, err error) {
	err = m.view(func(s *session) error {
		fee, err = s.fees.ComputeFee(dir, tokenAddr, amount)
		return err
	})
	return fee, err
}

// RewardAddresses returns the fee receivers, most recently added first.
func (m *Mediator) RewardAddresses() (list []common.Address, err error) {
	err = m.view(func(s *session) error {
		list, err = s.fees.RewardAddresses()
		return err
	})
	return list, err
}

// DestinationLane returns the forwarding lane a transfer would use.
func (m *Mediator) DestinationLane(tokenAddr, sender, receiver common.Address) (lane forwarding.Lane, err error) {
	err = m.view(func(s *session) error {
		lane, err = s.rules.DestinationLane(tokenAddr, sender, receiver)
		return err
	})
	return lane, err
}

// RequestGasLimit returns the gas hint that outgoing data would carry.
func (m *Mediator) RequestGasLimit(data []byte, tokenAddr common.Address) (gas uint64, err error) {
	err = m.view(func(s *session) error {
		gas, err = s.gas.Resolve(data, tokenAddr)
		return err
	})
	return gas, err
}

// Message returns the refund record of an outgoing message.
func (m *Mediator) Message(id common.Hash) (record *MessageRecord, found bool, err error) {
	err = m.view(func(s *session) error {
		record, found, err = s.messageRecord(id)
		return err
	})
	return record, found, err
}

// MessageFixed reports whether the outgoing message was refunded.
func (m *Mediator) MessageFixed(id common.Hash) (fixed bool, err error) {
	err = m.view(func(s *session) error {
		fixed, err = s.messageFixed(id)
		return err
	})
	return fixed, err
}
