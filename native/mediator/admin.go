package mediator

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/native/fees"
	"omnibridge/native/gaslimit"
	"omnibridge/native/limits"
)

var errHomeOnly = fmt.Errorf("%w: only available on the home side", ErrForbidden)

// admin runs fn for the owner only.
func (m *Mediator) admin(operation string, tx *chain.Tx, caller common.Address, fn func(s *session) error) (err error) {
	defer m.observe(operation, time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return err
	}
	if err := s.requireOwner(caller); err != nil {
		return err
	}
	return fn(s)
}

func (m *Mediator) homeAdmin(operation string, tx *chain.Tx, caller common.Address, fn func(s *session) error) error {
	if m.side != Home {
		return errHomeOnly
	}
	return m.admin(operation, tx, caller, fn)
}

func (s *session) requireTokenScope(scope limits.Scope) error {
	if scope.IsGlobal() {
		return nil
	}
	return s.requireLimits(scope.Address())
}

// SetLimit updates one cap of the defaults or of a registered token.
func (m *Mediator) SetLimit(tx *chain.Tx, caller common.Address, scope limits.Scope, kind limits.Kind, value *big.Int) error {
	return m.admin("set_limit", tx, caller, func(s *session) error {
		err := s.limits.SetLimit(scope, kind, value)
		if errors.Is(err, limits.ErrUnknownToken) {
			return fmt.Errorf("%w: %v", ErrUnknownToken, err)
		}
		return err
	})
}

// SetFee updates the default fee of a direction or the override of a
// registered token.
func (m *Mediator) SetFee(tx *chain.Tx, caller common.Address, dir fees.Direction, scope limits.Scope, pct *big.Int) error {
	return m.homeAdmin("set_fee", tx, caller, func(s *session) error {
		if err := s.requireTokenScope(scope); err != nil {
			return err
		}
		return s.fees.SetFee(dir, scope, pct)
	})
}

// AddRewardAddress registers a fee receiver.
func (m *Mediator) AddRewardAddress(tx *chain.Tx, caller, addr common.Address) error {
	return m.homeAdmin("add_reward_address", tx, caller, func(s *session) error {
		return s.fees.AddRewardAddress(addr)
	})
}

// RemoveRewardAddress drops a fee receiver.
func (m *Mediator) RemoveRewardAddress(tx *chain.Tx, caller, addr common.Address) error {
	return m.homeAdmin("remove_reward_address", tx, caller, func(s *session) error {
		return s.fees.RemoveRewardAddress(addr)
	})
}

// SetRequestGasLimit sets the default gas hint of outgoing messages.
func (m *Mediator) SetRequestGasLimit(tx *chain.Tx, caller common.Address, gas uint64) error {
	return m.admin("set_request_gas_limit", tx, caller, func(s *session) error {
		return s.gas.SetDefault(gas)
	})
}

// SetRequestGasLimitForSelector sets the gas hint of one call kind. Zero
// clears it.
func (m *Mediator) SetRequestGasLimitForSelector(tx *chain.Tx, caller common.Address, sel gaslimit.Selector, gas uint64) error {
	return m.admin("set_request_gas_limit", tx, caller, func(s *session) error {
		return s.gas.SetForSelector(sel, gas)
	})
}

// SetRequestGasLimitForToken sets the gas hint of one call kind carrying
// tokenAddr. Zero clears it.
func (m *Mediator) SetRequestGasLimitForToken(tx *chain.Tx, caller common.Address, sel gaslimit.Selector, tokenAddr common.Address, gas uint64) error {
	return m.admin("set_request_gas_limit", tx, caller, func(s *session) error {
		return s.gas.SetForToken(sel, tokenAddr, gas)
	})
}

// SetTokenForwardingRule moves every transfer of tokenAddr to the manual lane.
func (m *Mediator) SetTokenForwardingRule(tx *chain.Tx, caller, tokenAddr common.Address, enable bool) error {
	return m.homeAdmin("set_forwarding_rule", tx, caller, func(s *session) error {
		return s.rules.SetTokenRule(tokenAddr, enable)
	})
}

// SetSenderExceptionForTokenForwardingRule keeps transfers of tokenAddr by
// sender on the automatic lane.
func (m *Mediator) SetSenderExceptionForTokenForwardingRule(tx *chain.Tx, caller, tokenAddr, sender common.Address, enable bool) error {
	return m.homeAdmin("set_forwarding_rule", tx, caller, func(s *session) error {
		return s.rules.SetSenderExceptionForTokenRule(tokenAddr, sender, enable)
	})
}

// SetReceiverExceptionForTokenForwardingRule keeps transfers of tokenAddr to
// receiver on the automatic lane.
func (m *Mediator) SetReceiverExceptionForTokenForwardingRule(tx *chain.Tx, caller, tokenAddr, receiver common.Address, enable bool) error {
	return m.homeAdmin("set_forwarding_rule", tx, caller, func(s *session) error {
		return s.rules.SetReceiverExceptionForTokenRule(tokenAddr, receiver, enable)
	})
}

// SetSenderForwardingRule moves every transfer by sender to the manual lane.
func (m *Mediator) SetSenderForwardingRule(tx *chain.Tx, caller, sender common.Address, enable bool) error {
	return m.homeAdmin("set_forwarding_rule", tx, caller, func(s *session) error {
		return s.rules.SetSenderRule(sender, enable)
	})
}

// SetReceiverForwardingRule moves every transfer to receiver to the manual
// lane.
func (m *Mediator) SetReceiverForwardingRule(tx *chain.Tx, caller, receiver common.Address, enable bool) error {
	return m.homeAdmin("set_forwarding_rule", tx, caller, func(s *session) error {
		return s.rules.SetReceiverRule(receiver, enable)
	})
}

// TransferOwnership hands the admin role to newOwner.
func (m *Mediator) TransferOwnership(tx *chain.Tx, caller, newOwner common.Address) error {
	return m.admin("transfer_ownership", tx, caller, func(s *session) error {
		if newOwner == (common.Address{}) {
			return fmt.Errorf("%w: zero owner", ErrInvalidConfiguration)
		}
		previous := s.cfg.Owner
		s.cfg.Owner = newOwner
		if err := s.tx.KVPut(configKey, s.cfg); err != nil {
			return err
		}
		s.emit(events.OwnershipTransferred{Previous: previous, Owner: newOwner, Side: m.side.String()})
		return nil
	})
}
