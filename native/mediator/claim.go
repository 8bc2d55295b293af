package mediator

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/native/limits"
)

// ClaimTokens sends the mediator's whole balance of a token that was never
// bridged to recipient. Tokens with limits or locked custody are refused.
func (m *Mediator) ClaimTokens(tx *chain.Tx, caller, tokenAddr, recipient common.Address) (claimed *big.Int, err error) {
	defer m.observe("claim_tokens", time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	registered, err := s.limits.IsRegistered(tokenAddr)
	if err != nil {
		return nil, err
	}
	custody, err := s.registry.Custody(tokenAddr)
	if err != nil {
		return nil, err
	}
	if registered || custody.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s is bridged", ErrForbidden, tokenAddr.Hex())
	}
	balance, err := s.ledger.BalanceOf(tokenAddr, m.address)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return balance, nil
	}
	if err := s.ledger.Transfer(tokenAddr, m.address, recipient, balance); err != nil {
		return nil, err
	}
	tx.OnCommit(func() {
		m.logger.Info("tokens claimed", "token", tokenAddr.Hex(), "recipient", recipient.Hex(), "value", balance.String())
	})
	return balance, nil
}

// FixMediatorBalance bridges native tokens sent to the mediator without a
// relay call to recipient on the other side. At most the current
// per-transaction allowance is sent per call.
func (m *Mediator) FixMediatorBalance(tx *chain.Tx, caller, tokenAddr, recipient common.Address) (id common.Hash, err error) {
	defer m.observe("fix_mediator_balance", time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.requireOwner(caller); err != nil {
		return common.Hash{}, err
	}
	if err := s.checkRecipient(recipient); err != nil {
		return common.Hash{}, err
	}
	entry, ok, err := s.registry.Entry(tokenAddr)
	if err != nil {
		return common.Hash{}, err
	}
	if !ok || !entry.Native {
		return common.Hash{}, fmt.Errorf("%w: %s is not a native token", ErrUnknownToken, tokenAddr.Hex())
	}
	if err := s.requireLimits(tokenAddr); err != nil {
		return common.Hash{}, err
	}
	balance, err := s.ledger.BalanceOf(tokenAddr, m.address)
	if err != nil {
		return common.Hash{}, err
	}
	custody, err := s.registry.Custody(tokenAddr)
	if err != nil {
		return common.Hash{}, err
	}
	if balance.Cmp(custody) <= 0 {
		return common.Hash{}, ErrNothingToFix
	}
	diff := new(big.Int).Sub(balance, custody)
	available, err := s.limits.MaxAvailablePerTx(tokenAddr)
	if err != nil {
		return common.Hash{}, err
	}
	if available.Sign() == 0 {
		return common.Hash{}, fmt.Errorf("%w: nothing available today", ErrLimitExceeded)
	}
	if diff.Cmp(available) > 0 {
		diff = available
	}
	if err := s.limits.Consume(tokenAddr, diff, limits.Outbound); err != nil {
		return common.Hash{}, err
	}
	id, err = m.dispatch(s, outbound{entry: entry, recipient: recipient, value: diff})
	if err != nil {
		return common.Hash{}, err
	}
	if err := m.recordOperation(s, id, tokenAddr, recipient, diff); err != nil {
		return common.Hash{}, err
	}
	return id, nil
}
