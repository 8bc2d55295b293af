package mediator

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/native/token"
)

// RelayTokens bridges amount of tokenAddr from caller to the same address on
// the other side. The mediator must hold an allowance of at least amount.
func (m *Mediator) RelayTokens(tx *chain.Tx, caller, tokenAddr common.Address, amount *big.Int) (common.Hash, error) {
	return m.relay("relay_tokens", tx, caller, tokenAddr, caller, amount, nil)
}

// RelayTokensTo bridges amount of tokenAddr from caller to recipient.
func (m *Mediator) RelayTokensTo(tx *chain.Tx, caller, tokenAddr, recipient common.Address, amount *big.Int) (common.Hash, error) {
	return m.relay("relay_tokens_to", tx, caller, tokenAddr, recipient, amount, nil)
}

// RelayTokensAndCall bridges tokens and has the destination mediator pass data
// to the recipient once the tokens arrived.
func (m *Mediator) RelayTokensAndCall(tx *chain.Tx, caller, tokenAddr, recipient common.Address, amount *big.Int, data []byte) (common.Hash, error) {
	return m.relay("relay_tokens_and_call", tx, caller, tokenAddr, recipient, amount, data)
}

func (m *Mediator) relay(operation string, tx *chain.Tx, caller, tokenAddr, recipient common.Address, amount *big.Int, data []byte) (id common.Hash, err error) {
	defer m.observe(operation, time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	if err := s.ledger.TransferFrom(tokenAddr, m.address, caller, m.address, amount); err != nil {
		return common.Hash{}, err
	}
	return m.bridgeTokens(s, tokenAddr, caller, recipient, amount, append([]byte(nil), data...))
}

// OnTokenTransfer is invoked by transferAndCall once tokens reached the
// mediator and is refused anywhere else. The first 20 bytes of data select the recipient, defaulting to
// from; any remaining bytes are forwarded to the recipient on arrival.
func (m *Mediator) OnTokenTransfer(tx *chain.Tx, tokenAddr, from common.Address, amount *big.Int, data []byte) (err error) {
	defer m.observe("on_token_transfer", time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return err
	}
	cb, ok := token.Current(tx)
	if !ok || !cb.Moved || cb.Token != tokenAddr || cb.From != from || cb.To != m.address || amount == nil || cb.Amount.Cmp(amount) != 0 {
		return fmt.Errorf("%w: token hook outside transferAndCall to the mediator", ErrUnauthorized)
	}
	recipient := from
	var payload []byte
	if len(data) >= common.AddressLength {
		recipient = common.BytesToAddress(data[:common.AddressLength])
		payload = append([]byte(nil), data[common.AddressLength:]...)
	}
	_, err = m.bridgeTokens(s, tokenAddr, from, recipient, amount, payload)
	return err
}
