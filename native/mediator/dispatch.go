package mediator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/events"
	"omnibridge/native/fees"
	"omnibridge/native/limits"
	"omnibridge/native/registry"
)

// MessageRecord is what the origin chain remembers about an outgoing
// transfer so that it can be refunded if the destination fails to execute it.
type MessageRecord struct {
	Token     common.Address
	Recipient common.Address
	Value     *big.Int
}

func messageKey(id common.Hash) []byte { return []byte("mediator/message/" + id.Hex()) }

func fixedKey(id common.Hash) []byte { return []byte("mediator/fixed/" + id.Hex()) }

func (s *session) messageRecord(id common.Hash) (*MessageRecord, bool, error) {
	var record MessageRecord
	ok, err := s.tx.KVGet(messageKey(id), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

func (s *session) messageFixed(id common.Hash) (bool, error) {
	var fixed bool
	if _, err := s.tx.KVGet(fixedKey(id), &fixed); err != nil {
		return false, err
	}
	return fixed, nil
}

func (s *session) checkRecipient(recipient common.Address) error {
	if recipient == (common.Address{}) || recipient == s.cfg.Counterpart {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, recipient.Hex())
	}
	return nil
}

// ensureRegistered returns the registry entry of a token about to leave the
// chain, registering it as native on first sight and giving it default limits
// and fees when it has none.
func (m *Mediator) ensureRegistered(s *session, tokenAddr common.Address) (*registry.Entry, error) {
	entry, ok, err := s.registry.Entry(tokenAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		meta, err := s.ledger.Metadata(tokenAddr)
		if err != nil {
			return nil, err
		}
		if entry, err = s.registry.RegisterNative(tokenAddr, meta.Decimals); err != nil {
			return nil, err
		}
	}
	if err := m.ensureLimits(s, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *Mediator) ensureLimits(s *session, entry *registry.Entry) error {
	registered, err := s.limits.IsRegistered(entry.Local)
	if err != nil || registered {
		return err
	}
	if _, err := s.limits.RegisterDefaults(entry.Local, entry.Decimals); err != nil {
		return err
	}
	if m.side == Home {
		return s.fees.InitializeToken(entry.Local)
	}
	return nil
}

// dataType maps the forwarding lane of a transfer to the transport data type.
func (m *Mediator) dataType(s *session, tokenAddr, sender, recipient common.Address) (byte, error) {
	if m.side != Home {
		return 0, nil
	}
	lane, err := s.rules.DestinationLane(tokenAddr, sender, recipient)
	if err != nil {
		return 0, err
	}
	return lane.DataType(), nil
}

func (m *Mediator) passMessage(s *session, data []byte, gasToken common.Address, dataType byte) (common.Hash, error) {
	gas, err := s.gas.Resolve(data, gasToken)
	if err != nil {
		return common.Hash{}, err
	}
	return m.transport.RequireToPassMessage(s.tx, s.cfg.Counterpart, data, gas, dataType)
}

// outbound describes tokens already held by the mediator that are about to be
// sent to the other side.
type outbound struct {
	entry     *registry.Entry
	recipient common.Address
	value     *big.Int
	payload   []byte
	dataType  byte
}

// dispatch locks or burns the value and sends the matching call. The first
// transfer of a native token deploys its representation on the other side.
func (m *Mediator) dispatch(s *session, out outbound) (common.Hash, error) {
	tokenAddr := out.entry.Local
	call := Call{
		Recipient: out.recipient,
		Value:     new(big.Int).Set(out.value),
		WithCall:  len(out.payload) > 0,
		Data:      out.payload,
	}
	registering := false
	if out.entry.Native {
		if err := m.requireBacked(s, tokenAddr, out.value); err != nil {
			return common.Hash{}, err
		}
		if err := s.registry.AddCustody(tokenAddr, out.value); err != nil {
			return common.Hash{}, err
		}
		call.Token = tokenAddr
		if out.entry.RegistrationMessageID == (common.Hash{}) {
			meta, err := s.ledger.Metadata(tokenAddr)
			if err != nil {
				return common.Hash{}, err
			}
			call.Kind = CallDeployAndHandle
			call.Name, call.Symbol = registry.NameOrSymbolFallback(meta.Name, meta.Symbol)
			call.Decimals = meta.Decimals
			registering = true
		} else {
			call.Kind = CallHandleBridged
		}
	} else {
		if err := s.ledger.Burn(tokenAddr, m.address, m.address, out.value); err != nil {
			return common.Hash{}, err
		}
		call.Kind = CallHandleNative
		call.Token = out.entry.Remote
	}
	data, err := Encode(call)
	if err != nil {
		return common.Hash{}, err
	}
	id, err := m.passMessage(s, data, call.Token, out.dataType)
	if err != nil {
		return common.Hash{}, err
	}
	if registering {
		if err := s.registry.SetRegistrationMessage(tokenAddr, id); err != nil {
			return common.Hash{}, err
		}
	}
	return id, nil
}

// requireBacked refuses to lock value unless the mediator holds it on top of
// what is already in custody.
func (m *Mediator) requireBacked(s *session, tokenAddr common.Address, value *big.Int) error {
	custody, err := s.registry.Custody(tokenAddr)
	if err != nil {
		return err
	}
	balance, err := s.ledger.BalanceOf(tokenAddr, m.address)
	if err != nil {
		return err
	}
	if need := new(big.Int).Add(custody, value); balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: mediator holds %s of %s, custody would be %s", ErrInvalidAmount, balance, tokenAddr.Hex(), need)
	}
	return nil
}

// recordOperation remembers who gets value back should message id fail.
func (m *Mediator) recordOperation(s *session, id common.Hash, tokenAddr, refundTo common.Address, value *big.Int) error {
	record := &MessageRecord{Token: tokenAddr, Recipient: refundTo, Value: new(big.Int).Set(value)}
	if err := s.tx.KVPut(messageKey(id), record); err != nil {
		return err
	}
	s.emit(events.TokensBridgingInitiated{Token: tokenAddr, Sender: refundTo, Value: record.Value, MessageID: id})
	s.tx.OnCommit(func() {
		m.logger.Info("tokens bridging initiated",
			"message_id", id.Hex(),
			"token", tokenAddr.Hex(),
			"sender", refundTo.Hex(),
			"value", record.Value.String())
	})
	return nil
}

// distribute pays fee shares out of the mediator balance or, for inbound
// bridged tokens, mints them.
func (m *Mediator) distribute(s *session, tokenAddr common.Address, shares []fees.Share, mint bool) error {
	for _, share := range shares {
		var err error
		if mint {
			err = s.ledger.Mint(tokenAddr, m.address, share.Receiver, share.Amount)
		} else {
			err = s.ledger.Transfer(tokenAddr, m.address, share.Receiver, share.Amount)
		}
		if err != nil {
			return fmt.Errorf("mediator: pay fee share to %s: %w", share.Receiver.Hex(), err)
		}
	}
	return nil
}

func (m *Mediator) feeDistributed(s *session, tokenAddr common.Address, fee *big.Int, id common.Hash) {
	if fee == nil || fee.Sign() == 0 {
		return
	}
	s.emit(events.FeeDistributed{Fee: new(big.Int).Set(fee), Token: tokenAddr, MessageID: id})
	amount := new(big.Int).Set(fee)
	s.tx.OnCommit(func() { m.metrics.RecordFee(m.side.String(), tokenAddr.Hex(), amount) })
}

// bridgeTokens sends amount of a token the mediator already holds to
// recipient on the other side on behalf of sender.
func (m *Mediator) bridgeTokens(s *session, tokenAddr, sender, recipient common.Address, amount *big.Int, payload []byte) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	if err := s.checkRecipient(recipient); err != nil {
		return common.Hash{}, err
	}
	entry, err := m.ensureRegistered(s, tokenAddr)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.limits.CheckAndConsume(tokenAddr, amount, limits.Outbound); err != nil {
		return common.Hash{}, err
	}
	value := new(big.Int).Set(amount)
	fee := new(big.Int)
	if m.side == Home {
		result, err := s.fees.Apply(fees.HomeToForeign, tokenAddr, sender, amount)
		if err != nil {
			return common.Hash{}, err
		}
		if err := m.distribute(s, tokenAddr, result.Shares, false); err != nil {
			return common.Hash{}, err
		}
		value, fee = result.Net, result.Fee
	}
	dataType, err := m.dataType(s, tokenAddr, sender, recipient)
	if err != nil {
		return common.Hash{}, err
	}
	id, err := m.dispatch(s, outbound{
		entry:     entry,
		recipient: recipient,
		value:     value,
		payload:   payload,
		dataType:  dataType,
	})
	if err != nil {
		return common.Hash{}, err
	}
	m.feeDistributed(s, tokenAddr, fee, id)
	if err := m.recordOperation(s, id, tokenAddr, sender, value); err != nil {
		return common.Hash{}, err
	}
	return id, nil
}
