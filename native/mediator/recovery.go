package mediator

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/core/events"
)

// RequestFailedMessageFix asks the origin chain to refund messageID, a
// message from the counterpart whose execution failed on this chain. Anyone
// may call it; repeated requests are harmless because the refund happens at
// most once.
func (m *Mediator) RequestFailedMessageFix(tx *chain.Tx, messageID common.Hash) (id common.Hash, err error) {
	defer m.observe("request_failed_message_fix", time.Now(), &err)
	s, err := m.open(tx)
	if err != nil {
		return common.Hash{}, err
	}
	status, err := m.transport.MessageCallStatus(tx, messageID)
	if err != nil {
		return common.Hash{}, err
	}
	if status {
		return common.Hash{}, fmt.Errorf("%w: %s executed successfully", ErrNotFailed, messageID.Hex())
	}
	receiver, err := m.transport.FailedMessageReceiver(tx, messageID)
	if err != nil {
		return common.Hash{}, err
	}
	if receiver == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: %s has no failed execution", ErrNotFailed, messageID.Hex())
	}
	if receiver != m.address {
		return common.Hash{}, fmt.Errorf("%w: %s was addressed to %s", ErrUnauthorized, messageID.Hex(), receiver.Hex())
	}
	sender, err := m.transport.FailedMessageSender(tx, messageID)
	if err != nil {
		return common.Hash{}, err
	}
	if sender != s.cfg.Counterpart {
		return common.Hash{}, fmt.Errorf("%w: %s was sent by %s", ErrUnauthorized, messageID.Hex(), sender.Hex())
	}
	data, err := Encode(Call{Kind: CallFixFailed, MessageID: messageID})
	if err != nil {
		return common.Hash{}, err
	}
	id, err = m.passMessage(s, data, common.Address{}, 0)
	if err != nil {
		return common.Hash{}, err
	}
	tx.OnCommit(func() {
		m.logger.Info("failed message fix requested", "message_id", messageID.Hex(), "request_id", id.Hex())
	})
	return id, nil
}

// fixFailedMessage refunds an outgoing transfer the other side could not
// execute. Refunding the message that announced a token also forgets the
// announcement, so the next transfer deploys the representation again.
func (m *Mediator) fixFailedMessage(s *session, messageID common.Hash) error {
	fixed, err := s.messageFixed(messageID)
	if err != nil {
		return err
	}
	if fixed {
		return fmt.Errorf("%w: %s", ErrAlreadyFixed, messageID.Hex())
	}
	record, ok, err := s.messageRecord(messageID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID.Hex())
	}
	if err := s.tx.KVPut(fixedKey(messageID), true); err != nil {
		return err
	}
	entry, ok, err := s.registry.Entry(record.Token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, record.Token.Hex())
	}
	if entry.Native {
		if err := s.registry.SubCustody(record.Token, record.Value); err != nil {
			return err
		}
		if err := s.ledger.Transfer(record.Token, m.address, record.Recipient, record.Value); err != nil {
			return err
		}
		if entry.RegistrationMessageID == messageID {
			if err := s.registry.Unregister(record.Token, messageID); err != nil {
				return err
			}
			if err := s.limits.Unregister(record.Token); err != nil {
				return err
			}
		}
	} else if err := s.ledger.Mint(record.Token, m.address, record.Recipient, record.Value); err != nil {
		return err
	}
	s.emit(events.FailedMessageFixed{
		MessageID: messageID,
		Token:     record.Token,
		Recipient: record.Recipient,
		Value:     record.Value,
	})
	s.tx.OnCommit(func() {
		m.logger.Info("failed message fixed",
			"message_id", messageID.Hex(),
			"token", record.Token.Hex(),
			"recipient", record.Recipient.Hex(),
			"value", record.Value.String())
	})
	return nil
}
