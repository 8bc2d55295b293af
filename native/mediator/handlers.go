package mediator

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/amb"
	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/native/fees"
	"omnibridge/native/limits"
	"omnibridge/native/token"
)

// factoryDeployer deploys bridged token images minted by the mediator.
type factoryDeployer struct {
	tx      *chain.Tx
	factory *token.Factory
	minter  common.Address
}

func (d factoryDeployer) DeployToken(name, symbol string, decimals uint8) (common.Address, error) {
	return d.factory.Deploy(d.tx, name, symbol, decimals, d.minter)
}

// HandleMessage executes a call sent by the counterpart mediator. Any error
// reverts every effect of the call; the transport then records the message as
// failed.
func (m *Mediator) HandleMessage(tx *chain.Tx, d amb.Delivery) (err error) {
	operation := "handle_message"
	start := time.Now()
	defer func() { m.observe(operation, start, &err) }()
	s, err := m.open(tx)
	if err != nil {
		return err
	}
	if d.Sender != s.cfg.Counterpart {
		return fmt.Errorf("%w: message sender %s is not the counterpart mediator", ErrUnauthorized, d.Sender.Hex())
	}
	call, err := Decode(d.Data)
	if err != nil {
		return err
	}
	operation = call.Kind.String()
	switch call.Kind {
	case CallDeployAndHandle:
		return m.deployAndHandle(s, d.MessageID, call)
	case CallHandleBridged:
		return m.handleBridged(s, d.MessageID, call)
	case CallHandleNative:
		return m.handleNative(s, d.MessageID, call)
	case CallFixFailed:
		return m.fixFailedMessage(s, call.MessageID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCall, call.Kind)
	}
}

func (m *Mediator) deployAndHandle(s *session, id common.Hash, call Call) error {
	deployer := factoryDeployer{tx: s.tx, factory: s.factory, minter: m.address}
	entry, created, err := s.registry.DeployBridged(call.Token, call.Name, call.Symbol, call.Decimals, id, deployer)
	if err != nil {
		return err
	}
	if err := m.ensureLimits(s, entry); err != nil {
		return err
	}
	if created {
		bridged := entry.Local
		native := call.Token
		s.tx.OnCommit(func() {
			m.logger.Info("bridged token deployed",
				"message_id", id.Hex(),
				"native_token", native.Hex(),
				"token", bridged.Hex())
		})
	}
	return m.handleTokens(s, id, entry.Local, false, call)
}

func (m *Mediator) handleBridged(s *session, id common.Hash, call Call) error {
	bridged, ok, err := s.registry.BridgedOf(call.Token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no representation of %s", ErrUnknownToken, call.Token.Hex())
	}
	if err := s.requireLimits(bridged); err != nil {
		return err
	}
	return m.handleTokens(s, id, bridged, false, call)
}

func (m *Mediator) handleNative(s *session, id common.Hash, call Call) error {
	entry, ok, err := s.registry.Entry(call.Token)
	if err != nil {
		return err
	}
	if !ok || !entry.Native {
		return fmt.Errorf("%w: %s is not a native token", ErrUnknownToken, call.Token.Hex())
	}
	if err := s.requireLimits(call.Token); err != nil {
		return err
	}
	return m.handleTokens(s, id, call.Token, true, call)
}

func (s *session) requireLimits(tokenAddr common.Address) error {
	registered, err := s.limits.IsRegistered(tokenAddr)
	if err != nil {
		return err
	}
	if !registered {
		return fmt.Errorf("%w: %s has no limits", ErrUnknownToken, tokenAddr.Hex())
	}
	return nil
}

// handleTokens releases an incoming transfer: unlocks custody for native
// tokens, mints bridged ones.
func (m *Mediator) handleTokens(s *session, id common.Hash, tokenAddr common.Address, native bool, call Call) error {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	if err := s.limits.CheckAndConsume(tokenAddr, value, limits.Inbound); err != nil {
		return err
	}
	net := new(big.Int).Set(value)
	if m.side == Home {
		result, err := s.fees.Apply(fees.ForeignToHome, tokenAddr, common.Address{}, value)
		if err != nil {
			return err
		}
		if err := m.distribute(s, tokenAddr, result.Shares, !native); err != nil {
			return err
		}
		net = result.Net
		m.feeDistributed(s, tokenAddr, result.Fee, id)
	}
	if native {
		if err := s.registry.SubCustody(tokenAddr, value); err != nil {
			return err
		}
		if err := s.ledger.Transfer(tokenAddr, m.address, call.Recipient, net); err != nil {
			return err
		}
	} else if err := s.ledger.Mint(tokenAddr, m.address, call.Recipient, net); err != nil {
		return err
	}
	if call.WithCall {
		m.notifyRecipient(s, tokenAddr, call.Recipient, net, call.Data)
	}
	s.emit(events.TokensBridged{Token: tokenAddr, Recipient: call.Recipient, Value: new(big.Int).Set(net), MessageID: id})
	recipient := call.Recipient
	s.tx.OnCommit(func() {
		m.logger.Info("tokens bridged",
			"message_id", id.Hex(),
			"token", tokenAddr.Hex(),
			"recipient", recipient.Hex(),
			"value", net.String())
	})
	return nil
}

// notifyRecipient hands data to a recipient contract. A failing callback is
// rolled back on its own and does not affect the transfer.
func (m *Mediator) notifyRecipient(s *session, tokenAddr, recipient common.Address, amount *big.Int, data []byte) {
	if !s.tx.Chain().IsContract(recipient) {
		return
	}
	err := s.tx.Try(func() error {
		return s.ledger.Notify(tokenAddr, m.address, recipient, amount, data)
	})
	if err != nil {
		m.logger.Warn("recipient callback failed",
			"token", tokenAddr.Hex(),
			"recipient", recipient.Hex(),
			"error", err)
	}
}
