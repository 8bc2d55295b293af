package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/types"
)

const (
	// TypeTokensBridgingInitiated marks tokens accepted for bridging on the
	// origin chain.
	TypeTokensBridgingInitiated = "bridge.tokens_bridging_initiated"
	// TypeTokensBridged marks tokens released to a recipient on the
	// destination chain.
	TypeTokensBridged = "bridge.tokens_bridged"
	// TypeFeeDistributed marks a fee split across the reward addresses.
	TypeFeeDistributed = "bridge.fee_distributed"
	// TypeFailedMessageFixed marks the refund of a message that failed on
	// the destination chain.
	TypeFailedMessageFixed = "bridge.failed_message_fixed"
	// TypeOwnershipTransferred marks a change of the mediator owner.
	TypeOwnershipTransferred = "bridge.ownership_transferred"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// TokensBridgingInitiated is emitted when a relay call locked or burned tokens
// and handed the message to the transport.
type TokensBridgingInitiated struct {
	Token     common.Address
	Sender    common.Address
	Value     *big.Int
	MessageID common.Hash
}

func (TokensBridgingInitiated) EventType() string { return TypeTokensBridgingInitiated }

func (e TokensBridgingInitiated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensBridgingInitiated,
		Attributes: map[string]string{
			"token":     e.Token.Hex(),
			"sender":    e.Sender.Hex(),
			"value":     amountString(e.Value),
			"messageId": e.MessageID.Hex(),
		},
	}
}

// TokensBridged is emitted when a bridge message minted or unlocked tokens.
type TokensBridged struct {
	Token     common.Address
	Recipient common.Address
	Value     *big.Int
	MessageID common.Hash
}

func (TokensBridged) EventType() string { return TypeTokensBridged }

func (e TokensBridged) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensBridged,
		Attributes: map[string]string{
			"token":     e.Token.Hex(),
			"recipient": e.Recipient.Hex(),
			"value":     amountString(e.Value),
			"messageId": e.MessageID.Hex(),
		},
	}
}

// FeeDistributed records the fee taken from one transfer. MessageID is the
// outgoing message for home-to-foreign fees and the incoming one otherwise.
type FeeDistributed struct {
	Fee       *big.Int
	Token     common.Address
	MessageID common.Hash
}

func (FeeDistributed) EventType() string { return TypeFeeDistributed }

func (e FeeDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeDistributed,
		Attributes: map[string]string{
			"fee":       amountString(e.Fee),
			"token":     e.Token.Hex(),
			"messageId": e.MessageID.Hex(),
		},
	}
}

// FailedMessageFixed is emitted once per refunded message.
type FailedMessageFixed struct {
	MessageID common.Hash
	Token     common.Address
	Recipient common.Address
	Value     *big.Int
}

func (FailedMessageFixed) EventType() string { return TypeFailedMessageFixed }

func (e FailedMessageFixed) Event() *types.Event {
	return &types.Event{
		Type: TypeFailedMessageFixed,
		Attributes: map[string]string{
			"messageId": e.MessageID.Hex(),
			"token":     e.Token.Hex(),
			"recipient": e.Recipient.Hex(),
			"value":     amountString(e.Value),
		},
	}
}

type OwnershipTransferred struct {
	Previous common.Address
	Owner    common.Address
	Side     string
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	attrs := map[string]string{
		"previousOwner": e.Previous.Hex(),
		"newOwner":      e.Owner.Hex(),
	}
	if side := strings.TrimSpace(e.Side); side != "" {
		attrs["side"] = side
	}
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: attrs}
}
