package amb

import (
	"encoding/hex"
	"strconv"

	"omnibridge/core/types"
)

const (
	EventTypeUserRequest    = "amb.user_request_for_affirmation"
	EventTypeRelayedMessage = "amb.relayed_message"
)

const (
	attrMessageID          = "messageId"
	attrSender             = "sender"
	attrExecutor           = "executor"
	attrStatus             = "status"
	attrDestinationChainID = "destinationChainId"
	attrSourceChainID      = "sourceChainId"
	attrDataType           = "dataType"
	attrGas                = "gas"
	attrData               = "data"
	attrError              = "error"
)

type ambEvent struct {
	evt *types.Event
}

func (e ambEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ambEvent) Event() *types.Event { return e.evt }

// NewUserRequestEvent reports a message accepted for relaying.
func NewUserRequestEvent(msg *Message) *types.Event {
	return &types.Event{
		Type: EventTypeUserRequest,
		Attributes: map[string]string{
			attrMessageID:          msg.ID.Hex(),
			attrSender:             msg.Sender.Hex(),
			attrExecutor:           msg.Executor.Hex(),
			attrDestinationChainID: strconv.FormatUint(msg.DestinationChainID, 10),
			attrDataType:           strconv.FormatUint(uint64(msg.DataType), 10),
			attrGas:                strconv.FormatUint(msg.Gas, 10),
			attrData:               "0x" + hex.EncodeToString(msg.Data),
		},
	}
}

// NewRelayedMessageEvent reports the execution of an incoming message.
func NewRelayedMessageEvent(msg *Message, status bool, execErr string) *types.Event {
	attrs := map[string]string{
		attrMessageID:     msg.ID.Hex(),
		attrSender:        msg.Sender.Hex(),
		attrExecutor:      msg.Executor.Hex(),
		attrSourceChainID: strconv.FormatUint(msg.SourceChainID, 10),
		attrStatus:        strconv.FormatBool(status),
	}
	if execErr != "" {
		attrs[attrError] = execErr
	}
	return &types.Event{Type: EventTypeRelayedMessage, Attributes: attrs}
}
