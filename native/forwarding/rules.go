package forwarding

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/core/types"
)

// Lane selects how a message is relayed to the other side.
type Lane int8

const (
	// LaneManual messages wait for an explicit relay request.
	LaneManual Lane = -1
	// LaneDefault messages follow the transport's default routing.
	LaneDefault Lane = 0
	// LaneOracle messages are always relayed automatically.
	LaneOracle Lane = 1
)

// DataTypeManual marks a message that the automatic relayer must skip.
const DataTypeManual byte = 0x80

func (l Lane) String() string {
	switch l {
	case LaneManual:
		return "manual"
	case LaneDefault:
		return "default"
	case LaneOracle:
		return "oracle"
	default:
		return fmt.Sprintf("lane(%d)", int8(l))
	}
}

// DataType returns the transport data type for messages on the lane.
func (l Lane) DataType() byte {
	if l < 0 {
		return DataTypeManual
	}
	return 0
}

var errNilState = errors.New("forwarding: state not configured")

const EventTypeRuleUpdated = "forwarding.rule_updated"

// anyAddress stands for every address in a rule key.
var anyAddress = common.Address{}

func ruleKey(token, sender, receiver common.Address) []byte {
	return []byte("forwarding/rule/" + token.Hex() + "/" + sender.Hex() + "/" + receiver.Hex())
}

type ruleEvent struct {
	evt *types.Event
}

func (e ruleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ruleEvent) Event() *types.Event { return e.evt }

// Rules stores forwarding rules keyed by token, sender and receiver.
type Rules struct {
	state   state.KV
	emitter events.Emitter
}

// NewRules creates a rule set backed by kv.
func NewRules(kv state.KV) *Rules {
	return &Rules{state: kv, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (r *Rules) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Rules) set(token, sender, receiver common.Address, lane Lane) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	key := ruleKey(token, sender, receiver)
	var err error
	if lane == LaneDefault {
		err = r.state.KVDelete(key)
	} else {
		// rlp has no signed integers; the lane is stored offset by its sign.
		err = r.state.KVPut(key, encodeLane(lane))
	}
	if err != nil {
		return err
	}
	r.emitter.Emit(ruleEvent{evt: &types.Event{
		Type: EventTypeRuleUpdated,
		Attributes: map[string]string{
			"token":    token.Hex(),
			"sender":   sender.Hex(),
			"receiver": receiver.Hex(),
			"lane":     lane.String(),
		},
	}})
	return nil
}

func encodeLane(l Lane) uint64 {
	return uint64(int64(l) + 128)
}

func decodeLane(raw uint64) Lane {
	return Lane(int64(raw) - 128)
}

func (r *Rules) get(token, sender, receiver common.Address) (Lane, error) {
	if r == nil || r.state == nil {
		return LaneDefault, errNilState
	}
	var raw uint64
	ok, err := r.state.KVGet(ruleKey(token, sender, receiver), &raw)
	if err != nil || !ok {
		return LaneDefault, err
	}
	return decodeLane(raw), nil
}

func laneFor(enable bool, on Lane) Lane {
	if enable {
		return on
	}
	return LaneDefault
}

// SetTokenRule sends every message carrying token through the manual lane.
func (r *Rules) SetTokenRule(token common.Address, enable bool) error {
	return r.set(token, anyAddress, anyAddress, laneFor(enable, LaneManual))
}

// SetSenderExceptionForTokenRule lets sender bypass the manual lane of token.
func (r *Rules) SetSenderExceptionForTokenRule(token, sender common.Address, enable bool) error {
	return r.set(token, sender, anyAddress, laneFor(enable, LaneOracle))
}

// SetReceiverExceptionForTokenRule lets receiver bypass the manual lane of
// token.
func (r *Rules) SetReceiverExceptionForTokenRule(token, receiver common.Address, enable bool) error {
	return r.set(token, anyAddress, receiver, laneFor(enable, LaneOracle))
}

// SetSenderRule sends every message from sender through the manual lane.
func (r *Rules) SetSenderRule(sender common.Address, enable bool) error {
	return r.set(anyAddress, sender, anyAddress, laneFor(enable, LaneManual))
}

// SetReceiverRule sends every message to receiver through the manual lane.
func (r *Rules) SetReceiverRule(receiver common.Address, enable bool) error {
	return r.set(anyAddress, anyAddress, receiver, laneFor(enable, LaneManual))
}

// DestinationLane resolves the lane of a transfer. When the token is on the
// manual lane, token specific sender and receiver exceptions are consulted;
// otherwise sender and receiver rules spanning all tokens apply.
func (r *Rules) DestinationLane(token, sender, receiver common.Address) (Lane, error) {
	tokenLane, err := r.get(token, anyAddress, anyAddress)
	if err != nil {
		return LaneDefault, err
	}
	if tokenLane < 0 {
		lane, err := r.get(token, sender, anyAddress)
		if err != nil || lane != LaneDefault {
			return lane, err
		}
		lane, err = r.get(token, anyAddress, receiver)
		if err != nil || lane != LaneDefault {
			return lane, err
		}
		return tokenLane, nil
	}
	lane, err := r.get(anyAddress, sender, anyAddress)
	if err != nil || lane != LaneDefault {
		return lane, err
	}
	return r.get(anyAddress, anyAddress, receiver)
}
