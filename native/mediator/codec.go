package mediator

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"omnibridge/native/gaslimit"
)

const mediatorABI = `[
{"type":"function","name":"deployAndHandleBridgedTokens","inputs":[{"name":"token","type":"address"},{"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"decimals","type":"uint8"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
{"type":"function","name":"deployAndHandleBridgedTokensAndCall","inputs":[{"name":"token","type":"address"},{"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"decimals","type":"uint8"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
{"type":"function","name":"handleBridgedTokens","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
{"type":"function","name":"handleBridgedTokensAndCall","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
{"type":"function","name":"handleNativeTokens","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]},
{"type":"function","name":"handleNativeTokensAndCall","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
{"type":"function","name":"fixFailedMessage","inputs":[{"name":"messageId","type":"bytes32"}],"outputs":[]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(mediatorABI))
	if err != nil {
		panic(fmt.Sprintf("mediator: parse abi: %v", err))
	}
	return parsed
}

// CallKind enumerates the mediator-to-mediator calls.
type CallKind uint8

const (
	CallDeployAndHandle CallKind = iota + 1
	CallHandleBridged
	CallHandleNative
	CallFixFailed
)

func (k CallKind) String() string {
	switch k {
	case CallDeployAndHandle:
		return "deploy_and_handle"
	case CallHandleBridged:
		return "handle_bridged"
	case CallHandleNative:
		return "handle_native"
	case CallFixFailed:
		return "fix_failed"
	default:
		return fmt.Sprintf("call(%d)", uint8(k))
	}
}

func methodName(kind CallKind, withCall bool) (string, error) {
	var name string
	switch kind {
	case CallDeployAndHandle:
		name = "deployAndHandleBridgedTokens"
	case CallHandleBridged:
		name = "handleBridgedTokens"
	case CallHandleNative:
		name = "handleNativeTokens"
	case CallFixFailed:
		if withCall {
			return "", fmt.Errorf("%w: %s has no call variant", ErrUnknownCall, kind)
		}
		return "fixFailedMessage", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, kind)
	}
	if withCall {
		name += "AndCall"
	}
	return name, nil
}

// Selector returns the method id of a call.
func Selector(kind CallKind, withCall bool) (gaslimit.Selector, error) {
	name, err := methodName(kind, withCall)
	if err != nil {
		return gaslimit.Selector{}, err
	}
	var sel gaslimit.Selector
	copy(sel[:], parsedABI.Methods[name].ID)
	return sel, nil
}

// Call is a decoded mediator payload. Token is the first address argument:
// the origin-side native token for deploy and handle-bridged calls, the
// destination-side native token for handle-native calls.
type Call struct {
	Kind      CallKind
	Token     common.Address
	Name      string
	Symbol    string
	Decimals  uint8
	Recipient common.Address
	Value     *big.Int
	// WithCall selects the AndCall variant; Data is passed to the recipient.
	WithCall  bool
	Data      []byte
	MessageID common.Hash
}

// Encode packs the call into ABI calldata.
func Encode(c Call) ([]byte, error) {
	name, err := methodName(c.Kind, c.WithCall)
	if err != nil {
		return nil, err
	}
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	data := c.Data
	if data == nil {
		data = []byte{}
	}
	var args []interface{}
	switch c.Kind {
	case CallDeployAndHandle:
		args = []interface{}{c.Token, c.Name, c.Symbol, c.Decimals, c.Recipient, value}
	case CallHandleBridged, CallHandleNative:
		args = []interface{}{c.Token, c.Recipient, value}
	case CallFixFailed:
		args = []interface{}{[32]byte(c.MessageID)}
	}
	if c.WithCall {
		args = append(args, data)
	}
	return parsedABI.Pack(name, args...)
}

// Decode parses calldata produced by Encode.
func Decode(payload []byte) (Call, error) {
	if len(payload) < 4 {
		return Call{}, fmt.Errorf("%w: payload too short", ErrUnknownCall)
	}
	method, err := parsedABI.MethodById(payload[:4])
	if err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrUnknownCall, err)
	}
	values, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return Call{}, fmt.Errorf("%w: %s: %v", ErrUnknownCall, method.Name, err)
	}
	call := Call{WithCall: strings.HasSuffix(method.Name, "AndCall")}
	var ok bool
	switch strings.TrimSuffix(method.Name, "AndCall") {
	case "deployAndHandleBridgedTokens":
		call.Kind = CallDeployAndHandle
		call.Token, ok = values[0].(common.Address)
		if ok {
			call.Name, ok = values[1].(string)
		}
		if ok {
			call.Symbol, ok = values[2].(string)
		}
		if ok {
			call.Decimals, ok = values[3].(uint8)
		}
		if ok {
			call.Recipient, ok = values[4].(common.Address)
		}
		if ok {
			call.Value, ok = values[5].(*big.Int)
		}
		if ok && call.WithCall {
			call.Data, ok = values[6].([]byte)
		}
	case "handleBridgedTokens", "handleNativeTokens":
		call.Kind = CallHandleBridged
		if strings.HasPrefix(method.Name, "handleNative") {
			call.Kind = CallHandleNative
		}
		call.Token, ok = values[0].(common.Address)
		if ok {
			call.Recipient, ok = values[1].(common.Address)
		}
		if ok {
			call.Value, ok = values[2].(*big.Int)
		}
		if ok && call.WithCall {
			call.Data, ok = values[3].([]byte)
		}
	case "fixFailedMessage":
		call.Kind = CallFixFailed
		var id [32]byte
		id, ok = values[0].([32]byte)
		call.MessageID = common.Hash(id)
	default:
		return Call{}, fmt.Errorf("%w: %s", ErrUnknownCall, method.Name)
	}
	if !ok {
		return Call{}, fmt.Errorf("%w: malformed %s arguments", ErrUnknownCall, method.Name)
	}
	return call, nil
}
