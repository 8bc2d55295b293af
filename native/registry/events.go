package registry

import (
	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/types"
)

const EventTypeNewTokenRegistered = "registry.new_token_registered"

// NewTokenRegisteredEvent reports that a bridged representation of a native
// token was deployed.
func NewTokenRegisteredEvent(native, bridged common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeNewTokenRegistered,
		Attributes: map[string]string{
			"nativeToken":  native.Hex(),
			"bridgedToken": bridged.Hex(),
		},
	}
}
