package fees

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/types"
	"omnibridge/native/limits"
)

const (
	EventTypeFeeUpdated           = "fees.updated"
	EventTypeRewardAddressAdded   = "fees.reward_address_added"
	EventTypeRewardAddressRemoved = "fees.reward_address_removed"
)

// NewFeeUpdatedEvent reports a new fee percentage.
func NewFeeUpdatedEvent(dir Direction, scope limits.Scope, pct *big.Int) *types.Event {
	attrs := map[string]string{
		"direction": dir.String(),
		"fee":       new(big.Int).Set(pct).String(),
		"scope":     "global",
	}
	if !scope.IsGlobal() {
		attrs["scope"] = "token"
		attrs["token"] = scope.Address().Hex()
	}
	return &types.Event{Type: EventTypeFeeUpdated, Attributes: attrs}
}

func NewRewardAddressAddedEvent(addr common.Address) *types.Event {
	return &types.Event{Type: EventTypeRewardAddressAdded, Attributes: map[string]string{"address": addr.Hex()}}
}

func NewRewardAddressRemovedEvent(addr common.Address) *types.Event {
	return &types.Event{Type: EventTypeRewardAddressRemoved, Attributes: map[string]string{"address": addr.Hex()}}
}
