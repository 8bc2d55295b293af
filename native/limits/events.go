package limits

import (
	"math/big"

	"omnibridge/core/types"
)

const (
	EventTypeDailyLimitChanged          = "limits.daily_limit_changed"
	EventTypeExecutionDailyLimitChanged = "limits.execution_daily_limit_changed"
)

// NewDailyLimitChangedEvent reports a new outbound daily cap.
func NewDailyLimitChangedEvent(scope Scope, limit *big.Int) *types.Event {
	return newLimitEvent(EventTypeDailyLimitChanged, scope, limit)
}

// NewExecutionDailyLimitChangedEvent reports a new inbound daily cap.
func NewExecutionDailyLimitChangedEvent(scope Scope, limit *big.Int) *types.Event {
	return newLimitEvent(EventTypeExecutionDailyLimitChanged, scope, limit)
}

func newLimitEvent(eventType string, scope Scope, limit *big.Int) *types.Event {
	attrs := map[string]string{
		"limit": cloneBigInt(limit).String(),
	}
	if scope.IsGlobal() {
		attrs["scope"] = "global"
	} else {
		attrs["scope"] = "token"
		attrs["token"] = scope.Address().Hex()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
