package mediator

import (
	"errors"

	"omnibridge/native/limits"
	"omnibridge/native/registry"
)

var (
	ErrInvalidConfiguration = errors.New("mediator: invalid configuration")
	ErrAlreadyInitialized   = errors.New("mediator: already initialized")
	ErrNotInitialized       = errors.New("mediator: not initialized")
	ErrUnauthorized         = errors.New("mediator: unauthorized")
	ErrAlreadyFixed         = errors.New("mediator: message already fixed")
	ErrNotFailed            = errors.New("mediator: message did not fail")
	ErrUnknownMessage       = errors.New("mediator: unknown message")
	ErrForbidden            = errors.New("mediator: operation forbidden for token")
	ErrInvalidRecipient     = errors.New("mediator: invalid recipient")
	ErrInvalidAmount        = errors.New("mediator: invalid amount")
	ErrUnknownCall          = errors.New("mediator: unknown call")
	ErrNothingToFix         = errors.New("mediator: mediator balance matches custody")

	// Errors raised by the engines keep their identity.
	ErrLimitExceeded  = limits.ErrLimitExceeded
	ErrUnknownToken   = registry.ErrUnknownToken
	ErrReplayRejected = registry.ErrReplayRejected
)
