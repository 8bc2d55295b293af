package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"omnibridge/amb"
	"omnibridge/native/fees"
	"omnibridge/native/gaslimit"
	"omnibridge/native/limits"
	"omnibridge/native/mediator"
	"omnibridge/native/registry"
	"omnibridge/native/token"
	"omnibridge/services/mediatord/index"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, mediator.ErrInvalidConfiguration),
		errors.Is(err, mediator.ErrInvalidRecipient),
		errors.Is(err, mediator.ErrInvalidAmount),
		errors.Is(err, limits.ErrInvalidLimit),
		errors.Is(err, fees.ErrInvalidFee),
		errors.Is(err, fees.ErrInvalidRewardAddress),
		errors.Is(err, fees.ErrTooManyRewards),
		errors.Is(err, gaslimit.ErrGasLimitTooHigh),
		errors.Is(err, token.ErrInvalidAddress),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, mediator.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, mediator.ErrUnknownToken),
		errors.Is(err, limits.ErrUnknownToken),
		errors.Is(err, mediator.ErrUnknownMessage),
		errors.Is(err, amb.ErrUnknownMessage),
		errors.Is(err, fees.ErrUnknownReward),
		errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mediator.ErrAlreadyFixed),
		errors.Is(err, mediator.ErrNotFailed),
		errors.Is(err, mediator.ErrForbidden),
		errors.Is(err, mediator.ErrNothingToFix),
		errors.Is(err, registry.ErrReplayRejected),
		errors.Is(err, fees.ErrDuplicateReward),
		errors.Is(err, amb.ErrAlreadyProcessed),
		errors.Is(err, amb.ErrRelayerPaused):
		return http.StatusConflict
	case errors.Is(err, limits.ErrLimitExceeded),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mediator.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}
