package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"omnibridge/core/chain"
	"omnibridge/native/fees"
	"omnibridge/native/gaslimit"
	"omnibridge/native/limits"
	"omnibridge/native/mediator"
)

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseSelector(raw string) (gaslimit.Selector, error) {
	var sel gaslimit.Selector
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != len(sel) {
		return sel, fmt.Errorf("%w: selector must be 4 hex bytes", errBadRequest)
	}
	copy(sel[:], decoded)
	return sel, nil
}

func parseScope(raw string) (limits.Scope, error) {
	addr, ok, err := parseOptionalAddress("token", raw)
	if err != nil {
		return limits.Scope{}, err
	}
	if !ok {
		return limits.Global(), nil
	}
	return limits.Token(addr), nil
}

// adminCall runs fn as one transaction on the chain of the side in the URL,
// on behalf of the authenticated caller.
func (s *Server) adminCall(w http.ResponseWriter, r *http.Request, operation string, fn func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error)) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing caller"))
		return
	}
	var result interface{}
	receipt, err := m.Chain().Execute(func(tx *chain.Tx) error {
		var err error
		result, err = fn(m, tx, caller)
		return err
	})
	if err != nil {
		s.logger.Warn("admin call rejected", "operation", operation, "side", m.Side().String(), "caller", caller.Hex(), "error", err)
		writeEngineError(w, err)
		return
	}
	s.logger.Info("admin call applied", "operation", operation, "side", m.Side().String(), "caller", caller.Hex())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"receipt": receipt,
	})
}

type setLimitRequest struct {
	Token string `json:"token"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (s *Server) setLimit(w http.ResponseWriter, r *http.Request) {
	var req setLimitRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	scope, err := parseScope(req.Token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	kind, err := limits.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "set_limit", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		return nil, m.SetLimit(tx, caller, scope, kind, value)
	})
}

type setFeeRequest struct {
	Direction string `json:"direction"`
	Token     string `json:"token"`
	Value     string `json:"value"`
}

func (s *Server) setFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	dir, err := fees.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scope, err := parseScope(req.Token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	pct, err := parseAmount("value", req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "set_fee", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		return nil, m.SetFee(tx, caller, dir, scope, pct)
	})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) addRewardAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "add_reward_address", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		return nil, m.AddRewardAddress(tx, caller, addr)
	})
}

func (s *Server) removeRewardAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "remove_reward_address", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		return nil, m.RemoveRewardAddress(tx, caller, addr)
	})
}

type setGasRequest struct {
	Selector string `json:"selector"`
	Token    string `json:"token"`
	Gas      uint64 `json:"gas"`
}

func (s *Server) setGasLimit(w http.ResponseWriter, r *http.Request) {
	var req setGasRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	tokenAddr, hasToken, err := parseOptionalAddress("token", req.Token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if req.Selector == "" {
		if hasToken {
			writeEngineError(w, fmt.Errorf("%w: token overrides need a selector", errBadRequest))
			return
		}
		s.adminCall(w, r, "set_request_gas_limit", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
			return nil, m.SetRequestGasLimit(tx, caller, req.Gas)
		})
		return
	}
	sel, err := parseSelector(req.Selector)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "set_request_gas_limit", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		if hasToken {
			return nil, m.SetRequestGasLimitForToken(tx, caller, sel, tokenAddr, req.Gas)
		}
		return nil, m.SetRequestGasLimitForSelector(tx, caller, sel, req.Gas)
	})
}

// Forwarding rule kinds accepted by PUT /forwarding.
const (
	ruleToken             = "token"
	ruleTokenSenderExcept = "token_sender_exception"
	ruleTokenReceiverExc  = "token_receiver_exception"
	ruleSender            = "sender"
	ruleReceiver          = "receiver"
)

type forwardingRequest struct {
	Rule    string `json:"rule"`
	Token   string `json:"token"`
	Account string `json:"account"`
	Enable  bool   `json:"enable"`
}

func (s *Server) setForwardingRule(w http.ResponseWriter, r *http.Request) {
	var req forwardingRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	var (
		tokenAddr, account common.Address
		err                error
	)
	switch req.Rule {
	case ruleToken, ruleTokenSenderExcept, ruleTokenReceiverExc:
		if tokenAddr, err = parseAddress("token", req.Token); err != nil {
			writeEngineError(w, err)
			return
		}
	case ruleSender, ruleReceiver:
	default:
		writeEngineError(w, fmt.Errorf("%w: unknown forwarding rule %q", errBadRequest, req.Rule))
		return
	}
	if req.Rule != ruleToken {
		if account, err = parseAddress("account", req.Account); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	s.adminCall(w, r, "set_forwarding_rule", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		switch req.Rule {
		case ruleToken:
			return nil, m.SetTokenForwardingRule(tx, caller, tokenAddr, req.Enable)
		case ruleTokenSenderExcept:
			return nil, m.SetSenderExceptionForTokenForwardingRule(tx, caller, tokenAddr, account, req.Enable)
		case ruleTokenReceiverExc:
			return nil, m.SetReceiverExceptionForTokenForwardingRule(tx, caller, tokenAddr, account, req.Enable)
		case ruleSender:
			return nil, m.SetSenderForwardingRule(tx, caller, account, req.Enable)
		default:
			return nil, m.SetReceiverForwardingRule(tx, caller, account, req.Enable)
		}
	})
}

type tokenRecipientRequest struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
}

func (r tokenRecipientRequest) parse() (common.Address, common.Address, error) {
	tokenAddr, err := parseAddress("token", r.Token)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	recipient, err := parseAddress("recipient", r.Recipient)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return tokenAddr, recipient, nil
}

func (s *Server) claimTokens(w http.ResponseWriter, r *http.Request) {
	var req tokenRecipientRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	tokenAddr, recipient, err := req.parse()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "claim_tokens", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		claimed, err := m.ClaimTokens(tx, caller, tokenAddr, recipient)
		if err != nil {
			return nil, err
		}
		return map[string]string{"claimed": amountString(claimed)}, nil
	})
}

func (s *Server) fixMediatorBalance(w http.ResponseWriter, r *http.Request) {
	var req tokenRecipientRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	tokenAddr, recipient, err := req.parse()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "fix_mediator_balance", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		id, err := m.FixMediatorBalance(tx, caller, tokenAddr, recipient)
		if err != nil {
			return nil, err
		}
		return map[string]string{"messageId": id.Hex()}, nil
	})
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.adminCall(w, r, "transfer_ownership", func(m *mediator.Mediator, tx *chain.Tx, caller common.Address) (interface{}, error) {
		return nil, m.TransferOwnership(tx, caller, owner)
	})
}

type fixRequest struct {
	MessageID string `json:"messageId"`
}

// requestFix asks the side that failed to execute a message to have the
// origin refund it. Anyone may trigger it.
func (s *Server) requestFix(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req fixRequest
	if err := decodeBody(r, &req); err != nil {
		writeEngineError(w, err)
		return
	}
	failed, err := parseHash("messageId", req.MessageID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var id common.Hash
	_, err = m.Chain().Execute(func(tx *chain.Tx) error {
		var err error
		id, err = m.RequestFailedMessageFix(tx, failed)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"failedMessageId": failed.Hex(),
		"messageId":       id.Hex(),
	})
}

type relayResponse struct {
	MessageID string `json:"messageId"`
	Status    bool   `json:"status"`
	Error     string `json:"error,omitempty"`
}

// relayMessage delivers one pending message, typically from the manual lane.
func (s *Server) relayMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash("id", chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	result, err := s.relayer.Deliver(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := relayResponse{MessageID: id.Hex(), Status: result.Status}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pauseRelayer(w http.ResponseWriter, r *http.Request) {
	s.relayer.Pause()
	s.logger.Info("relayer paused")
	writeJSON(w, http.StatusOK, s.relayer.Status())
}

func (s *Server) resumeRelayer(w http.ResponseWriter, r *http.Request) {
	s.relayer.Resume()
	s.logger.Info("relayer resumed")
	writeJSON(w, http.StatusOK, s.relayer.Status())
}
