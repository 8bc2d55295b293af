package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"omnibridge/amb"
	"omnibridge/native/fees"
	"omnibridge/native/limits"
	"omnibridge/native/mediator"
	"omnibridge/native/registry"
	"omnibridge/services/mediatord/index"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]bool{}
	for _, m := range []*mediator.Mediator{s.home, s.foreign} {
		ok, err := m.Initialized()
		status[m.Side().String()] = err == nil && ok
	}
	code := http.StatusOK
	if !status["home"] || !status["foreign"] {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type sideStatusResponse struct {
	Side        string `json:"side"`
	Chain       string `json:"chain"`
	ChainID     uint64 `json:"chainId"`
	Mediator    string `json:"mediator"`
	Owner       string `json:"owner"`
	Counterpart string `json:"counterpart"`
	CurrentDay  uint64 `json:"currentDay"`
	Tokens      int    `json:"tokens"`
}

func (s *Server) sideStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	owner, err := m.Owner()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	counterpart, err := m.Counterpart()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	day, err := m.CurrentDay()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tokens, err := m.Tokens()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sideStatusResponse{
		Side:        m.Side().String(),
		Chain:       m.Chain().Name(),
		ChainID:     m.Chain().ID(),
		Mediator:    m.Address().Hex(),
		Owner:       owner.Hex(),
		Counterpart: counterpart.Hex(),
		CurrentDay:  day,
		Tokens:      len(tokens),
	})
}

type limitsView struct {
	DailyLimit          string `json:"dailyLimit"`
	MaxPerTx            string `json:"maxPerTx"`
	MinPerTx            string `json:"minPerTx"`
	ExecutionDailyLimit string `json:"executionDailyLimit"`
	ExecutionMaxPerTx   string `json:"executionMaxPerTx"`
}

func newLimitsView(l limits.Limits) limitsView {
	return limitsView{
		DailyLimit:          amountString(l.DailyLimit),
		MaxPerTx:            amountString(l.MaxPerTx),
		MinPerTx:            amountString(l.MinPerTx),
		ExecutionDailyLimit: amountString(l.ExecutionDailyLimit),
		ExecutionMaxPerTx:   amountString(l.ExecutionMaxPerTx),
	}
}

type limitsResponse struct {
	Token                   string     `json:"token,omitempty"`
	Limits                  limitsView `json:"limits"`
	Day                     uint64     `json:"day"`
	SpentToday              string     `json:"spentToday,omitempty"`
	ExecutedToday           string     `json:"executedToday,omitempty"`
	MaxAvailablePerTx       string     `json:"maxAvailablePerTx,omitempty"`
	ExecutionAvailablePerTx string     `json:"executionAvailablePerTx,omitempty"`
}

func (s *Server) getLimits(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tokenAddr, hasToken, err := parseOptionalAddress("token", r.URL.Query().Get("token"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	day, err := m.CurrentDay()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !hasToken {
		caps, err := m.DefaultLimits()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, limitsResponse{Limits: newLimitsView(caps), Day: day})
		return
	}
	caps, err := m.Limits(tokenAddr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := limitsResponse{Token: tokenAddr.Hex(), Limits: newLimitsView(caps), Day: day}
	spent, err := m.TotalSpentPerDay(tokenAddr, day)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	executed, err := m.TotalExecutedPerDay(tokenAddr, day)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	available, err := m.MaxAvailablePerTx(tokenAddr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	execAvailable, err := m.ExecutionAvailablePerTx(tokenAddr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.SpentToday = amountString(spent)
	resp.ExecutedToday = amountString(executed)
	resp.MaxAvailablePerTx = amountString(available)
	resp.ExecutionAvailablePerTx = amountString(execAvailable)
	writeJSON(w, http.StatusOK, resp)
}

type tokenView struct {
	Token                 string `json:"token"`
	Remote                string `json:"remote"`
	Native                bool   `json:"native"`
	Decimals              uint8  `json:"decimals"`
	RegistrationMessageID string `json:"registrationMessageId,omitempty"`
	DeployMessageID       string `json:"deployMessageId,omitempty"`
	MediatorBalance       string `json:"mediatorBalance"`
}

func (s *Server) tokenView(m *mediator.Mediator, entry *registry.Entry) (tokenView, error) {
	view := tokenView{
		Token:    entry.Local.Hex(),
		Remote:   entry.Remote.Hex(),
		Native:   entry.Native,
		Decimals: entry.Decimals,
	}
	if entry.RegistrationMessageID != (common.Hash{}) {
		view.RegistrationMessageID = entry.RegistrationMessageID.Hex()
	}
	if entry.DeployMessageID != (common.Hash{}) {
		view.DeployMessageID = entry.DeployMessageID.Hex()
	}
	balance, err := m.MediatorBalance(entry.Local)
	if err != nil {
		return view, err
	}
	view.MediatorBalance = amountString(balance)
	return view, nil
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tokens, err := m.Tokens()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]tokenView, 0, len(tokens))
	for _, addr := range tokens {
		entry, found, err := m.TokenEntry(addr)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !found {
			continue
		}
		view, err := s.tokenView(m, entry)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entry, found, err := m.TokenEntry(tokenAddr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		writeEngineError(w, mediator.ErrUnknownToken)
		return
	}
	view, err := s.tokenView(m, entry)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type feesResponse struct {
	Token           string   `json:"token,omitempty"`
	HomeToForeign   string   `json:"homeToForeign"`
	ForeignToHome   string   `json:"foreignToHome"`
	RewardAddresses []string `json:"rewardAddresses"`
	Amount          string   `json:"amount,omitempty"`
	Fee             string   `json:"fee,omitempty"`
}

func (s *Server) getFees(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if m.Side() != mediator.Home {
		writeError(w, http.StatusNotFound, errors.New("fees are only collected on the home side"))
		return
	}
	query := r.URL.Query()
	tokenAddr, hasToken, err := parseOptionalAddress("token", query.Get("token"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := feesResponse{}
	if hasToken {
		resp.Token = tokenAddr.Hex()
	}
	for _, dir := range []fees.Direction{fees.HomeToForeign, fees.ForeignToHome} {
		pct, err := m.Fee(dir, tokenAddr)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if dir == fees.HomeToForeign {
			resp.HomeToForeign = amountString(pct)
		} else {
			resp.ForeignToHome = amountString(pct)
		}
	}
	rewards, err := m.RewardAddresses()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp.RewardAddresses = make([]string, 0, len(rewards))
	for _, addr := range rewards {
		resp.RewardAddresses = append(resp.RewardAddresses, addr.Hex())
	}
	if raw := query.Get("amount"); raw != "" {
		amount, err := parseAmount("amount", raw)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		dir, err := fees.ParseDirection(query.Get("direction"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fee, err := m.CalculateFee(dir, tokenAddr, amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Amount = amount.String()
		resp.Fee = amountString(fee)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLane(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	query := r.URL.Query()
	var addrs [3]common.Address
	for i, field := range []string{"token", "sender", "receiver"} {
		addrs[i], _, err = parseOptionalAddress(field, query.Get(field))
		if err != nil {
			writeEngineError(w, err)
			return
		}
	}
	lane, err := m.DestinationLane(addrs[0], addrs[1], addrs[2])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lane":     lane.String(),
		"dataType": lane.DataType(),
	})
}

func (s *Server) getGasLimit(w http.ResponseWriter, r *http.Request) {
	m, err := s.mediatorFor(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	query := r.URL.Query()
	tokenAddr, _, err := parseOptionalAddress("token", query.Get("token"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var data []byte
	if raw := query.Get("selector"); raw != "" {
		sel, err := parseSelector(raw)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		data = sel[:]
	}
	gas, err := m.RequestGasLimit(data, tokenAddr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"gas": gas})
}

func (s *Server) relayerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relayer.Status())
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("message index disabled"))
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	rows, err := s.index.Messages(r.Context(), index.Filter{
		Chain:  query.Get("chain"),
		Status: query.Get("status"),
		Token:  query.Get("token"),
		Limit:  limit,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type messageResponse struct {
	MessageID   string            `json:"messageId"`
	Transport   *transportView    `json:"transport,omitempty"`
	Refund      *refundView       `json:"refund,omitempty"`
	Index       *index.MessageRow `json:"index,omitempty"`
	IndexEvents []index.EventRow  `json:"events,omitempty"`
}

type transportView struct {
	SourceChainID      uint64 `json:"sourceChainId"`
	DestinationChainID uint64 `json:"destinationChainId"`
	Sender             string `json:"sender"`
	Executor           string `json:"executor"`
	Gas                uint64 `json:"gas"`
	Manual             bool   `json:"manual"`
	Pending            bool   `json:"pending"`
}

type refundView struct {
	Side     string `json:"side"`
	Token    string `json:"token"`
	RefundTo string `json:"refundTo"`
	Value    string `json:"value"`
	Fixed    bool   `json:"fixed"`
}

func (s *Server) isPending(id common.Hash) bool {
	for _, msg := range s.bus.Pending(true) {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash("id", chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := messageResponse{MessageID: id.Hex()}
	if msg, ok := s.bus.Message(id); ok {
		resp.Transport = &transportView{
			SourceChainID:      msg.SourceChainID,
			DestinationChainID: msg.DestinationChainID,
			Sender:             msg.Sender.Hex(),
			Executor:           msg.Executor.Hex(),
			Gas:                msg.Gas,
			Manual:             msg.Manual(),
			Pending:            s.isPending(id),
		}
	}
	for _, m := range []*mediator.Mediator{s.home, s.foreign} {
		record, found, err := m.Message(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !found {
			continue
		}
		fixed, err := m.MessageFixed(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		resp.Refund = &refundView{
			Side:     m.Side().String(),
			Token:    record.Token.Hex(),
			RefundTo: record.Recipient.Hex(),
			Value:    amountString(record.Value),
			Fixed:    fixed,
		}
		break
	}
	if s.index != nil {
		row, err := s.index.Message(r.Context(), id.Hex())
		switch {
		case err == nil:
			resp.Index = &row
		case !errors.Is(err, index.ErrNotFound):
			writeEngineError(w, err)
			return
		}
		if resp.IndexEvents, err = s.index.Events(r.Context(), id.Hex()); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if resp.Transport == nil && resp.Refund == nil && resp.Index == nil {
		writeEngineError(w, amb.ErrUnknownMessage)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
