package limits

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/core/types"
)

// SecondsPerDay sizes the accounting window. Day indexes are derived from the
// chain clock, not wall-clock precise.
const SecondsPerDay = 86400

var (
	ErrLimitExceeded = errors.New("limits: limit exceeded")
	ErrInvalidLimit  = errors.New("limits: invalid limit configuration")
	ErrUnknownToken  = errors.New("limits: token not registered")
	errNilState      = errors.New("limits: state not configured")
	errNoDefaults    = errors.New("limits: defaults not configured")
)

var (
	defaultsKey     = []byte("limits/defaults")
	tokenPrefix     = "limits/token/"
	spentPrefix     = "limits/spent/"
	executedPrefix  = "limits/executed/"
	unscaledDecimal = uint8(18)
)

type storedLimits struct {
	DailyLimit          *big.Int
	MaxPerTx            *big.Int
	MinPerTx            *big.Int
	ExecutionDailyLimit *big.Int
	ExecutionMaxPerTx   *big.Int
	Registered          bool
}

func (s *storedLimits) limits() Limits {
	return Limits{
		DailyLimit:          s.DailyLimit,
		MaxPerTx:            s.MaxPerTx,
		MinPerTx:            s.MinPerTx,
		ExecutionDailyLimit: s.ExecutionDailyLimit,
		ExecutionMaxPerTx:   s.ExecutionMaxPerTx,
	}.Clone()
}

func toStored(l Limits, registered bool) *storedLimits {
	c := l.Clone()
	return &storedLimits{
		DailyLimit:          c.DailyLimit,
		MaxPerTx:            c.MaxPerTx,
		MinPerTx:            c.MinPerTx,
		ExecutionDailyLimit: c.ExecutionDailyLimit,
		ExecutionMaxPerTx:   c.ExecutionMaxPerTx,
		Registered:          registered,
	}
}

type limitsEvent struct {
	evt *types.Event
}

func (e limitsEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e limitsEvent) Event() *types.Event { return e.evt }

// Engine enforces per-token volume caps. Global defaults live in their own
// record; a token only has caps of its own once RegisterDefaults ran for it.
type Engine struct {
	state   state.KV
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a limits engine backed by the provided store.
func NewEngine(kv state.KV) *Engine {
	return &Engine{
		state:   kv,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used to derive day indexes.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(limitsEvent{evt: evt})
}

// CurrentDay returns the day index of the engine clock.
func (e *Engine) CurrentDay() uint64 {
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now) / SecondsPerDay
}

func tokenKey(token common.Address) []byte {
	return []byte(tokenPrefix + token.Hex())
}

func counterKey(prefix string, token common.Address, day uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", prefix, token.Hex(), day))
}

// SetDefaults validates and stores the global defaults.
func (e *Engine) SetDefaults(l Limits) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := l.Validate(); err != nil {
		return err
	}
	if err := e.state.KVPut(defaultsKey, toStored(l, true)); err != nil {
		return err
	}
	e.emit(NewDailyLimitChangedEvent(Global(), l.DailyLimit))
	e.emit(NewExecutionDailyLimitChangedEvent(Global(), l.ExecutionDailyLimit))
	return nil
}

// Defaults returns the global caps.
func (e *Engine) Defaults() (Limits, error) {
	if e == nil || e.state == nil {
		return Limits{}, errNilState
	}
	var stored storedLimits
	ok, err := e.state.KVGet(defaultsKey, &stored)
	if err != nil {
		return Limits{}, err
	}
	if !ok {
		return Limits{}, errNoDefaults
	}
	return stored.limits(), nil
}

func (e *Engine) loadToken(token common.Address) (*storedLimits, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var stored storedLimits
	ok, err := e.state.KVGet(tokenKey(token), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stored, true, nil
}

// TokenLimits returns the caps stored for token. Tokens that were never
// registered report zero caps and false.
func (e *Engine) TokenLimits(token common.Address) (Limits, bool, error) {
	stored, ok, err := e.loadToken(token)
	if err != nil {
		return Limits{}, false, err
	}
	if !ok {
		return Limits{}.Clone(), false, nil
	}
	return stored.limits(), stored.Registered, nil
}

// Effective returns the caps that apply to token: its own record when one
// exists, the global defaults otherwise.
func (e *Engine) Effective(token common.Address) (Limits, error) {
	stored, ok, err := e.loadToken(token)
	if err != nil {
		return Limits{}, err
	}
	if ok {
		return stored.limits(), nil
	}
	return e.Defaults()
}

// IsRegistered reports whether token received its own caps and was not
// unregistered since.
func (e *Engine) IsRegistered(token common.Address) (bool, error) {
	stored, ok, err := e.loadToken(token)
	if err != nil || !ok {
		return false, err
	}
	return stored.Registered, nil
}

// RegisterDefaults copies the global defaults onto token, scaled from the
// 18-decimal baseline to the token's decimals.
func (e *Engine) RegisterDefaults(token common.Address, decimals uint8) (Limits, error) {
	defaults, err := e.Defaults()
	if err != nil {
		return Limits{}, err
	}
	scaled, err := ScaleForDecimals(defaults, decimals)
	if err != nil {
		return Limits{}, err
	}
	if err := e.state.KVPut(tokenKey(token), toStored(scaled, true)); err != nil {
		return Limits{}, err
	}
	e.emit(NewDailyLimitChangedEvent(Token(token), scaled.DailyLimit))
	e.emit(NewExecutionDailyLimitChangedEvent(Token(token), scaled.ExecutionDailyLimit))
	return scaled, nil
}

// Unregister zeroes every cap of token and marks it unknown.
func (e *Engine) Unregister(token common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.state.KVPut(tokenKey(token), toStored(Limits{}, false)); err != nil {
		return err
	}
	e.emit(NewDailyLimitChangedEvent(Token(token), big.NewInt(0)))
	e.emit(NewExecutionDailyLimitChangedEvent(Token(token), big.NewInt(0)))
	return nil
}

// SetLimit updates one cap of the scope. Zero is always accepted and pauses
// the direction; any other value must keep min < max < daily.
func (e *Engine) SetLimit(scope Scope, kind Kind, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if value == nil || value.Sign() < 0 {
		return fmt.Errorf("%w: value must be non-negative", ErrInvalidLimit)
	}
	var (
		current Limits
		key     []byte
	)
	if scope.IsGlobal() {
		defaults, err := e.Defaults()
		if err != nil {
			return err
		}
		current = defaults
		key = defaultsKey
	} else {
		stored, ok, err := e.loadToken(scope.Address())
		if err != nil {
			return err
		}
		if !ok || !stored.Registered {
			return fmt.Errorf("%w: %s", ErrUnknownToken, scope)
		}
		current = stored.limits()
		key = tokenKey(scope.Address())
	}
	if err := checkOrdering(current, kind, value); err != nil {
		return err
	}
	current.set(kind, value)
	if err := e.state.KVPut(key, toStored(current, true)); err != nil {
		return err
	}
	switch kind {
	case KindDailyLimit:
		e.emit(NewDailyLimitChangedEvent(scope, value))
	case KindExecutionDailyLimit:
		e.emit(NewExecutionDailyLimitChangedEvent(scope, value))
	}
	return nil
}

func checkOrdering(current Limits, kind Kind, value *big.Int) error {
	if value.Sign() == 0 {
		return nil
	}
	c := current.Clone()
	switch kind {
	case KindDailyLimit:
		if value.Cmp(c.MaxPerTx) <= 0 {
			return fmt.Errorf("%w: dailyLimit must exceed maxPerTx %s", ErrInvalidLimit, c.MaxPerTx)
		}
	case KindMaxPerTx:
		if value.Cmp(c.MinPerTx) <= 0 {
			return fmt.Errorf("%w: maxPerTx must exceed minPerTx %s", ErrInvalidLimit, c.MinPerTx)
		}
		if c.DailyLimit.Sign() > 0 && value.Cmp(c.DailyLimit) >= 0 {
			return fmt.Errorf("%w: maxPerTx must stay below dailyLimit %s", ErrInvalidLimit, c.DailyLimit)
		}
	case KindMinPerTx:
		if c.MaxPerTx.Sign() > 0 && value.Cmp(c.MaxPerTx) >= 0 {
			return fmt.Errorf("%w: minPerTx must stay below maxPerTx %s", ErrInvalidLimit, c.MaxPerTx)
		}
	case KindExecutionDailyLimit:
		if value.Cmp(c.ExecutionMaxPerTx) <= 0 {
			return fmt.Errorf("%w: executionDailyLimit must exceed executionMaxPerTx %s", ErrInvalidLimit, c.ExecutionMaxPerTx)
		}
	case KindExecutionMaxPerTx:
		if c.ExecutionDailyLimit.Sign() > 0 && value.Cmp(c.ExecutionDailyLimit) >= 0 {
			return fmt.Errorf("%w: executionMaxPerTx must stay below executionDailyLimit %s", ErrInvalidLimit, c.ExecutionDailyLimit)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidLimit, kind)
	}
	return nil
}

func (e *Engine) counter(prefix string, token common.Address, day uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total := new(big.Int)
	if _, err := e.state.KVGet(counterKey(prefix, token, day), total); err != nil {
		return nil, err
	}
	return total, nil
}

// TotalSpentPerDay returns the outbound volume of token on day.
func (e *Engine) TotalSpentPerDay(token common.Address, day uint64) (*big.Int, error) {
	return e.counter(spentPrefix, token, day)
}

// TotalExecutedPerDay returns the inbound volume of token on day.
func (e *Engine) TotalExecutedPerDay(token common.Address, day uint64) (*big.Int, error) {
	return e.counter(executedPrefix, token, day)
}

// Within checks amount against the caps without consuming any allowance.
func (e *Engine) Within(token common.Address, amount *big.Int, dir Direction) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrLimitExceeded)
	}
	defaults, err := e.Defaults()
	if err != nil {
		return err
	}
	caps, err := e.Effective(token)
	if err != nil {
		return err
	}
	day := e.CurrentDay()
	switch dir {
	case Outbound:
		if defaults.DailyLimit.Sign() == 0 {
			return fmt.Errorf("%w: outbound transfers are globally disabled", ErrLimitExceeded)
		}
		spent, err := e.TotalSpentPerDay(token, day)
		if err != nil {
			return err
		}
		if amount.Cmp(caps.MinPerTx) < 0 {
			return fmt.Errorf("%w: %s below minPerTx %s", ErrLimitExceeded, amount, caps.MinPerTx)
		}
		if amount.Cmp(caps.MaxPerTx) > 0 {
			return fmt.Errorf("%w: %s above maxPerTx %s", ErrLimitExceeded, amount, caps.MaxPerTx)
		}
		if new(big.Int).Add(spent, amount).Cmp(caps.DailyLimit) > 0 {
			return fmt.Errorf("%w: daily limit %s reached (spent %s)", ErrLimitExceeded, caps.DailyLimit, spent)
		}
	case Inbound:
		if defaults.ExecutionDailyLimit.Sign() == 0 {
			return fmt.Errorf("%w: inbound execution is globally disabled", ErrLimitExceeded)
		}
		executed, err := e.TotalExecutedPerDay(token, day)
		if err != nil {
			return err
		}
		if amount.Cmp(caps.ExecutionMaxPerTx) > 0 {
			return fmt.Errorf("%w: %s above executionMaxPerTx %s", ErrLimitExceeded, amount, caps.ExecutionMaxPerTx)
		}
		if new(big.Int).Add(executed, amount).Cmp(caps.ExecutionDailyLimit) > 0 {
			return fmt.Errorf("%w: execution daily limit %s reached (executed %s)", ErrLimitExceeded, caps.ExecutionDailyLimit, executed)
		}
	default:
		return fmt.Errorf("limits: unknown direction %s", dir)
	}
	return nil
}

// CheckAndConsume validates amount and, on success, adds it to today's
// counter for the direction.
func (e *Engine) CheckAndConsume(token common.Address, amount *big.Int, dir Direction) error {
	if err := e.Within(token, amount, dir); err != nil {
		return err
	}
	return e.Consume(token, amount, dir)
}

// Consume adds amount to today's counter without checking caps.
func (e *Engine) Consume(token common.Address, amount *big.Int, dir Direction) error {
	prefix := spentPrefix
	if dir == Inbound {
		prefix = executedPrefix
	}
	day := e.CurrentDay()
	total, err := e.counter(prefix, token, day)
	if err != nil {
		return err
	}
	total.Add(total, amount)
	return e.state.KVPut(counterKey(prefix, token, day), total)
}

// MaxAvailablePerTx returns min(maxPerTx, dailyLimit - spentToday) floored at
// zero.
func (e *Engine) MaxAvailablePerTx(token common.Address) (*big.Int, error) {
	caps, err := e.Effective(token)
	if err != nil {
		return nil, err
	}
	spent, err := e.TotalSpentPerDay(token, e.CurrentDay())
	if err != nil {
		return nil, err
	}
	return available(caps.MaxPerTx, caps.DailyLimit, spent), nil
}

// ExecutionAvailablePerTx is the inbound counterpart of MaxAvailablePerTx.
func (e *Engine) ExecutionAvailablePerTx(token common.Address) (*big.Int, error) {
	caps, err := e.Effective(token)
	if err != nil {
		return nil, err
	}
	executed, err := e.TotalExecutedPerDay(token, e.CurrentDay())
	if err != nil {
		return nil, err
	}
	return available(caps.ExecutionMaxPerTx, caps.ExecutionDailyLimit, executed), nil
}

func available(perTx, daily, used *big.Int) *big.Int {
	left := new(big.Int).Sub(daily, used)
	if left.Sign() < 0 {
		left.SetInt64(0)
	}
	if perTx.Cmp(left) < 0 {
		return new(big.Int).Set(perTx)
	}
	return left
}

// ScaleForDecimals converts caps expressed for 18 decimals into caps for a
// token with the given decimals. Values that would round to nothing are
// raised to 1 / 100 / 10000 units.
func ScaleForDecimals(l Limits, decimals uint8) (Limits, error) {
	out := l.Clone()
	switch {
	case decimals < unscaledDecimal:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(unscaledDecimal-decimals)), nil)
		for _, v := range []*big.Int{out.DailyLimit, out.MaxPerTx, out.MinPerTx, out.ExecutionDailyLimit, out.ExecutionMaxPerTx} {
			v.Quo(v, factor)
		}
		if out.MinPerTx.Sign() == 0 {
			out.MinPerTx.SetInt64(1)
			if out.MaxPerTx.Cmp(out.MinPerTx) <= 0 {
				out.MaxPerTx.SetInt64(100)
				out.ExecutionMaxPerTx.SetInt64(100)
				if out.DailyLimit.Cmp(out.MaxPerTx) <= 0 || out.ExecutionDailyLimit.Cmp(out.ExecutionMaxPerTx) <= 0 {
					out.DailyLimit.SetInt64(10000)
					out.ExecutionDailyLimit.SetInt64(10000)
				}
			}
		}
	case decimals > unscaledDecimal:
		bigFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-unscaledDecimal)), nil)
		factor, overflow := uint256.FromBig(bigFactor)
		for _, v := range []*big.Int{out.DailyLimit, out.MaxPerTx, out.MinPerTx, out.ExecutionDailyLimit, out.ExecutionMaxPerTx} {
			if v.Sign() == 0 {
				continue
			}
			if overflow {
				return Limits{}, fmt.Errorf("%w: scaling factor for %d decimals exceeds 256 bits", ErrInvalidLimit, decimals)
			}
			value, vOverflow := uint256.FromBig(v)
			if vOverflow {
				return Limits{}, fmt.Errorf("%w: limit %s exceeds 256 bits", ErrInvalidLimit, v)
			}
			scaled, mulOverflow := new(uint256.Int).MulOverflow(value, factor)
			if mulOverflow {
				return Limits{}, fmt.Errorf("%w: limit %s overflows when scaled to %d decimals", ErrInvalidLimit, v, decimals)
			}
			v.Set(scaled.ToBig())
		}
	}
	return out, nil
}
