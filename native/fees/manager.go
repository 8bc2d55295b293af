package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/core/types"
	"omnibridge/native/limits"
)

// MaxRewardAddresses bounds the reward receiver list.
const MaxRewardAddresses = 50

// Direction selects which of the two fee schedules applies.
type Direction uint8

const (
	// HomeToForeign is charged on tokens leaving the home chain.
	HomeToForeign Direction = iota
	// ForeignToHome is charged on tokens arriving on the home chain.
	ForeignToHome
)

func (d Direction) String() string {
	switch d {
	case HomeToForeign:
		return "home_to_foreign"
	case ForeignToHome:
		return "foreign_to_home"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection maps the textual name back to a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch raw {
	case "home_to_foreign":
		return HomeToForeign, nil
	case "foreign_to_home":
		return ForeignToHome, nil
	default:
		return 0, fmt.Errorf("%w: unknown fee direction %q", ErrInvalidFee, raw)
	}
}

var (
	ErrInvalidFee           = errors.New("fees: invalid fee")
	ErrInvalidRewardAddress = errors.New("fees: invalid reward address")
	ErrDuplicateReward      = errors.New("fees: reward address already registered")
	ErrUnknownReward        = errors.New("fees: reward address not registered")
	ErrTooManyRewards       = errors.New("fees: reward address list is full")
	errNilState             = errors.New("fees: state not configured")
)

var (
	rewardsKey     = []byte("fees/rewards")
	defaultPrefix  = "fees/default/"
	tokenFeePrefix = "fees/token/"
)

// MaxFee is the fixed point representation of 100%.
func MaxFee() *big.Int { return big.NewInt(1_000_000_000_000_000_000) }

func defaultKey(dir Direction) []byte { return []byte(defaultPrefix + dir.String()) }

func tokenKey(dir Direction, token common.Address) []byte {
	return []byte(tokenFeePrefix + dir.String() + "/" + token.Hex())
}

type feeEvent struct {
	evt *types.Event
}

func (e feeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e feeEvent) Event() *types.Event { return e.evt }

// Manager keeps the fee schedules and the reward receiver list.
type Manager struct {
	state   state.KV
	emitter events.Emitter
}

// NewManager creates a fee manager backed by kv.
func NewManager(kv state.KV) *Manager {
	return &Manager{state: kv, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) emit(evt *types.Event) {
	if m == nil || m.emitter == nil || evt == nil {
		return
	}
	m.emitter.Emit(feeEvent{evt: evt})
}

func (m *Manager) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	return nil
}

func validateFee(pct *big.Int) error {
	if pct == nil || pct.Sign() < 0 {
		return fmt.Errorf("%w: fee must be non-negative", ErrInvalidFee)
	}
	if pct.Cmp(MaxFee()) >= 0 {
		return fmt.Errorf("%w: fee must be below 100%%", ErrInvalidFee)
	}
	return nil
}

// SetFee stores the fee percentage for the direction, either as the default
// or as a token override.
func (m *Manager) SetFee(dir Direction, scope limits.Scope, pct *big.Int) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := validateFee(pct); err != nil {
		return err
	}
	key := defaultKey(dir)
	if !scope.IsGlobal() {
		key = tokenKey(dir, scope.Address())
	}
	if err := m.state.KVPut(key, new(big.Int).Set(pct)); err != nil {
		return err
	}
	m.emit(NewFeeUpdatedEvent(dir, scope, pct))
	return nil
}

// Fee returns the percentage charged for token in the direction. Tokens
// without an override pay the direction default.
func (m *Manager) Fee(dir Direction, token common.Address) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	pct := new(big.Int)
	ok, err := m.state.KVGet(tokenKey(dir, token), pct)
	if err != nil {
		return nil, err
	}
	if ok {
		return pct, nil
	}
	return m.DefaultFee(dir)
}

// DefaultFee returns the direction default percentage.
func (m *Manager) DefaultFee(dir Direction) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	pct := new(big.Int)
	if _, err := m.state.KVGet(defaultKey(dir), pct); err != nil {
		return nil, err
	}
	return pct, nil
}

// InitializeToken pins the current defaults as the overrides of a newly
// registered token so later default changes do not affect it.
func (m *Manager) InitializeToken(token common.Address) error {
	if err := m.ready(); err != nil {
		return err
	}
	for _, dir := range []Direction{HomeToForeign, ForeignToHome} {
		ok, err := m.state.KVGet(tokenKey(dir, token), nil)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		pct, err := m.DefaultFee(dir)
		if err != nil {
			return err
		}
		if err := m.state.KVPut(tokenKey(dir, token), pct); err != nil {
			return err
		}
	}
	return nil
}

// ComputeFee returns amount * fee / 1e18.
func (m *Manager) ComputeFee(dir Direction, token common.Address, amount *big.Int) (*big.Int, error) {
	pct, err := m.Fee(dir, token)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || pct.Sign() == 0 {
		return new(big.Int), nil
	}
	fee := new(big.Int).Mul(amount, pct)
	return fee.Quo(fee, MaxFee()), nil
}

// Share is the part of a fee routed to one reward address.
type Share struct {
	Receiver common.Address
	Amount   *big.Int
}

// ApplyResult summarises a fee evaluation.
type ApplyResult struct {
	Fee    *big.Int
	Net    *big.Int
	Shares []Share
}

// Apply computes the fee charged on amount and how it splits across the reward
// addresses. No fee is charged when the reward list is empty or sender is one
// of the reward addresses; pass the zero address when no sender applies.
func (m *Manager) Apply(dir Direction, token, sender common.Address, amount *big.Int) (ApplyResult, error) {
	result := ApplyResult{Fee: new(big.Int), Net: new(big.Int)}
	if amount != nil {
		result.Net.Set(amount)
	}
	rewards, err := m.RewardAddresses()
	if err != nil {
		return ApplyResult{}, err
	}
	if len(rewards) == 0 {
		return result, nil
	}
	for _, addr := range rewards {
		if sender != (common.Address{}) && addr == sender {
			return result, nil
		}
	}
	fee, err := m.ComputeFee(dir, token, amount)
	if err != nil {
		return ApplyResult{}, err
	}
	if fee.Sign() == 0 {
		return result, nil
	}
	result.Fee = fee
	result.Net.Sub(result.Net, fee)
	result.Shares = Split(fee, rewards)
	return result, nil
}

// Split divides fee evenly across receivers. The remainder is handed out one
// unit at a time to the first receivers in list order.
func Split(fee *big.Int, receivers []common.Address) []Share {
	if fee == nil || fee.Sign() <= 0 || len(receivers) == 0 {
		return nil
	}
	n := big.NewInt(int64(len(receivers)))
	per, rem := new(big.Int).QuoRem(fee, n, new(big.Int))
	extra := rem.Int64()
	shares := make([]Share, 0, len(receivers))
	for i, addr := range receivers {
		amount := new(big.Int).Set(per)
		if int64(i) < extra {
			amount.Add(amount, big.NewInt(1))
		}
		shares = append(shares, Share{Receiver: addr, Amount: amount})
	}
	return shares
}

// RewardAddresses returns the receivers, most recently added first.
func (m *Manager) RewardAddresses() ([]common.Address, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var list []common.Address
	ok, err := m.state.KVGet(rewardsKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []common.Address{}, nil
	}
	return list, nil
}

// RewardAddressCount returns the number of receivers.
func (m *Manager) RewardAddressCount() (int, error) {
	list, err := m.RewardAddresses()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// IsRewardAddress reports whether addr receives fees.
func (m *Manager) IsRewardAddress(addr common.Address) (bool, error) {
	list, err := m.RewardAddresses()
	if err != nil {
		return false, err
	}
	for _, existing := range list {
		if existing == addr {
			return true, nil
		}
	}
	return false, nil
}

// AddRewardAddress places addr at the front of the receiver list.
func (m *Manager) AddRewardAddress(addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrInvalidRewardAddress
	}
	list, err := m.RewardAddresses()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == addr {
			return fmt.Errorf("%w: %s", ErrDuplicateReward, addr.Hex())
		}
	}
	if len(list) >= MaxRewardAddresses {
		return ErrTooManyRewards
	}
	updated := append([]common.Address{addr}, list...)
	if err := m.state.KVPut(rewardsKey, updated); err != nil {
		return err
	}
	m.emit(NewRewardAddressAddedEvent(addr))
	return nil
}

// RemoveRewardAddress drops addr from the receiver list.
func (m *Manager) RemoveRewardAddress(addr common.Address) error {
	list, err := m.RewardAddresses()
	if err != nil {
		return err
	}
	updated := make([]common.Address, 0, len(list))
	found := false
	for _, existing := range list {
		if existing == addr {
			found = true
			continue
		}
		updated = append(updated, existing)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownReward, addr.Hex())
	}
	if err := m.state.KVPut(rewardsKey, updated); err != nil {
		return err
	}
	m.emit(NewRewardAddressRemovedEvent(addr))
	return nil
}
