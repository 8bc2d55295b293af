package limits

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Direction distinguishes outbound spending from inbound execution.
type Direction uint8

const (
	// Outbound covers tokens leaving this chain through a relay call.
	Outbound Direction = iota
	// Inbound covers tokens released on this chain by a bridge message.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Kind names a single configurable cap.
type Kind uint8

const (
	KindDailyLimit Kind = iota
	KindMaxPerTx
	KindMinPerTx
	KindExecutionDailyLimit
	KindExecutionMaxPerTx
)

func (k Kind) String() string {
	switch k {
	case KindDailyLimit:
		return "daily_limit"
	case KindMaxPerTx:
		return "max_per_tx"
	case KindMinPerTx:
		return "min_per_tx"
	case KindExecutionDailyLimit:
		return "execution_daily_limit"
	case KindExecutionMaxPerTx:
		return "execution_max_per_tx"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps the textual name back to a Kind.
func ParseKind(raw string) (Kind, error) {
	for k := KindDailyLimit; k <= KindExecutionMaxPerTx; k++ {
		if k.String() == raw {
			return k, nil
		}
	}
	return 0, fmt.Errorf("limits: unknown limit kind %q", raw)
}

// Limits captures the outbound and inbound caps of one token or of the global
// defaults.
type Limits struct {
	DailyLimit          *big.Int
	MaxPerTx            *big.Int
	MinPerTx            *big.Int
	ExecutionDailyLimit *big.Int
	ExecutionMaxPerTx   *big.Int
}

// Clone returns a deep copy with nil values normalised to zero.
func (l Limits) Clone() Limits {
	return Limits{
		DailyLimit:          cloneBigInt(l.DailyLimit),
		MaxPerTx:            cloneBigInt(l.MaxPerTx),
		MinPerTx:            cloneBigInt(l.MinPerTx),
		ExecutionDailyLimit: cloneBigInt(l.ExecutionDailyLimit),
		ExecutionMaxPerTx:   cloneBigInt(l.ExecutionMaxPerTx),
	}
}

// Get returns the value of a single cap.
func (l Limits) Get(kind Kind) *big.Int {
	switch kind {
	case KindDailyLimit:
		return cloneBigInt(l.DailyLimit)
	case KindMaxPerTx:
		return cloneBigInt(l.MaxPerTx)
	case KindMinPerTx:
		return cloneBigInt(l.MinPerTx)
	case KindExecutionDailyLimit:
		return cloneBigInt(l.ExecutionDailyLimit)
	case KindExecutionMaxPerTx:
		return cloneBigInt(l.ExecutionMaxPerTx)
	default:
		return big.NewInt(0)
	}
}

func (l *Limits) set(kind Kind, value *big.Int) {
	v := cloneBigInt(value)
	switch kind {
	case KindDailyLimit:
		l.DailyLimit = v
	case KindMaxPerTx:
		l.MaxPerTx = v
	case KindMinPerTx:
		l.MinPerTx = v
	case KindExecutionDailyLimit:
		l.ExecutionDailyLimit = v
	case KindExecutionMaxPerTx:
		l.ExecutionMaxPerTx = v
	}
}

// Validate enforces the ordering required at initialization:
// 0 < minPerTx < maxPerTx < dailyLimit and executionMaxPerTx < executionDailyLimit.
func (l Limits) Validate() error {
	c := l.Clone()
	if c.MinPerTx.Sign() <= 0 {
		return fmt.Errorf("%w: minPerTx must be positive", ErrInvalidLimit)
	}
	if c.MaxPerTx.Cmp(c.MinPerTx) <= 0 {
		return fmt.Errorf("%w: maxPerTx must exceed minPerTx", ErrInvalidLimit)
	}
	if c.DailyLimit.Cmp(c.MaxPerTx) <= 0 {
		return fmt.Errorf("%w: dailyLimit must exceed maxPerTx", ErrInvalidLimit)
	}
	if c.ExecutionDailyLimit.Cmp(c.ExecutionMaxPerTx) <= 0 {
		return fmt.Errorf("%w: executionDailyLimit must exceed executionMaxPerTx", ErrInvalidLimit)
	}
	return nil
}

// Scope selects either the global defaults or a single token's caps.
type Scope struct {
	token  common.Address
	global bool
}

// Global addresses the default caps shared by every token.
func Global() Scope { return Scope{global: true} }

// Token addresses the caps of a single token.
func Token(addr common.Address) Scope { return Scope{token: addr} }

// IsGlobal reports whether the scope targets the defaults.
func (s Scope) IsGlobal() bool { return s.global }

// Address returns the token of a token scope.
func (s Scope) Address() common.Address { return s.token }

func (s Scope) String() string {
	if s.global {
		return "global"
	}
	return s.token.Hex()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
