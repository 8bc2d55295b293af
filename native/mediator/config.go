package mediator

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/state"
	"omnibridge/native/fees"
	"omnibridge/native/limits"
)

// Side identifies which end of the bridge a mediator serves. Fees and
// forwarding lanes only exist on the home side.
type Side uint8

const (
	Home Side = iota
	Foreign
)

func (s Side) String() string {
	switch s {
	case Home:
		return "home"
	case Foreign:
		return "foreign"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide maps "home" or "foreign" to a Side.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "home":
		return Home, nil
	case "foreign":
		return Foreign, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidConfiguration, raw)
	}
}

// FeeConfig carries the home-side fee schedule applied at initialization.
type FeeConfig struct {
	HomeToForeign   *big.Int
	ForeignToHome   *big.Int
	RewardAddresses []common.Address
}

// Config is the one-time initialization of a mediator.
type Config struct {
	// Bridge must match the address of the transport the mediator talks to.
	Bridge          common.Address
	Counterpart     common.Address
	Owner           common.Address
	TokenFactory    common.Address
	Limits          limits.Limits
	RequestGasLimit uint64
	NameSuffix      string
	Fees            FeeConfig
}

// Validate reports the first invalid field. maxGas is the transport cap on
// per-message gas; zero disables the check.
func (c Config) Validate(side Side, maxGas uint64) error {
	zero := common.Address{}
	switch {
	case c.Bridge == zero:
		return fmt.Errorf("%w: bridge address required", ErrInvalidConfiguration)
	case c.Counterpart == zero:
		return fmt.Errorf("%w: counterpart mediator required", ErrInvalidConfiguration)
	case c.Owner == zero:
		return fmt.Errorf("%w: owner required", ErrInvalidConfiguration)
	case c.TokenFactory == zero:
		return fmt.Errorf("%w: token factory required", ErrInvalidConfiguration)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if maxGas > 0 && c.RequestGasLimit > maxGas {
		return fmt.Errorf("%w: request gas limit %d above transport maximum %d", ErrInvalidConfiguration, c.RequestGasLimit, maxGas)
	}
	if side != Home {
		if len(c.Fees.RewardAddresses) > 0 || nonZero(c.Fees.HomeToForeign) || nonZero(c.Fees.ForeignToHome) {
			return fmt.Errorf("%w: fees are only supported on the home side", ErrInvalidConfiguration)
		}
		return nil
	}
	for _, pct := range []*big.Int{c.Fees.HomeToForeign, c.Fees.ForeignToHome} {
		if pct == nil {
			continue
		}
		if pct.Sign() < 0 || pct.Cmp(fees.MaxFee()) >= 0 {
			return fmt.Errorf("%w: fee %s outside [0, %s)", ErrInvalidConfiguration, pct, fees.MaxFee())
		}
	}
	if len(c.Fees.RewardAddresses) > fees.MaxRewardAddresses {
		return fmt.Errorf("%w: at most %d reward addresses", ErrInvalidConfiguration, fees.MaxRewardAddresses)
	}
	seen := make(map[common.Address]struct{}, len(c.Fees.RewardAddresses))
	for _, addr := range c.Fees.RewardAddresses {
		if addr == zero {
			return fmt.Errorf("%w: zero reward address", ErrInvalidConfiguration)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: duplicate reward address %s", ErrInvalidConfiguration, addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	return nil
}

func nonZero(v *big.Int) bool { return v != nil && v.Sign() != 0 }

// configVersion is bumped whenever storedConfig changes shape.
const configVersion uint64 = 1

var configKey = []byte("mediator/config")

type storedConfig struct {
	Version      uint64
	Side         uint64
	Bridge       common.Address
	Counterpart  common.Address
	Owner        common.Address
	TokenFactory common.Address
	NameSuffix   string
}

// migrations upgrade state written by older releases. Empty while the schema
// is at its first version.
var migrations []state.Migration

func loadConfig(kv state.KV) (*storedConfig, error) {
	var cfg storedConfig
	ok, err := kv.KVGet(configKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if cfg.Version != configVersion {
		return nil, fmt.Errorf("%w: stored config version %d, expected %d", state.ErrStateVersionMismatch, cfg.Version, configVersion)
	}
	return &cfg, nil
}
