package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"omnibridge/native/limits"
	"omnibridge/native/mediator"
)

// Config describes one bridge deployment: the transport shared by both
// chains and the mediator on each side.
type Config struct {
	NetworkName string `toml:"NetworkName"`
	Bridge      string `toml:"Bridge"`
	MaxGasPerTx uint64 `toml:"MaxGasPerTx"`
	Home        Side   `toml:"home"`
	Foreign     Side   `toml:"foreign"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "omnibridge-local"
	}
	if cfg.Home.Fees.RewardAddresses == nil {
		cfg.Home.Fees.RewardAddresses = []string{}
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh deployment.
func Default() *Config {
	caps := Limits{
		DailyLimit:          "2.5",
		MaxPerTx:            "1",
		MinPerTx:            "0.01",
		ExecutionDailyLimit: "2.5",
		ExecutionMaxPerTx:   "1",
	}
	return &Config{
		NetworkName: "omnibridge-local",
		Bridge:      "0x00000000000000000000000000000000000000b0",
		MaxGasPerTx: 2_000_000,
		Home: Side{
			ChainName:       "home",
			ChainID:         100,
			Mediator:        "0x0000000000000000000000000000000000001001",
			Owner:           "0x000000000000000000000000000000000000000a",
			TokenFactory:    "0x00000000000000000000000000000000000000f0",
			NameSuffix:      " on xDai",
			RequestGasLimit: 1_000_000,
			Limits:          caps,
			Fees:            Fees{HomeToForeign: "0", ForeignToHome: "0", RewardAddresses: []string{}},
		},
		Foreign: Side{
			ChainName:       "foreign",
			ChainID:         1,
			Mediator:        "0x0000000000000000000000000000000000002001",
			Owner:           "0x000000000000000000000000000000000000000a",
			TokenFactory:    "0x00000000000000000000000000000000000000f0",
			NameSuffix:      " on Mainnet",
			RequestGasLimit: 1_000_000,
			Limits:          caps,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// SideConfig returns the section of side.
func (c *Config) SideConfig(side mediator.Side) *Side {
	if side == mediator.Home {
		return &c.Home
	}
	return &c.Foreign
}

func (c *Config) counterpartOf(side mediator.Side) *Side {
	if side == mediator.Home {
		return &c.Foreign
	}
	return &c.Home
}

// BridgeAddress returns the parsed transport address.
func (c *Config) BridgeAddress() (common.Address, error) {
	return parseAddress("Bridge", c.Bridge)
}

// MediatorAddress returns the parsed mediator address of side.
func (c *Config) MediatorAddress(side mediator.Side) (common.Address, error) {
	return parseAddress(side.String()+".Mediator", c.SideConfig(side).Mediator)
}

// ParseLimits converts the configured caps into base units.
func (l Limits) ParseLimits(section string) (limits.Limits, error) {
	var out limits.Limits
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"DailyLimit", l.DailyLimit, &out.DailyLimit},
		{"MaxPerTx", l.MaxPerTx, &out.MaxPerTx},
		{"MinPerTx", l.MinPerTx, &out.MinPerTx},
		{"ExecutionDailyLimit", l.ExecutionDailyLimit, &out.ExecutionDailyLimit},
		{"ExecutionMaxPerTx", l.ExecutionMaxPerTx, &out.ExecutionMaxPerTx},
	}
	for _, field := range fields {
		value, err := parseTokenAmount(field.raw)
		if err != nil {
			return limits.Limits{}, fmt.Errorf("%s.limits.%s: %w", section, field.name, err)
		}
		*field.dst = value
	}
	return out, nil
}

// MediatorConfig builds the initialization parameters of the mediator on
// side. The counterpart is the mediator configured for the other side.
func (c *Config) MediatorConfig(side mediator.Side) (mediator.Config, error) {
	section := c.SideConfig(side)
	name := side.String()
	bridge, err := c.BridgeAddress()
	if err != nil {
		return mediator.Config{}, err
	}
	counterpart, err := parseAddress(name+".Counterpart", c.counterpartOf(side).Mediator)
	if err != nil {
		return mediator.Config{}, err
	}
	owner, err := parseAddress(name+".Owner", section.Owner)
	if err != nil {
		return mediator.Config{}, err
	}
	factory, err := parseAddress(name+".TokenFactory", section.TokenFactory)
	if err != nil {
		return mediator.Config{}, err
	}
	caps, err := section.Limits.ParseLimits(name)
	if err != nil {
		return mediator.Config{}, err
	}
	out := mediator.Config{
		Bridge:          bridge,
		Counterpart:     counterpart,
		Owner:           owner,
		TokenFactory:    factory,
		Limits:          caps,
		RequestGasLimit: section.RequestGasLimit,
		NameSuffix:      section.NameSuffix,
	}
	if section.Fees.Empty() {
		return out, nil
	}
	if out.Fees.HomeToForeign, err = parseTokenAmount(section.Fees.HomeToForeign); err != nil {
		return mediator.Config{}, fmt.Errorf("%s.fees.HomeToForeign: %w", name, err)
	}
	if out.Fees.ForeignToHome, err = parseTokenAmount(section.Fees.ForeignToHome); err != nil {
		return mediator.Config{}, fmt.Errorf("%s.fees.ForeignToHome: %w", name, err)
	}
	if out.Fees.RewardAddresses, err = parseAddresses(name+".fees.RewardAddresses", section.Fees.RewardAddresses); err != nil {
		return mediator.Config{}, err
	}
	return out, nil
}

// RouterConfig is the parsed form of Router.
type RouterConfig struct {
	WETH    common.Address
	Address common.Address
	Owner   common.Address
}

// NativeRouter parses the router of side. ok is false when none is set.
func (c *Config) NativeRouter(side mediator.Side) (cfg RouterConfig, ok bool, err error) {
	section := c.SideConfig(side)
	if section.Router.Empty() {
		return RouterConfig{}, false, nil
	}
	name := side.String() + ".router"
	if cfg.WETH, err = parseAddress(name+".WETH", section.Router.WETH); err != nil {
		return RouterConfig{}, false, err
	}
	if cfg.Address, err = parseAddress(name+".Address", section.Router.Address); err != nil {
		return RouterConfig{}, false, err
	}
	if cfg.Owner, err = parseAddress(side.String()+".Owner", section.Owner); err != nil {
		return RouterConfig{}, false, err
	}
	return cfg, true, nil
}

// Rules is the parsed form of Forwarding.
type Rules struct {
	Tokens    []common.Address
	Senders   []common.Address
	Receivers []common.Address
}

// ForwardingRules parses the manual lane rules of side.
func (c *Config) ForwardingRules(side mediator.Side) (Rules, error) {
	section := c.SideConfig(side)
	name := side.String() + ".forwarding"
	var (
		rules Rules
		err   error
	)
	if rules.Tokens, err = parseAddresses(name+".ManualTokens", section.Forwarding.ManualTokens); err != nil {
		return Rules{}, err
	}
	if rules.Senders, err = parseAddresses(name+".ManualSenders", section.Forwarding.ManualSenders); err != nil {
		return Rules{}, err
	}
	if rules.Receivers, err = parseAddresses(name+".ManualReceivers", section.Forwarding.ManualReceivers); err != nil {
		return Rules{}, err
	}
	return rules, nil
}
