package config

import (
	"fmt"
	"strings"

	"omnibridge/native/mediator"
)

// ValidateConfig checks a deployment file before any mediator is touched.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if c.MaxGasPerTx == 0 {
		return fmt.Errorf("bridge: MaxGasPerTx must be positive")
	}
	if c.Home.ChainID == c.Foreign.ChainID {
		return fmt.Errorf("bridge: home and foreign share chain id %d", c.Home.ChainID)
	}
	if strings.TrimSpace(c.Home.ChainName) == "" || strings.TrimSpace(c.Foreign.ChainName) == "" {
		return fmt.Errorf("bridge: chain names are required")
	}
	home, err := c.MediatorAddress(mediator.Home)
	if err != nil {
		return err
	}
	foreign, err := c.MediatorAddress(mediator.Foreign)
	if err != nil {
		return err
	}
	if home == foreign {
		return fmt.Errorf("bridge: home and foreign mediators share address %s", home.Hex())
	}
	for _, side := range []mediator.Side{mediator.Home, mediator.Foreign} {
		cfg, err := c.MediatorConfig(side)
		if err != nil {
			return err
		}
		if err := cfg.Validate(side, c.MaxGasPerTx); err != nil {
			return fmt.Errorf("%s: %w", side, err)
		}
		if side == mediator.Foreign && !c.Foreign.Forwarding.Empty() {
			return fmt.Errorf("foreign: forwarding rules are only supported on the home side")
		}
		if _, err := c.ForwardingRules(side); err != nil {
			return err
		}
		router, ok, err := c.NativeRouter(side)
		if err != nil {
			return err
		}
		if ok {
			mediatorAddr, _ := c.MediatorAddress(side)
			if router.Address == mediatorAddr || router.WETH == mediatorAddr || router.Address == router.WETH {
				return fmt.Errorf("%s: router, WETH and mediator need distinct addresses", side)
			}
		}
	}
	return nil
}
