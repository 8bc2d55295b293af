package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var weiPerToken = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// parseTokenAmount converts a decimal string of whole tokens into 18 decimal
// base units. Empty means zero.
func parseTokenAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	r.Mul(r, weiPerToken)
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than 18 decimals", raw)
	}
	return new(big.Int).Set(r.Num()), nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

func parseAddresses(field string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for i, entry := range raw {
		addr, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
