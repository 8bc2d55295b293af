package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const coinPrefix = "coin/balance/"

func coinKey(owner common.Address) []byte { return []byte(coinPrefix + owner.Hex()) }

// CoinBalance returns the native coin balance of owner.
func (l *Ledger) CoinBalance(owner common.Address) (*big.Int, error) {
	return l.amount(coinKey(owner))
}

// CreditCoins adds native coins to owner. It models genesis allocations and
// faucets; contracts move coins with TransferCoins.
func (l *Ledger) CreditCoins(owner common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return ErrInvalidAddress
	}
	bal, err := l.amount(coinKey(owner))
	if err != nil {
		return err
	}
	bal.Add(bal, amount)
	if _, overflow := uint256.FromBig(bal); overflow {
		return ErrSupplyOverflow
	}
	return l.tx.KVPut(coinKey(owner), bal)
}

// TransferCoins moves native coins between accounts.
func (l *Ledger) TransferCoins(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	fromBal, err := l.amount(coinKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s coins, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := l.amount(coinKey(to))
	if err != nil {
		return err
	}
	if err := l.tx.KVPut(coinKey(from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.tx.KVPut(coinKey(to), toBal.Add(toBal, amount))
}
