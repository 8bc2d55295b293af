// Package weth wraps the native coin of a chain into a bridgeable token and
// routes it through the mediator.
package weth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/native/token"
)

var (
	ErrUnauthorized = errors.New("weth: unauthorized caller")
	ErrInvalidToken = errors.New("weth: unexpected token")
	ErrInvalidData  = errors.New("weth: malformed receiver data")
	ErrInvalidValue = errors.New("weth: invalid value")
)

// Decimals of the wrapped token; equal to the native coin.
const Decimals = 18

// WETH is a token fully backed by native coins held at its own address.
type WETH struct {
	address common.Address
}

// New binds the wrapped token installed at addr.
func New(addr common.Address) *WETH {
	return &WETH{address: addr}
}

// Address of the wrapped token.
func (w *WETH) Address() common.Address { return w.address }

// Install creates the token on first use. It is a no-op when it exists.
func (w *WETH) Install(tx *chain.Tx) error {
	ledger := token.NewLedger(tx)
	ok, err := ledger.Exists(w.address)
	if err != nil || ok {
		return err
	}
	return ledger.Create(w.address, token.Metadata{
		Name:     "Wrapped Ether",
		Symbol:   "WETH",
		Decimals: Decimals,
		Minter:   w.address,
	})
}

// Deposit locks value coins of owner and mints the same amount of WETH.
func (w *WETH) Deposit(tx *chain.Tx, owner common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return ErrInvalidValue
	}
	ledger := token.NewLedger(tx)
	if err := ledger.TransferCoins(owner, w.address, value); err != nil {
		return fmt.Errorf("weth: deposit: %w", err)
	}
	return ledger.Mint(w.address, w.address, owner, value)
}

// Withdraw burns value WETH of owner and releases the coins to owner.
func (w *WETH) Withdraw(tx *chain.Tx, owner common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return ErrInvalidValue
	}
	ledger := token.NewLedger(tx)
	if err := ledger.Burn(w.address, w.address, owner, value); err != nil {
		return fmt.Errorf("weth: withdraw: %w", err)
	}
	return ledger.TransferCoins(w.address, owner, value)
}
