package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"omnibridge/core/chain"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrTokenExists           = errors.New("token: token already exists")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMinter             = errors.New("token: caller is not the minter")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInvalidAddress        = errors.New("token: invalid address")
	ErrSupplyOverflow        = errors.New("token: total supply exceeds 256 bits")
)

// Metadata describes a token contract deployed on a chain.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Minter may mint and burn; zero for fixed-supply tokens.
	Minter common.Address
}

const (
	metaPrefix      = "token/meta/"
	balancePrefix   = "token/balance/"
	allowancePrefix = "token/allowance/"
	supplyPrefix    = "token/supply/"
)

func metaKey(token common.Address) []byte { return []byte(metaPrefix + token.Hex()) }

func supplyKey(token common.Address) []byte { return []byte(supplyPrefix + token.Hex()) }

func balanceKey(token, owner common.Address) []byte {
	return []byte(balancePrefix + token.Hex() + "/" + owner.Hex())
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(allowancePrefix + token.Hex() + "/" + owner.Hex() + "/" + spender.Hex())
}

// Ledger exposes ERC20/ERC677 semantics over the chain state of one
// transaction.
type Ledger struct {
	tx *chain.Tx
}

// NewLedger binds a ledger to the transaction.
func NewLedger(tx *chain.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// Create installs a token at addr.
func (l *Ledger) Create(addr common.Address, meta Metadata) error {
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}
	ok, err := l.tx.KVGet(metaKey(addr), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, addr.Hex())
	}
	meta.Name = strings.TrimSpace(meta.Name)
	meta.Symbol = strings.TrimSpace(meta.Symbol)
	return l.tx.KVPut(metaKey(addr), &meta)
}

// Metadata returns the token description.
func (l *Ledger) Metadata(token common.Address) (Metadata, error) {
	var meta Metadata
	ok, err := l.tx.KVGet(metaKey(token), &meta)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return meta, nil
}

// Exists reports whether a token is installed at addr.
func (l *Ledger) Exists(token common.Address) (bool, error) {
	return l.tx.KVGet(metaKey(token), nil)
}

func (l *Ledger) amount(key []byte) (*big.Int, error) {
	v := new(big.Int)
	if _, err := l.tx.KVGet(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

// BalanceOf returns the balance of owner.
func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	if _, err := l.Metadata(token); err != nil {
		return nil, err
	}
	return l.amount(balanceKey(token, owner))
}

// TotalSupply returns the amount of token in circulation.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	if _, err := l.Metadata(token); err != nil {
		return nil, err
	}
	return l.amount(supplyKey(token))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.amount(allowanceKey(token, owner, spender))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidAmount)
	}
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	if _, err := l.Metadata(token); err != nil {
		return err
	}
	fromBal, err := l.amount(balanceKey(token, from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := l.amount(balanceKey(token, to))
	if err != nil {
		return err
	}
	if err := l.tx.KVPut(balanceKey(token, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.tx.KVPut(balanceKey(token, to), new(big.Int).Add(toBal, amount))
}

// TransferAndCall transfers and, when the recipient is a contract, invokes its
// OnTokenTransfer hook. A failing hook fails the whole transfer.
func (l *Ledger) TransferAndCall(token, from, to common.Address, amount *big.Int, data []byte) error {
	if err := l.Transfer(token, from, to, amount); err != nil {
		return err
	}
	cb := Callback{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount), Moved: true}
	if err := l.callReceiver(cb, data); err != nil {
		return fmt.Errorf("token: transfer callback: %w", err)
	}
	return nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, err := l.Metadata(token); err != nil {
		return err
	}
	return l.tx.KVPut(allowanceKey(token, owner, spender), new(big.Int).Set(amount))
}

// TransferFrom moves amount from owner to recipient using spender's allowance.
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowance, err := l.Allowance(token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	return l.tx.KVPut(allowanceKey(token, owner, spender), new(big.Int).Sub(allowance, amount))
}

// Mint creates amount for recipient. Only the token's minter may mint.
func (l *Ledger) Mint(token, minter, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	if meta.Minter == (common.Address{}) || meta.Minter != minter {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter.Hex())
	}
	supply, err := l.amount(supplyKey(token))
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	if _, overflow := uint256.FromBig(supply); overflow {
		return ErrSupplyOverflow
	}
	bal, err := l.amount(balanceKey(token, to))
	if err != nil {
		return err
	}
	if err := l.tx.KVPut(supplyKey(token), supply); err != nil {
		return err
	}
	return l.tx.KVPut(balanceKey(token, to), bal.Add(bal, amount))
}

// Burn destroys amount held by owner. Only the token's minter may burn.
func (l *Ledger) Burn(token, minter, owner common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	if meta.Minter == (common.Address{}) || meta.Minter != minter {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter.Hex())
	}
	bal, err := l.amount(balanceKey(token, owner))
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	supply, err := l.amount(supplyKey(token))
	if err != nil {
		return err
	}
	if err := l.tx.KVPut(supplyKey(token), supply.Sub(supply, amount)); err != nil {
		return err
	}
	return l.tx.KVPut(balanceKey(token, owner), bal.Sub(bal, amount))
}
