package weth

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/core/chain"
	"omnibridge/native/token"
)

// Bridge is the part of the mediator the router relays through.
type Bridge interface {
	Address() common.Address
	RelayTokensTo(tx *chain.Tx, caller, tokenAddr, recipient common.Address, amount *big.Int) (common.Hash, error)
	RelayTokensAndCall(tx *chain.Tx, caller, tokenAddr, recipient common.Address, amount *big.Int, data []byte) (common.Hash, error)
}

// Router wraps native coins before bridging them and unwraps WETH the
// mediator releases to it.
type Router struct {
	address common.Address
	owner   common.Address
	weth    *WETH
	bridge  Bridge
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for commit notices.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter deploys a router at addr on c. owner may claim tokens stuck in
// the router.
func NewRouter(addr, owner common.Address, c *chain.Chain, weth *WETH, bridge Bridge, opts ...Option) (*Router, error) {
	if addr == (common.Address{}) || owner == (common.Address{}) {
		return nil, fmt.Errorf("weth: router and owner addresses are required")
	}
	if weth == nil || bridge == nil {
		return nil, fmt.Errorf("weth: token and bridge are required")
	}
	r := &Router{address: addr, owner: owner, weth: weth, bridge: bridge, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	c.Deploy(addr, r)
	return r, nil
}

// Address of the router.
func (r *Router) Address() common.Address { return r.address }

// WETH returns the wrapped token the router handles.
func (r *Router) WETH() *WETH { return r.weth }

func (r *Router) wrap(tx *chain.Tx, caller common.Address, value *big.Int) error {
	if err := r.weth.Install(tx); err != nil {
		return err
	}
	ledger := token.NewLedger(tx)
	if err := ledger.TransferCoins(caller, r.address, value); err != nil {
		return err
	}
	if err := r.weth.Deposit(tx, r.address, value); err != nil {
		return err
	}
	return ledger.Approve(r.weth.address, r.address, r.bridge.Address(), value)
}

// WrapAndRelayTokens wraps value coins of caller and bridges them to
// receiver.
func (r *Router) WrapAndRelayTokens(tx *chain.Tx, caller, receiver common.Address, value *big.Int) (common.Hash, error) {
	if value == nil || value.Sign() <= 0 {
		return common.Hash{}, ErrInvalidValue
	}
	if err := r.wrap(tx, caller, value); err != nil {
		return common.Hash{}, err
	}
	return r.bridge.RelayTokensTo(tx, r.address, r.weth.address, receiver, value)
}

// WrapAndRelayTokensAndCall wraps value coins of caller and bridges them to
// receiver, handing data to receiver on arrival.
func (r *Router) WrapAndRelayTokensAndCall(tx *chain.Tx, caller, receiver common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if value == nil || value.Sign() <= 0 {
		return common.Hash{}, ErrInvalidValue
	}
	if err := r.wrap(tx, caller, value); err != nil {
		return common.Hash{}, err
	}
	return r.bridge.RelayTokensAndCall(tx, r.address, r.weth.address, receiver, value, data)
}

// OnTokenTransfer unwraps WETH the mediator released to the router and sends
// the coins to the 20-byte receiver in data. Only the mediator's recipient
// notification may trigger it.
func (r *Router) OnTokenTransfer(tx *chain.Tx, tokenAddr, from common.Address, amount *big.Int, data []byte) error {
	cb, ok := token.Current(tx)
	if !ok || cb.Moved || cb.From != r.bridge.Address() || from != cb.From || cb.To != r.address {
		return fmt.Errorf("%w: only the mediator may unwrap", ErrUnauthorized)
	}
	if tokenAddr != r.weth.address || cb.Token != tokenAddr {
		return fmt.Errorf("%w: %s", ErrInvalidToken, tokenAddr.Hex())
	}
	if len(data) != common.AddressLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidData, len(data))
	}
	if amount == nil || cb.Amount.Cmp(amount) != 0 {
		return ErrInvalidValue
	}
	receiver := common.BytesToAddress(data)
	if err := r.weth.Withdraw(tx, r.address, amount); err != nil {
		return err
	}
	if err := token.NewLedger(tx).TransferCoins(r.address, receiver, amount); err != nil {
		return err
	}
	value := new(big.Int).Set(amount)
	tx.OnCommit(func() {
		r.logger.Info("native coins unwrapped", "receiver", receiver.Hex(), "value", value.String())
	})
	return nil
}

// ClaimTokens sends the router's whole balance of tokenAddr to recipient.
// The zero token address claims native coins.
func (r *Router) ClaimTokens(tx *chain.Tx, caller, tokenAddr, recipient common.Address) (*big.Int, error) {
	if caller != r.owner {
		return nil, fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("weth: zero recipient")
	}
	ledger := token.NewLedger(tx)
	if tokenAddr == (common.Address{}) {
		bal, err := ledger.CoinBalance(r.address)
		if err != nil {
			return nil, err
		}
		if bal.Sign() == 0 {
			return bal, nil
		}
		return bal, ledger.TransferCoins(r.address, recipient, bal)
	}
	bal, err := ledger.BalanceOf(tokenAddr, r.address)
	if err != nil {
		return nil, err
	}
	if bal.Sign() == 0 {
		return bal, nil
	}
	return bal, ledger.Transfer(tokenAddr, r.address, recipient, bal)
}
