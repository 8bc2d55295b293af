package weth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/amb"
	"omnibridge/core/chain"
	"omnibridge/native/limits"
	"omnibridge/native/mediator"
	"omnibridge/native/token"
	"omnibridge/storage"
)

var (
	bridgeAddr          = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	factoryAddr         = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	homeMediatorAddr    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	foreignMediatorAddr = common.HexToAddress("0x0000000000000000000000000000000000002001")
	wethAddr            = common.HexToAddress("0x0000000000000000000000000000000000003001")
	routerAddr          = common.HexToAddress("0x0000000000000000000000000000000000003002")
	ownerAddr           = common.HexToAddress("0x000000000000000000000000000000000000000a")
	userAddr            = common.HexToAddress("0x000000000000000000000000000000000000000b")
	otherUserAddr       = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

type fixture struct {
	home, foreign *chain.Chain
	bus           *amb.Bus
	homeM         *mediator.Mediator
	foreignM      *mediator.Mediator
	router        *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		home:    chain.New("home", 100, storage.NewMemDB()),
		foreign: chain.New("foreign", 1, storage.NewMemDB()),
	}
	homeEndpoint := amb.NewEndpoint(bridgeAddr, f.home, 2_000_000)
	foreignEndpoint := amb.NewEndpoint(bridgeAddr, f.foreign, 2_000_000)
	bus, err := amb.Connect(homeEndpoint, foreignEndpoint)
	require.NoError(t, err)
	f.bus = bus

	f.homeM, err = mediator.New(homeMediatorAddr, mediator.Home, f.home, homeEndpoint.Port(homeMediatorAddr))
	require.NoError(t, err)
	f.foreignM, err = mediator.New(foreignMediatorAddr, mediator.Foreign, f.foreign, foreignEndpoint.Port(foreignMediatorAddr))
	require.NoError(t, err)
	homeEndpoint.Register(homeMediatorAddr, f.homeM)
	foreignEndpoint.Register(foreignMediatorAddr, f.foreignM)

	caps := limits.Limits{
		DailyLimit:          ether(10),
		MaxPerTx:            ether(5),
		MinPerTx:            big.NewInt(1),
		ExecutionDailyLimit: ether(10),
		ExecutionMaxPerTx:   ether(5),
	}
	for _, side := range []struct {
		c           *chain.Chain
		m           *mediator.Mediator
		counterpart common.Address
		suffix      string
	}{
		{f.home, f.homeM, foreignMediatorAddr, " on xDai"},
		{f.foreign, f.foreignM, homeMediatorAddr, " on Mainnet"},
	} {
		_, err := side.c.Execute(func(tx *chain.Tx) error {
			return side.m.Initialize(tx, mediator.Config{
				Bridge:          bridgeAddr,
				Counterpart:     side.counterpart,
				Owner:           ownerAddr,
				TokenFactory:    factoryAddr,
				Limits:          caps,
				RequestGasLimit: 1_000_000,
				NameSuffix:      side.suffix,
			})
		})
		require.NoError(t, err)
	}

	f.router, err = NewRouter(routerAddr, ownerAddr, f.foreign, New(wethAddr), f.foreignM)
	require.NoError(t, err)
	_, err = f.foreign.Execute(func(tx *chain.Tx) error {
		return token.NewLedger(tx).CreditCoins(userAddr, ether(10))
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) coins(t *testing.T, owner common.Address) *big.Int {
	t.Helper()
	var out *big.Int
	require.NoError(t, f.foreign.Call(func(tx *chain.Tx) error {
		var err error
		out, err = token.NewLedger(tx).CoinBalance(owner)
		return err
	}))
	return out
}

func (f *fixture) balance(t *testing.T, c *chain.Chain, tokenAddr, owner common.Address) *big.Int {
	t.Helper()
	var out *big.Int
	require.NoError(t, c.Call(func(tx *chain.Tx) error {
		var err error
		out, err = token.NewLedger(tx).BalanceOf(tokenAddr, owner)
		return err
	}))
	return out
}

func (f *fixture) wrapAndRelay(t *testing.T, receiver common.Address, value *big.Int) common.Hash {
	t.Helper()
	var id common.Hash
	_, err := f.foreign.Execute(func(tx *chain.Tx) error {
		var err error
		id, err = f.router.WrapAndRelayTokens(tx, userAddr, receiver, value)
		return err
	})
	require.NoError(t, err)
	return id
}

func requireAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zerof(t, want.Cmp(got), "want %s, got %s", want, got)
}

func TestWrapAndRelayLocksCoinsAsWETH(t *testing.T) {
	f := newFixture(t)
	id := f.wrapAndRelay(t, otherUserAddr, ether(2))

	requireAmount(t, ether(8), f.coins(t, userAddr))
	requireAmount(t, ether(2), f.coins(t, wethAddr))
	requireAmount(t, ether(2), f.balance(t, f.foreign, wethAddr, foreignMediatorAddr))
	requireAmount(t, big.NewInt(0), f.balance(t, f.foreign, wethAddr, routerAddr))

	result, err := f.bus.Deliver(id)
	require.NoError(t, err)
	require.True(t, result.Status)

	bridged, err := f.homeM.BridgedTokenAddress(wethAddr)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, bridged)
	requireAmount(t, ether(2), f.balance(t, f.home, bridged, otherUserAddr))
}

func TestWrapAndRelayTokensAndCallForwardsData(t *testing.T) {
	f := newFixture(t)
	var id common.Hash
	_, err := f.foreign.Execute(func(tx *chain.Tx) error {
		var err error
		id, err = f.router.WrapAndRelayTokensAndCall(tx, userAddr, otherUserAddr, ether(1), []byte{0x01, 0x02})
		return err
	})
	require.NoError(t, err)

	msg, ok := f.bus.Message(id)
	require.True(t, ok)
	call, err := mediator.Decode(msg.Data)
	require.NoError(t, err)
	require.True(t, call.WithCall)
	require.Equal(t, []byte{0x01, 0x02}, call.Data)
	require.Equal(t, otherUserAddr, call.Recipient)
}

func TestWrapRequiresCoins(t *testing.T) {
	f := newFixture(t)
	_, err := f.foreign.Execute(func(tx *chain.Tx) error {
		_, err := f.router.WrapAndRelayTokens(tx, otherUserAddr, otherUserAddr, ether(1))
		return err
	})
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	_, err = f.foreign.Execute(func(tx *chain.Tx) error {
		_, err := f.router.WrapAndRelayTokens(tx, userAddr, userAddr, big.NewInt(0))
		return err
	})
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestNativeRoundTripUnwrapsToReceiver(t *testing.T) {
	f := newFixture(t)
	_, err := f.bus.Deliver(f.wrapAndRelay(t, userAddr, ether(3)))
	require.NoError(t, err)
	bridged, err := f.homeM.BridgedTokenAddress(wethAddr)
	require.NoError(t, err)

	var id common.Hash
	_, err = f.home.Execute(func(tx *chain.Tx) error {
		if err := token.NewLedger(tx).Approve(bridged, userAddr, homeMediatorAddr, ether(3)); err != nil {
			return err
		}
		var err error
		id, err = f.homeM.RelayTokensAndCall(tx, userAddr, bridged, routerAddr, ether(3), otherUserAddr.Bytes())
		return err
	})
	require.NoError(t, err)
	result, err := f.bus.Deliver(id)
	require.NoError(t, err)
	require.True(t, result.Status)

	requireAmount(t, ether(3), f.coins(t, otherUserAddr))
	requireAmount(t, ether(7), f.coins(t, userAddr))
	requireAmount(t, big.NewInt(0), f.coins(t, wethAddr))
	requireAmount(t, big.NewInt(0), f.balance(t, f.foreign, wethAddr, routerAddr))
	requireAmount(t, big.NewInt(0), f.balance(t, f.foreign, wethAddr, foreignMediatorAddr))
}

func TestUnwrapHookRejectsOtherCallers(t *testing.T) {
	f := newFixture(t)
	_, err := f.foreign.Execute(func(tx *chain.Tx) error {
		return f.router.WETH().Deposit(tx, userAddr, ether(2))
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		run  func(tx *chain.Tx) error
		want error
	}{
		{
			name: "transfer from a user",
			run: func(tx *chain.Tx) error {
				return token.NewLedger(tx).TransferAndCall(wethAddr, userAddr, routerAddr, ether(1), userAddr.Bytes())
			},
			want: ErrUnauthorized,
		},
		{
			name: "notification from a user",
			run: func(tx *chain.Tx) error {
				return token.NewLedger(tx).Notify(wethAddr, userAddr, routerAddr, ether(1), userAddr.Bytes())
			},
			want: ErrUnauthorized,
		},
		{
			name: "direct call",
			run: func(tx *chain.Tx) error {
				return f.router.OnTokenTransfer(tx, wethAddr, foreignMediatorAddr, ether(1), userAddr.Bytes())
			},
			want: ErrUnauthorized,
		},
		{
			name: "other token",
			run: func(tx *chain.Tx) error {
				return token.NewLedger(tx).Notify(common.HexToAddress("0x7001"), foreignMediatorAddr, routerAddr, ether(1), userAddr.Bytes())
			},
			want: ErrInvalidToken,
		},
		{
			name: "short receiver",
			run: func(tx *chain.Tx) error {
				return token.NewLedger(tx).Notify(wethAddr, foreignMediatorAddr, routerAddr, ether(1), []byte{0x01})
			},
			want: ErrInvalidData,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.foreign.Execute(tc.run)
			require.ErrorIs(t, err, tc.want)
		})
	}
	requireAmount(t, ether(8), f.coins(t, userAddr))
	requireAmount(t, ether(2), f.balance(t, f.foreign, wethAddr, userAddr))
}

func TestClaimTokensIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.foreign.Execute(func(tx *chain.Tx) error {
		l := token.NewLedger(tx)
		if err := l.TransferCoins(userAddr, routerAddr, ether(1)); err != nil {
			return err
		}
		if err := f.router.WETH().Deposit(tx, userAddr, ether(2)); err != nil {
			return err
		}
		return l.Transfer(wethAddr, userAddr, routerAddr, ether(2))
	})
	require.NoError(t, err)

	_, err = f.foreign.Execute(func(tx *chain.Tx) error {
		_, err := f.router.ClaimTokens(tx, userAddr, common.Address{}, userAddr)
		return err
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	var coins, wrapped *big.Int
	_, err = f.foreign.Execute(func(tx *chain.Tx) error {
		var err error
		if coins, err = f.router.ClaimTokens(tx, ownerAddr, common.Address{}, otherUserAddr); err != nil {
			return err
		}
		wrapped, err = f.router.ClaimTokens(tx, ownerAddr, wethAddr, otherUserAddr)
		return err
	})
	require.NoError(t, err)
	requireAmount(t, ether(1), coins)
	requireAmount(t, ether(2), wrapped)
	requireAmount(t, ether(1), f.coins(t, otherUserAddr))
	requireAmount(t, ether(2), f.balance(t, f.foreign, wethAddr, otherUserAddr))
}
