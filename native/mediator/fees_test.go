package mediator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/chain"
	"omnibridge/core/events"
	"omnibridge/native/fees"
	"omnibridge/native/limits"
)

func onePercentFees() FeeConfig {
	return FeeConfig{
		HomeToForeign:   ether("0.01"),
		ForeignToHome:   ether("0.01"),
		RewardAddresses: []common.Address{rewardOne, rewardTwo},
	}
}

func TestHomeFeesConserveValue(t *testing.T) {
	b := newTestBridge(t, withHomeFees(onePercentFees()))

	out := b.relay(t, b.homeM, userAddr, homeTokenAddr, ether("1"))
	_, call := b.decodeOutgoing(t, out)
	require.Equal(t, CallDeployAndHandle, call.Kind)
	requireAmount(t, ether("0.99"), call.Value)
	requireAmount(t, ether("0.005"), b.balance(t, b.home, homeTokenAddr, rewardOne))
	requireAmount(t, ether("0.005"), b.balance(t, b.home, homeTokenAddr, rewardTwo))

	custody, err := b.homeM.MediatorBalance(homeTokenAddr)
	require.NoError(t, err)
	requireAmount(t, ether("0.99"), custody)
	day, err := b.homeM.CurrentDay()
	require.NoError(t, err)
	spent, err := b.homeM.TotalSpentPerDay(homeTokenAddr, day)
	require.NoError(t, err)
	requireAmount(t, ether("1"), spent)
	require.Len(t, b.homeEvents.OfType(events.TypeFeeDistributed), 1)

	require.True(t, b.deliver(t, out).Status)
	bridged, err := b.foreignM.BridgedTokenAddress(homeTokenAddr)
	require.NoError(t, err)
	requireAmount(t, ether("0.99"), b.balance(t, b.foreign, bridged, userAddr))
	require.Equal(t, "Home Token"+foreignSufix, b.metadata(t, b.foreign, bridged).Name)

	back := b.relay(t, b.foreignM, userAddr, bridged, ether("0.99"))
	result := b.deliver(t, back)
	require.True(t, result.Status, "%v", result.Err)

	user := b.balance(t, b.home, homeTokenAddr, userAddr)
	requireAmount(t, ether("9.9801"), user)
	requireAmount(t, ether("0.00995"), b.balance(t, b.home, homeTokenAddr, rewardOne))
	requireAmount(t, ether("0.00995"), b.balance(t, b.home, homeTokenAddr, rewardTwo))
	custody, err = b.homeM.MediatorBalance(homeTokenAddr)
	require.NoError(t, err)
	require.Zero(t, custody.Sign())
	require.Zero(t, b.balance(t, b.home, homeTokenAddr, homeMediatorAddr).Sign())

	total := new(big.Int).Add(user, b.balance(t, b.home, homeTokenAddr, rewardOne))
	total.Add(total, b.balance(t, b.home, homeTokenAddr, rewardTwo))
	requireAmount(t, ether("10"), total)
}

func TestHomeFeesOnBridgedTokens(t *testing.T) {
	b := newTestBridge(t, withHomeFees(onePercentFees()))

	require.True(t, b.deliver(t, b.relay(t, b.foreignM, userAddr, foreignTokenAddr, ether("1"))).Status)
	bridged, err := b.homeM.BridgedTokenAddress(foreignTokenAddr)
	require.NoError(t, err)
	requireAmount(t, ether("0.99"), b.balance(t, b.home, bridged, userAddr))
	requireAmount(t, ether("0.005"), b.balance(t, b.home, bridged, rewardOne))

	back := b.relay(t, b.homeM, userAddr, bridged, ether("0.5"))
	_, call := b.decodeOutgoing(t, back)
	requireAmount(t, ether("0.495"), call.Value)
	requireAmount(t, ether("0.0075"), b.balance(t, b.home, bridged, rewardOne))
	require.Zero(t, b.balance(t, b.home, bridged, homeMediatorAddr).Sign())

	require.True(t, b.deliver(t, back).Status)
	requireAmount(t, ether("9.495"), b.balance(t, b.foreign, foreignTokenAddr, userAddr))
}

func TestRewardAddressIsExemptFromOutboundFee(t *testing.T) {
	b := newTestBridge(t, withHomeFees(onePercentFees()))
	b.mint(t, b.home, homeTokenAddr, rewardOne, ether("1"))

	id := b.relay(t, b.homeM, rewardOne, homeTokenAddr, ether("1"))
	_, call := b.decodeOutgoing(t, id)
	requireAmount(t, ether("1"), call.Value)
	require.Empty(t, b.homeEvents.OfType(events.TypeFeeDistributed))
}

func TestFeeAdministration(t *testing.T) {
	b := newTestBridge(t, withHomeFees(onePercentFees()))

	_, err := b.foreign.Execute(func(tx *chain.Tx) error {
		return b.foreignM.SetFee(tx, ownerAddr, fees.HomeToForeign, limits.Global(), ether("0.02"))
	})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = b.home.Execute(func(tx *chain.Tx) error {
		return b.homeM.SetFee(tx, userAddr, fees.HomeToForeign, limits.Global(), ether("0.02"))
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = b.home.Execute(func(tx *chain.Tx) error {
		return b.homeM.SetFee(tx, ownerAddr, fees.HomeToForeign, limits.Token(homeTokenAddr), ether("0.02"))
	})
	require.ErrorIs(t, err, ErrUnknownToken)

	b.relay(t, b.homeM, userAddr, homeTokenAddr, ether("0.1"))
	b.exec(t, b.home, func(tx *chain.Tx) error {
		return b.homeM.SetFee(tx, ownerAddr, fees.HomeToForeign, limits.Token(homeTokenAddr), ether("0.02"))
	})
	pct, err := b.homeM.Fee(fees.HomeToForeign, homeTokenAddr)
	require.NoError(t, err)
	requireAmount(t, ether("0.02"), pct)
	fee, err := b.homeM.CalculateFee(fees.HomeToForeign, homeTokenAddr, ether("1"))
	require.NoError(t, err)
	requireAmount(t, ether("0.02"), fee)

	b.exec(t, b.home, func(tx *chain.Tx) error {
		return b.homeM.RemoveRewardAddress(tx, ownerAddr, rewardOne)
	})
	rewards, err := b.homeM.RewardAddresses()
	require.NoError(t, err)
	require.Equal(t, []common.Address{rewardTwo}, rewards)

	b.exec(t, b.home, func(tx *chain.Tx) error {
		return b.homeM.RemoveRewardAddress(tx, ownerAddr, rewardTwo)
	})
	id := b.relay(t, b.homeM, userAddr, homeTokenAddr, ether("0.5"))
	_, call := b.decodeOutgoing(t, id)
	requireAmount(t, ether("0.5"), call.Value)
}
