package fees

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/events"
	"omnibridge/core/state"
	"omnibridge/native/limits"
	"omnibridge/storage"
)

var (
	rewardA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	rewardB = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	rewardC = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sender  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func newTestManager(t *testing.T) (*Manager, *events.Recorder) {
	t.Helper()
	m := NewManager(state.NewManager(storage.NewMemDB()))
	rec := &events.Recorder{}
	m.SetEmitter(rec)
	return m, rec
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return v
}

// 0.1%
var tenthPercent = big.NewInt(1_000_000_000_000_000)

func TestSetFeeRejectsFullFee(t *testing.T) {
	m, rec := newTestManager(t)
	require.ErrorIs(t, m.SetFee(HomeToForeign, limits.Global(), MaxFee()), ErrInvalidFee)
	require.ErrorIs(t, m.SetFee(HomeToForeign, limits.Global(), big.NewInt(-1)), ErrInvalidFee)
	require.NoError(t, m.SetFee(HomeToForeign, limits.Global(), tenthPercent))
	require.Len(t, rec.OfType(EventTypeFeeUpdated), 1)
}

func TestTokenOverrideFallsBackToDefault(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetFee(HomeToForeign, limits.Global(), tenthPercent))

	fee, err := m.Fee(HomeToForeign, token)
	require.NoError(t, err)
	require.Equal(t, tenthPercent, fee)

	require.NoError(t, m.InitializeToken(token))
	require.NoError(t, m.SetFee(HomeToForeign, limits.Global(), big.NewInt(0)))
	fee, err = m.Fee(HomeToForeign, token)
	require.NoError(t, err)
	require.Equal(t, tenthPercent, fee)

	require.NoError(t, m.SetFee(HomeToForeign, limits.Token(token), big.NewInt(5)))
	fee, err = m.Fee(HomeToForeign, token)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), fee)
}

func TestRewardAddressesArePrepended(t *testing.T) {
	m, rec := newTestManager(t)
	require.NoError(t, m.AddRewardAddress(rewardA))
	require.NoError(t, m.AddRewardAddress(rewardB))
	require.ErrorIs(t, m.AddRewardAddress(rewardA), ErrDuplicateReward)
	require.ErrorIs(t, m.AddRewardAddress(common.Address{}), ErrInvalidRewardAddress)

	list, err := m.RewardAddresses()
	require.NoError(t, err)
	require.Equal(t, []common.Address{rewardB, rewardA}, list)

	require.NoError(t, m.RemoveRewardAddress(rewardB))
	require.ErrorIs(t, m.RemoveRewardAddress(rewardC), ErrUnknownReward)
	count, err := m.RewardAddressCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, rec.OfType(EventTypeRewardAddressAdded), 2)
	require.Len(t, rec.OfType(EventTypeRewardAddressRemoved), 1)
}

func TestApplySkipsWithoutRewardsOrFromRewardAddress(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetFee(HomeToForeign, limits.Global(), tenthPercent))
	amount := mustBig(t, "1000000000000000000")

	res, err := m.Apply(HomeToForeign, token, sender, amount)
	require.NoError(t, err)
	require.Zero(t, res.Fee.Sign())
	require.Equal(t, amount, res.Net)

	require.NoError(t, m.AddRewardAddress(rewardA))
	res, err = m.Apply(HomeToForeign, token, rewardA, amount)
	require.NoError(t, err)
	require.Zero(t, res.Fee.Sign())

	res, err = m.Apply(HomeToForeign, token, sender, amount)
	require.NoError(t, err)
	require.Equal(t, mustBig(t, "1000000000000000"), res.Fee)
	require.Equal(t, mustBig(t, "999000000000000000"), res.Net)
	require.Len(t, res.Shares, 1)
}

func TestSplitRemainderGoesToFirstReceivers(t *testing.T) {
	fee := mustBig(t, "100000000000000001")
	shares := Split(fee, []common.Address{rewardB, rewardA})
	require.Len(t, shares, 2)
	require.Equal(t, rewardB, shares[0].Receiver)
	require.Equal(t, mustBig(t, "50000000000000001"), shares[0].Amount)
	require.Equal(t, mustBig(t, "50000000000000000"), shares[1].Amount)

	shares = Split(big.NewInt(5), []common.Address{rewardA, rewardB, rewardC})
	total := new(big.Int)
	for _, share := range shares {
		total.Add(total, share.Amount)
	}
	require.Equal(t, big.NewInt(5), total)
	require.Equal(t, big.NewInt(2), shares[0].Amount)
	require.Equal(t, big.NewInt(2), shares[1].Amount)
	require.Equal(t, big.NewInt(1), shares[2].Amount)
}

func TestApplyConservesAmount(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetFee(ForeignToHome, limits.Global(), tenthPercent))
	require.NoError(t, m.AddRewardAddress(rewardA))
	require.NoError(t, m.AddRewardAddress(rewardB))
	require.NoError(t, m.AddRewardAddress(rewardC))

	for _, raw := range []string{"1", "999", "100000000000000050", "123456789012345678901"} {
		amount := mustBig(t, raw)
		res, err := m.Apply(ForeignToHome, token, common.Address{}, amount)
		require.NoError(t, err)
		sum := new(big.Int).Set(res.Net)
		for _, share := range res.Shares {
			sum.Add(sum, share.Amount)
		}
		if sum.Cmp(amount) != 0 {
			t.Fatalf("amount %s: net plus shares = %s", raw, sum)
		}
	}
}
