package gaslimit

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/state"
	"omnibridge/storage"
)

func TestResolvePrecedence(t *testing.T) {
	m := NewManager(state.NewManager(storage.NewMemDB()), 2_000_000)
	sel := Selector{0x12, 0x5e, 0x4c, 0xfb}
	token := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	payload := append(sel[:], make([]byte, 96)...)

	require.NoError(t, m.SetDefault(1_000_000))
	gas, err := m.Resolve(payload, token)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), gas)

	require.NoError(t, m.SetForSelector(sel, 300_000))
	require.NoError(t, m.SetForToken(sel, token, 500_000))

	gas, err = m.Resolve(payload, token)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), gas)

	gas, err = m.Resolve(payload, other)
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), gas)

	require.NoError(t, m.SetForToken(sel, token, 0))
	gas, err = m.Resolve(payload, token)
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), gas)

	gas, err = m.Resolve([]byte{0x01}, token)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), gas)
}

func TestGasAboveTransportMaximumRejected(t *testing.T) {
	m := NewManager(state.NewManager(storage.NewMemDB()), 2_000_000)
	require.ErrorIs(t, m.SetDefault(2_000_001), ErrGasLimitTooHigh)
	require.ErrorIs(t, m.SetForSelector(Selector{1}, 3_000_000), ErrGasLimitTooHigh)
	require.NoError(t, m.SetDefault(2_000_000))
}
