package forwarding

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/state"
	"omnibridge/storage"
)

func TestDestinationLane(t *testing.T) {
	r := NewRules(state.NewManager(storage.NewMemDB()))
	token := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	user2 := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	lane := func(sender, receiver common.Address) Lane {
		t.Helper()
		got, err := r.DestinationLane(token, sender, receiver)
		require.NoError(t, err)
		return got
	}

	require.Equal(t, LaneDefault, lane(user, user2))

	require.NoError(t, r.SetTokenRule(token, true))
	require.Equal(t, LaneManual, lane(user, user2))

	require.NoError(t, r.SetSenderExceptionForTokenRule(token, user, true))
	require.Equal(t, LaneOracle, lane(user, user2))
	require.Equal(t, LaneManual, lane(user2, user2))

	require.NoError(t, r.SetSenderExceptionForTokenRule(token, user, false))
	require.NoError(t, r.SetReceiverExceptionForTokenRule(token, user, true))
	require.Equal(t, LaneOracle, lane(user, user))
	require.Equal(t, LaneManual, lane(user, user2))

	require.NoError(t, r.SetTokenRule(token, false))
	require.Equal(t, LaneDefault, lane(user2, user2))

	require.NoError(t, r.SetSenderRule(user2, true))
	require.Equal(t, LaneManual, lane(user2, user2))

	require.NoError(t, r.SetReceiverRule(user2, true))
	require.Equal(t, LaneManual, lane(user, user2))
}

func TestLaneDataType(t *testing.T) {
	require.Equal(t, DataTypeManual, LaneManual.DataType())
	require.Equal(t, byte(0), LaneDefault.DataType())
	require.Equal(t, byte(0), LaneOracle.DataType())
	require.Equal(t, LaneManual, decodeLane(encodeLane(LaneManual)))
}
