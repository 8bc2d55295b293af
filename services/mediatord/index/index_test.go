package index

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"omnibridge/amb"
	"omnibridge/core/events"
	"omnibridge/core/types"
)

type flatEvent struct{ evt *types.Event }

func (e flatEvent) EventType() string    { return e.evt.Type }
func (e flatEvent) Event() *types.Event { return e.evt }

func setupIndex(t *testing.T) *Index {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	idx, err := New(db, nil)
	require.NoError(t, err)
	idx.NameChain(100, "home")
	idx.NameChain(1, "foreign")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testMessage() *amb.Message {
	sender := common.HexToAddress("0x1001")
	return &amb.Message{
		ID:                 amb.MessageID(100, 1, 1, sender),
		SourceChainID:      100,
		DestinationChainID: 1,
		Nonce:              1,
		Sender:             sender,
		Executor:           common.HexToAddress("0x2001"),
		Gas:                1_000_000,
		Data:               []byte{0x12, 0x5c, 0xfb},
	}
}

func TestIndexTracksMessageLifecycle(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	msg := testMessage()
	tokenAddr := common.HexToAddress("0x7002")
	user := common.HexToAddress("0x0b")

	home := idx.Emitter("home")
	foreign := idx.Emitter("foreign")

	home.Emit(flatEvent{amb.NewUserRequestEvent(msg)})
	home.Emit(events.TokensBridgingInitiated{Token: tokenAddr, Sender: user, Value: big.NewInt(5), MessageID: msg.ID})

	row, err := idx.Message(ctx, msg.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusPending, row.Status)
	require.Equal(t, "home", row.SourceChain)
	require.Equal(t, "foreign", row.DestinationChain)
	require.Equal(t, tokenAddr.Hex(), row.Token)
	require.Equal(t, "5", row.Value)
	require.False(t, row.Manual)

	foreign.Emit(flatEvent{amb.NewRelayedMessageEvent(msg, false, "limits: execution limit exceeded")})
	row, err = idx.Message(ctx, msg.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, row.Status)
	require.Contains(t, row.Error, "execution limit")

	home.Emit(events.FailedMessageFixed{MessageID: msg.ID, Token: tokenAddr, Recipient: user, Value: big.NewInt(5)})
	row, err = idx.Message(ctx, msg.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusFixed, row.Status)

	// A replayed execution report must not resurrect a fixed message.
	foreign.Emit(flatEvent{amb.NewRelayedMessageEvent(msg, true, "")})
	row, err = idx.Message(ctx, msg.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusFixed, row.Status)

	rows, err := idx.Events(ctx, msg.ID.Hex())
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestIndexListsMessagesByFilter(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	manual := testMessage()
	manual.DataType = amb.DataTypeManual
	idx.Emitter("home").Emit(flatEvent{amb.NewUserRequestEvent(manual)})

	other := testMessage()
	other.Nonce = 2
	other.ID = amb.MessageID(1, 100, 2, other.Sender)
	other.DestinationChainID = 100
	idx.Emitter("foreign").Emit(flatEvent{amb.NewUserRequestEvent(other)})

	rows, err := idx.Messages(ctx, Filter{Chain: "home"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Manual)

	rows, err = idx.Messages(ctx, Filter{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	_, err = idx.Message(ctx, common.Hash{}.Hex())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIndexSkipsOrphanFeeEvents(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	id := testMessage().ID
	idx.Emitter("home").Emit(events.FeeDistributed{Fee: big.NewInt(1), Token: common.HexToAddress("0x7002"), MessageID: id})

	_, err := idx.Message(ctx, id.Hex())
	require.ErrorIs(t, err, ErrNotFound)
	rows, err := idx.Events(ctx, id.Hex())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, events.TypeFeeDistributed, rows[0].Type)
}
