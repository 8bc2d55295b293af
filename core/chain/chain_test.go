package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/events"
	"omnibridge/storage"
)

var counterKey = []byte("counter")

func bridged(id byte) events.TokensBridged {
	return events.TokensBridged{Value: big.NewInt(1), MessageID: common.Hash{id}}
}

func readCounter(t *testing.T, c *Chain) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, c.Call(func(tx *Tx) error {
		_, err := tx.KVGet(counterKey, &n)
		return err
	}))
	return n
}

func TestExecuteCommitsAndEmitsAfterCommit(t *testing.T) {
	c := New("home", 100, storage.NewMemDB())
	c.SetNowFunc(func() int64 { return 42 })
	recorder := &events.Recorder{}
	c.SetEmitter(recorder)

	committed := false
	receipt, err := c.Execute(func(tx *Tx) error {
		tx.Emit(bridged(1))
		tx.OnCommit(func() { committed = true })
		require.Empty(t, recorder.Events())
		return tx.KVPut(counterKey, uint64(7))
	})
	require.NoError(t, err)
	require.True(t, receipt.Status)
	require.Equal(t, int64(42), receipt.Timestamp)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, events.TypeTokensBridged, receipt.Events[0].Type)
	require.True(t, committed)
	require.Len(t, recorder.Events(), 1)
	require.Equal(t, uint64(7), readCounter(t, c))
}

func TestExecuteDiscardsFailedTransaction(t *testing.T) {
	c := New("home", 100, storage.NewMemDB())
	recorder := &events.Recorder{}
	c.SetEmitter(recorder)
	boom := errors.New("boom")

	receipt, err := c.Execute(func(tx *Tx) error {
		require.NoError(t, tx.KVPut(counterKey, uint64(1)))
		tx.Emit(bridged(1))
		tx.OnCommit(func() { t.Fatal("hook ran for a failed transaction") })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, receipt.Status)
	require.Equal(t, "boom", receipt.Error)
	require.Empty(t, recorder.Events())
	require.Zero(t, readCounter(t, c))
}

func TestTryRollsBackNestedScope(t *testing.T) {
	c := New("foreign", 1, storage.NewMemDB())
	recorder := &events.Recorder{}
	c.SetEmitter(recorder)

	_, err := c.Execute(func(tx *Tx) error {
		require.NoError(t, tx.KVPut(counterKey, uint64(1)))
		tx.Emit(bridged(1))
		nested := tx.Try(func() error {
			require.NoError(t, tx.KVPut(counterKey, uint64(2)))
			tx.Emit(bridged(2))
			return errors.New("callback reverted")
		})
		require.Error(t, nested)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), readCounter(t, c))
	require.Len(t, recorder.Events(), 1)
}

func TestCallDropsWrites(t *testing.T) {
	c := New("home", 100, storage.NewMemDB())
	require.NoError(t, c.Call(func(tx *Tx) error {
		return tx.KVPut(counterKey, uint64(9))
	}))
	require.Zero(t, readCounter(t, c))
}
