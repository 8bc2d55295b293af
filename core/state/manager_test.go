package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/storage"
)

type storedRecord struct {
	Token common.Address
	Value *big.Int
	Fixed bool
}

func TestManagerKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	record := storedRecord{Token: common.HexToAddress("0x01"), Value: big.NewInt(42), Fixed: true}
	require.NoError(t, mgr.KVPut([]byte("record/1"), record))

	var loaded storedRecord
	ok, err := mgr.KVGet([]byte("record/1"), &loaded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Token, loaded.Token)
	require.Zero(t, loaded.Value.Cmp(big.NewInt(42)))
	require.True(t, loaded.Fixed)

	ok, err = mgr.KVGet([]byte("record/2"), &loaded)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVDelete([]byte("record/1")))
	ok, err = mgr.KVGet([]byte("record/1"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("index")
	require.NoError(t, mgr.KVAppend(key, []byte{0x01}))
	require.NoError(t, mgr.KVAppend(key, []byte{0x02}))
	require.NoError(t, mgr.KVAppend(key, []byte{0x01}))

	var list [][]byte
	require.NoError(t, mgr.KVGetList(key, &list))
	require.Equal(t, [][]byte{{0x01}, {0x02}}, list)

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("missing"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestJournalCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(1)))

	j := mgr.Begin()
	require.NoError(t, j.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, j.KVPut([]byte("b"), uint64(3)))

	var v uint64
	ok, err := j.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), v)

	ok, err = mgr.KVGet([]byte("b"), &v)
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write leaked into the manager")

	j.Discard()
	ok, err = mgr.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	j = mgr.Begin()
	require.NoError(t, j.KVDelete([]byte("a")))
	require.NoError(t, j.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, j.Commit())

	ok, err = mgr.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = mgr.KVGet([]byte("b"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), v)

	err = j.KVPut([]byte("c"), uint64(1))
	require.Error(t, err)
}

func TestJournalSnapshots(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	j := mgr.Begin()
	require.NoError(t, j.KVPut([]byte("a"), uint64(1)))
	snap := j.Snapshot()
	require.NoError(t, j.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, j.KVPut([]byte("b"), uint64(5)))
	j.RevertToSnapshot(snap)

	var v uint64
	ok, err := j.KVGet([]byte("a"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
	ok, err = j.KVGet([]byte("b"), &v)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureStateVersion(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, EnsureStateVersion(mgr, nil))
	version, ok, err := ReadStateVersion(mgr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, SetStateVersion(mgr, StateVersion+1))
	err = EnsureStateVersion(mgr, nil)
	require.True(t, errors.Is(err, ErrStateVersionMismatch))

	require.NoError(t, SetStateVersion(mgr, 0))
	migrated := false
	require.NoError(t, EnsureStateVersion(mgr, []Migration{{From: 0, Apply: func(KV) error {
		migrated = true
		return nil
	}}}))
	require.True(t, migrated)
}
