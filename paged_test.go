package paged_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nibblestore/paged"
	"github.com/nibblestore/paged/internal/nibble"
)

func TestOpenBeginWriteCommitBeginReadRoundTrip(t *testing.T) {
	db, err := paged.Open(paged.Options{})
	require.NoError(t, err)

	wr, err := db.BeginWrite([32]byte{})
	require.NoError(t, err)
	require.NoError(t, wr.Set(nibble.FromKey([]byte("alice")), []byte("100")))

	newHash := [32]byte{0x01}
	_, err = wr.Commit(1, newHash)
	require.NoError(t, err)

	reader, err := db.BeginRead(newHash)
	require.NoError(t, err)
	defer reader.Close()

	v, ok, err := reader.Get([]byte("alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", string(v))

	require.NoError(t, db.Close())
}

func TestBeginReadAtGenesisFindsNothing(t *testing.T) {
	db, err := paged.Open(paged.Options{})
	require.NoError(t, err)
	defer db.Close()

	reader, err := db.BeginRead([32]byte{})
	require.NoError(t, err)
	defer reader.Close()

	_, ok, err := reader.Get([]byte("nobody"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotIsolationAcrossTwoWriters(t *testing.T) {
	db, err := paged.Open(paged.Options{})
	require.NoError(t, err)
	defer db.Close()

	wr1, err := db.BeginWrite([32]byte{})
	require.NoError(t, err)
	require.NoError(t, wr1.Set(nibble.FromKey([]byte("k")), []byte("v1")))
	hash1, err := wr1.Commit(1, [32]byte{1})
	require.NoError(t, err)

	reader, err := db.BeginRead([32]byte{})
	require.NoError(t, err)
	_, ok, err := reader.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "a reader pinned to the genesis hash must not see a later commit")
	reader.Close()

	reader2, err := db.BeginRead(hash1)
	require.NoError(t, err)
	defer reader2.Close()
	v, ok, err := reader2.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestReopenAfterCloseRoundTripsThroughFileBackedStore(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/store.paged"

	db, err := paged.Open(paged.Options{Path: path})
	require.NoError(t, err)

	wr, err := db.BeginWrite([32]byte{})
	require.NoError(t, err)
	require.NoError(t, wr.Set(nibble.FromKey([]byte("persisted")), []byte("yes")))
	hash, err := wr.Commit(1, [32]byte{9})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := paged.Open(paged.Options{Path: path})
	require.NoError(t, err)
	defer db2.Close()

	reader, err := db2.BeginRead(hash)
	require.NoError(t, err)
	defer reader.Close()
	v, ok, err := reader.Get([]byte("persisted"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "yes", string(v))
}
