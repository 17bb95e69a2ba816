package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreBlobRoundTrip(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.PutBlob("blob1", []byte("hello")))

	got, err := store.GetBlob("blob1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, store.DeleteBlob("blob1"))
	_, err = store.GetBlob("blob1")
	assert.ErrorIs(t, err, ErrBlobNotFound{ID: "blob1"})
}

func TestBoltStoreDeleteAbsentBlobIsNotError(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.DeleteBlob("nope"))
}

func TestBoltStoreSnapshotSubtreesAreIsolated(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.PutSnapshot("channels", "store1", []byte("new")))
	require.NoError(t, store.PutSnapshot("legacy", "store1", []byte("old")))

	gotNew, err := store.GetSnapshot("channels", "store1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), gotNew)

	gotOld, err := store.GetSnapshot("legacy", "store1")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), gotOld)

	ids, err := store.ListSnapshotIDs("channels")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"store1"}, ids)
}

func TestBoltStoreGetSnapshotMissingSubtree(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetSnapshot("channels", "nope")
	assert.Error(t, err)
}

func TestBoltStoreListSnapshotIDsEmptySubtree(t *testing.T) {
	store := openTestStore(t)
	ids, err := store.ListSnapshotIDs("channels")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
