package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/keys"
)

func TestPutGetDeleteAcrossColumnFamilies(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	txn := backend.NewTransaction()
	require.NoError(t, txn.Put(keys.CFRows, []byte("k"), []byte("row")))
	require.NoError(t, txn.Put(keys.CFSchemas, []byte("k"), []byte("schema")))

	v, ok, err := txn.Get(keys.CFRows, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("row"), v)

	// same key, different family: independent values
	v, ok, err = txn.Get(keys.CFSchemas, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("schema"), v)

	require.NoError(t, txn.Delete(keys.CFRows, []byte("k")))
	_, ok, err = txn.Get(keys.CFRows, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = txn.Get(keys.CFSchemas, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok, "delete must not cross families")
	require.NoError(t, txn.Rollback())
}

func TestScanWithPrefixIsOrderedAndScoped(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	txn := backend.NewTransaction()
	require.NoError(t, txn.PutAll(keys.CFRows, []KV{
		{Key: []byte("a/3"), Value: []byte("3")},
		{Key: []byte("a/1"), Value: []byte("1")},
		{Key: []byte("a/2"), Value: []byte("2")},
		{Key: []byte("b/1"), Value: []byte("x")},
	}))

	it, err := txn.ScanWithPrefix(keys.CFRows, []byte("a/"))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		got = append(got, string(v))
	}
	require.Equal(t, []string{"1", "2", "3"}, got)
	require.NoError(t, txn.Rollback())
}

func TestCommitMakesWritesVisibleToNewTransactions(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	w := backend.NewTransaction()
	require.NoError(t, w.Put(keys.CFRows, []byte("k"), []byte("v")))
	require.NoError(t, w.Commit())

	r := backend.NewTransaction()
	defer r.Rollback()
	v, ok, err := r.Get(keys.CFRows, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestSnapshotIsolation(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	reader := backend.NewTransaction()
	defer reader.Rollback()

	writer := backend.NewTransaction()
	require.NoError(t, writer.Put(keys.CFRows, []byte("k"), []byte("v")))
	require.NoError(t, writer.Commit())

	// the reader's snapshot predates the commit
	_, ok, err := reader.Get(keys.CFRows, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	txn := backend.NewTransaction()
	require.NoError(t, txn.Put(keys.CFRows, []byte("k"), []byte("v")))
	require.NoError(t, txn.Rollback())

	r := backend.NewTransaction()
	defer r.Rollback()
	_, ok, err := r.Get(keys.CFRows, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomicUpdateSeedsAndIncrements(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	txn := backend.NewTransaction()
	defer txn.Rollback()

	bump := func(old []byte, existed bool) ([]byte, error) {
		if !existed {
			return []byte{1}, nil
		}
		return []byte{old[0] + 1}, nil
	}
	v, err := txn.AtomicUpdate(keys.CFLocks, []byte("ctr"), bump)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)
	v, err = txn.AtomicUpdate(keys.CFLocks, []byte("ctr"), bump)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, v)
}

func TestExclusiveGetForUpdateConflictsConcurrentWriters(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	seed := backend.NewTransaction()
	require.NoError(t, seed.Put(keys.CFRows, []byte("k"), []byte("v0")))
	require.NoError(t, seed.Commit())

	a := backend.NewTransaction()
	b := backend.NewTransaction()

	_, ok, err := a.GetForUpdate(keys.CFRows, []byte("k"), true)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = b.GetForUpdate(keys.CFRows, []byte("k"), true)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Commit())
	require.Error(t, b.Commit(), "the second locker must fail its commit")
}

func TestTransactionReuseAfterCommitPanics(t *testing.T) {
	backend, err := OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()

	txn := backend.NewTransaction()
	require.NoError(t, txn.Commit())
	require.Panics(t, func() { _ = txn.Put(keys.CFRows, []byte("k"), []byte("v")) })
}
