package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

func newFactory(t *testing.T) *StorageFactory {
	t.Helper()
	backend, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewStorageFactory("testdb", backend, nil)
}

func TestBeginTransactionTracksActiveCount(t *testing.T) {
	f := newFactory(t)

	txn1, err := f.BeginTransaction("public")
	require.NoError(t, err)
	txn2, err := f.BeginTransaction("public")
	require.NoError(t, err)
	require.Equal(t, 2, f.ActiveTransactions())

	require.NoError(t, txn1.Commit())
	require.NoError(t, txn2.Rollback())
	require.Equal(t, 0, f.ActiveTransactions())
}

func TestBeginTransactionRefusedAfterShutdown(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.GracefulShutdown(context.Background()))

	_, err := f.BeginTransaction("public")
	require.Error(t, err)
	ae, ok := err.(*arenaerrors.Error)
	require.True(t, ok)
	require.Equal(t, arenaerrors.KindDatabaseClosed, ae.Kind)
}

func TestGracefulShutdownWaitsForActiveTransactions(t *testing.T) {
	f := newFactory(t)
	txn, err := f.BeginTransaction("public")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.GracefulShutdown(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned while a transaction was active")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, txn.Rollback())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not observe the last transaction")
	}
}

func TestDDLCommitTriggersSchemaReload(t *testing.T) {
	f := newFactory(t)

	// first transaction creates and persists a table, holding its schema lock
	txn, err := f.BeginTransaction("public")
	require.NoError(t, err)
	table := &schema.Table{
		ID:   1,
		Name: "widgets",
		Columns: []schema.Column{
			{ID: 0, Name: "id", DataType: schema.DataType{Kind: schema.Int64}, Properties: schema.ColumnProperties{Nullable: false}},
		},
		NextColumnID: 1,
	}
	require.NoError(t, storage.PutTableSchema(txn.KV(), "public", table))
	require.NoError(t, txn.Handle().AcquireTableSchemaWriteLock(context.Background(), "public", "widgets"))
	require.NoError(t, txn.Commit())

	f.mu.Lock()
	reload := f.shouldReload
	f.mu.Unlock()
	require.True(t, reload, "commit of a lock-holding transaction must flag a reload")

	// the next transaction rebuilds factories and sees the new table
	txn2, err := f.BeginTransaction("public")
	require.NoError(t, err)
	defer txn2.Rollback()
	got, ok, err := txn2.GetTable("public", "widgets")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), got.ID)
}

func TestOverrideTableVisibleWithinTransactionOnly(t *testing.T) {
	f := newFactory(t)
	txn, err := f.BeginTransaction("public")
	require.NoError(t, err)
	defer txn.Rollback()

	table := &schema.Table{ID: 9, Name: "ephemeral"}
	txn.OverrideTable("public", "ephemeral", table)

	got, ok, err := txn.GetTable("public", "ephemeral")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(9), got.ID)

	other, err := f.BeginTransaction("public")
	require.NoError(t, err)
	defer other.Rollback()
	_, ok, err = other.GetTable("public", "ephemeral")
	require.NoError(t, err)
	require.False(t, ok, "override leaked to another transaction")
}

func TestTableSchemaLockBlocksSecondAcquirer(t *testing.T) {
	f := newFactory(t)
	sf, err := f.SchemaFactoryFor("public")
	require.NoError(t, err)

	release, err := sf.AcquireTableLock(context.Background(), "widgets")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sf.AcquireTableLock(ctx, "widgets")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := sf.AcquireTableLock(context.Background(), "widgets")
	require.NoError(t, err)
	release2()
}

func TestAdvisoryLockFairness(t *testing.T) {
	r := NewAdvisoryRegistry()
	require.NoError(t, r.Acquire(context.Background(), 42, 1))

	order := make(chan uint64, 2)
	var wg sync.WaitGroup
	acquire := func(session uint64) {
		defer wg.Done()
		require.NoError(t, r.Acquire(context.Background(), 42, session))
		order <- session
	}
	wg.Add(2)
	go acquire(2)
	time.Sleep(20 * time.Millisecond) // session 2 queues first
	go acquire(3)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Release(42, 1))
	require.Equal(t, uint64(2), <-order, "FIFO hand-off broken")
	require.NoError(t, r.Release(42, 2))
	require.Equal(t, uint64(3), <-order)
	require.NoError(t, r.Release(42, 3))
	wg.Wait()

	_, held := r.Holder(42)
	require.False(t, held)
}

func TestAdvisoryReleaseRequiresHolder(t *testing.T) {
	r := NewAdvisoryRegistry()
	require.NoError(t, r.Acquire(context.Background(), 7, 1))
	require.Error(t, r.Release(7, 2))
	require.NoError(t, r.Release(7, 1))
}

func TestAdvisoryReleaseSessionDropsHeldLock(t *testing.T) {
	r := NewAdvisoryRegistry()
	require.NoError(t, r.Acquire(context.Background(), 7, 1))
	r.ReleaseSession(1)
	_, held := r.Holder(7)
	require.False(t, held)
}
