package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/kv"
)

type stubLocker struct {
	released      []string
	reloadCalled  int
	acquireErr    error
}

func (s *stubLocker) AcquireTableSchemaWriteLock(_ context.Context, schemaName, tableName string) (func(), error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	key := schemaName + "." + tableName
	return func() { s.released = append(s.released, key) }, nil
}

func (s *stubLocker) MarkShouldReloadSchema() { s.reloadCalled++ }

func newTestHandle(t *testing.T) (*Handle, *stubLocker, func()) {
	t.Helper()
	backend, err := kv.OpenInMemory()
	require.NoError(t, err)
	locker := &stubLocker{}
	h := New(backend.NewTransaction(), locker)
	return h, locker, func() { backend.Close() }
}

func TestLockUnlockSharedRoundTrip(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Lock(false))
	require.NoError(t, h.Lock(false))
	require.Equal(t, uint64(3), h.state.Load())

	h.Unlock()
	require.Equal(t, uint64(2), h.state.Load())
	h.Unlock()
	require.Equal(t, uint64(stateFree), h.state.Load())
}

func TestExclusiveLockRejectedWhileSharedHeld(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Lock(false))
	err := h.Lock(true)
	require.Error(t, err)
}

func TestSharedLockRejectedWhileWriteLocked(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Lock(true))
	err := h.Lock(false)
	require.Error(t, err)

	h.Unlock()
	require.Equal(t, uint64(stateFree), h.state.Load())
}

func TestLockRejectedAfterClose(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Close())
	require.True(t, h.Closed())
	require.Error(t, h.Lock(false))
}

func TestCloseRequiresFree(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Lock(false))
	require.Error(t, h.Close())
	h.Unlock()
	require.NoError(t, h.Close())
}

func TestCommitReleasesLockedTablesAndFlagsReload(t *testing.T) {
	h, locker, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.AcquireTableSchemaWriteLock(context.Background(), "public", "widgets"))
	require.NoError(t, h.Commit())

	require.True(t, h.Closed())
	require.Equal(t, 1, locker.reloadCalled)
	require.Equal(t, []string{"public.widgets"}, locker.released)
}

func TestRollbackAfterCommitReturnsNoError(t *testing.T) {
	h, _, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.Commit())
	err := h.Rollback()
	require.NoError(t, err)
}

func TestAcquireTableSchemaWriteLockIsIdempotentPerTransaction(t *testing.T) {
	h, locker, cleanup := newTestHandle(t)
	defer cleanup()

	require.NoError(t, h.AcquireTableSchemaWriteLock(context.Background(), "public", "widgets"))
	require.NoError(t, h.AcquireTableSchemaWriteLock(context.Background(), "public", "widgets"))
	require.NoError(t, h.Close())
	require.Equal(t, []string{"public.widgets"}, locker.released)
}
