// Package txn implements the transaction lifecycle state machine: a
// single atomic counter carrying Unknown, Free, ReadLocked(n),
// WriteLocked, and Closed. Pure sync/atomic: the state machine has exactly
// the shape a lock-free counter gives for free, so no third-party
// concurrency library is warranted.
package txn

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/kv"
)

const (
	stateUnknown = 0
	stateFree    = 1
	// stateWriteLocked and stateClosed bound the ReadLocked(n) range from
	// above: ReadLocked occupies [stateFree+1, stateWriteLocked-1].
	stateWriteLocked = math.MaxUint64 - 1
	stateClosed      = math.MaxUint64
)

// TableLocker is the subset of the schema factory (internal/catalog, C5)
// a Handle needs to acquire/release per-table schema locks and to flag a
// schema reload after a DDL transaction closes.
type TableLocker interface {
	// AcquireTableSchemaWriteLock blocks until the lock is available or ctx
	// is canceled; the returned release func outlives the call, since the
	// lock is held across statement boundaries until commit/rollback.
	AcquireTableSchemaWriteLock(ctx context.Context, schemaName, tableName string) (release func(), err error)
	MarkShouldReloadSchema()
}

// Handle is one transaction's lock state plus its underlying KV
// transaction and the set of table-schema write locks it has acquired.
type Handle struct {
	state atomic.Uint64
	kvTxn kv.Txn
	locks TableLocker

	mu           sync.Mutex
	lockedTables map[string]func()
	commitErr    error
}

// New wraps a fresh kv.Txn in Free state.
func New(kvTxn kv.Txn, locks TableLocker) *Handle {
	h := &Handle{kvTxn: kvTxn, locks: locks}
	h.state.Store(stateFree)
	return h
}

// KV returns the underlying KV transaction for use by internal/storage.
func (h *Handle) KV() kv.Txn { return h.kvTxn }

// Lock acquires a shared (exclusive=false) or exclusive (exclusive=true)
// lock on the transaction.
func (h *Handle) Lock(exclusive bool) error {
	for {
		cur := h.state.Load()
		switch cur {
		case stateClosed:
			return arenaerrors.New(arenaerrors.KindInvalidTransactionState, "transaction is closed")
		case stateWriteLocked:
			return arenaerrors.New(arenaerrors.KindInvalidTransactionState, "transaction is write-locked")
		case stateFree:
			if exclusive {
				if h.state.CompareAndSwap(cur, stateWriteLocked) {
					return nil
				}
				continue
			}
			if h.state.CompareAndSwap(cur, stateFree+1) {
				return nil
			}
			continue
		default: // ReadLocked(n), n == cur
			if exclusive {
				return arenaerrors.New(arenaerrors.KindInvalidTransactionState, "transaction has shared locks held")
			}
			if cur >= stateWriteLocked-1 {
				return arenaerrors.New(arenaerrors.KindInvalidTransactionState, "too many shared locks")
			}
			if h.state.CompareAndSwap(cur, cur+1) {
				return nil
			}
			continue
		}
	}
}

// Unlock releases one lock acquired by Lock.
func (h *Handle) Unlock() {
	for {
		cur := h.state.Load()
		switch cur {
		case stateWriteLocked:
			if h.state.CompareAndSwap(cur, stateFree) {
				return
			}
		case stateFree, stateUnknown, stateClosed:
			return
		default: // ReadLocked(n)
			next := cur - 1
			if next < stateFree {
				next = stateFree
			}
			if h.state.CompareAndSwap(cur, next) {
				return
			}
		}
	}
}

// Close transitions Free -> Closed and, if any table-schema locks were
// held, tells the schema factory to reload on next access.
func (h *Handle) Close() error {
	if !h.state.CompareAndSwap(stateFree, stateClosed) {
		return arenaerrors.New(arenaerrors.KindInvalidTransactionState, "close requires the transaction to be free")
	}
	h.releaseLockedTables()
	return nil
}

// AcquireTableSchemaWriteLock returns a table-schema write-lock guard
// already held by this transaction, or acquires a fresh one and remembers
// it under locked_tables until commit/rollback/close release it.
func (h *Handle) AcquireTableSchemaWriteLock(ctx context.Context, schemaName, tableName string) error {
	key := schemaName + "." + tableName
	h.mu.Lock()
	if h.lockedTables == nil {
		h.lockedTables = make(map[string]func())
	}
	if _, ok := h.lockedTables[key]; ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	release, err := h.locks.AcquireTableSchemaWriteLock(ctx, schemaName, tableName)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.lockedTables[key] = release
	h.mu.Unlock()
	return nil
}

func (h *Handle) releaseLockedTables() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.lockedTables) == 0 {
		return
	}
	if h.locks != nil {
		h.locks.MarkShouldReloadSchema()
	}
	for key, release := range h.lockedTables {
		release()
		delete(h.lockedTables, key)
	}
}

// Commit delegates to the KV transaction then closes, regardless of the
// caller's lock state (a commit is always allowed to terminate the
// transaction outright).
func (h *Handle) Commit() error {
	err := h.kvTxn.Commit()
	h.mu.Lock()
	h.commitErr = err
	h.mu.Unlock()
	h.state.Store(stateClosed)
	h.releaseLockedTables()
	return err
}

// Rollback delegates to the KV transaction then closes. If the only
// failure is the rollback surfacing the same error commit already
// recorded, that error is swallowed: the caller already knows the
// transaction failed, and a second report of the identical failure is
// noise, not new information.
func (h *Handle) Rollback() error {
	err := h.kvTxn.Rollback()
	h.mu.Lock()
	alreadyRecorded := h.commitErr != nil && err != nil && err.Error() == h.commitErr.Error()
	h.mu.Unlock()
	h.state.Store(stateClosed)
	h.releaseLockedTables()
	if alreadyRecorded {
		return nil
	}
	return err
}

// Closed reports whether the transaction has reached its terminal state.
func (h *Handle) Closed() bool { return h.state.Load() == stateClosed }
