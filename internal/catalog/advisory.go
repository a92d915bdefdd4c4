package catalog

import (
	"context"

	"sync"

	"github.com/arenadb/arenasql/internal/arenaerrors"
)

// AdvisoryRegistry implements the catalog-wide advisory locks surfaced as
// pg_advisory_lock/pg_advisory_unlock. Acquisition is fair:
// waiters are queued FIFO and ownership is handed to the head of the queue
// on release.
type AdvisoryRegistry struct {
	mu    sync.Mutex
	locks map[int64]*advisoryLock
}

type advisoryLock struct {
	holder  uint64
	waiters []*advisoryWaiter
}

type advisoryWaiter struct {
	session uint64
	ready   chan struct{}
}

func NewAdvisoryRegistry() *AdvisoryRegistry {
	return &AdvisoryRegistry{locks: make(map[int64]*advisoryLock)}
}

// Acquire blocks until the session owns lock id or ctx is canceled.
func (r *AdvisoryRegistry) Acquire(ctx context.Context, id int64, session uint64) error {
	r.mu.Lock()
	l, held := r.locks[id]
	if !held {
		r.locks[id] = &advisoryLock{holder: session}
		r.mu.Unlock()
		return nil
	}
	w := &advisoryWaiter{session: session, ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	r.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		r.abandon(id, w)
		return ctx.Err()
	}
}

// abandon removes a canceled waiter; if it was promoted to holder in the
// race between cancellation and hand-off, the lock is released again.
func (r *AdvisoryRegistry) abandon(id int64, w *advisoryWaiter) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	for i, other := range l.waiters {
		if other == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			r.mu.Unlock()
			return
		}
	}
	if l.holder == w.session {
		r.handOffLocked(id, l)
	}
	r.mu.Unlock()
}

// Release hands the lock to the next waiter, or removes it entirely.
func (r *AdvisoryRegistry) Release(id int64, session uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok || l.holder != session {
		return arenaerrors.New(arenaerrors.KindInvalidQuery, "advisory lock %d is not held by this session", id)
	}
	r.handOffLocked(id, l)
	return nil
}

func (r *AdvisoryRegistry) handOffLocked(id int64, l *advisoryLock) {
	if len(l.waiters) == 0 {
		delete(r.locks, id)
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.holder = next.session
	close(next.ready)
}

// ReleaseSession drops every lock held by a session, called when the
// session's state is cleared.
func (r *AdvisoryRegistry) ReleaseSession(session uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.locks {
		if l.holder == session {
			r.handOffLocked(id, l)
		}
	}
}

// Holder reports the current owner of a lock id, ok=false if unheld.
func (r *AdvisoryRegistry) Holder(id int64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[id]; ok {
		return l.holder, true
	}
	return 0, false
}
