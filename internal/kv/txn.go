package kv

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/arenadb/arenasql/internal/keys"
)

type txnImpl struct {
	db  *badger.DB
	txn *badger.Txn
	// done guards against reuse after commit/rollback; a committed
	// transaction must never be used again, and doing so panics.
	done bool
}

func prefixedKey(cf keys.CF, key []byte) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = byte(cf)
	copy(buf[1:], key)
	return buf
}

func (t *txnImpl) assertOpen() {
	if t.done {
		panic("kv: transaction used after commit or rollback")
	}
}

func (t *txnImpl) Get(cf keys.CF, key []byte) ([]byte, bool, error) {
	t.assertOpen()
	item, err := t.txn.Get(prefixedKey(cf, key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// GetForUpdate takes a lock on key until commit/rollback. badger uses
// optimistic (SSI) concurrency rather than pessimistic locks: a plain Get
// inside an update transaction already registers the key as read, so a
// concurrent writer's commit will conflict against it. exclusive
// additionally re-Sets the same bytes, registering the key as written too,
// so *this* transaction's own commit will conflict with any other reader
// that also asked for an exclusive lock on the same key — the closest
// badger analogue to RocksDB's get_for_update_cf(exclusive=true).
func (t *txnImpl) GetForUpdate(cf keys.CF, key []byte, exclusive bool) ([]byte, bool, error) {
	t.assertOpen()
	val, ok, err := t.Get(cf, key)
	if err != nil || !ok {
		return val, ok, err
	}
	if exclusive {
		if err := t.txn.Set(prefixedKey(cf, key), val); err != nil {
			return nil, false, err
		}
	}
	return val, ok, nil
}

func (t *txnImpl) Put(cf keys.CF, key, value []byte) error {
	t.assertOpen()
	return t.txn.Set(prefixedKey(cf, key), value)
}

func (t *txnImpl) PutAll(cf keys.CF, rows []KV) error {
	t.assertOpen()
	for _, row := range rows {
		if err := t.txn.Set(prefixedKey(cf, row.Key), row.Value); err != nil {
			return err
		}
	}
	return nil
}

func (t *txnImpl) Delete(cf keys.CF, key []byte) error {
	t.assertOpen()
	return t.txn.Delete(prefixedKey(cf, key))
}

func (t *txnImpl) ScanWithPrefix(cf keys.CF, prefix []byte) (Iterator, error) {
	t.assertOpen()
	full := prefixedKey(cf, prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := t.txn.NewIterator(opts)
	it.Seek(full)
	return &iteratorImpl{it: it, prefix: full, started: true, stripCF: true}, nil
}

// AtomicUpdate runs a short, independent, retried transaction — see the
// doc comment on Txn.AtomicUpdate for why it does not reuse t.txn.
func (t *txnImpl) AtomicUpdate(cf keys.CF, key []byte, updater func(old []byte, existed bool) ([]byte, error)) ([]byte, error) {
	full := prefixedKey(cf, key)
	for attempt := 0; attempt < 64; attempt++ {
		short := t.db.NewTransaction(true)
		item, err := short.Get(full)
		var old []byte
		existed := true
		if err == badger.ErrKeyNotFound {
			existed = false
		} else if err != nil {
			short.Discard()
			return nil, err
		} else {
			old, err = item.ValueCopy(nil)
			if err != nil {
				short.Discard()
				return nil, err
			}
		}
		next, err := updater(old, existed)
		if err != nil {
			short.Discard()
			return nil, err
		}
		if err := short.Set(full, next); err != nil {
			short.Discard()
			return nil, err
		}
		err = short.Commit()
		if err == nil {
			return next, nil
		}
		if err != badger.ErrConflict {
			return nil, err
		}
		// conflict: another allocator raced us, retry from a fresh read
	}
	return nil, fmt.Errorf("kv: atomic_update on %x: too many conflicts", full)
}

func (t *txnImpl) Commit() error {
	t.assertOpen()
	t.done = true
	return t.txn.Commit()
}

func (t *txnImpl) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

type iteratorImpl struct {
	it      *badger.Iterator
	prefix  []byte
	started bool
	stripCF bool
}

func (it *iteratorImpl) Next() bool {
	if it.started {
		it.started = false
	} else {
		it.it.Next()
	}
	return it.it.ValidForPrefix(it.prefix)
}

func (it *iteratorImpl) Key() []byte {
	full := it.it.Item().KeyCopy(nil)
	if it.stripCF && len(full) > 0 {
		return full[1:]
	}
	return full
}

func (it *iteratorImpl) Value() ([]byte, error) {
	return it.it.Item().ValueCopy(nil)
}

func (it *iteratorImpl) Close() { it.it.Close() }
