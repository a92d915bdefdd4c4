package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/txn"
)

// Transaction couples a txn.Handle (the lock state machine, C7) with the
// catalog machinery it needs: schema factories for table resolution,
// per-transaction schema overrides for uncommitted DDL, and the release
// path that decrements the factory's active-transaction counter exactly
// once.
type Transaction struct {
	handle  *txn.Handle
	factory *StorageFactory
	schemas map[string]*SchemaFactory

	mu        sync.Mutex
	overrides map[string]*schema.Table

	released atomic.Bool
}

func newHandle(kvTxn kv.Txn, t *Transaction) *txn.Handle {
	return txn.New(kvTxn, t)
}

// Handle exposes the lock state machine.
func (t *Transaction) Handle() *txn.Handle { return t.handle }

// KV exposes the underlying KV transaction for storage handlers.
func (t *Transaction) KV() kv.Txn { return t.handle.KV() }

// Factory returns the owning per-catalog storage factory.
func (t *Transaction) Factory() *StorageFactory { return t.factory }

func (t *Transaction) schemaFactory(name string) (*SchemaFactory, error) {
	if f, ok := t.schemas[name]; ok {
		return f, nil
	}
	f, err := t.factory.SchemaFactoryFor(name)
	if err != nil {
		return nil, err
	}
	t.schemas[name] = f
	return f, nil
}

func overrideKey(schemaName, tableName string) string {
	return schemaName + "." + tableName
}

// GetTable resolves a table, preferring this transaction's own uncommitted
// schema overrides over the factory cache, so DDL is visible to later
// statements of the same transaction before commit.
func (t *Transaction) GetTable(schemaName, tableName string) (*schema.Table, bool, error) {
	t.mu.Lock()
	if tbl, ok := t.overrides[overrideKey(schemaName, tableName)]; ok {
		t.mu.Unlock()
		if tbl == nil {
			// tombstone: dropped within this transaction
			return nil, false, nil
		}
		return tbl, true, nil
	}
	t.mu.Unlock()

	f, err := t.schemaFactory(schemaName)
	if err != nil {
		return nil, false, err
	}
	return f.GetTable(t.KV(), tableName)
}

// OverrideTable records an uncommitted table definition (or, with a nil
// table, a drop) visible only to this transaction. The committed definition
// becomes visible to others via the schema-reload flag set at close.
func (t *Transaction) OverrideTable(schemaName string, tableName string, table *schema.Table) {
	t.mu.Lock()
	if t.overrides == nil {
		t.overrides = make(map[string]*schema.Table)
	}
	t.overrides[overrideKey(schemaName, tableName)] = table
	t.mu.Unlock()
}

// ListTables returns all tables of a schema, with this transaction's
// overrides applied on top of the committed set.
func (t *Transaction) ListTables(schemaName string) ([]*schema.Table, error) {
	f, err := t.schemaFactory(schemaName)
	if err != nil {
		return nil, err
	}
	tables, err := f.LoadAllTables(t.KV())
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.overrides) == 0 {
		return tables, nil
	}
	out := tables[:0]
	seen := make(map[string]bool)
	for _, tbl := range tables {
		if o, ok := t.overrides[overrideKey(schemaName, tbl.Name)]; ok {
			seen[tbl.Name] = true
			if o == nil {
				continue
			}
			out = append(out, o)
			continue
		}
		out = append(out, tbl)
	}
	for key, o := range t.overrides {
		if o != nil && key == overrideKey(schemaName, o.Name) && !seen[o.Name] {
			out = append(out, o)
		}
	}
	return out, nil
}

// AcquireTableSchemaWriteLock implements txn.TableLocker by delegating to
// the table's schema factory.
func (t *Transaction) AcquireTableSchemaWriteLock(ctx context.Context, schemaName, tableName string) (func(), error) {
	f, err := t.schemaFactory(schemaName)
	if err != nil {
		return nil, err
	}
	return f.AcquireTableLock(ctx, tableName)
}

// MarkShouldReloadSchema implements txn.TableLocker; called by the handle's
// close path when the transaction held table-schema locks.
func (t *Transaction) MarkShouldReloadSchema() {
	t.factory.markReload()
}

// Commit commits the KV transaction, releases table-schema locks, and
// returns the transaction to the factory.
func (t *Transaction) Commit() error {
	err := t.handle.Commit()
	t.release()
	return err
}

// Rollback discards the KV transaction and returns it to the factory.
// Always safe to call, including after a failed commit.
func (t *Transaction) Rollback() error {
	err := t.handle.Rollback()
	t.release()
	return err
}

func (t *Transaction) release() {
	if t.released.CompareAndSwap(false, true) {
		t.factory.transactionDone()
	}
}
