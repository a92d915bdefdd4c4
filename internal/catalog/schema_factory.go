// Package catalog implements the per-catalog storage factory and the
// per-(catalog, schema) schema factory: table caching, named table-schema
// locks, transaction accounting, and graceful shutdown. It also houses the
// catalog-wide advisory lock registry (advisory.go).
package catalog

import (
	"context"
	"sync"

	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"

	"github.com/arenadb/arenasql/internal/kv"
)

// SchemaFactory is the table registry for one (catalog, schema) pair.
// Tables are loaded from the Schemas CF on first access and cached until the
// owning StorageFactory flushes its factories on a schema reload. It also
// owns the named table-schema write locks handed out to mutating
// transactions.
type SchemaFactory struct {
	CatalogName string
	SchemaName  string

	mu     sync.RWMutex
	tables map[string]*schema.Table

	lockMu     sync.Mutex
	tableLocks map[string]chan struct{}
}

func newSchemaFactory(catalogName, schemaName string) *SchemaFactory {
	return &SchemaFactory{
		CatalogName: catalogName,
		SchemaName:  schemaName,
		tables:      make(map[string]*schema.Table),
		tableLocks:  make(map[string]chan struct{}),
	}
}

// GetTable returns the cached table, loading it through kvTxn on a miss.
// ok=false means the table does not exist in this schema.
func (f *SchemaFactory) GetTable(kvTxn kv.Txn, name string) (*schema.Table, bool, error) {
	f.mu.RLock()
	if t, ok := f.tables[name]; ok {
		f.mu.RUnlock()
		return t, true, nil
	}
	f.mu.RUnlock()

	t, ok, err := storage.GetTableSchema(kvTxn, f.SchemaName, name)
	if err != nil || !ok {
		return nil, false, err
	}
	f.mu.Lock()
	f.tables[name] = t
	f.mu.Unlock()
	return t, true, nil
}

// LoadAllTables scans the Schemas CF under this schema's prefix and fills
// the cache, returning every table found.
func (f *SchemaFactory) LoadAllTables(kvTxn kv.Txn) ([]*schema.Table, error) {
	tables, err := storage.ScanTableSchemas(kvTxn, f.SchemaName)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	for _, t := range tables {
		f.tables[t.Name] = t
	}
	f.mu.Unlock()
	return tables, nil
}

// AcquireTableLock blocks until the named table's schema write lock is
// available or ctx is canceled. The returned release func is carried by the
// acquiring transaction and called at commit/rollback, not at the end of
// the acquiring statement.
func (f *SchemaFactory) AcquireTableLock(ctx context.Context, tableName string) (func(), error) {
	f.lockMu.Lock()
	ch, ok := f.tableLocks[tableName]
	if !ok {
		ch = make(chan struct{}, 1)
		f.tableLocks[tableName] = ch
	}
	f.lockMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
