package catalog

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/kv"
)

// StorageFactory is the per-catalog root: it owns the catalog's KV backend,
// the map of schema factories, the active-transaction counter, and the
// shutdown/schema-reload coordination.
type StorageFactory struct {
	CatalogName string

	backend  kv.Backend
	log      *zap.Logger
	advisory *AdvisoryRegistry

	mu           sync.Mutex
	schemas      map[string]*SchemaFactory
	shouldReload bool
	shutdown     bool
	active       int
	// idle is non-nil only while GracefulShutdown waits; closed by the last
	// transaction's release.
	idle chan struct{}
}

func NewStorageFactory(catalogName string, backend kv.Backend, log *zap.Logger) *StorageFactory {
	if log == nil {
		log = zap.NewNop()
	}
	return &StorageFactory{
		CatalogName: catalogName,
		backend:     backend,
		log:         log.With(zap.String("catalog", catalogName)),
		advisory:    NewAdvisoryRegistry(),
		schemas:     make(map[string]*SchemaFactory),
	}
}

// Advisory returns the catalog-wide advisory lock registry.
func (s *StorageFactory) Advisory() *AdvisoryRegistry { return s.advisory }

// BeginTransaction opens a snapshotted transaction over the catalog,
// preloading a schema factory per requested schema name:
//  1. refuse if shutdown was triggered,
//  2. flush cached schema factories if a reload is pending,
//  3. open the KV transaction,
//  4. resolve (or create) each requested schema factory,
//  5. bump the active-transaction counter.
func (s *StorageFactory) BeginTransaction(schemaNames ...string) (*Transaction, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, arenaerrors.New(arenaerrors.KindDatabaseClosed, "catalog %s is shut down", s.CatalogName)
	}
	if s.shouldReload {
		s.schemas = make(map[string]*SchemaFactory)
		s.shouldReload = false
	}
	factories := make(map[string]*SchemaFactory, len(schemaNames))
	for _, name := range schemaNames {
		factories[name] = s.schemaFactoryLocked(name)
	}
	s.active++
	s.mu.Unlock()

	t := &Transaction{
		factory: s,
		schemas: factories,
	}
	t.handle = newHandle(s.backend.NewTransaction(), t)
	return t, nil
}

// SchemaFactoryFor hands out the factory for a schema name, creating one if
// the catalog has never seen that schema. Used by transactions that touch a
// schema they didn't request at begin time.
func (s *StorageFactory) SchemaFactoryFor(name string) (*SchemaFactory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, arenaerrors.New(arenaerrors.KindDatabaseClosed, "catalog %s is shut down", s.CatalogName)
	}
	return s.schemaFactoryLocked(name), nil
}

func (s *StorageFactory) schemaFactoryLocked(name string) *SchemaFactory {
	if f, ok := s.schemas[name]; ok {
		return f
	}
	f := newSchemaFactory(s.CatalogName, name)
	s.schemas[name] = f
	return f
}

func (s *StorageFactory) markReload() {
	s.mu.Lock()
	s.shouldReload = true
	s.mu.Unlock()
}

func (s *StorageFactory) transactionDone() {
	s.mu.Lock()
	s.active--
	if s.active == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
}

// ActiveTransactions reports the current counter value.
func (s *StorageFactory) ActiveTransactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// GracefulShutdown sets the shutdown flag (refusing further transactions)
// and waits for the active-transaction counter to reach zero. The backend
// stays open so the caller can checkpoint it; Close finishes the job.
func (s *StorageFactory) GracefulShutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	idle := s.idle
	s.mu.Unlock()

	s.log.Info("waiting for active transactions before shutdown")
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backup streams a full backup of the catalog's backend to w.
func (s *StorageFactory) Backup(ctx context.Context, w io.Writer) error {
	return s.backend.Backup(ctx, w)
}

// Close flushes and closes the KV backend.
func (s *StorageFactory) Close() error {
	return s.backend.Close()
}
