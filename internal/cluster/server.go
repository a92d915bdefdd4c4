// Package cluster implements the PostgreSQL wire-protocol front end:
// SCRAM-SHA-256 authentication against the cluster manifest, session
// binding with per-catalog storage factories, simple and extended query
// dispatch into the session context, and graceful shutdown with optional
// checkpointing. Wire framing is jackc/pgx/v5/pgproto3; the SCRAM exchange
// is xdg-go/scram (auth.go).
package cluster

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/config"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/pkg/richcatalog"
)

const (
	// SystemCatalogName is the in-memory catalog every connection defaults
	// to when no database parameter is supplied.
	SystemCatalogName = "system"
	// DefaultSchemaName is the schema sessions bind to.
	DefaultSchemaName = "public"
)

type catalogEntry struct {
	factory *catalog.StorageFactory
	onDisk  bool
}

// Server is the cluster endpoint: one process-wide session store, one
// lazily-created storage factory per catalog, one portal store per
// session.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	manifest *Manifest
	auth     *Authenticator

	mu        sync.Mutex
	catalogs  map[string]*catalogEntry
	portals   map[uint64]*PortalStore
	sessions  *SessionStore
	ln        net.Listener
	closed    atomic.Bool
	connWg    sync.WaitGroup
}

// New builds a server from validated configuration. The manifest is
// loaded eagerly so a bad manifest path is a startup failure, not a
// first-connection surprise.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var manifest *Manifest
	if cfg.ManifestFile != "" {
		m, err := LoadManifest(cfg.ManifestFile)
		if err != nil {
			return nil, err
		}
		manifest = m
	} else {
		manifest = &Manifest{}
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		manifest: manifest,
		catalogs: make(map[string]*catalogEntry),
		portals:  make(map[uint64]*PortalStore),
		sessions: NewSessionStore(),
	}
	s.auth = &Authenticator{Manifest: manifest}
	return s, nil
}

// Manifest exposes the user manifest, for tests and tooling.
func (s *Server) Manifest() *Manifest { return s.manifest }

// SetRand overrides the authenticator's salt source (tests use the
// deterministic pkg/prng reader).
func (s *Server) SetRand(r io.Reader) { s.auth.Rand = r }

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, one goroutine per connection.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr reports the bound listener address, for tests using :0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// factoryFor returns the catalog's storage factory, creating it on first
// use: in-memory for the system catalog, on-disk under
// {root}/catalogs/{name} otherwise.
func (s *Server) factoryFor(name string) (*catalog.StorageFactory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, fmt.Errorf("cluster: server is shut down")
	}
	if entry, ok := s.catalogs[name]; ok {
		return entry.factory, nil
	}

	var backend kv.Backend
	var err error
	onDisk := name != SystemCatalogName
	fresh := false
	if onDisk {
		path := s.cfg.CatalogPath(name)
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			fresh = true
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("cluster: create catalog dir %s: %w", path, err)
		}
		backend, err = kv.OpenOnDisk(kv.Config{Dir: path, CacheSizeMB: s.cfg.CacheSizeMB, Logger: s.log})
	} else {
		backend, err = kv.OpenInMemory()
	}
	if err != nil {
		return nil, err
	}
	if fresh && s.cfg.BackupDir != "" {
		if err := s.maybeRestore(name, backend); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("cluster: restore catalog %s: %w", name, err)
		}
	}
	factory := catalog.NewStorageFactory(name, backend, s.log)
	s.catalogs[name] = &catalogEntry{factory: factory, onDisk: onDisk}
	return factory, nil
}

// maybeRestore loads the newest backup under {backup_dir}/{catalog} into
// a freshly created catalog store.
func (s *Server) maybeRestore(name string, backend kv.Backend) error {
	dir := filepath.Join(s.cfg.BackupDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return nil // nothing to restore from
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return nil
	}
	f, err := os.Open(filepath.Join(dir, latest, "backup.bak"))
	if err != nil {
		return nil
	}
	defer f.Close()
	s.log.Info("restoring catalog from backup", zap.String("catalog", name), zap.String("backup", latest))
	return backend.Restore(context.Background(), f)
}

func (s *Server) portalStore(sessionID uint64) *PortalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.portals[sessionID]; ok {
		return p
	}
	p := NewPortalStore()
	s.portals[sessionID] = p
	return p
}

func (s *Server) removeSession(sessionID uint64) {
	s.sessions.Remove(sessionID)
	s.mu.Lock()
	delete(s.portals, sessionID)
	s.mu.Unlock()
}

// Introspect builds a point-in-time schema snapshot of a catalog.
func (s *Server) Introspect(catalogName string, schemas ...string) (richcatalog.Snapshot, error) {
	factory, err := s.factoryFor(catalogName)
	if err != nil {
		return richcatalog.Snapshot{}, err
	}
	if len(schemas) == 0 {
		schemas = []string{DefaultSchemaName}
	}
	return richcatalog.Build(factory, schemas...)
}

// Shutdown gracefully stops the server: stop accepting,
// clear the session store (rolling back every active transaction), then
// shut each catalog's storage factory down in parallel, checkpointing to
// {checkpoint_dir}/{catalog}/{millis}/ when configured.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	catalogs := make(map[string]*catalogEntry, len(s.catalogs))
	for name, entry := range s.catalogs {
		catalogs[name] = entry
	}
	s.mu.Unlock()

	s.sessions.Clear()

	// Connections parked in Receive only notice the shutdown when their
	// client disconnects; bound the wait by ctx rather than hanging on an
	// idle client.
	connsDone := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(connsDone)
	}()
	select {
	case <-connsDone:
	case <-ctx.Done():
	}

	shutdownAt := time.Now().UnixMilli()
	g, gctx := errgroup.WithContext(ctx)
	for name, entry := range catalogs {
		g.Go(func() error {
			if err := entry.factory.GracefulShutdown(gctx); err != nil {
				return fmt.Errorf("shutdown catalog %s: %w", name, err)
			}
			if s.cfg.CheckpointDir != "" && entry.onDisk {
				if err := s.checkpoint(gctx, name, entry.factory, shutdownAt); err != nil {
					// a failed checkpoint is logged, not fatal; the data
					// itself is already durable in the catalog's store
					s.log.Error("checkpoint failed", zap.String("catalog", name), zap.Error(err))
				}
			}
			return entry.factory.Close()
		})
	}
	err := g.Wait()
	s.log.Info("shutdown complete", zap.Int("catalogs", len(catalogs)))
	return err
}

func (s *Server) checkpoint(ctx context.Context, catalogName string, factory *catalog.StorageFactory, millis int64) error {
	dir := filepath.Join(s.cfg.CheckpointDir, catalogName, strconv.FormatInt(millis, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "backup.bak"))
	if err != nil {
		return err
	}
	defer f.Close()
	s.log.Info("checkpointing catalog", zap.String("catalog", catalogName), zap.String("dir", dir))
	if err := factory.Backup(ctx, f); err != nil {
		return err
	}
	return f.Sync()
}
