// Package kv implements the ordered key-value backend on top of
// github.com/dgraph-io/badger/v4: snapshot transactions, four column
// families, prefix scans, and an atomic compare-and-swap update for
// counters.
//
// badger has no native column-family concept the way RocksDB does, so the
// four families (Locks | Schemas | IndexRows | Rows) are realized as a
// one-byte key prefix (internal/keys.CF) within a single badger
// keyspace.
package kv

import (
	"context"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/keys"
)

// KV is a single key-value pair, used by PutAll.
type KV struct {
	Key   []byte
	Value []byte
}

// Backend is the capability interface a catalog's storage factory depends
// on; it is implemented once for the on-disk case and once for the
// in-memory `system` catalog.
type Backend interface {
	NewTransaction() Txn
	// Backup streams a full backup (badger's native format) to w, used by
	// the cluster server's checkpoint-on-shutdown feature.
	Backup(ctx context.Context, w io.Writer) error
	// Restore loads a backup stream previously produced by Backup into
	// this (freshly opened) backend.
	Restore(ctx context.Context, r io.Reader) error
	Close() error
}

// Txn is a snapshotted read-write transaction over one Backend.
type Txn interface {
	Get(cf keys.CF, key []byte) ([]byte, bool, error)
	GetForUpdate(cf keys.CF, key []byte, exclusive bool) ([]byte, bool, error)
	Put(cf keys.CF, key, value []byte) error
	PutAll(cf keys.CF, rows []KV) error
	Delete(cf keys.CF, key []byte) error
	ScanWithPrefix(cf keys.CF, prefix []byte) (Iterator, error)
	// AtomicUpdate compare-and-swaps the value produced by updater, used
	// for monotonic id counters (table id, index id, row id). It runs in
	// its own short internal transaction rather than the caller's open
	// Txn; counter allocation stays independent of whatever snapshot the
	// caller is working under, so a long-lived scan never blocks id
	// allocation.
	AtomicUpdate(cf keys.CF, key []byte, updater func(old []byte, existed bool) ([]byte, error)) ([]byte, error)
	Commit() error
	Rollback() error
}

// Iterator yields (key, value) pairs in ascending key order for keys
// sharing a prefix.
type Iterator interface {
	Next() bool
	Key() []byte   // the key with the CF prefix byte stripped
	Value() ([]byte, error)
	Close()
}

// Config bundles the admin options that affect a single catalog's
// on-disk backend.
type Config struct {
	Dir         string
	CacheSizeMB int // 0 disables the block cache override
	Logger      *zap.Logger
}

// OpenOnDisk opens the persistent, LSM-based backend for a non-system
// catalog, rooted at {root}/catalogs/{name}.
//
// badger doesn't expose LZ4; ZSTD is the closest supported compression and
// is used for the whole keyspace. badger also has no wall-clock WAL
// retention knob; value-log growth is bounded by the 50MB file size plus
// badger's online GC on a ticker (startGC).
func OpenOnDisk(cfg Config) (Backend, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithCompression(options.ZSTD).
		WithLogger(&zapBadgerLogger{cfg.Logger}).
		WithValueLogFileSize(50 << 20)
	if cfg.CacheSizeMB > 0 {
		opts = opts.WithBlockCacheSize(int64(cfg.CacheSizeMB) << 20)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", cfg.Dir, err)
	}
	b := &backend{db: db}
	b.startGC()
	return b, nil
}

// OpenInMemory opens the in-memory backend used for the `system`
// catalog, which has no on-disk directory.
func OpenInMemory() (Backend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open in-memory: %w", err)
	}
	return &backend{db: db}, nil
}

type backend struct {
	db       *badger.DB
	gcCancel context.CancelFunc
}

func (b *backend) NewTransaction() Txn {
	return &txnImpl{db: b.db, txn: b.db.NewTransaction(true)}
}

func (b *backend) Backup(ctx context.Context, w io.Writer) error {
	_, err := b.db.Backup(w, 0)
	return err
}

func (b *backend) Restore(ctx context.Context, r io.Reader) error {
	return b.db.Load(r, 16)
}

func (b *backend) Close() error {
	if b.gcCancel != nil {
		b.gcCancel()
	}
	return b.db.Close()
}

// startGC runs badger's incremental value-log GC periodically so the
// value log stays bounded (see OpenOnDisk's doc comment).
func (b *backend) startGC() {
	ctx, cancel := context.WithCancel(context.Background())
	b.gcCancel = cancel
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			again:
				if err := b.db.RunValueLogGC(0.5); err == nil {
					goto again
				}
			}
		}
	}()
}

// zapBadgerLogger adapts badger.Logger onto the engine's own zap logger so
// badger's internal compaction/GC messages flow through the same
// structured-logging pipeline as everything else (see internal/logutil).
type zapBadgerLogger struct{ log *zap.Logger }

func (l *zapBadgerLogger) Errorf(f string, a ...any) {
	if l.log != nil {
		l.log.Sugar().Errorf(f, a...)
	}
}

func (l *zapBadgerLogger) Warningf(f string, a ...any) {
	if l.log != nil {
		l.log.Sugar().Warnf(f, a...)
	}
}

func (l *zapBadgerLogger) Infof(f string, a ...any) {
	if l.log != nil {
		l.log.Sugar().Infof(f, a...)
	}
}

func (l *zapBadgerLogger) Debugf(f string, a ...any) {
	if l.log != nil {
		l.log.Sugar().Debugf(f, a...)
	}
}
