// Package testfixture boots an in-process cluster server on an ephemeral
// port and hands tests ready pgx connections, in the spirit of a
// throwaway-database fixture: functional options, sensible defaults, and
// teardown that leaves nothing behind.
package testfixture

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arenadb/arenasql/internal/cluster"
	"github.com/arenadb/arenasql/internal/config"
	"github.com/arenadb/arenasql/pkg/prng"
	"go.uber.org/zap"
)

type fixtureConfig struct {
	adminUser     string
	adminPassword string
	extraUsers    map[string]string
	checkpointDir string
	seed          int64
}

type Option func(*fixtureConfig)

func WithAdminUser(name, password string) Option {
	return func(c *fixtureConfig) { c.adminUser, c.adminPassword = name, password }
}

// WithUser adds a non-admin manifest user.
func WithUser(name, password string) Option {
	return func(c *fixtureConfig) { c.extraUsers[name] = password }
}

// WithCheckpointDir enables checkpoint-on-shutdown.
func WithCheckpointDir(dir string) Option {
	return func(c *fixtureConfig) { c.checkpointDir = dir }
}

// WithSeed makes SCRAM salts deterministic.
func WithSeed(seed int64) Option {
	return func(c *fixtureConfig) { c.seed = seed }
}

// Fixture is one running in-process server.
type Fixture struct {
	Server *cluster.Server
	Config *config.Config

	addr    string
	cfg     fixtureConfig
	rootDir string
	serveCh chan error
}

// Start boots a server rooted in a fresh temp directory and returns once
// it is accepting connections.
func Start(opts ...Option) (*Fixture, error) {
	fc := fixtureConfig{
		adminUser:     "admin",
		adminPassword: "admin-secret",
		extraUsers:    map[string]string{},
		seed:          42,
	}
	for _, opt := range opts {
		opt(&fc)
	}

	rootDir, err := os.MkdirTemp("", "arenasql-"+uuid.New().String()[:8])
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(rootDir, "manifest.toml")
	manifest := fmt.Sprintf("[[users]]\nname = %q\npassword = %q\n", fc.adminUser, fc.adminPassword)
	for name, password := range fc.extraUsers {
		manifest += fmt.Sprintf("\n[[users]]\nname = %q\npassword = %q\n", name, password)
	}
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o600); err != nil {
		return nil, err
	}

	cfg := &config.Config{
		ListenAddr:    "127.0.0.1:0",
		RootDir:       rootDir,
		ManifestFile:  manifestPath,
		AdminUser:     fc.adminUser,
		CheckpointDir: fc.checkpointDir,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv, err := cluster.New(cfg, zap.NewNop())
	if err != nil {
		return nil, err
	}
	srv.SetRand(prng.New(fc.seed))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	f := &Fixture{
		Server:  srv,
		Config:  cfg,
		addr:    ln.Addr().String(),
		cfg:     fc,
		rootDir: rootDir,
		serveCh: make(chan error, 1),
	}
	go func() { f.serveCh <- srv.Serve(ln) }()
	return f, nil
}

// ConnString builds a connection string for the given user and catalog.
// The simple query protocol keeps the fixture usable against the server's
// text-only result encoding.
func (f *Fixture) ConnString(user, password, database string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=disable&default_query_exec_mode=simple_protocol",
		user, password, f.addr, database,
	)
}

// AdminConnString targets a catalog as the admin user.
func (f *Fixture) AdminConnString(database string) string {
	return f.ConnString(f.cfg.adminUser, f.cfg.adminPassword, database)
}

// Connect opens a pgx connection as the admin user.
func (f *Fixture) Connect(ctx context.Context, database string) (*pgx.Conn, error) {
	return pgx.Connect(ctx, f.AdminConnString(database))
}

// Shutdown stops the server and removes the temp root.
func (f *Fixture) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := f.Server.Shutdown(ctx)
	select {
	case <-f.serveCh:
	case <-time.After(time.Second):
	}
	_ = os.RemoveAll(f.rootDir)
	return err
}
