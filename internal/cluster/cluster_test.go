package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/privilege"
	"github.com/arenadb/arenasql/internal/session"
)

func TestManifestLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"[[users]]\nname = \"admin\"\npassword = \"s3cret\"\n\n[[users]]\nname = \"apps\"\npassword = \"apps-pw\"\n",
	), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	u, ok := m.GetUser("admin")
	require.True(t, ok)
	require.Equal(t, "s3cret", u.Password)

	_, ok = m.GetUser("ghost")
	require.False(t, ok)
}

func TestSessionStoreMonotonicIDs(t *testing.T) {
	store := NewSessionStore()
	a := store.NextID()
	b := store.NextID()
	require.Greater(t, b, a)
}

func TestSessionStoreClearClosesSessions(t *testing.T) {
	backend, err := kv.OpenInMemory()
	require.NoError(t, err)
	defer backend.Close()
	factory := catalog.NewStorageFactory("testdb", backend, nil)

	store := NewSessionStore()
	sess := session.New(store.NextID(), "admin", "testdb", "public", privilege.Admin, factory, nil)
	store.Put(sess)

	store.Clear()
	require.Equal(t, 0, store.Len())
	require.Equal(t, 0, factory.ActiveTransactions(), "clear must drop active transactions")
}

func TestPortalStoreNamespaces(t *testing.T) {
	p := NewPortalStore()
	stmt := &PreparedStatement{Name: "s1", SQL: "SELECT 1"}
	p.PutStatement(stmt)

	got, ok := p.GetStatement("s1")
	require.True(t, ok)
	require.Equal(t, stmt, got)

	portal := p.Bind("", stmt, [][]byte{[]byte("x")})
	require.NotEmpty(t, portal.Handle)
	gotPortal, ok := p.GetPortal("")
	require.True(t, ok)
	require.Equal(t, portal, gotPortal)

	p.Reset()
	_, ok = p.GetPortal("")
	require.False(t, ok)
	_, ok = p.GetStatement("s1")
	require.True(t, ok, "Reset clears portals, not statements")

	p.CloseStatement("s1")
	_, ok = p.GetStatement("s1")
	require.False(t, ok)
}

func TestCountStatementParams(t *testing.T) {
	require.Equal(t, 0, countStatementParams("SELECT 1"))
	require.Equal(t, 2, countStatementParams("SELECT * FROM t WHERE a = $1 AND b = $2"))
	require.Equal(t, 5, countStatementParams("SELECT $5"))
}
