package cluster_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/pkg/testfixture"
)

func startFixture(t *testing.T, opts ...testfixture.Option) *testfixture.Fixture {
	t.Helper()
	f, err := testfixture.Start(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Shutdown() })
	return f
}

func connect(t *testing.T, f *testfixture.Fixture, db string) *pgx.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := f.Connect(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(ctx)
	})
	return conn
}

func queryStrings(t *testing.T, conn *pgx.Conn, sql string) [][]string {
	t.Helper()
	rows, err := conn.Query(context.Background(), sql)
	require.NoError(t, err)
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		values, err := rows.Values()
		require.NoError(t, err)
		row := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				row[i] = "NULL"
			} else {
				row[i] = toString(v)
			}
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return pgxFormat(x)
	}
}

func pgxFormat(v any) string {
	switch x := v.(type) {
	case int32:
		return itoa(int64(x))
	case int64:
		return itoa(x)
	case bool:
		if x {
			return "t"
		}
		return "f"
	default:
		return ""
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var b [24]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Scenario (a): unique constraint backfill.
func TestUniqueConstraintBackfillEndToEnd(t *testing.T) {
	f := startFixture(t)
	conn := connect(t, f, "appdb")
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE t (id VARCHAR(50), name TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "INSERT INTO t VALUES('id1','name 1')")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE UNIQUE INDEX t_id_key ON t(id)")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, "INSERT INTO t VALUES('id1','dup')")
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "23505", pgErr.Code)

	_, err = conn.Exec(ctx, "INSERT INTO t VALUES('id2','ok')")
	require.NoError(t, err)

	require.Len(t, queryStrings(t, conn, "SELECT id FROM t"), 2)
	require.Len(t, queryStrings(t, conn, "SELECT id, name FROM t"), 2)
}

// Scenario (b): chained transaction auto-rollback on session drop.
func TestChainedTransactionRollbackOnDisconnect(t *testing.T) {
	f := startFixture(t)
	ctx := context.Background()

	conn1, err := f.Connect(ctx, "appdb")
	require.NoError(t, err)
	_, err = conn1.Exec(ctx, "BEGIN")
	require.NoError(t, err)
	_, err = conn1.Exec(ctx, "CREATE TABLE t (id VARCHAR(50))")
	require.NoError(t, err)
	require.NoError(t, conn1.Close(ctx)) // no COMMIT

	conn2 := connect(t, f, "appdb")
	_, err = conn2.Exec(ctx, "SELECT id FROM t")
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Contains(t, pgErr.Message, "does not exist")
}

// Scenario (c): index scan vs heap scan selection.
func TestIndexVsHeapScanEndToEnd(t *testing.T) {
	f := startFixture(t)
	conn := connect(t, f, "appdb")
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE t (id VARCHAR(50) UNIQUE, name TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "INSERT INTO t VALUES('id_1','n1'),('id_2','n2'),('id_3','n3')")
	require.NoError(t, err)

	rows := queryStrings(t, conn, "SELECT id FROM t WHERE id = 'id_2'")
	require.Equal(t, [][]string{{"id_2"}}, rows)

	rows = queryStrings(t, conn, "SELECT id FROM t WHERE id <= 'id_3'")
	require.Len(t, rows, 3)
}

// Scenario (d): add column preserves existing rows.
func TestAddColumnPreservesRowsEndToEnd(t *testing.T) {
	f := startFixture(t)
	conn := connect(t, f, "appdb")
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE t (a INT4)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "INSERT INTO t VALUES(1),(2)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "ALTER TABLE t ADD COLUMN b TEXT")
	require.NoError(t, err)

	rows := queryStrings(t, conn, "SELECT a, b FROM t")
	require.ElementsMatch(t, [][]string{{"1", "NULL"}, {"2", "NULL"}}, rows)
}

// Scenario (e): advisory lock exclusivity across sessions.
func TestAdvisoryLockExclusivityEndToEnd(t *testing.T) {
	f := startFixture(t)
	ctx := context.Background()
	connA := connect(t, f, "appdb")
	connB := connect(t, f, "appdb")

	_, err := connA.Exec(ctx, "SELECT pg_advisory_lock(42)")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		_, err := connB.Exec(context.Background(), "SELECT pg_advisory_lock(42)")
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("session B acquired the lock while session A held it")
	case <-time.After(150 * time.Millisecond):
	}

	_, err = connA.Exec(ctx, "SELECT pg_advisory_unlock(42)")
	require.NoError(t, err)

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session B never unblocked")
	}
	_, err = connB.Exec(ctx, "SELECT pg_advisory_unlock(42)")
	require.NoError(t, err)
}

// Scenario (f): privilege enforcement for a non-admin user.
func TestPrivilegeEnforcementEndToEnd(t *testing.T) {
	f := startFixture(t, testfixture.WithUser("apps", "apps-secret"))
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, f.ConnString("apps", "apps-secret", "appdb"))
	require.NoError(t, err)
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "CREATE TABLE t (x INT4)")
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Contains(t, pgErr.Message, "privilege")
}

func TestAuthenticationRejectsWrongPassword(t *testing.T) {
	f := startFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pgx.Connect(ctx, f.ConnString("admin", "wrong-password", "appdb"))
	require.Error(t, err)
}

func TestAuthenticationRejectsUnknownUser(t *testing.T) {
	f := startFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pgx.Connect(ctx, f.ConnString("ghost", "whatever", "appdb"))
	require.Error(t, err)
}

func TestSystemCatalogIsInMemory(t *testing.T) {
	f := startFixture(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, f.ConnString("admin", "admin-secret", "system"))
	require.NoError(t, err)
	defer conn.Close(ctx)

	rows := queryStrings(t, conn, "SELECT 1")
	require.Equal(t, [][]string{{"1"}}, rows)

	// the system catalog is in-memory: no directory appears under catalogs/
	_, err = os.Stat(filepath.Join(f.Config.CatalogsDir(), "system"))
	require.True(t, os.IsNotExist(err))
}

func TestCheckpointOnGracefulShutdown(t *testing.T) {
	checkpointDir := t.TempDir()
	f, err := testfixture.Start(testfixture.WithCheckpointDir(checkpointDir))
	require.NoError(t, err)

	conn := connect(t, f, "appdb")
	ctx := context.Background()
	_, err = conn.Exec(ctx, "CREATE TABLE t (x INT4)")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	_ = conn.Close(ctx)

	require.NoError(t, f.Shutdown())

	entries, err := os.ReadDir(filepath.Join(checkpointDir, "appdb"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "one {millis} checkpoint directory expected")
	files, err := os.ReadDir(filepath.Join(checkpointDir, "appdb", entries[0].Name()))
	require.NoError(t, err)
	require.NotEmpty(t, files)
}

func TestIntrospectionSnapshot(t *testing.T) {
	f := startFixture(t)
	conn := connect(t, f, "appdb")
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE widgets (id VARCHAR(50) PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	snap, err := f.Server.Introspect("appdb")
	require.NoError(t, err)
	require.Len(t, snap.Schemas, 1)
	require.Len(t, snap.Schemas[0].Tables, 1)
	table := snap.Schemas[0].Tables[0]
	require.Equal(t, "widgets", table.Name)
	require.Equal(t, []string{"id"}, table.PK)
	require.NotEmpty(t, snap.Checksum)
}
