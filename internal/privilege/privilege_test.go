package privilege

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, sql string) *pg_query.Node {
	t.Helper()
	parsed, err := pg_query.Parse(sql)
	require.NoError(t, err)
	require.Len(t, parsed.Stmts, 1)
	return parsed.Stmts[0].Stmt
}

func TestFlagBitPositions(t *testing.T) {
	require.Equal(t, uint64(1)<<63, uint64(SuperUser))
	require.Equal(t, uint64(1)<<47, uint64(CreateDatabase))
	require.Equal(t, uint64(1)<<46, uint64(AlterSystemSchema))
	require.Equal(t, uint64(1)<<45, uint64(ReadSystemSchema))
	require.Equal(t, uint64(1)<<31, uint64(CreateTable))
	require.Equal(t, uint64(1)<<30, uint64(DropTable))
	require.Equal(t, uint64(1)<<29, uint64(AlterTable))
	require.Equal(t, uint64(1)<<28, uint64(ReadTableSchema))
	require.Equal(t, uint64(1)<<12, uint64(SelectRows))
	require.Equal(t, uint64(1)<<13, uint64(InsertRows))
}

// UPDATE and DELETE grant SELECT by construction; pinned here so a future
// reader can find and revisit the decision.
func TestUpdateAndDeleteImplySelect(t *testing.T) {
	require.Equal(t, uint64(1)<<14|uint64(SelectRows), uint64(UpdateRows))
	require.Equal(t, uint64(1)<<15|uint64(SelectRows), uint64(DeleteRows))
	require.True(t, UpdateRows.Has(SelectRows))
	require.True(t, DeleteRows.Has(SelectRows))
}

func TestCompositeSets(t *testing.T) {
	require.Equal(t, ReadTableSchema|SelectRows, ReadOnly)
	require.Equal(t, CreateTable|DropTable|AlterTable|ReadTableSchema, TablePrivileges)
	require.Equal(t, uint64(15)<<12, uint64(RowsPrivileges))
}

func TestRequiredPrivilegePerStatementKind(t *testing.T) {
	cases := []struct {
		sql  string
		want Privilege
	}{
		{"CREATE DATABASE db", CreateDatabase},
		{"CREATE TABLE t (x INT)", CreateTable},
		{"ALTER TABLE t ADD COLUMN y TEXT", AlterTable},
		{"CREATE INDEX i ON t(x)", AlterTable},
		{"INSERT INTO t VALUES (1)", InsertRows},
		{"UPDATE t SET x = 2", UpdateRows},
		{"DELETE FROM t", DeleteRows},
		{"SELECT * FROM t", SelectRows},
		{"BEGIN", None},
		{"COMMIT", None},
		{"ROLLBACK", None},
		{"SET application_name = 'x'", None},
		{"DROP TABLE t", DropTable},
		{"DROP INDEX i", DropTable},
		{"DROP SCHEMA s", SuperUser},
		{"EXPLAIN SELECT 1", ReadTableSchema},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Required(parse(t, tc.sql)), tc.sql)
	}
}

func TestRequiredPrivilegeIsStable(t *testing.T) {
	stmt := parse(t, "SELECT * FROM t")
	first := Required(stmt)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, Required(stmt))
	}
}

func TestCanExecute(t *testing.T) {
	selectStmt := parse(t, "SELECT * FROM users")
	insertStmt := parse(t, "INSERT INTO users VALUES (1)")
	createDB := parse(t, "CREATE DATABASE db")

	require.True(t, SelectRows.Can(selectStmt))
	require.False(t, SelectRows.Can(insertStmt))
	require.True(t, UpdateRows.Can(selectStmt), "UPDATE_ROWS carries SELECT_ROWS")
	require.False(t, InsertRows.Can(selectStmt))
	require.True(t, CreateDatabase.Can(createDB))
	require.False(t, TablePrivileges.Can(createDB))
	require.False(t, None.Can(selectStmt))
}

func TestAdminSetSatisfiesEverything(t *testing.T) {
	for _, sql := range []string{
		"CREATE DATABASE db",
		"CREATE TABLE t (x INT)",
		"CREATE INDEX i ON t(x)",
		"SELECT * FROM t",
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 1",
		"DELETE FROM t",
		"DROP TABLE t",
		"DROP SCHEMA s",
	} {
		require.True(t, Admin.Can(parse(t, sql)), sql)
	}
}
