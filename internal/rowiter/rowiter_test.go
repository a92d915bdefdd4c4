package rowiter

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/planner"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

// fixture: a table with a unique single-column index, a non-unique index,
// and a composite unique index.
func testTable() *schema.Table {
	return &schema.Table{
		ID:   1,
		Name: "people",
		Columns: []schema.Column{
			{ID: 0, Name: "id", DataType: schema.DataType{Kind: schema.Varchar, VarcharLen: 50}},
			{ID: 1, Name: "city", DataType: schema.DataType{Kind: schema.Text}},
			{ID: 2, Name: "age", DataType: schema.DataType{Kind: schema.Int32}},
		},
		Indexes: []schema.TableIndex{
			{ID: 1, Name: "people_id_key", Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{0}, Unique: true}},
			{ID: 2, Name: "people_city_idx", Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{1}}},
			{ID: 3, Name: "people_city_age_key", Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{1, 2}, Unique: true}},
		},
		NextColumnID: 3,
	}
}

func person(id, city string, age int32) []codec.Cell {
	return []codec.Cell{
		{Kind: schema.Varchar, Bytes: []byte(id)},
		{Kind: schema.Text, Bytes: []byte(city)},
		{Kind: schema.Int32, Int32: age},
	}
}

func seed(t *testing.T) (kv.Txn, *schema.Table) {
	t.Helper()
	backend, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	kvTxn := backend.NewTransaction()
	table := testTable()
	h := storage.New(kvTxn, table)
	require.NoError(t, h.InsertRow(1, person("id_1", "berlin", 30)))
	require.NoError(t, h.InsertRow(2, person("id_2", "berlin", 40)))
	require.NoError(t, h.InsertRow(3, person("id_3", "tokyo", 50)))
	return kvTxn, table
}

func drain(t *testing.T, it Iter) map[uint64][]codec.Cell {
	t.Helper()
	defer it.Close()
	out := make(map[uint64][]codec.Cell)
	for it.Next() {
		out[it.RowID()] = append([]codec.Cell(nil), it.Cells()...)
	}
	require.NoError(t, it.Err())
	return out
}

func eqFilters(t *testing.T, table *schema.Table, sql string) []planner.Filter {
	t.Helper()
	parsed, err := pg_query.Parse(sql)
	require.NoError(t, err)
	filters, err := planner.FromWhereClause(table, parsed.Stmts[0].Stmt.GetSelectStmt().WhereClause, nil)
	require.NoError(t, err)
	return filters
}

func TestHeapScanProjectsAllRows(t *testing.T) {
	kvTxn, table := seed(t)
	it, err := Heap(kvTxn, table, []int{0, 2})
	require.NoError(t, err)

	rows := drain(t, it)
	require.Len(t, rows, 3)
	require.Equal(t, []byte("id_1"), rows[1][0].Bytes)
	require.Equal(t, int32(30), rows[1][1].Int32)
}

func TestUniqueIndexScanWithEqualityPrefix(t *testing.T) {
	kvTxn, table := seed(t)
	filters := eqFilters(t, table, "SELECT id FROM people WHERE id = 'id_2'")

	it, err := Index(kvTxn, table, &table.Indexes[0], filters, []int{0})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("id_2"), rows[2][0].Bytes)
}

func TestUniqueIndexScanWithoutFiltersIteratesAll(t *testing.T) {
	kvTxn, table := seed(t)
	it, err := Index(kvTxn, table, &table.Indexes[0], nil, []int{0})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 3)
}

func TestUniqueIndexWithTableLookup(t *testing.T) {
	kvTxn, table := seed(t)
	filters := eqFilters(t, table, "SELECT id, city FROM people WHERE id = 'id_3'")

	it, err := Index(kvTxn, table, &table.Indexes[0], filters, []int{0, 1})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("id_3"), rows[3][0].Bytes)
	require.Equal(t, []byte("tokyo"), rows[3][1].Bytes)
}

func TestSecondaryIndexYieldsOrderedDuplicates(t *testing.T) {
	kvTxn, table := seed(t)
	filters := eqFilters(t, table, "SELECT city FROM people WHERE city = 'berlin'")

	it, err := Index(kvTxn, table, &table.Indexes[1], filters, []int{1})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 2, "both berlin rows must surface as separate entries")
	require.Contains(t, rows, uint64(1))
	require.Contains(t, rows, uint64(2))
}

func TestCompositeIndexWithPartialEqualityPrefix(t *testing.T) {
	kvTxn, table := seed(t)
	// Index has (city, age); only city is constrained. The serialized
	// prefix must be patched to the full column count to match committed
	// keys.
	filters := eqFilters(t, table, "SELECT city, age FROM people WHERE city = 'berlin'")

	it, err := Index(kvTxn, table, &table.Indexes[2], filters, []int{1, 2})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 2)
	ages := map[int32]bool{}
	for _, cells := range rows {
		ages[cells[1].Int32] = true
	}
	require.True(t, ages[30] && ages[40])
}

func TestHeapScanRowsWrittenBeforeAddColumnReadNull(t *testing.T) {
	kvTxn, table := seed(t)

	// simulate ALTER TABLE ADD COLUMN: widen the schema without rewriting
	wider := table.Clone()
	wider.Columns = append(wider.Columns, schema.Column{
		ID: 3, Name: "note", DataType: schema.DataType{Kind: schema.Text},
		Properties: schema.ColumnProperties{Nullable: true},
	})
	wider.NextColumnID = 4

	it, err := Heap(kvTxn, wider, []int{0, 3})
	require.NoError(t, err)
	rows := drain(t, it)
	require.Len(t, rows, 3)
	for _, cells := range rows {
		require.True(t, cells[1].IsNull, "absent cell must read as null")
	}
}

func TestNonCoveringSecondaryIndexIsRejected(t *testing.T) {
	kvTxn, table := seed(t)
	_, err := Index(kvTxn, table, &table.Indexes[1], nil, []int{0, 1})
	require.Error(t, err)
}
