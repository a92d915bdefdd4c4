package planner

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
)

func testTable() *schema.Table {
	return &schema.Table{
		ID:   1,
		Name: "t",
		Columns: []schema.Column{
			{ID: 0, Name: "id", DataType: schema.DataType{Kind: schema.Varchar, VarcharLen: 50}},
			{ID: 1, Name: "name", DataType: schema.DataType{Kind: schema.Text}},
			{ID: 2, Name: "age", DataType: schema.DataType{Kind: schema.Int32}},
		},
		Indexes: []schema.TableIndex{
			{ID: 1, Name: "t_id_key", Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{0}, Unique: true}},
			{ID: 2, Name: "t_age_idx", Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{2}}},
		},
	}
}

func whereClause(t *testing.T, sql string) *pg_query.Node {
	t.Helper()
	parsed, err := pg_query.Parse(sql)
	require.NoError(t, err)
	require.Len(t, parsed.Stmts, 1)
	sel := parsed.Stmts[0].Stmt.GetSelectStmt()
	require.NotNil(t, sel)
	return sel.WhereClause
}

func filtersFor(t *testing.T, table *schema.Table, sql string) []Filter {
	t.Helper()
	filters, err := FromWhereClause(table, whereClause(t, sql), nil)
	require.NoError(t, err)
	return filters
}

func TestEqualityFilterCapture(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id = 'id_2'")
	require.Len(t, filters, 1)

	f := filters[0]
	require.Equal(t, BinaryExpr, f.Kind)
	require.Equal(t, "=", f.Op)
	require.Equal(t, []int{0}, f.ProjectedColumns)
	require.True(t, f.IsEq())
	lit, ok := f.EqLiteralFor(0)
	require.True(t, ok)
	require.Equal(t, []byte("id_2"), lit.Bytes)
}

func TestFlippedComparisonNormalizesOperator(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE 30 > age")
	require.Len(t, filters, 1)
	require.Equal(t, "<", filters[0].Op)
	require.Equal(t, []int{2}, filters[0].ProjectedColumns)
}

func TestConjunctionFlattens(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id = 'a' AND age >= 10 AND name IS NOT NULL")
	require.Len(t, filters, 3)
	require.Equal(t, BinaryExpr, filters[0].Kind)
	require.Equal(t, BinaryExpr, filters[1].Kind)
	require.Equal(t, IsNotNull, filters[2].Kind)
}

func TestDisjunctionIsUnsupported(t *testing.T) {
	table := testTable()
	_, err := FromWhereClause(table, whereClause(t, "SELECT id FROM t WHERE id = 'a' OR id = 'b'"), nil)
	require.Error(t, err)
}

func TestUnknownColumnFails(t *testing.T) {
	table := testTable()
	_, err := FromWhereClause(table, whereClause(t, "SELECT id FROM t WHERE nope = 1"), nil)
	require.Error(t, err)
}

func TestFilterMatchesEvaluation(t *testing.T) {
	table := testTable()
	rowCells := []codec.Cell{
		{Kind: schema.Varchar, Bytes: []byte("id_2")},
		{Kind: schema.Text, Bytes: []byte("second")},
		{Kind: schema.Int32, Int32: 30},
	}

	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT id FROM t WHERE id = 'id_2'", true},
		{"SELECT id FROM t WHERE id = 'id_3'", false},
		{"SELECT id FROM t WHERE id <= 'id_2'", true},
		{"SELECT id FROM t WHERE age < 30", false},
		{"SELECT id FROM t WHERE age >= 30", true},
		{"SELECT id FROM t WHERE age <> 31", true},
		{"SELECT id FROM t WHERE name IS NOT NULL", true},
		{"SELECT id FROM t WHERE name IS NULL", false},
		{"SELECT id FROM t WHERE name LIKE 'sec%'", true},
		{"SELECT id FROM t WHERE name LIKE '_econd'", true},
		{"SELECT id FROM t WHERE name LIKE 'first%'", false},
	}
	for _, tc := range cases {
		filters := filtersFor(t, table, tc.sql)
		got, err := filters[0].Matches(rowCells)
		require.NoError(t, err, tc.sql)
		require.Equal(t, tc.want, got, tc.sql)
	}
}

func TestCostExactUniqueMatchIsConstant(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id = 'id_2'")
	cost := EstimateCost(filters[0], table, table.Indexes[0])
	require.InDelta(t, 0.0025, cost, 1e-9)
}

func TestCostPenalizesMissingPrefix(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id <= 'id_2'")
	cost := EstimateCost(filters[0], table, table.Indexes[0])
	require.InDelta(t, 0.0025*10_000, cost, 1e-3)
}

func TestFindIndexWithLowestCostIsPure(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id = 'id_2'")

	first := FindIndexWithLowestCost(table, table.Indexes, filters)
	require.NotNil(t, first)
	require.Equal(t, "t_id_key", first.Name)
	for i := 0; i < 10; i++ {
		again := FindIndexWithLowestCost(table, table.Indexes, filters)
		require.Equal(t, first.Name, again.Name)
	}
}

func TestFindIndexWithNoFiltersReturnsNil(t *testing.T) {
	table := testTable()
	require.Nil(t, FindIndexWithLowestCost(table, table.Indexes, nil))
}

func TestTieBreaksByInsertionOrder(t *testing.T) {
	table := testTable()
	// duplicate index over the same column; both cost the same
	table.Indexes = append(table.Indexes, schema.TableIndex{
		ID: 3, Name: "t_id_key2",
		Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{0}, Unique: true},
	})
	filters := filtersFor(t, table, "SELECT id FROM t WHERE id = 'x'")
	best := FindIndexWithLowestCost(table, table.Indexes, filters)
	require.Equal(t, "t_id_key", best.Name)
}

func TestChooseAccessCoveringIndexWithoutFilters(t *testing.T) {
	table := testTable()
	access := ChooseAccess(table, nil, []int{0})
	require.NotNil(t, access.Index)
	require.Equal(t, "t_id_key", access.Index.Name)
	require.False(t, access.Lookup)
}

func TestChooseAccessHeapWhenNothingCovers(t *testing.T) {
	table := testTable()
	access := ChooseAccess(table, nil, []int{0, 1})
	require.Nil(t, access.Index)
}

func TestChooseAccessUniqueIndexWithLookup(t *testing.T) {
	table := testTable()
	filters := filtersFor(t, table, "SELECT id, name FROM t WHERE id = 'x'")
	access := ChooseAccess(table, filters, []int{0, 1})
	require.NotNil(t, access.Index)
	require.Equal(t, "t_id_key", access.Index.Name)
	require.True(t, access.Lookup)
}
