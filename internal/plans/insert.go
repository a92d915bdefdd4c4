package plans

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/sqlvalue"
	"github.com/arenadb/arenasql/internal/storage"
)

func insertRows(env Env, stmt *pg_query.InsertStmt) (*Result, error) {
	table, _, err := mustGetTable(env, stmt.Relation)
	if err != nil {
		return nil, err
	}

	// Target column ordinals; an absent column list means all columns in
	// table order.
	var targets []int
	if len(stmt.Cols) > 0 {
		for _, c := range stmt.Cols {
			rt := c.GetResTarget()
			if rt == nil {
				return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "malformed INSERT column list")
			}
			_, ord, ok := table.ColumnByName(rt.Name)
			if !ok {
				return nil, arenaerrors.New(arenaerrors.KindColumnDoesntExist,
					"column %q does not exist in table %q", rt.Name, table.Name)
			}
			targets = append(targets, ord)
		}
	} else {
		for i := range table.Columns {
			targets = append(targets, i)
		}
	}

	sel := stmt.SelectStmt.GetSelectStmt()
	if sel == nil || len(sel.ValuesLists) == 0 {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "INSERT supports VALUES lists only")
	}

	handler := storage.New(env.Txn.KV(), table)
	inserted := 0
	for _, vl := range sel.ValuesLists {
		items := vl.GetList().GetItems()
		if len(items) != len(targets) {
			return nil, arenaerrors.New(arenaerrors.KindInvalidQuery,
				"INSERT has %d expressions but %d target columns", len(items), len(targets))
		}
		cells, err := buildRowCells(env, table, targets, items)
		if err != nil {
			return nil, err
		}
		rowID, err := storage.GenerateNextRowID(env.Txn.KV(), table.ID)
		if err != nil {
			return nil, err
		}
		if err := handler.InsertRow(rowID, cells); err != nil {
			return nil, err
		}
		inserted++
	}
	return commandResult(fmt.Sprintf("INSERT 0 %d", inserted)), nil
}

// buildRowCells assembles a full row in column order: supplied expressions
// land at their target ordinals, serial columns draw from the table's
// monotonic counter, columns with a default get the default, everything
// else is null (and the null-constraint check in storage rejects it for
// non-null columns).
func buildRowCells(env Env, table *schema.Table, targets []int, exprs []*pg_query.Node) ([]codec.Cell, error) {
	cells := make([]codec.Cell, len(table.Columns))
	supplied := make([]bool, len(table.Columns))
	for i, ord := range targets {
		c, err := evalConstExpr(env, exprs[i], table.Columns[ord].DataType)
		if err != nil {
			return nil, err
		}
		cells[ord] = c
		supplied[ord] = true
	}
	for ord, col := range table.Columns {
		if supplied[ord] {
			continue
		}
		switch {
		case col.Properties.IsSerial:
			next, err := storage.GenerateNextRowID(env.Txn.KV(), table.ID)
			if err != nil {
				return nil, err
			}
			if col.DataType.Kind == schema.Int32 {
				cells[ord] = codec.Cell{Kind: schema.Int32, Int32: int32(next)}
			} else {
				cells[ord] = codec.Cell{Kind: schema.Int64, Int64: int64(next)}
			}
		case col.Default != nil:
			c, err := sqlvalue.FromText(*col.Default, col.DataType)
			if err != nil {
				return nil, err
			}
			cells[ord] = c
		default:
			cells[ord] = codec.NullCell(col.DataType.Kind)
		}
	}
	return cells, nil
}
