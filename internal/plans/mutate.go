package plans

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/planner"
	"github.com/arenadb/arenasql/internal/rowiter"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

// matchingRowIDs materializes the row ids satisfying the WHERE filters
// before any mutation, so the mutating loop never iterates over its own
// writes.
func matchingRowIDs(env Env, table *schema.Table, filters []planner.Filter) ([]uint64, error) {
	all := make([]int, len(table.Columns))
	for i := range all {
		all[i] = i
	}
	it, err := rowiter.Heap(env.Txn.KV(), table, all)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []uint64
	for it.Next() {
		ok := true
		for _, f := range filters {
			m, err := f.Matches(it.Cells())
			if err != nil {
				return nil, err
			}
			if !m {
				ok = false
				break
			}
		}
		if ok {
			ids = append(ids, it.RowID())
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// updateRows re-reads each matching row, replaces the SET targets, and
// writes delete-old/insert-new for the data row and every index entry.
func updateRows(env Env, stmt *pg_query.UpdateStmt) (*Result, error) {
	table, _, err := mustGetTable(env, stmt.Relation)
	if err != nil {
		return nil, err
	}
	filters, err := planner.FromWhereClause(table, stmt.WhereClause, env.params())
	if err != nil {
		return nil, err
	}

	type setTarget struct {
		ord  int
		expr *pg_query.Node
	}
	var sets []setTarget
	for _, t := range stmt.TargetList {
		rt := t.GetResTarget()
		if rt == nil {
			return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "malformed UPDATE target")
		}
		_, ord, ok := table.ColumnByName(rt.Name)
		if !ok {
			return nil, arenaerrors.New(arenaerrors.KindColumnDoesntExist,
				"column %q does not exist in table %q", rt.Name, table.Name)
		}
		sets = append(sets, setTarget{ord: ord, expr: rt.Val})
	}

	ids, err := matchingRowIDs(env, table, filters)
	if err != nil {
		return nil, err
	}

	handler := storage.New(env.Txn.KV(), table)
	for _, rowID := range ids {
		oldCells, ok, err := handler.GetRowForUpdate(rowID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		newCells := append([]codec.Cell(nil), padRow(oldCells, len(table.Columns))...)
		for _, s := range sets {
			c, err := evalConstExpr(env, s.expr, table.Columns[s.ord].DataType)
			if err != nil {
				return nil, err
			}
			newCells[s.ord] = c
		}
		if err := handler.UpdateRow(rowID, padRow(oldCells, len(table.Columns)), newCells); err != nil {
			return nil, err
		}
	}
	return commandResult(countTag("UPDATE", len(ids))), nil
}

// deleteRows removes each matching row's index entries (keyed by the old
// cells) and then the row itself.
func deleteRows(env Env, stmt *pg_query.DeleteStmt) (*Result, error) {
	table, _, err := mustGetTable(env, stmt.Relation)
	if err != nil {
		return nil, err
	}
	filters, err := planner.FromWhereClause(table, stmt.WhereClause, env.params())
	if err != nil {
		return nil, err
	}
	ids, err := matchingRowIDs(env, table, filters)
	if err != nil {
		return nil, err
	}

	handler := storage.New(env.Txn.KV(), table)
	for _, rowID := range ids {
		oldCells, ok, err := handler.GetRowForUpdate(rowID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := handler.DeleteIndexEntries(padRow(oldCells, len(table.Columns)), rowID); err != nil {
			return nil, err
		}
		if err := handler.DeleteRow(rowID); err != nil {
			return nil, err
		}
	}
	return commandResult(countTag("DELETE", len(ids))), nil
}

// padRow extends a row written under an older schema to the current column
// count with nulls.
func padRow(cells []codec.Cell, width int) []codec.Cell {
	if len(cells) >= width {
		return cells
	}
	out := make([]codec.Cell, width)
	copy(out, cells)
	for i := len(cells); i < width; i++ {
		out[i] = codec.Cell{IsNull: true}
	}
	return out
}
