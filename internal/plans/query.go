package plans

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/planner"
	"github.com/arenadb/arenasql/internal/rowiter"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/sqlvalue"
)

func selectRows(env Env, sel *pg_query.SelectStmt) (*Result, error) {
	if fn := singleFunctionTarget(sel); fn != nil {
		return executeFunction(env, fn)
	}
	if len(sel.FromClause) == 0 {
		return selectWithoutFrom(env, sel)
	}
	if len(sel.FromClause) > 1 || sel.FromClause[0].GetRangeVar() == nil {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "only single-table FROM clauses are supported")
	}
	if len(sel.GroupClause) > 0 || sel.HavingClause != nil || len(sel.SortClause) > 0 ||
		sel.LimitCount != nil || sel.LimitOffset != nil || sel.DistinctClause != nil {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "unsupported SELECT clause")
	}

	table, _, err := resolveFromClause(env, sel)
	if err != nil {
		return nil, err
	}
	projection, names, err := resolveProjection(table, sel.TargetList)
	if err != nil {
		return nil, err
	}
	filters, err := planner.FromWhereClause(table, sel.WhereClause, env.params())
	if err != nil {
		return nil, err
	}

	// The scan must surface every column the filters reference, not just
	// the projected ones; residual predicates re-apply against the wider
	// row and the final projection drops the extras.
	extended := append([]int(nil), projection...)
	for _, f := range filters {
		for _, ord := range f.ProjectedColumns {
			if !containsInt(extended, ord) {
				extended = append(extended, ord)
			}
		}
	}

	// The shared transaction lock is held for the whole scan: acquired
	// here, released when the row stream is closed (drained or dropped),
	// so a writer in the same transaction cannot interleave with an open
	// cursor.
	handle := env.Txn.Handle()
	if err := handle.Lock(false); err != nil {
		return nil, err
	}

	access := planner.ChooseAccess(table, filters, extended)
	var it rowiter.Iter
	if access.Index != nil {
		it, err = rowiter.Index(env.Txn.KV(), table, access.Index, filters, extended)
	} else {
		it, err = rowiter.Heap(env.Txn.KV(), table, extended)
	}
	if err != nil {
		handle.Unlock()
		return nil, err
	}

	cols := make([]Column, len(projection))
	for i, ord := range projection {
		cols[i] = Column{Name: names[i], Type: table.Columns[ord].DataType}
	}
	return &Result{
		Columns: cols,
		Rows: &scanStream{
			it:       it,
			table:    table,
			filters:  filters,
			extended: extended,
			finalPos: finalPositions(projection, extended),
			unlock:   handle.Unlock,
		},
		Tag: "SELECT",
	}, nil
}

// finalPositions maps each projected ordinal to its position within the
// extended scan projection.
func finalPositions(projection, extended []int) []int {
	out := make([]int, len(projection))
	for i, ord := range projection {
		for pos, e := range extended {
			if e == ord {
				out[i] = pos
				break
			}
		}
	}
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// scanStream drains a row iterator, re-applies every filter (the index
// prefix only pushed equality down), and emits the final projection.
type scanStream struct {
	it       rowiter.Iter
	table    *schema.Table
	filters  []planner.Filter
	extended []int
	finalPos []int
	unlock   func()
	closed   bool
}

func (s *scanStream) Next() ([]codec.Cell, bool, error) {
	for s.it.Next() {
		cells := s.it.Cells()
		// Filters index by table ordinal; rebuild a full-width view.
		wide := make([]codec.Cell, len(s.table.Columns))
		for i := range wide {
			wide[i] = codec.Cell{IsNull: true}
		}
		for pos, ord := range s.extended {
			if ord < len(wide) {
				wide[ord] = cells[pos]
			}
		}
		match := true
		for _, f := range s.filters {
			ok, err := f.Matches(wide)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		out := make([]codec.Cell, len(s.finalPos))
		for i, pos := range s.finalPos {
			out[i] = cells[pos]
		}
		return out, true, nil
	}
	return nil, false, s.it.Err()
}

func (s *scanStream) Close() error {
	if !s.closed {
		s.closed = true
		s.it.Close()
		if s.unlock != nil {
			s.unlock()
		}
	}
	return nil
}

func resolveFromClause(env Env, sel *pg_query.SelectStmt) (*schema.Table, string, error) {
	rv := sel.FromClause[0].GetRangeVar()
	return mustGetTable(env, rv)
}

// resolveProjection expands the target list to table ordinals and result
// names. A bare * expands to all columns in table order.
func resolveProjection(table *schema.Table, targets []*pg_query.Node) ([]int, []string, error) {
	var projection []int
	var names []string
	for _, t := range targets {
		rt := t.GetResTarget()
		if rt == nil {
			return nil, nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "malformed SELECT target")
		}
		cr := rt.Val.GetColumnRef()
		if cr == nil {
			return nil, nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "only column references are supported in SELECT over a table")
		}
		if len(cr.Fields) > 0 && cr.Fields[len(cr.Fields)-1].GetAStar() != nil {
			for ord, col := range table.Columns {
				projection = append(projection, ord)
				names = append(names, col.Name)
			}
			continue
		}
		var name string
		for _, f := range cr.Fields {
			if s := f.GetString_(); s != nil {
				name = s.GetSval()
			}
		}
		_, ord, ok := table.ColumnByName(name)
		if !ok {
			return nil, nil, arenaerrors.New(arenaerrors.KindColumnDoesntExist,
				"column %q does not exist in table %q", name, table.Name)
		}
		projection = append(projection, ord)
		if rt.Name != "" {
			names = append(names, rt.Name)
		} else {
			names = append(names, name)
		}
	}
	return projection, names, nil
}

// selectWithoutFrom evaluates constant target expressions into a single
// row, e.g. SELECT 1.
func selectWithoutFrom(env Env, sel *pg_query.SelectStmt) (*Result, error) {
	cols := make([]Column, len(sel.TargetList))
	row := make([]codec.Cell, len(sel.TargetList))
	for i, t := range sel.TargetList {
		rt := t.GetResTarget()
		if rt == nil {
			return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "malformed SELECT target")
		}
		cell, dt, err := evalBareConst(env, rt.Val)
		if err != nil {
			return nil, err
		}
		cols[i] = Column{Name: targetName(rt, i), Type: dt}
		row[i] = cell
	}
	return &Result{Columns: cols, Rows: newSliceStream([][]codec.Cell{row}), Tag: "SELECT"}, nil
}

// evalBareConst types a constant without a column context: integers are
// int4, floats are float8, strings are text.
func evalBareConst(env Env, node *pg_query.Node) (codec.Cell, schema.DataType, error) {
	switch {
	case node.GetAConst() != nil:
		ac := node.GetAConst()
		switch {
		case ac.GetIsnull():
			return codec.NullCell(schema.Text), schema.DataType{Kind: schema.Text}, nil
		case ac.GetIval() != nil:
			dt := schema.DataType{Kind: schema.Int32}
			c, err := sqlvalue.FromConst(ac, dt)
			return c, dt, err
		case ac.GetFval() != nil:
			dt := schema.DataType{Kind: schema.Float64}
			c, err := sqlvalue.FromConst(ac, dt)
			return c, dt, err
		case ac.GetBoolval() != nil:
			dt := schema.DataType{Kind: schema.Boolean}
			c, err := sqlvalue.FromConst(ac, dt)
			return c, dt, err
		default:
			dt := schema.DataType{Kind: schema.Text}
			c, err := sqlvalue.FromConst(ac, dt)
			return c, dt, err
		}
	case node.GetParamRef() != nil:
		dt := schema.DataType{Kind: schema.Text}
		c, err := evalConstExpr(env, node, dt)
		return c, dt, err
	case node.GetTypeCast() != nil:
		return evalBareConst(env, node.GetTypeCast().Arg)
	default:
		return codec.Cell{}, schema.DataType{}, arenaerrors.New(arenaerrors.KindUnsupportedQuery,
			"only constant expressions are supported without FROM")
	}
}

func targetName(rt *pg_query.ResTarget, _ int) string {
	if rt == nil {
		return "?column?"
	}
	if rt.Name != "" {
		return rt.Name
	}
	if cr := rt.Val.GetColumnRef(); cr != nil {
		for _, f := range cr.Fields {
			if s := f.GetString_(); s != nil {
				return s.GetSval()
			}
		}
	}
	if fc := rt.Val.GetFuncCall(); fc != nil {
		return functionName(fc)
	}
	return "?column?"
}

type sliceStream struct {
	rows [][]codec.Cell
	pos  int
}

func newSliceStream(rows [][]codec.Cell) *sliceStream { return &sliceStream{rows: rows} }

func (s *sliceStream) Next() ([]codec.Cell, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *sliceStream) Close() error { return nil }
