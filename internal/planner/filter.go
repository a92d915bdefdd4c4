// Package planner implements predicate capture and cost-based index
// selection. The SQL surface is parsed by pganalyze/pg_query_go; this
// package normalizes WHERE-clause conjuncts into the six filter shapes the
// scanner understands.
package planner

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/sqlvalue"
)

type FilterKind uint8

const (
	BinaryExpr FilterKind = iota
	IsNotNull
	Like
	IsNull
	IsTrue
	IsFalse
)

// Filter is one normalized WHERE-clause conjunct. At most one projected
// column per filter is supported in this version.
type Filter struct {
	Kind             FilterKind
	ProjectedColumns []int // ordinals into the table's column list

	// BinaryExpr only.
	Op      string      // "=", "<>", "<", "<=", ">", ">="
	Literal *codec.Cell // the constant side, nil if both sides are columns

	// Like only.
	Pattern string
	Negated bool
}

// ParamSource resolves extended-protocol placeholders ($1, ...) to their
// text-format values.
type ParamSource interface {
	Param(n int) (string, bool)
}

// FromWhereClause flattens an AND tree into filters. A conjunct outside
// the supported shapes fails with UnsupportedQueryFilter; the session
// surfaces that instead of silently scanning without the predicate.
func FromWhereClause(table *schema.Table, where *pg_query.Node, params ParamSource) ([]Filter, error) {
	if where == nil {
		return nil, nil
	}
	conjuncts := flattenAnd(where)
	filters := make([]Filter, 0, len(conjuncts))
	for _, c := range conjuncts {
		f, err := fromExpr(table, c, params)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func flattenAnd(node *pg_query.Node) []*pg_query.Node {
	if be := node.GetBoolExpr(); be != nil && be.Boolop == pg_query.BoolExprType_AND_EXPR {
		var out []*pg_query.Node
		for _, arg := range be.Args {
			out = append(out, flattenAnd(arg)...)
		}
		return out
	}
	return []*pg_query.Node{node}
}

func fromExpr(table *schema.Table, node *pg_query.Node, params ParamSource) (Filter, error) {
	switch {
	case node.GetAExpr() != nil:
		return fromAExpr(table, node.GetAExpr(), params)
	case node.GetNullTest() != nil:
		nt := node.GetNullTest()
		ord, err := columnOrdinal(table, nt.Arg)
		if err != nil {
			return Filter{}, err
		}
		kind := IsNull
		if nt.Nulltesttype == pg_query.NullTestType_IS_NOT_NULL {
			kind = IsNotNull
		}
		return Filter{Kind: kind, ProjectedColumns: []int{ord}}, nil
	case node.GetBooleanTest() != nil:
		bt := node.GetBooleanTest()
		ord, err := columnOrdinal(table, bt.Arg)
		if err != nil {
			return Filter{}, err
		}
		switch bt.Booltesttype {
		case pg_query.BoolTestType_IS_TRUE:
			return Filter{Kind: IsTrue, ProjectedColumns: []int{ord}}, nil
		case pg_query.BoolTestType_IS_FALSE:
			return Filter{Kind: IsFalse, ProjectedColumns: []int{ord}}, nil
		}
		return Filter{}, unsupportedFilter(node)
	case node.GetColumnRef() != nil:
		// bare boolean column in WHERE
		ord, err := columnOrdinal(table, node)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Kind: IsTrue, ProjectedColumns: []int{ord}}, nil
	default:
		return Filter{}, unsupportedFilter(node)
	}
}

func fromAExpr(table *schema.Table, e *pg_query.A_Expr, params ParamSource) (Filter, error) {
	op := ""
	if len(e.Name) > 0 {
		op = e.Name[0].GetString_().GetSval()
	}
	switch e.Kind {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		switch op {
		case "=", "<>", "!=", "<", "<=", ">", ">=":
		default:
			return Filter{}, unsupportedFilter(nil)
		}
		if op == "!=" {
			op = "<>"
		}
		colNode, litNode := e.Lexpr, e.Rexpr
		if colNode.GetColumnRef() == nil && litNode.GetColumnRef() != nil {
			colNode, litNode = litNode, colNode
			op = flipOperator(op)
		}
		ord, err := columnOrdinal(table, colNode)
		if err != nil {
			return Filter{}, err
		}
		f := Filter{Kind: BinaryExpr, Op: op, ProjectedColumns: []int{ord}}
		lit, ok, err := literalCell(litNode, table.Columns[ord].DataType, params)
		if err != nil {
			return Filter{}, err
		}
		if ok {
			f.Literal = &lit
		}
		return f, nil
	case pg_query.A_Expr_Kind_AEXPR_LIKE:
		ord, err := columnOrdinal(table, e.Lexpr)
		if err != nil {
			return Filter{}, err
		}
		lit, ok, err := literalCell(e.Rexpr, schema.DataType{Kind: schema.Text}, params)
		if err != nil || !ok {
			return Filter{}, unsupportedFilter(nil)
		}
		return Filter{
			Kind:             Like,
			ProjectedColumns: []int{ord},
			Pattern:          string(lit.Bytes),
			Negated:          op == "!~~",
		}, nil
	default:
		return Filter{}, unsupportedFilter(nil)
	}
}

func flipOperator(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	}
	return op
}

func columnOrdinal(table *schema.Table, node *pg_query.Node) (int, error) {
	cr := node.GetColumnRef()
	if cr == nil {
		return 0, unsupportedFilter(node)
	}
	var name string
	for _, field := range cr.Fields {
		if s := field.GetString_(); s != nil {
			name = s.GetSval()
		}
	}
	if name == "" {
		return 0, unsupportedFilter(node)
	}
	_, ord, ok := table.ColumnByName(name)
	if !ok {
		return 0, arenaerrors.New(arenaerrors.KindColumnDoesntExist, "column %q does not exist in table %q", name, table.Name)
	}
	return ord, nil
}

func literalCell(node *pg_query.Node, dt schema.DataType, params ParamSource) (codec.Cell, bool, error) {
	switch {
	case node.GetAConst() != nil:
		c, err := sqlvalue.FromConst(node.GetAConst(), dt)
		return c, err == nil, err
	case node.GetParamRef() != nil && params != nil:
		v, ok := params.Param(int(node.GetParamRef().Number))
		if !ok {
			return codec.Cell{}, false, arenaerrors.New(arenaerrors.KindInvalidQuery, "parameter $%d is not bound", node.GetParamRef().Number)
		}
		c, err := sqlvalue.FromText(v, dt)
		return c, err == nil, err
	case node.GetTypeCast() != nil:
		return literalCell(node.GetTypeCast().Arg, dt, params)
	default:
		return codec.Cell{}, false, nil
	}
}

func unsupportedFilter(node *pg_query.Node) *arenaerrors.Error {
	desc := "expression"
	if node != nil {
		desc = strings.TrimSpace(node.String())
		if len(desc) > 120 {
			desc = desc[:120]
		}
	}
	return arenaerrors.New(arenaerrors.KindUnsupportedQueryFilter, "unsupported query filter: %s", desc)
}

// IsEq reports whether the filter is an equality comparison with a bound
// literal, the only shape pushed down as an index key prefix.
func (f Filter) IsEq() bool {
	return f.Kind == BinaryExpr && f.Op == "=" && f.Literal != nil
}

// EqLiteralFor returns the equality literal constraining the given table
// column ordinal, if this filter provides one.
func (f Filter) EqLiteralFor(ordinal int) (*codec.Cell, bool) {
	if !f.IsEq() {
		return nil, false
	}
	for _, c := range f.ProjectedColumns {
		if c == ordinal {
			return f.Literal, true
		}
	}
	return nil, false
}

// Matches evaluates the filter against a full row of table cells.
func (f Filter) Matches(cells []codec.Cell) (bool, error) {
	ord := f.ProjectedColumns[0]
	var cell codec.Cell
	if ord < len(cells) {
		cell = cells[ord]
	} else {
		cell = codec.Cell{IsNull: true}
	}

	switch f.Kind {
	case IsNull:
		return cell.IsNull, nil
	case IsNotNull:
		return !cell.IsNull, nil
	case IsTrue:
		return !cell.IsNull && cell.Bool, nil
	case IsFalse:
		return !cell.IsNull && !cell.Bool, nil
	case Like:
		if cell.IsNull {
			return false, nil
		}
		m := sqlvalue.LikeMatch(string(cell.Bytes), f.Pattern)
		if f.Negated {
			return !m, nil
		}
		return m, nil
	case BinaryExpr:
		if f.Literal == nil {
			return false, arenaerrors.New(arenaerrors.KindUnsupportedQueryFilter, "comparison without a literal operand")
		}
		if cell.IsNull {
			return false, nil
		}
		cmp, err := sqlvalue.Compare(cell, *f.Literal)
		if err != nil {
			return false, err
		}
		switch f.Op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, arenaerrors.New(arenaerrors.KindUnsupportedQueryFilter, "unsupported filter evaluation")
}
