// Package plans implements the statement execution plans: CREATE
// TABLE/INDEX, ALTER TABLE ADD COLUMN, advisory locks, SET, and the
// INSERT/UPDATE/DELETE/SELECT physical plans. Statements arrive as
// pganalyze/pg_query_go parse trees; each plan executes against the
// transaction's storage and returns a Result whose row stream the session
// couples to commit.
package plans

import (
	"context"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/sqlvalue"
)

// Column describes one result column.
type Column struct {
	Name string
	Type schema.DataType
}

// RowStream yields result rows. Next returns ok=false at end of stream;
// Close releases the underlying iterator and is idempotent.
type RowStream interface {
	Next() ([]codec.Cell, bool, error)
	Close() error
}

// Result is one statement's outcome: a row stream for queries, a command
// tag for everything. The wire layer appends the row count to a bare
// "SELECT" tag after draining.
type Result struct {
	Columns []Column
	Rows    RowStream
	Tag     string
}

// SessionHooks is the slice of session state plans need: identity, SET
// parameters, and advisory lock bookkeeping (at most one held per session).
type SessionHooks interface {
	SessionID() uint64
	SetParameter(name, value string)
	AcquireAdvisoryLock(ctx context.Context, id int64) error
	ReleaseAdvisoryLock(id int64) (bool, error)
}

// Env carries everything a plan executes against.
type Env struct {
	Ctx           context.Context
	Txn           *catalog.Transaction
	DefaultSchema string
	// Params are extended-protocol text-format parameter values; nil for
	// simple queries.
	Params  [][]byte
	Session SessionHooks
	Logger  *zap.Logger
}

type textParams [][]byte

func (p textParams) Param(n int) (string, bool) {
	if n < 1 || n > len(p) || p[n-1] == nil {
		return "", false
	}
	return string(p[n-1]), true
}

func (e Env) params() textParams { return textParams(e.Params) }

func (e Env) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Execute dispatches a single parsed statement to its plan. Every plan
// that touches storage holds the transaction handle's lock for the
// duration of its storage access: writers and DDL take the exclusive
// lock, scans share it (selectRows manages its own shared lock because it
// must outlive the call, riding the row stream until Close).
func Execute(env Env, stmt *pg_query.Node) (*Result, error) {
	switch {
	case stmt.GetCreateStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return createTable(env, stmt.GetCreateStmt()) })
	case stmt.GetIndexStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return createIndex(env, stmt.GetIndexStmt()) })
	case stmt.GetAlterTableStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return alterTable(env, stmt.GetAlterTableStmt()) })
	case stmt.GetInsertStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return insertRows(env, stmt.GetInsertStmt()) })
	case stmt.GetUpdateStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return updateRows(env, stmt.GetUpdateStmt()) })
	case stmt.GetDeleteStmt() != nil:
		return withLock(env, true, func() (*Result, error) { return deleteRows(env, stmt.GetDeleteStmt()) })
	case stmt.GetVariableSetStmt() != nil:
		return setParameter(env, stmt.GetVariableSetStmt())
	case stmt.GetSelectStmt() != nil:
		return selectRows(env, stmt.GetSelectStmt())
	default:
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "statement is not supported")
	}
}

// withLock runs fn while holding the transaction handle's lock: exclusive
// for writers, shared for readers. The lock covers exactly the storage
// access; it is released before the session commits.
func withLock(env Env, exclusive bool, fn func() (*Result, error)) (*Result, error) {
	if err := env.Txn.Handle().Lock(exclusive); err != nil {
		return nil, err
	}
	defer env.Txn.Handle().Unlock()
	return fn()
}

// DescribeColumns reports the result shape of a statement without running
// it, for extended-protocol Describe. Statements without a row-returning
// shape report nil columns.
func DescribeColumns(env Env, stmt *pg_query.Node) ([]Column, error) {
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return nil, nil
	}
	if fn := singleFunctionTarget(sel); fn != nil {
		name := functionName(fn)
		return []Column{{Name: name, Type: schema.DataType{Kind: schema.Text}}}, nil
	}
	if len(sel.FromClause) == 0 {
		cols := make([]Column, len(sel.TargetList))
		for i, t := range sel.TargetList {
			cols[i] = Column{Name: targetName(t.GetResTarget(), i), Type: schema.DataType{Kind: schema.Text}}
		}
		return cols, nil
	}
	table, _, err := resolveFromClause(env, sel)
	if err != nil {
		return nil, err
	}
	projection, names, err := resolveProjection(table, sel.TargetList)
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(projection))
	for i, ord := range projection {
		cols[i] = Column{Name: names[i], Type: table.Columns[ord].DataType}
	}
	return cols, nil
}

// resolveRelation applies the session's default schema to an unqualified
// relation name.
func resolveRelation(env Env, rv *pg_query.RangeVar) (schemaName, tableName string) {
	schemaName = rv.Schemaname
	if schemaName == "" {
		schemaName = env.DefaultSchema
	}
	return schemaName, rv.Relname
}

// mustGetTable resolves a relation or fails with RelationDoesntExist.
func mustGetTable(env Env, rv *pg_query.RangeVar) (*schema.Table, string, error) {
	schemaName, tableName := resolveRelation(env, rv)
	table, ok, err := env.Txn.GetTable(schemaName, tableName)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", arenaerrors.New(arenaerrors.KindRelationDoesntExist, "relation %q does not exist", tableName)
	}
	return table, schemaName, nil
}

// evalConstExpr evaluates a constant-valued expression (literal, bound
// parameter, or a cast of either) to a cell of the target type.
func evalConstExpr(env Env, node *pg_query.Node, dt schema.DataType) (codec.Cell, error) {
	switch {
	case node == nil:
		return codec.NullCell(dt.Kind), nil
	case node.GetAConst() != nil:
		return sqlvalue.FromConst(node.GetAConst(), dt)
	case node.GetParamRef() != nil:
		v, ok := env.params().Param(int(node.GetParamRef().Number))
		if !ok {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidQuery,
				"parameter $%d is not bound", node.GetParamRef().Number)
		}
		return sqlvalue.FromText(v, dt)
	case node.GetTypeCast() != nil:
		return evalConstExpr(env, node.GetTypeCast().Arg, dt)
	case node.GetSetToDefault() != nil:
		return codec.NullCell(dt.Kind), nil
	default:
		return codec.Cell{}, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "expression is not a constant")
	}
}

func commandResult(tag string) *Result { return &Result{Tag: tag} }

func countTag(verb string, n int) string { return fmt.Sprintf("%s %d", verb, n) }
