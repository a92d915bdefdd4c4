package plans

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/catalogusers"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
)

// singleFunctionTarget detects the SELECT <function>(...) shape that
// carries the engine's SQL-function surface: advisory locks and the
// catalog-users registry operations.
func singleFunctionTarget(sel *pg_query.SelectStmt) *pg_query.FuncCall {
	if len(sel.FromClause) != 0 || len(sel.TargetList) != 1 || sel.WhereClause != nil {
		return nil
	}
	rt := sel.TargetList[0].GetResTarget()
	if rt == nil {
		return nil
	}
	fn := rt.Val.GetFuncCall()
	if fn == nil {
		return nil
	}
	switch functionName(fn) {
	case "pg_advisory_lock", "pg_advisory_unlock",
		"arena_set_catalog_user_credentials", "arena_list_catalog_user_credentials":
		return fn
	}
	return nil
}

func functionName(fn *pg_query.FuncCall) string {
	if len(fn.Funcname) == 0 {
		return ""
	}
	return strings.ToLower(fn.Funcname[len(fn.Funcname)-1].GetString_().GetSval())
}

func executeFunction(env Env, fn *pg_query.FuncCall) (*Result, error) {
	switch name := functionName(fn); name {
	case "pg_advisory_lock":
		return advisoryLock(env, fn)
	case "pg_advisory_unlock":
		return advisoryUnlock(env, fn)
	case "arena_set_catalog_user_credentials":
		return setCatalogUserCredentials(env, fn)
	case "arena_list_catalog_user_credentials":
		return listCatalogUserCredentials(env, fn)
	default:
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedQuery, "function %q is not supported", name)
	}
}

// advisoryLockID parses the lock id from a literal or a parameter
// placeholder.
func advisoryLockID(env Env, fn *pg_query.FuncCall) (int64, error) {
	if len(fn.Args) != 1 {
		return 0, arenaerrors.New(arenaerrors.KindInvalidQuery, "%s takes exactly one argument", functionName(fn))
	}
	return lockIDFromNode(env, fn.Args[0])
}

func lockIDFromNode(env Env, arg *pg_query.Node) (int64, error) {
	switch {
	case arg.GetAConst() != nil && arg.GetAConst().GetIval() != nil:
		return int64(arg.GetAConst().GetIval().GetIval()), nil
	case arg.GetAConst() != nil && arg.GetAConst().GetSval() != nil:
		v, err := strconv.ParseInt(arg.GetAConst().GetSval().GetSval(), 10, 64)
		if err != nil {
			return 0, arenaerrors.New(arenaerrors.KindInvalidQuery, "invalid advisory lock id")
		}
		return v, nil
	case arg.GetParamRef() != nil:
		s, ok := env.params().Param(int(arg.GetParamRef().Number))
		if !ok {
			return 0, arenaerrors.New(arenaerrors.KindInvalidQuery, "parameter $%d is not bound", arg.GetParamRef().Number)
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, arenaerrors.New(arenaerrors.KindInvalidQuery, "invalid advisory lock id %q", s)
		}
		return v, nil
	case arg.GetTypeCast() != nil:
		return lockIDFromNode(env, arg.GetTypeCast().Arg)
	default:
		return 0, arenaerrors.New(arenaerrors.KindInvalidQuery, "advisory lock id must be a literal or parameter")
	}
}

// advisoryLock blocks until the catalog-wide lock is held. Acquiring a
// second concurrent lock in the same session fails loudly; the session
// enforces that in AcquireAdvisoryLock.
func advisoryLock(env Env, fn *pg_query.FuncCall) (*Result, error) {
	id, err := advisoryLockID(env, fn)
	if err != nil {
		return nil, err
	}
	if err := env.Session.AcquireAdvisoryLock(env.Ctx, id); err != nil {
		return nil, err
	}
	return &Result{
		Columns: []Column{{Name: "pg_advisory_lock", Type: schema.DataType{Kind: schema.Text}}},
		Rows:    newSliceStream([][]codec.Cell{{{Kind: schema.Text, Bytes: []byte("")}}}),
		Tag:     "SELECT",
	}, nil
}

func advisoryUnlock(env Env, fn *pg_query.FuncCall) (*Result, error) {
	id, err := advisoryLockID(env, fn)
	if err != nil {
		return nil, err
	}
	released, err := env.Session.ReleaseAdvisoryLock(id)
	if err != nil {
		return nil, err
	}
	return &Result{
		Columns: []Column{{Name: "pg_advisory_unlock", Type: schema.DataType{Kind: schema.Boolean}}},
		Rows:    newSliceStream([][]codec.Cell{{{Kind: schema.Boolean, Bool: released}}}),
		Tag:     "SELECT",
	}, nil
}

func functionTextArg(env Env, fn *pg_query.FuncCall, pos int) (string, error) {
	if pos >= len(fn.Args) {
		return "", arenaerrors.New(arenaerrors.KindInvalidQuery, "%s: missing argument %d", functionName(fn), pos+1)
	}
	arg := fn.Args[pos]
	switch {
	case arg.GetAConst() != nil && arg.GetAConst().GetSval() != nil:
		return arg.GetAConst().GetSval().GetSval(), nil
	case arg.GetParamRef() != nil:
		s, ok := env.params().Param(int(arg.GetParamRef().Number))
		if !ok {
			return "", arenaerrors.New(arenaerrors.KindInvalidQuery, "parameter $%d is not bound", arg.GetParamRef().Number)
		}
		return s, nil
	default:
		return "", arenaerrors.New(arenaerrors.KindInvalidQuery, "%s: argument %d must be a string", functionName(fn), pos+1)
	}
}

func setCatalogUserCredentials(env Env, fn *pg_query.FuncCall) (*Result, error) {
	if len(fn.Args) != 3 {
		return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "arena_set_catalog_user_credentials(catalog, user, password)")
	}
	catalogName, err := functionTextArg(env, fn, 0)
	if err != nil {
		return nil, err
	}
	userName, err := functionTextArg(env, fn, 1)
	if err != nil {
		return nil, err
	}
	password, err := functionTextArg(env, fn, 2)
	if err != nil {
		return nil, err
	}
	return withLock(env, true, func() (*Result, error) {
		if err := catalogusers.Set(env.Txn, catalogName, userName, password); err != nil {
			return nil, err
		}
		return &Result{
			Columns: []Column{{Name: "arena_set_catalog_user_credentials", Type: schema.DataType{Kind: schema.Boolean}}},
			Rows:    newSliceStream([][]codec.Cell{{{Kind: schema.Boolean, Bool: true}}}),
			Tag:     "SELECT",
		}, nil
	})
}

func listCatalogUserCredentials(env Env, fn *pg_query.FuncCall) (*Result, error) {
	if len(fn.Args) != 1 {
		return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "arena_list_catalog_user_credentials(catalog)")
	}
	catalogName, err := functionTextArg(env, fn, 0)
	if err != nil {
		return nil, err
	}
	// exclusive, not shared: List bootstraps the arena_catalog.users table
	// on first use, which is a schema write
	var creds []catalogusers.Credentials
	_, err = withLock(env, true, func() (*Result, error) {
		var err error
		creds, err = catalogusers.List(env.Txn, catalogName)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	rows := make([][]codec.Cell, len(creds))
	for i, c := range creds {
		rows[i] = []codec.Cell{
			{Kind: schema.Text, Bytes: []byte(c.Catalog)},
			{Kind: schema.Text, Bytes: []byte(c.Username)},
			{Kind: schema.Text, Bytes: []byte(c.Password)},
		}
	}
	return &Result{
		Columns: []Column{
			{Name: "catalog", Type: schema.DataType{Kind: schema.Text}},
			{Name: "username", Type: schema.DataType{Kind: schema.Text}},
			{Name: "password", Type: schema.DataType{Kind: schema.Text}},
		},
		Rows: newSliceStream(rows),
		Tag:  "SELECT",
	}, nil
}
