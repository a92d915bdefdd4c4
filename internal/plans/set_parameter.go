package plans

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
)

// setParameter records a session-scoped SET. Parameters are stored as
// text; the engine doesn't interpret them beyond round-tripping SHOW-style
// reads (and client libraries set several at connect time).
func setParameter(env Env, stmt *pg_query.VariableSetStmt) (*Result, error) {
	switch stmt.Kind {
	case pg_query.VariableSetKind_VAR_SET_VALUE, pg_query.VariableSetKind_VAR_SET_DEFAULT:
		var parts []string
		for _, a := range stmt.Args {
			v, err := setValueText(a)
			if err != nil {
				return nil, err
			}
			parts = append(parts, v)
		}
		env.Session.SetParameter(stmt.Name, strings.Join(parts, ", "))
		return commandResult("SET"), nil
	case pg_query.VariableSetKind_VAR_RESET:
		env.Session.SetParameter(stmt.Name, "")
		return commandResult("RESET"), nil
	default:
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported SET variant")
	}
}

func setValueText(node *pg_query.Node) (string, error) {
	if ac := node.GetAConst(); ac != nil {
		switch {
		case ac.GetSval() != nil:
			return ac.GetSval().GetSval(), nil
		case ac.GetIval() != nil:
			return strconv.FormatInt(int64(ac.GetIval().GetIval()), 10), nil
		case ac.GetFval() != nil:
			return ac.GetFval().GetFval(), nil
		case ac.GetBoolval() != nil:
			if ac.GetBoolval().GetBoolval() {
				return "on", nil
			}
			return "off", nil
		}
	}
	if tc := node.GetTypeCast(); tc != nil {
		return setValueText(tc.Arg)
	}
	return "", arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported SET value")
}
