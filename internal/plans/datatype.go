package plans

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/schema"
)

// translateType maps a parse-tree type name to an engine DataType. JSONB
// and VECTOR(n) are first-class here even though they travel through the
// codec as reserved-precision decimals (internal/codec).
func translateType(tn *pg_query.TypeName) (schema.DataType, bool, error) {
	if tn == nil || len(tn.Names) == 0 {
		return schema.DataType{}, false, arenaerrors.New(arenaerrors.KindInvalidDataType, "column has no type")
	}
	name := strings.ToLower(tn.Names[len(tn.Names)-1].GetString_().GetSval())
	mods := typeMods(tn)

	serial := false
	switch name {
	case "bool", "boolean":
		return schema.DataType{Kind: schema.Boolean}, false, nil
	case "bytea":
		return schema.DataType{Kind: schema.Binary}, false, nil
	case "serial", "serial4":
		serial = true
		fallthrough
	case "int", "int4", "integer":
		return schema.DataType{Kind: schema.Int32}, serial, nil
	case "bigserial", "serial8":
		serial = true
		fallthrough
	case "int8", "bigint":
		return schema.DataType{Kind: schema.Int64}, serial, nil
	case "varchar", "character varying":
		dt := schema.DataType{Kind: schema.Varchar}
		if len(mods) > 0 {
			dt.VarcharLen = mods[0]
		}
		return dt, false, nil
	case "text":
		return schema.DataType{Kind: schema.Text}, false, nil
	case "float4", "real":
		return schema.DataType{Kind: schema.Float32}, false, nil
	case "float8", "double precision":
		return schema.DataType{Kind: schema.Float64}, false, nil
	case "numeric", "decimal":
		dt := schema.DataType{Kind: schema.Decimal}
		if len(mods) > 0 {
			dt.DecimalP = mods[0]
		}
		if len(mods) > 1 {
			dt.DecimalS = mods[1]
		}
		return dt, false, nil
	case "jsonb":
		return schema.DataType{Kind: schema.Jsonb}, false, nil
	case "vector":
		if len(mods) == 0 {
			return schema.DataType{}, false, arenaerrors.New(arenaerrors.KindInvalidDataType, "VECTOR requires a length")
		}
		n := mods[0]
		if n%4 != 0 || n < 4 || n > 5200 {
			return schema.DataType{}, false, arenaerrors.New(arenaerrors.KindInvalidDataType,
				"VECTOR length %d must be a multiple of 4 between 4 and 5200", n)
		}
		return schema.DataType{Kind: schema.Vector, VectorLen: n}, false, nil
	default:
		return schema.DataType{}, false, arenaerrors.New(arenaerrors.KindUnsupportedDataType, "type %q is not supported", name)
	}
}

func typeMods(tn *pg_query.TypeName) []int {
	var mods []int
	for _, m := range tn.Typmods {
		if ac := m.GetAConst(); ac != nil && ac.GetIval() != nil {
			mods = append(mods, int(ac.GetIval().GetIval()))
		}
	}
	return mods
}
