// Package sqlvalue converts between SQL-surface values (parse-tree
// constants, wire-protocol text parameters) and codec cells, and supplies
// the comparison/formatting primitives the filter evaluator and the wire
// layer share.
package sqlvalue

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/schema"
)

// FromConst converts a parse-tree constant to a cell of the column's type.
func FromConst(ac *pg_query.A_Const, dt schema.DataType) (codec.Cell, error) {
	if ac.GetIsnull() {
		return codec.NullCell(dt.Kind), nil
	}
	switch {
	case ac.GetIval() != nil:
		return fromInt(int64(ac.GetIval().GetIval()), dt)
	case ac.GetFval() != nil:
		return FromText(ac.GetFval().GetFval(), dt)
	case ac.GetBoolval() != nil:
		if dt.Kind != schema.Boolean {
			return codec.Cell{}, typeMismatch("boolean", dt)
		}
		return codec.Cell{Kind: schema.Boolean, Bool: ac.GetBoolval().GetBoolval()}, nil
	case ac.GetSval() != nil:
		return FromText(ac.GetSval().GetSval(), dt)
	default:
		return codec.Cell{}, arenaerrors.New(arenaerrors.KindUnsupportedDataType, "unsupported constant")
	}
}

func fromInt(v int64, dt schema.DataType) (codec.Cell, error) {
	switch dt.Kind {
	case schema.Int32:
		return codec.Cell{Kind: schema.Int32, Int32: int32(v)}, nil
	case schema.Int64:
		return codec.Cell{Kind: schema.Int64, Int64: v}, nil
	case schema.UInt64:
		return codec.Cell{Kind: schema.UInt64, UInt64: uint64(v)}, nil
	case schema.Float32:
		return codec.Cell{Kind: schema.Float32, Float32: float32(v)}, nil
	case schema.Float64:
		return codec.Cell{Kind: schema.Float64, Float64: float64(v)}, nil
	case schema.Decimal:
		return decimalCell(strconv.FormatInt(v, 10), dt), nil
	case schema.Boolean:
		return codec.Cell{Kind: schema.Boolean, Bool: v != 0}, nil
	case schema.Varchar, schema.Text:
		return textCell(strconv.FormatInt(v, 10), dt)
	default:
		return codec.Cell{}, typeMismatch("integer", dt)
	}
}

// FromText converts a text-format value (string literal or extended-protocol
// parameter) to a cell of the column's type.
func FromText(s string, dt schema.DataType) (codec.Cell, error) {
	switch dt.Kind {
	case schema.Boolean:
		switch strings.ToLower(s) {
		case "t", "true", "1", "yes", "on":
			return codec.Cell{Kind: schema.Boolean, Bool: true}, nil
		case "f", "false", "0", "no", "off":
			return codec.Cell{Kind: schema.Boolean, Bool: false}, nil
		}
		return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid boolean value %q", s)
	case schema.Binary:
		return codec.Cell{Kind: schema.Binary, Bytes: []byte(s)}, nil
	case schema.Int32:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid int4 value %q", s)
		}
		return codec.Cell{Kind: schema.Int32, Int32: int32(v)}, nil
	case schema.Int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid int8 value %q", s)
		}
		return codec.Cell{Kind: schema.Int64, Int64: v}, nil
	case schema.UInt64:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid uint8 value %q", s)
		}
		return codec.Cell{Kind: schema.UInt64, UInt64: v}, nil
	case schema.Float32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid float4 value %q", s)
		}
		return codec.Cell{Kind: schema.Float32, Float32: float32(v)}, nil
	case schema.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid float8 value %q", s)
		}
		return codec.Cell{Kind: schema.Float64, Float64: v}, nil
	case schema.Decimal:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid numeric value %q", s)
		}
		return decimalCell(s, dt), nil
	case schema.Varchar, schema.Text:
		return textCell(s, dt)
	case schema.Jsonb:
		return codec.JsonbCell([]byte(s)), nil
	case schema.Vector:
		return vectorFromText(s, dt.VectorLen)
	default:
		return codec.Cell{}, typeMismatch("text", dt)
	}
}

func textCell(s string, dt schema.DataType) (codec.Cell, error) {
	if dt.Kind == schema.Varchar {
		if dt.VarcharLen > 0 && len([]rune(s)) > dt.VarcharLen {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType,
				"value too long for type character varying(%d)", dt.VarcharLen)
		}
		return codec.Cell{Kind: schema.Varchar, Bytes: []byte(s)}, nil
	}
	return codec.Cell{Kind: schema.Text, Bytes: []byte(s)}, nil
}

func decimalCell(s string, dt schema.DataType) codec.Cell {
	return codec.Cell{
		Kind:             schema.Decimal,
		DecimalPrecision: dt.DecimalP,
		DecimalScale:     dt.DecimalS,
		Bytes:            []byte(s),
	}
}

// vectorFromText accepts both the bracketed "[1,2,3,4]" and the braced
// "{1,2,3,4}" component syntax.
func vectorFromText(s string, wantLen int) (codec.Cell, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimSuffix(trimmed, "]"), "[")
	trimmed = strings.TrimPrefix(strings.TrimSuffix(trimmed, "}"), "{")
	parts := strings.Split(trimmed, ",")
	if trimmed == "" {
		parts = nil
	}
	if wantLen > 0 && len(parts) != wantLen {
		return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType,
			"vector has %d components, expected %d", len(parts), wantLen)
	}
	components := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return codec.Cell{}, arenaerrors.New(arenaerrors.KindInvalidDataType, "invalid vector component %q", p)
		}
		components[i] = float32(v)
	}
	return codec.VectorCell(components), nil
}

// Format renders a cell as its wire-protocol text representation. Null
// cells are the caller's problem (the wire layer writes a -1 length).
func Format(c codec.Cell) string {
	if c.IsNull {
		return ""
	}
	switch c.Kind {
	case schema.Boolean:
		if c.Bool {
			return "t"
		}
		return "f"
	case schema.Int32:
		return strconv.FormatInt(int64(c.Int32), 10)
	case schema.Int64:
		return strconv.FormatInt(c.Int64, 10)
	case schema.UInt64:
		return strconv.FormatUint(c.UInt64, 10)
	case schema.Float32:
		return strconv.FormatFloat(float64(c.Float32), 'g', -1, 32)
	case schema.Float64:
		return strconv.FormatFloat(c.Float64, 'g', -1, 64)
	case schema.Vector:
		return formatVector(c.Bytes)
	default:
		return string(c.Bytes)
	}
}

func formatVector(raw []byte) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i+4 <= len(raw); i += 4 {
		if i > 0 {
			b.WriteByte(',')
		}
		bits := uint32(raw[i])<<24 | uint32(raw[i+1])<<16 | uint32(raw[i+2])<<8 | uint32(raw[i+3])
		b.WriteString(strconv.FormatFloat(float64(math.Float32frombits(bits)), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Compare orders two non-null cells of the same kind: -1, 0, or +1.
func Compare(a, b codec.Cell) (int, error) {
	if a.IsNull || b.IsNull {
		return 0, arenaerrors.New(arenaerrors.KindInternalError, "cannot compare null cells")
	}
	switch a.Kind {
	case schema.Boolean:
		return boolCompare(a.Bool, b.Bool), nil
	case schema.Int32:
		return intCompare(int64(a.Int32), int64(b.Int32)), nil
	case schema.Int64:
		return intCompare(a.Int64, b.Int64), nil
	case schema.UInt64:
		switch {
		case a.UInt64 < b.UInt64:
			return -1, nil
		case a.UInt64 > b.UInt64:
			return 1, nil
		}
		return 0, nil
	case schema.Float32:
		return floatCompare(float64(a.Float32), float64(b.Float32)), nil
	case schema.Float64:
		return floatCompare(a.Float64, b.Float64), nil
	case schema.Decimal:
		av, _ := strconv.ParseFloat(string(a.Bytes), 64)
		bv, _ := strconv.ParseFloat(string(b.Bytes), 64)
		return floatCompare(av, bv), nil
	case schema.Binary, schema.Varchar, schema.Text, schema.Jsonb, schema.Vector:
		return bytes.Compare(a.Bytes, b.Bytes), nil
	default:
		return 0, arenaerrors.New(arenaerrors.KindUnsupportedDataType, "cannot compare %s cells", a.Kind)
	}
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// LikeMatch evaluates a SQL LIKE pattern (% and _ wildcards) against s.
func LikeMatch(s, pattern string) bool {
	var re strings.Builder
	re.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteByte('.')
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re.WriteByte('$')
	matched, err := regexp.MatchString(re.String(), s)
	return err == nil && matched
}

func typeMismatch(got string, dt schema.DataType) *arenaerrors.Error {
	return arenaerrors.New(arenaerrors.KindInvalidDataType, "%s value is not assignable to column of type %s", got, dt.Kind)
}
