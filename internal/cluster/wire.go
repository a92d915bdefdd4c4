package cluster

import (
	"errors"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/plans"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/sqlvalue"
)

// typeOID maps an engine data type onto the wire OID clients expect. The
// smuggled types surface as their real selves here: Jsonb as jsonb, Vector
// as text (clients without a vector extension still render the bracketed
// form).
func typeOID(dt schema.DataType) uint32 {
	switch dt.Kind {
	case schema.Boolean:
		return pgtype.BoolOID
	case schema.Binary:
		return pgtype.ByteaOID
	case schema.Int32:
		return pgtype.Int4OID
	case schema.Int64, schema.UInt64:
		return pgtype.Int8OID
	case schema.Varchar:
		return pgtype.VarcharOID
	case schema.Float32:
		return pgtype.Float4OID
	case schema.Float64:
		return pgtype.Float8OID
	case schema.Decimal:
		return pgtype.NumericOID
	case schema.Jsonb:
		return pgtype.JSONBOID
	default:
		return pgtype.TextOID
	}
}

func rowDescription(cols []plans.Column) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, c := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(c.Name),
			DataTypeOID:  typeOID(c.Type),
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       0,
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

func dataRow(cells []codec.Cell) *pgproto3.DataRow {
	values := make([][]byte, len(cells))
	for i, c := range cells {
		if c.IsNull {
			values[i] = nil
			continue
		}
		values[i] = []byte(sqlvalue.Format(c))
	}
	return &pgproto3.DataRow{Values: values}
}

// errorResponse maps an engine error onto the wire. arenaerrors carry
// their SQLSTATE; anything else is an internal XX000.
func errorResponse(err error) *pgproto3.ErrorResponse {
	var ae *arenaerrors.Error
	if errors.As(err, &ae) {
		return &pgproto3.ErrorResponse{
			Severity: ae.Severity,
			Code:     ae.Code,
			Message:  ae.Message,
		}
	}
	return &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "XX000",
		Message:  err.Error(),
	}
}
