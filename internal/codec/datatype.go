package codec

import (
	"encoding/binary"
	"math"

	"github.com/arenadb/arenasql/internal/schema"
)

// SQL type systems this engine interoperates with have no native Jsonb or
// Vector type, so both are smuggled through as Decimal256(p,s) using a
// reserved precision range that can't arise from a real decimal column.
// Decimal precision is at most 76 in realistic SQL dialects, so [238,252)
// is free for this purpose:
//
//	precision == jsonbDiscriminator            -> Jsonb
//	precision in [vectorDiscriminatorBase, 252) -> Vector
//
// The Vector precision is vectorDiscriminatorBase + (len/4) mod 13, so it
// marks the cell as a Vector but does not carry its length; the length
// comes from the column's VectorLen.
const (
	jsonbDiscriminator      = 238
	vectorDiscriminatorBase = 239
	vectorDiscriminatorMax  = 252
	maxVectorLenUnits       = vectorDiscriminatorMax - vectorDiscriminatorBase // 13
)

// EncodeVectorPrecision maps a VECTOR(n) length to the reserved Decimal
// precision discriminator. n must already be validated (multiple of 4,
// 4 <= n <= 5200) by the caller (internal/plans' CREATE TABLE handling).
func EncodeVectorPrecision(n int) int {
	return vectorDiscriminatorBase + (n/4)%maxVectorLenUnits
}

// decimalDiscriminatorKind classifies a decoded Decimal precision back into
// Jsonb, Vector, or plain Decimal.
func decimalDiscriminatorKind(precision int) schema.DataTypeKind {
	switch {
	case precision == jsonbDiscriminator:
		return schema.Jsonb
	case precision >= vectorDiscriminatorBase && precision < vectorDiscriminatorMax:
		return schema.Vector
	default:
		return schema.Decimal
	}
}

// JsonbCell builds the Decimal-smuggled encoding of a JSON document.
func JsonbCell(raw []byte) Cell {
	return Cell{Kind: schema.Jsonb, DecimalPrecision: jsonbDiscriminator, Bytes: raw}
}

// VectorCell builds the Decimal-smuggled encoding of a fixed-length float32
// vector, stored as big-endian float32 components back-to-back.
func VectorCell(components []float32) Cell {
	buf := make([]byte, 4*len(components))
	for i, v := range components {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return Cell{
		Kind:             schema.Vector,
		DecimalPrecision: EncodeVectorPrecision(len(components)),
		Bytes:            buf,
	}
}
