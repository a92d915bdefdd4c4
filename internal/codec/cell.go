// Package codec is the byte-stable binary encoding for cells, rows, and
// composite keys. It is hand-rolled on encoding/binary rather than a
// general-purpose serialization library: none of protobuf, msgpack, or gob
// produce a lexicographically comparable, null-distinguishing,
// length-patchable composite key, which is exactly what an index key needs.
// CockroachDB's `encoding` package and TiDB's `codec` package solve the
// same problem the same way for the same reason.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arenadb/arenasql/internal/schema"
)

// tag identifies a cell's wire representation. Null has its own tag so it
// is always distinguishable from a zero value of any type; the non-null
// constraint check depends on this.
type tag byte

const (
	tagNull tag = iota
	tagBool
	tagBinary
	tagInt32
	tagInt64
	tagUInt64
	tagVarchar
	tagText
	tagFloat32
	tagFloat64
	tagDecimal
)

// Cell is a tagged union over schema.DataType. Exactly one of the typed
// fields is meaningful, selected by IsNull/Kind.
type Cell struct {
	IsNull bool
	Kind   schema.DataTypeKind

	Bool    bool
	Bytes   []byte // Binary, Varchar, Text, Jsonb (raw JSON bytes), Decimal mantissa
	Int32   int32
	Int64   int64
	UInt64  uint64
	Float32 float32
	Float64 float64

	// DecimalPrecision/DecimalScale only populated for Decimal cells,
	// including the Jsonb/Vector smuggling encoding (see datatype.go).
	DecimalPrecision int
	DecimalScale     int
}

func NullCell(kind schema.DataTypeKind) Cell { return Cell{IsNull: true, Kind: kind} }

// MaxCellsPerRow is the hard ceiling the length-prefix byte can address.
// CREATE INDEX backfill and ordinary row encoding both assert against it.
const MaxCellsPerRow = 230

// EncodeCells serializes an ordered sequence of cells (a row, or an index's
// key columns) as: [1]byte length, then each cell's tag+payload in order.
// The length byte is what PatchColumnCount (below, called by rowiter's
// index scans) overwrites when an
// index's equality-prefix covers fewer columns than the index defines.
func EncodeCells(cells []Cell) ([]byte, error) {
	if len(cells) > MaxCellsPerRow {
		return nil, fmt.Errorf("codec: %d cells exceeds max %d", len(cells), MaxCellsPerRow)
	}
	buf := make([]byte, 0, 32*len(cells)+1)
	buf = append(buf, byte(len(cells)))
	for _, c := range cells {
		var err error
		buf, err = appendCell(buf, c)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// PatchColumnCount overwrites the leading length byte of an encoded cell
// sequence, used when an equality-filter prefix covers fewer columns than
// the full index arity but the scan must still match keys built with the
// full arity.
func PatchColumnCount(buf []byte, n byte) {
	if len(buf) > 0 {
		buf[0] = n
	}
}

func appendCell(buf []byte, c Cell) ([]byte, error) {
	if c.IsNull {
		return append(buf, byte(tagNull)), nil
	}
	switch c.Kind {
	case schema.Boolean:
		buf = append(buf, byte(tagBool))
		if c.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case schema.Binary:
		return appendBytesTagged(buf, tagBinary, c.Bytes), nil

	case schema.Int32:
		buf = append(buf, byte(tagInt32))
		var b [4]byte
		// Flip the sign bit so two's-complement values sort correctly as
		// unsigned big-endian bytes (invariant: numeric keys of the same
		// signedness must be lexicographically comparable).
		binary.BigEndian.PutUint32(b[:], uint32(c.Int32)^0x80000000)
		return append(buf, b[:]...), nil

	case schema.Int64:
		buf = append(buf, byte(tagInt64))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(c.Int64)^0x8000000000000000)
		return append(buf, b[:]...), nil

	case schema.UInt64:
		buf = append(buf, byte(tagUInt64))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], c.UInt64)
		return append(buf, b[:]...), nil

	case schema.Varchar:
		return appendBytesTagged(buf, tagVarchar, c.Bytes), nil

	case schema.Text:
		return appendBytesTagged(buf, tagText, c.Bytes), nil

	case schema.Float32:
		buf = append(buf, byte(tagFloat32))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(c.Float32))
		return append(buf, b[:]...), nil

	case schema.Float64:
		buf = append(buf, byte(tagFloat64))
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(c.Float64))
		return append(buf, b[:]...), nil

	case schema.Decimal, schema.Jsonb, schema.Vector:
		buf = append(buf, byte(tagDecimal))
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(c.DecimalPrecision))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(c.DecimalScale))
		buf = append(buf, hdr[:]...)
		return appendBytesTagged(buf, tag(0), c.Bytes), nil

	default:
		return nil, fmt.Errorf("codec: unsupported data type kind %v", c.Kind)
	}
}

func appendBytesTagged(buf []byte, t tag, data []byte) []byte {
	if t != 0 {
		buf = append(buf, byte(t))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

// DecodeCells parses a buffer produced by EncodeCells. If borrow is true,
// Bytes fields alias the input buffer rather than copying; the caller must
// keep buf alive for as long as the returned cells are used.
func DecodeCells(buf []byte, borrow bool) ([]Cell, error) {
	cells, _, err := DecodeCellsPrefix(buf, borrow)
	return cells, err
}

// DecodeCellsPrefix decodes a cell sequence from the front of buf and also
// reports how many bytes it consumed, for callers whose buffer carries a
// trailing payload after the cells (non-unique index keys append the row id
// after the serialized key cells).
func DecodeCellsPrefix(buf []byte, borrow bool) ([]Cell, int, error) {
	if len(buf) == 0 {
		return nil, 0, fmt.Errorf("codec: empty buffer")
	}
	n := int(buf[0])
	cells := make([]Cell, 0, n)
	pos := 1
	for i := 0; i < n; i++ {
		c, next, err := decodeCell(buf, pos, borrow)
		if err != nil {
			return nil, 0, err
		}
		cells = append(cells, c)
		pos = next
	}
	return cells, pos, nil
}

func decodeCell(buf []byte, pos int, borrow bool) (Cell, int, error) {
	if pos >= len(buf) {
		return Cell{}, 0, fmt.Errorf("codec: truncated cell at offset %d", pos)
	}
	t := tag(buf[pos])
	pos++
	switch t {
	case tagNull:
		return Cell{IsNull: true}, pos, nil
	case tagBool:
		if pos >= len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated bool")
		}
		return Cell{Kind: schema.Boolean, Bool: buf[pos] != 0}, pos + 1, nil
	case tagBinary, tagVarchar, tagText:
		data, next, err := readBytes(buf, pos, borrow)
		if err != nil {
			return Cell{}, 0, err
		}
		kind := schema.Binary
		if t == tagVarchar {
			kind = schema.Varchar
		} else if t == tagText {
			kind = schema.Text
		}
		return Cell{Kind: kind, Bytes: data}, next, nil
	case tagInt32:
		if pos+4 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated int32")
		}
		v := binary.BigEndian.Uint32(buf[pos : pos+4])
		return Cell{Kind: schema.Int32, Int32: int32(v ^ 0x80000000)}, pos + 4, nil
	case tagInt64:
		if pos+8 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated int64")
		}
		v := binary.BigEndian.Uint64(buf[pos : pos+8])
		return Cell{Kind: schema.Int64, Int64: int64(v ^ 0x8000000000000000)}, pos + 8, nil
	case tagUInt64:
		if pos+8 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated uint64")
		}
		return Cell{Kind: schema.UInt64, UInt64: binary.BigEndian.Uint64(buf[pos : pos+8])}, pos + 8, nil
	case tagFloat32:
		if pos+4 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated float32")
		}
		return Cell{Kind: schema.Float32, Float32: math.Float32frombits(binary.BigEndian.Uint32(buf[pos : pos+4]))}, pos + 4, nil
	case tagFloat64:
		if pos+8 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated float64")
		}
		return Cell{Kind: schema.Float64, Float64: math.Float64frombits(binary.BigEndian.Uint64(buf[pos : pos+8]))}, pos + 8, nil
	case tagDecimal:
		if pos+4 > len(buf) {
			return Cell{}, 0, fmt.Errorf("codec: truncated decimal header")
		}
		prec := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
		scale := int(binary.BigEndian.Uint16(buf[pos+2 : pos+4]))
		pos += 4
		data, next, err := readBytes(buf, pos, borrow)
		if err != nil {
			return Cell{}, 0, err
		}
		kind := decimalDiscriminatorKind(prec)
		return Cell{Kind: kind, DecimalPrecision: prec, DecimalScale: scale, Bytes: data}, next, nil
	default:
		return Cell{}, 0, fmt.Errorf("codec: unknown tag %d at offset %d", t, pos-1)
	}
}

func readBytes(buf []byte, pos int, borrow bool) ([]byte, int, error) {
	if pos+4 > len(buf) {
		return nil, 0, fmt.Errorf("codec: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if pos+n > len(buf) {
		return nil, 0, fmt.Errorf("codec: truncated payload (want %d have %d)", n, len(buf)-pos)
	}
	data := buf[pos : pos+n]
	if !borrow {
		cp := make([]byte, n)
		copy(cp, data)
		data = cp
	}
	return data, pos + n, nil
}
