// Package schema defines the data-model types shared by the storage
// engine: tables, columns, data types, indexes, and constraints.
package schema

// DataType is the closed sum of column types the engine understands.
// Jsonb and Vector are not representable by a stock SQL type system, so at
// the codec boundary they are smuggled through as Decimal256(p,s) with a
// reserved precision range (see internal/codec/datatype.go).
type DataType struct {
	Kind      DataTypeKind
	VarcharLen int // only for Varchar
	DecimalP   int // only for Decimal
	DecimalS   int // only for Decimal
	VectorLen  int // only for Vector
}

type DataTypeKind uint8

const (
	Boolean DataTypeKind = iota
	Binary
	Int32
	Int64
	UInt64
	Varchar
	Text
	Float32
	Float64
	Decimal
	Jsonb
	Vector
)

func (k DataTypeKind) String() string {
	switch k {
	case Boolean:
		return "BOOLEAN"
	case Binary:
		return "BYTEA"
	case Int32:
		return "INT4"
	case Int64:
		return "INT8"
	case UInt64:
		return "UINT8"
	case Varchar:
		return "VARCHAR"
	case Text:
		return "TEXT"
	case Float32:
		return "FLOAT4"
	case Float64:
		return "FLOAT8"
	case Decimal:
		return "DECIMAL"
	case Jsonb:
		return "JSONB"
	case Vector:
		return "VECTOR"
	default:
		return "UNKNOWN"
	}
}

// ColumnProperties carries nullability and is-serial flags.
type ColumnProperties struct {
	Nullable bool
	IsSerial bool
}

type Column struct {
	ID         uint8
	Name       string
	DataType   DataType
	Properties ColumnProperties
	Default    *string // raw SQL default expression, nil if none
}

// IndexProvider is either a BasicIndex or an HNSWIndex. Only BasicIndex is
// ever constructed or scanned by this engine; HNSWIndex exists purely so a
// Table round-tripped through the Schemas CF doesn't lose vector-index
// metadata created by the (out of scope) vector subsystem.
type IndexProvider struct {
	Kind    IndexProviderKind
	Columns []uint8 // column ids, in index order
	Unique  bool    // BasicIndex only

	// HNSWIndex fields, never populated or consulted by this engine.
	Metric          string
	M               int
	EFConstruction  int
	EF              int
	Dim             int
	RetainVectors   bool
	NamespaceColumn uint8
}

type IndexProviderKind uint8

const (
	BasicIndex IndexProviderKind = iota
	HNSWIndex
)

type TableIndex struct {
	ID       uint16
	Name     string
	Provider IndexProvider
}

// Arity returns the number of leading key columns the index is defined
// over.
func (t TableIndex) Arity() int { return len(t.Provider.Columns) }

type ConstraintKind uint8

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintPrimaryKey
)

type Constraint struct {
	Kind    ConstraintKind
	Columns []uint8
}

type Table struct {
	ID          uint32
	Name        string
	Columns     []Column
	Indexes     []TableIndex
	Constraints []Constraint

	// CreatedAtRowID is a row-id watermark field carried for schema
	// round-trips; nothing in this engine sets or reads it. ALTER TABLE ADD
	// COLUMN never rewrites existing rows: a row written before the column
	// existed simply has fewer cells, and the row iterators read the missing
	// ordinal as null.
	CreatedAtRowID uint64

	// NextColumnID is the id to assign to the next appended column.
	NextColumnID uint8
}

// ColumnByName returns the column with the given name and its ordinal
// position in Columns, or ok=false.
func (t *Table) ColumnByName(name string) (col Column, pos int, ok bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// OrdinalOfColumnID maps a column id to its ordinal position in Columns,
// or -1. Index providers store column ids; iterators and the cost model
// work in ordinals.
func (t *Table) OrdinalOfColumnID(id uint8) int {
	for i, c := range t.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// IndexColumnOrdinals resolves an index's key columns to table ordinals,
// in index order.
func (t *Table) IndexColumnOrdinals(idx TableIndex) []int {
	out := make([]int, len(idx.Provider.Columns))
	for i, id := range idx.Provider.Columns {
		out[i] = t.OrdinalOfColumnID(id)
	}
	return out
}

// IndexByName returns the named index, or ok=false.
func (t *Table) IndexByName(name string) (TableIndex, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return TableIndex{}, false
}

// Clone returns a deep-enough copy of t suitable for a copy-on-write
// mutation (CREATE INDEX / ALTER TABLE ADD COLUMN both clone, mutate, and
// persist rather than mutating a cached Table in place).
func (t *Table) Clone() *Table {
	clone := *t
	clone.Columns = append([]Column(nil), t.Columns...)
	clone.Indexes = append([]TableIndex(nil), t.Indexes...)
	clone.Constraints = append([]Constraint(nil), t.Constraints...)
	return &clone
}
