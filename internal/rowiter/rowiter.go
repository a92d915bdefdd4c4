// Package rowiter implements the four scan iterators: heap scan,
// unique-index scan, unique-index scan with table lookup, and secondary
// (non-unique) index scan. All four share the serialized cell encoding of
// internal/codec, so an index prefix built from equality filters matches
// committed keys byte-for-byte.
package rowiter

import (
	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/keys"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/planner"
	"github.com/arenadb/arenasql/internal/schema"
)

// Iter yields projected rows in key order. Usage mirrors kv.Iterator:
// Next, then RowID/Cells, then Err after the loop.
type Iter interface {
	Next() bool
	RowID() uint64
	Cells() []codec.Cell
	Err() error
	Close()
}

// Heap scans the table's whole Rows prefix in row-id order.
func Heap(kvTxn kv.Txn, table *schema.Table, projection []int) (Iter, error) {
	it, err := kvTxn.ScanWithPrefix(keys.CFRows, keys.TableRowsPrefix(table.ID))
	if err != nil {
		return nil, arenaerrors.Wrap(arenaerrors.KindIOError, err, "heap scan of table %s", table.Name)
	}
	return &heapIter{it: it, projection: projection}, nil
}

type heapIter struct {
	it         kv.Iterator
	projection []int

	rowID uint64
	cells []codec.Cell
	err   error
}

func (h *heapIter) Next() bool {
	if h.err != nil {
		return false
	}
	if !h.it.Next() {
		return false
	}
	key := h.it.Key()
	if len(key) < 8 {
		h.err = arenaerrors.New(arenaerrors.KindInternalError, "malformed row key of length %d", len(key))
		return false
	}
	h.rowID = keys.DecodeRowID(key[len(key)-8:])
	val, err := h.it.Value()
	if err != nil {
		h.err = arenaerrors.Wrap(arenaerrors.KindIOError, err, "read row %d", h.rowID)
		return false
	}
	row, err := codec.DecodeCells(val, false)
	if err != nil {
		h.err = arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode row %d", h.rowID)
		return false
	}
	h.cells = projectRow(row, h.projection)
	return true
}

func (h *heapIter) RowID() uint64       { return h.rowID }
func (h *heapIter) Cells() []codec.Cell { return h.cells }
func (h *heapIter) Err() error          { return h.err }
func (h *heapIter) Close()              { h.it.Close() }

// projectRow picks the requested ordinals out of a full row. An ordinal
// past the row's end reads as null: rows written before an ALTER TABLE ADD
// COLUMN carry fewer cells than the current schema.
func projectRow(row []codec.Cell, projection []int) []codec.Cell {
	out := make([]codec.Cell, len(projection))
	for i, ord := range projection {
		if ord < len(row) {
			out[i] = row[ord]
		} else {
			out[i] = codec.Cell{IsNull: true}
		}
	}
	return out
}

// Index scans via idx, using the longest equality-filter prefix aligned to
// the index column order. Dispatches to one of the three index iterator
// shapes based on uniqueness and projection coverage.
func Index(kvTxn kv.Txn, table *schema.Table, idx *schema.TableIndex, filters []planner.Filter, projection []int) (Iter, error) {
	prefix, err := scanPrefix(table, idx, filters)
	if err != nil {
		return nil, err
	}
	it, err := kvTxn.ScanWithPrefix(keys.CFIndexRows, prefix)
	if err != nil {
		return nil, arenaerrors.Wrap(arenaerrors.KindIOError, err, "index scan of %s", idx.Name)
	}

	onIndex, covered := indexProjection(table, idx, projection)
	switch {
	case idx.Provider.Unique && covered:
		return &uniqueIter{it: it, onIndex: onIndex}, nil
	case idx.Provider.Unique:
		return &lookupIter{it: it, kvTxn: kvTxn, table: table, projection: projection}, nil
	case covered:
		return &secondaryIter{it: it, onIndex: onIndex}, nil
	default:
		it.Close()
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation,
			"index %s does not cover the projection and is not unique", idx.Name)
	}
}

// indexProjection maps table-ordinal projection positions onto the subset
// of index columns present, e.g. an index over ordinals [2,3] maps
// projection [3] to [1]. covered=false if any projected column is missing
// from the index.
func indexProjection(table *schema.Table, idx *schema.TableIndex, projection []int) ([]int, bool) {
	ordinals := table.IndexColumnOrdinals(*idx)
	out := make([]int, 0, len(projection))
	for _, p := range projection {
		found := -1
		for pos, ord := range ordinals {
			if ord == p {
				found = pos
				break
			}
		}
		if found < 0 {
			return nil, false
		}
		out = append(out, found)
	}
	return out, true
}

// scanPrefix serializes the longest run of equality literals aligned to
// the index column order. If it covers fewer columns than the index
// defines, the leading length byte is overwritten with the full column
// count so the prefix matches keys committed with the full arity.
func scanPrefix(table *schema.Table, idx *schema.TableIndex, filters []planner.Filter) ([]byte, error) {
	ordinals := table.IndexColumnOrdinals(*idx)
	var prefixCells []codec.Cell
	for _, ord := range ordinals {
		var lit *codec.Cell
		for _, f := range filters {
			if l, ok := f.EqLiteralFor(ord); ok {
				lit = l
				break
			}
		}
		if lit == nil {
			break
		}
		prefixCells = append(prefixCells, *lit)
	}
	if len(prefixCells) == 0 {
		return keys.IndexRowsPrefix(idx.ID), nil
	}
	encoded, err := codec.EncodeCells(prefixCells)
	if err != nil {
		return nil, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode scan prefix for index %s", idx.Name)
	}
	if len(prefixCells) < len(ordinals) {
		if len(ordinals) > codec.MaxCellsPerRow {
			return nil, arenaerrors.New(arenaerrors.KindInternalError,
				"index %s has more columns than the length byte can address", idx.Name)
		}
		codec.PatchColumnCount(encoded, byte(len(ordinals)))
	}
	return keys.IndexRowKey(idx.ID, encoded), nil
}

// uniqueIter reads fully-covered projections straight off a unique index:
// the key past the prefix is the serialized key cells, the value is the
// row id.
type uniqueIter struct {
	it      kv.Iterator
	onIndex []int

	rowID uint64
	cells []codec.Cell
	err   error
}

func (u *uniqueIter) Next() bool {
	if u.err != nil || !u.it.Next() {
		return false
	}
	key := u.it.Key()
	if len(key) < 2 {
		u.err = arenaerrors.New(arenaerrors.KindInternalError, "malformed index key")
		return false
	}
	indexCells, err := codec.DecodeCells(key[2:], false)
	if err != nil {
		u.err = arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode index key")
		return false
	}
	val, err := u.it.Value()
	if err != nil {
		u.err = arenaerrors.Wrap(arenaerrors.KindIOError, err, "read index entry")
		return false
	}
	u.rowID = keys.DecodeRowID(val)
	u.cells = projectRow(indexCells, u.onIndex)
	return true
}

func (u *uniqueIter) RowID() uint64       { return u.rowID }
func (u *uniqueIter) Cells() []codec.Cell { return u.cells }
func (u *uniqueIter) Err() error          { return u.err }
func (u *uniqueIter) Close()              { u.it.Close() }

// secondaryIter is the non-unique variant: the key past the prefix is the
// serialized key cells followed by the row id, so duplicates appear as
// their own ordered entries.
type secondaryIter struct {
	it      kv.Iterator
	onIndex []int

	rowID uint64
	cells []codec.Cell
	err   error
}

func (s *secondaryIter) Next() bool {
	if s.err != nil || !s.it.Next() {
		return false
	}
	key := s.it.Key()
	if len(key) < 2 {
		s.err = arenaerrors.New(arenaerrors.KindInternalError, "malformed index key")
		return false
	}
	indexCells, consumed, err := codec.DecodeCellsPrefix(key[2:], false)
	if err != nil {
		s.err = arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode index key")
		return false
	}
	rest := key[2+consumed:]
	if len(rest) != 8 {
		s.err = arenaerrors.New(arenaerrors.KindInternalError, "secondary index key has no row id suffix")
		return false
	}
	s.rowID = keys.DecodeRowID(rest)
	s.cells = projectRow(indexCells, s.onIndex)
	return true
}

func (s *secondaryIter) RowID() uint64       { return s.rowID }
func (s *secondaryIter) Cells() []codec.Cell { return s.cells }
func (s *secondaryIter) Err() error          { return s.err }
func (s *secondaryIter) Close()              { s.it.Close() }

// lookupIter uses a unique index for row-id discovery only, then fetches
// each row from the Rows CF and projects from the full row.
type lookupIter struct {
	it         kv.Iterator
	kvTxn      kv.Txn
	table      *schema.Table
	projection []int

	rowID uint64
	cells []codec.Cell
	err   error
}

func (l *lookupIter) Next() bool {
	if l.err != nil || !l.it.Next() {
		return false
	}
	val, err := l.it.Value()
	if err != nil {
		l.err = arenaerrors.Wrap(arenaerrors.KindIOError, err, "read index entry")
		return false
	}
	l.rowID = keys.DecodeRowID(val)
	rowBytes, ok, err := l.kvTxn.Get(keys.CFRows, keys.TableRowKey(l.table.ID, l.rowID))
	if err != nil {
		l.err = arenaerrors.Wrap(arenaerrors.KindIOError, err, "lookup row %d", l.rowID)
		return false
	}
	if !ok {
		l.err = arenaerrors.New(arenaerrors.KindIOError, "no row data for row id %d", l.rowID)
		return false
	}
	row, err := codec.DecodeCells(rowBytes, false)
	if err != nil {
		l.err = arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode row %d", l.rowID)
		return false
	}
	l.cells = projectRow(row, l.projection)
	return true
}

func (l *lookupIter) RowID() uint64       { return l.rowID }
func (l *lookupIter) Cells() []codec.Cell { return l.cells }
func (l *lookupIter) Err() error          { return l.err }
func (l *lookupIter) Close()              { l.it.Close() }
