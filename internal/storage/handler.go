// Package storage implements the transactional row/index CRUD surface on
// top of internal/kv: row writes fan out to every index on the table, and
// constraint checks run before the underlying puts.
package storage

import (
	"encoding/binary"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/keys"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/schema"
)

// Handler wraps one kv.Txn and performs row/index CRUD against a single
// table's schema. A new Handler is cheap to construct and is typically
// created once per (transaction, table) pair by the execution layer.
type Handler struct {
	kvTxn kv.Txn
	table *schema.Table
}

func New(kvTxn kv.Txn, table *schema.Table) *Handler {
	return &Handler{kvTxn: kvTxn, table: table}
}

// InsertRow writes the Rows entry and one IndexRows entry per index on
// the table, after running null- and unique-constraint checks.
func (h *Handler) InsertRow(rowID uint64, cells []codec.Cell) error {
	if err := h.checkNullConstraints(cells); err != nil {
		return err
	}
	for _, idx := range h.table.Indexes {
		if err := h.checkUniqueIndex(idx, cells, rowID, false); err != nil {
			return err
		}
	}

	encoded, err := codec.EncodeCells(cells)
	if err != nil {
		return arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode row %d of table %s", rowID, h.table.Name)
	}
	if err := h.kvTxn.Put(keys.CFRows, keys.TableRowKey(h.table.ID, rowID), encoded); err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "insert row %d of table %s", rowID, h.table.Name)
	}
	for _, idx := range h.table.Indexes {
		if err := h.putIndexEntry(idx, cells, rowID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRow removes the Rows entry. The caller must have already removed
// this row's entries from every index (via DeleteIndexEntries, using the
// row's *old* cells) before calling DeleteRow.
func (h *Handler) DeleteRow(rowID uint64) error {
	if err := h.kvTxn.Delete(keys.CFRows, keys.TableRowKey(h.table.ID, rowID)); err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "delete row %d of table %s", rowID, h.table.Name)
	}
	return nil
}

// DeleteIndexEntries removes every index entry derived from oldCells for
// rowID. Called before DeleteRow/UpdateRow so a stale index entry is never
// left pointing at a row that no longer carries those values.
func (h *Handler) DeleteIndexEntries(oldCells []codec.Cell, rowID uint64) error {
	for _, idx := range h.table.Indexes {
		key, err := h.indexKey(idx, oldCells, rowIDSuffix(idx, rowID))
		if err != nil {
			return err
		}
		if err := h.kvTxn.Delete(keys.CFIndexRows, key); err != nil {
			return arenaerrors.Wrap(arenaerrors.KindIOError, err, "delete index entry for table %s index %s", h.table.Name, idx.Name)
		}
	}
	return nil
}

// UpdateRow is delete+insert of the data row, plus delete-old/insert-new
// for each index.
func (h *Handler) UpdateRow(rowID uint64, oldCells, newCells []codec.Cell) error {
	if err := h.checkNullConstraints(newCells); err != nil {
		return err
	}
	for _, idx := range h.table.Indexes {
		if err := h.checkUniqueIndex(idx, newCells, rowID, true); err != nil {
			return err
		}
	}
	if err := h.DeleteIndexEntries(oldCells, rowID); err != nil {
		return err
	}

	encoded, err := codec.EncodeCells(newCells)
	if err != nil {
		return arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode row %d of table %s", rowID, h.table.Name)
	}
	if err := h.kvTxn.Put(keys.CFRows, keys.TableRowKey(h.table.ID, rowID), encoded); err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "update row %d of table %s", rowID, h.table.Name)
	}
	for _, idx := range h.table.Indexes {
		if err := h.putIndexEntry(idx, newCells, rowID); err != nil {
			return err
		}
	}
	return nil
}

// GetRow returns the decoded row, or ok=false if rowID doesn't exist.
func (h *Handler) GetRow(rowID uint64) ([]codec.Cell, bool, error) {
	val, ok, err := h.kvTxn.Get(keys.CFRows, keys.TableRowKey(h.table.ID, rowID))
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindIOError, err, "get row %d of table %s", rowID, h.table.Name)
	}
	if !ok {
		return nil, false, nil
	}
	cells, err := codec.DecodeCells(val, false)
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode row %d of table %s", rowID, h.table.Name)
	}
	return cells, true, nil
}

// GetRowForUpdate reads a row and takes a lock on its key until the
// transaction ends, so a concurrent writer's commit conflicts instead of
// silently clobbering. UPDATE and DELETE re-read through this.
func (h *Handler) GetRowForUpdate(rowID uint64) ([]codec.Cell, bool, error) {
	val, ok, err := h.kvTxn.GetForUpdate(keys.CFRows, keys.TableRowKey(h.table.ID, rowID), true)
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindIOError, err, "get row %d of table %s for update", rowID, h.table.Name)
	}
	if !ok {
		return nil, false, nil
	}
	cells, err := codec.DecodeCells(val, false)
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode row %d of table %s", rowID, h.table.Name)
	}
	return cells, true, nil
}

// PutTableSchema persists a table's definition under the (schema, table)
// key in the Schemas CF.
func PutTableSchema(kvTxn kv.Txn, schemaName string, table *schema.Table) error {
	encoded, err := encodeTableSchema(table)
	if err != nil {
		return arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode schema for table %s.%s", schemaName, table.Name)
	}
	if err := kvTxn.Put(keys.CFSchemas, keys.SchemaKey(schemaName, table.Name), encoded); err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "put schema for table %s.%s", schemaName, table.Name)
	}
	return nil
}

// GetTableSchema loads one table's definition, or ok=false if absent.
func GetTableSchema(kvTxn kv.Txn, schemaName, tableName string) (*schema.Table, bool, error) {
	val, ok, err := kvTxn.Get(keys.CFSchemas, keys.SchemaKey(schemaName, tableName))
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindIOError, err, "get schema for table %s.%s", schemaName, tableName)
	}
	if !ok {
		return nil, false, nil
	}
	table, err := decodeTableSchema(val)
	if err != nil {
		return nil, false, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode schema for table %s.%s", schemaName, tableName)
	}
	return table, true, nil
}

// ScanTableSchemas loads every table definition under a schema's prefix,
// used by the schema factory to load all tables.
func ScanTableSchemas(kvTxn kv.Txn, schemaName string) ([]*schema.Table, error) {
	it, err := kvTxn.ScanWithPrefix(keys.CFSchemas, keys.SchemaPrefix(schemaName))
	if err != nil {
		return nil, arenaerrors.Wrap(arenaerrors.KindIOError, err, "scan schemas under %s", schemaName)
	}
	defer it.Close()

	var tables []*schema.Table
	for it.Next() {
		val, err := it.Value()
		if err != nil {
			return nil, arenaerrors.Wrap(arenaerrors.KindIOError, err, "scan schemas under %s", schemaName)
		}
		table, err := decodeTableSchema(val)
		if err != nil {
			return nil, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode schema under %s", schemaName)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// GenerateNextRowID allocates the next row id for a table via a per-table
// monotonic counter in the Locks CF.
func GenerateNextRowID(kvTxn kv.Txn, tableID uint32) (uint64, error) {
	return nextCounter(kvTxn, keys.RowIDCounterKey(tableID))
}

// GetNextTableID and GetNextTableIndexID are catalog-wide monotonic
// counters, also stored in the Locks CF.
func GetNextTableID(kvTxn kv.Txn) (uint32, error) {
	v, err := nextCounter(kvTxn, keys.NextTableIDKey())
	return uint32(v), err
}

func GetNextTableIndexID(kvTxn kv.Txn) (uint16, error) {
	v, err := nextCounter(kvTxn, keys.NextTableIndexIDKey())
	return uint16(v), err
}

func nextCounter(kvTxn kv.Txn, key []byte) (uint64, error) {
	next, err := kvTxn.AtomicUpdate(keys.CFLocks, key, func(old []byte, existed bool) ([]byte, error) {
		var cur uint64
		if existed && len(old) == 8 {
			cur = binary.BigEndian.Uint64(old)
		}
		cur++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, cur)
		return buf, nil
	})
	if err != nil {
		return 0, arenaerrors.Wrap(arenaerrors.KindIOError, err, "allocate counter %x", key)
	}
	return binary.BigEndian.Uint64(next), nil
}

func (h *Handler) checkNullConstraints(cells []codec.Cell) error {
	for i, col := range h.table.Columns {
		if i >= len(cells) {
			break
		}
		if cells[i].IsNull && !col.Properties.Nullable {
			return arenaerrors.New(arenaerrors.KindNullConstraintViolated, "column %s of table %s cannot be null", col.Name, h.table.Name)
		}
	}
	return nil
}

// checkUniqueIndex rejects an insert/update whose new cells collide with an
// existing row under a unique index. onUpdate=true means rowID's own
// existing entry (if any) is not itself a conflict.
func (h *Handler) checkUniqueIndex(idx schema.TableIndex, cells []codec.Cell, rowID uint64, onUpdate bool) error {
	if !idx.Provider.Unique {
		return nil
	}
	key, err := h.indexKey(idx, cells, 0)
	if err != nil {
		return err
	}
	// unique index entries are keyed without the row id suffix (see
	// putIndexEntry), so this is an exact point lookup.
	val, ok, err := h.kvTxn.Get(keys.CFIndexRows, key)
	if err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "check unique index %s on table %s", idx.Name, h.table.Name)
	}
	if !ok {
		return nil
	}
	if onUpdate && len(val) == 8 && keys.DecodeRowID(val) == rowID {
		return nil
	}
	return arenaerrors.New(arenaerrors.KindUniqueConstraintViolated, "duplicate value violates unique index %s on table %s", idx.Name, h.table.Name)
}

// AddRowToIndex writes idx's entry for an already-stored row, running the
// unique check first. CREATE INDEX backfill calls this per existing row,
// so a duplicate among pre-existing rows fails the whole statement.
func (h *Handler) AddRowToIndex(idx schema.TableIndex, cells []codec.Cell, rowID uint64) error {
	if err := h.checkUniqueIndex(idx, cells, rowID, false); err != nil {
		return err
	}
	return h.putIndexEntry(idx, cells, rowID)
}

func (h *Handler) putIndexEntry(idx schema.TableIndex, cells []codec.Cell, rowID uint64) error {
	key, err := h.indexKey(idx, cells, rowIDSuffix(idx, rowID))
	if err != nil {
		return err
	}
	if err := h.kvTxn.Put(keys.CFIndexRows, key, keys.EncodeRowID(rowID)); err != nil {
		return arenaerrors.Wrap(arenaerrors.KindIOError, err, "put index entry for table %s index %s", h.table.Name, idx.Name)
	}
	return nil
}

// rowIDSuffix is non-zero only for non-unique indexes: a non-unique index
// key must embed the row id to stay unique within the KV keyspace, since
// many rows can share the same indexed values. Unique indexes omit the
// suffix so a point Get against the bare key is the uniqueness check.
func rowIDSuffix(idx schema.TableIndex, rowID uint64) uint64 {
	if idx.Provider.Unique {
		return 0
	}
	return rowID
}

// indexKey builds the IndexRows key for idx's columns from cells, a
// selection of the table's full column set at idx.Provider.Columns. A
// non-zero suffix (non-unique indexes only) is appended to disambiguate
// rows sharing the same indexed values.
func (h *Handler) indexKey(idx schema.TableIndex, cells []codec.Cell, suffix uint64) ([]byte, error) {
	keyCells := make([]codec.Cell, len(idx.Provider.Columns))
	for i, colID := range idx.Provider.Columns {
		ci := columnIndex(h.table, colID)
		if ci < 0 || ci >= len(cells) {
			return nil, arenaerrors.New(arenaerrors.KindInternalError, "index %s references unknown column id %d", idx.Name, colID)
		}
		keyCells[i] = cells[ci]
	}
	encoded, err := codec.EncodeCells(keyCells)
	if err != nil {
		return nil, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode index key for %s", idx.Name)
	}
	if suffix != 0 {
		encoded = append(encoded, keys.EncodeRowID(suffix)...)
	}
	return keys.IndexRowKey(idx.ID, encoded), nil
}

func columnIndex(table *schema.Table, colID uint8) int {
	for i, c := range table.Columns {
		if c.ID == colID {
			return i
		}
	}
	return -1
}
