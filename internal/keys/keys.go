// Package keys implements the deterministic byte key layout: the
// Locks | Schemas | IndexRows | Rows namespaces and the row/index key
// builders. Pure arithmetic over encoding/binary; no third-party
// dependency is warranted for fixed-width big-endian key construction.
package keys

import "encoding/binary"

// CF identifies one of the four column families. badger has no native
// column-family concept (internal/kv), so a CF is realized as a one-byte
// key prefix instead of a RocksDB column-family handle.
type CF byte

const (
	CFLocks     CF = 'L'
	CFSchemas   CF = 'S'
	CFIndexRows CF = 'I'
	CFRows      CF = 'R'
)

// Prefix returns the CF's one-byte namespace prefix, prepended to every key
// written under it so a single badger keyspace can emulate four CFs.
func (cf CF) Prefix() []byte { return []byte{byte(cf)} }

// TableRowsPrefix is u32_be(table_id); the Rows CF prefix byte is prepended
// by internal/kv, not here.
func TableRowsPrefix(tableID uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, tableID)
	return buf
}

// TableRowKey is table_rows_prefix(table_id) || row_id_bytes, where
// row_id_bytes is the row id encoded big-endian so ascending scan order
// matches insertion order under the atomic row-id counter.
func TableRowKey(tableID uint32, rowID uint64) []byte {
	prefix := TableRowsPrefix(tableID)
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], rowID)
	return buf
}

// EncodeRowID is the big-endian u64 encoding used as both the TableRowKey
// suffix and the value stored for unique index entries.
func EncodeRowID(rowID uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, rowID)
	return buf
}

func DecodeRowID(buf []byte) uint64 { return binary.BigEndian.Uint64(buf) }

// IndexRowsPrefix is u16_be(index_id); the IndexRows CF prefix byte is
// prepended by internal/kv, not here.
func IndexRowsPrefix(indexID uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, indexID)
	return buf
}

// IndexRowKey is index_rows_prefix(index_id) || serialized_key_cells.
func IndexRowKey(indexID uint16, serializedKeyCells []byte) []byte {
	prefix := IndexRowsPrefix(indexID)
	buf := make([]byte, 0, len(prefix)+len(serializedKeyCells))
	buf = append(buf, prefix...)
	buf = append(buf, serializedKeyCells...)
	return buf
}

// RowIDCounterKey is the Locks-CF key for a table's per-table row-id
// counter, namespaced by table id.
func RowIDCounterKey(tableID uint32) []byte {
	buf := []byte("rowid-counter/")
	tbuf := make([]byte, 4)
	binary.BigEndian.PutUint32(tbuf, tableID)
	return append(buf, tbuf...)
}

// NextTableIDKey and NextTableIndexIDKey are catalog-global monotonic
// counters living in the Locks CF.
func NextTableIDKey() []byte      { return []byte("next-table-id") }
func NextTableIndexIDKey() []byte { return []byte("next-index-id") }

// SchemaKey is the Schemas-CF key for a table's persisted definition,
// scoped by (catalog is implicit in which per-catalog kv.Backend is used),
// schema, and table name.
func SchemaKey(schemaName, tableName string) []byte {
	return []byte(schemaName + "\x00" + tableName)
}

// SchemaPrefix scopes a scan to all tables within a schema.
func SchemaPrefix(schemaName string) []byte {
	return []byte(schemaName + "\x00")
}

// AdvisoryLockKey namespaces a catalog-wide advisory lock by its id.
func AdvisoryLockKey(id int64) []byte {
	buf := []byte("advisory-lock/")
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, uint64(id))
	return append(buf, idBuf...)
}
