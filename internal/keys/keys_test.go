package keys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableRowKeyLayout(t *testing.T) {
	key := TableRowKey(0x01020304, 0x05060708090a0b0c)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c}, key)
	require.True(t, bytes.HasPrefix(key, TableRowsPrefix(0x01020304)))
}

func TestRowIDRoundTrip(t *testing.T) {
	for _, id := range []uint64{0, 1, 255, 1 << 32, 1<<64 - 1} {
		require.Equal(t, id, DecodeRowID(EncodeRowID(id)))
	}
}

func TestRowKeysSortByRowID(t *testing.T) {
	a := TableRowKey(7, 1)
	b := TableRowKey(7, 2)
	c := TableRowKey(7, 300)
	require.Negative(t, bytes.Compare(a, b))
	require.Negative(t, bytes.Compare(b, c))
}

func TestIndexRowKeyLayout(t *testing.T) {
	cells := []byte{0xaa, 0xbb}
	key := IndexRowKey(0x0102, cells)
	require.Equal(t, []byte{0x01, 0x02, 0xaa, 0xbb}, key)
	require.True(t, bytes.HasPrefix(key, IndexRowsPrefix(0x0102)))
}

func TestSchemaKeysScopeByPrefix(t *testing.T) {
	key := SchemaKey("public", "users")
	require.True(t, bytes.HasPrefix(key, SchemaPrefix("public")))
	require.False(t, bytes.HasPrefix(key, SchemaPrefix("publicx")))
}

func TestCounterKeysAreDistinct(t *testing.T) {
	require.NotEqual(t, NextTableIDKey(), NextTableIndexIDKey())
	require.NotEqual(t, RowIDCounterKey(1), RowIDCounterKey(2))
}
