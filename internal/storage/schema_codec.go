package storage

import (
	"encoding/json"

	"github.com/arenadb/arenasql/internal/schema"
)

// Table definitions are small, infrequently written metadata (one write
// per DDL statement, one read per cache miss), not the hot row/index path
// that codec.Cell serves. There is no order-preserving or zero-copy
// requirement here, so plain encoding/json is used rather than inventing a
// second bespoke binary format.
func encodeTableSchema(table *schema.Table) ([]byte, error) {
	return json.Marshal(table)
}

func decodeTableSchema(buf []byte) (*schema.Table, error) {
	var table schema.Table
	if err := json.Unmarshal(buf, &table); err != nil {
		return nil, err
	}
	return &table, nil
}
