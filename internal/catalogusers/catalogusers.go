// Package catalogusers implements the system catalog table persisting
// per-catalog user credentials. The registry is an ordinary engine table,
// arena_catalog.users(config TEXT), created on demand and manipulated
// through the same storage handler the SQL surface uses.
package catalogusers

import (
	"encoding/json"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/rowiter"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

const (
	// SchemaName is the reserved schema holding engine bootstrap tables.
	SchemaName = "arena_catalog"
	// TableName is the credentials table.
	TableName = "users"
)

// Credentials is one row's payload, serialized as JSON into the config
// column.
type Credentials struct {
	Catalog  string `json:"catalog"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ensureTable loads the bootstrap table, creating it on first use.
func ensureTable(txn *catalog.Transaction) (*schema.Table, error) {
	table, ok, err := txn.GetTable(SchemaName, TableName)
	if err != nil {
		return nil, err
	}
	if ok {
		return table, nil
	}

	kv := txn.KV()
	tableID, err := storage.GetNextTableID(kv)
	if err != nil {
		return nil, err
	}
	table = &schema.Table{
		ID:   tableID,
		Name: TableName,
		Columns: []schema.Column{{
			ID:         0,
			Name:       "config",
			DataType:   schema.DataType{Kind: schema.Text},
			Properties: schema.ColumnProperties{Nullable: false},
		}},
		NextColumnID: 1,
	}
	if err := storage.PutTableSchema(kv, SchemaName, table); err != nil {
		return nil, err
	}
	txn.OverrideTable(SchemaName, TableName, table)
	return table, nil
}

// Set replaces any row matching (catalog, username) with a fresh
// credentials row, within the caller's transaction.
func Set(txn *catalog.Transaction, catalogName, username, password string) error {
	table, err := ensureTable(txn)
	if err != nil {
		return err
	}
	handler := storage.New(txn.KV(), table)

	existing, err := scan(txn, table)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.creds.Catalog == catalogName && e.creds.Username == username {
			if err := handler.DeleteIndexEntries(e.cells, e.rowID); err != nil {
				return err
			}
			if err := handler.DeleteRow(e.rowID); err != nil {
				return err
			}
		}
	}

	payload, err := json.Marshal(Credentials{Catalog: catalogName, Username: username, Password: password})
	if err != nil {
		return arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "encode catalog user credentials")
	}
	rowID, err := storage.GenerateNextRowID(txn.KV(), table.ID)
	if err != nil {
		return err
	}
	return handler.InsertRow(rowID, []codec.Cell{{Kind: schema.Text, Bytes: payload}})
}

// List returns every credentials row for a catalog, in insertion order.
func List(txn *catalog.Transaction, catalogName string) ([]Credentials, error) {
	table, err := ensureTable(txn)
	if err != nil {
		return nil, err
	}
	entries, err := scan(txn, table)
	if err != nil {
		return nil, err
	}
	var out []Credentials
	for _, e := range entries {
		if e.creds.Catalog == catalogName {
			out = append(out, e.creds)
		}
	}
	return out, nil
}

type entry struct {
	rowID uint64
	cells []codec.Cell
	creds Credentials
}

func scan(txn *catalog.Transaction, table *schema.Table) ([]entry, error) {
	it, err := rowiter.Heap(txn.KV(), table, []int{0})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []entry
	for it.Next() {
		cells := it.Cells()
		var creds Credentials
		if err := json.Unmarshal(cells[0].Bytes, &creds); err != nil {
			return nil, arenaerrors.Wrap(arenaerrors.KindSerdeError, err, "decode catalog user credentials row %d", it.RowID())
		}
		out = append(out, entry{rowID: it.RowID(), cells: append([]codec.Cell(nil), cells...), creds: creds})
	}
	return out, it.Err()
}
