package richcatalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/kv"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

func seededFactory(t *testing.T) *catalog.StorageFactory {
	t.Helper()
	backend, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	factory := catalog.NewStorageFactory("testdb", backend, nil)

	txn, err := factory.BeginTransaction("public")
	require.NoError(t, err)
	table := &schema.Table{
		ID:   1,
		Name: "widgets",
		Columns: []schema.Column{
			{ID: 0, Name: "id", DataType: schema.DataType{Kind: schema.Varchar, VarcharLen: 50}, Properties: schema.ColumnProperties{Nullable: false}},
			{ID: 1, Name: "label", DataType: schema.DataType{Kind: schema.Text}, Properties: schema.ColumnProperties{Nullable: true}},
		},
		Indexes: []schema.TableIndex{{
			ID: 1, Name: "widgets_pkey",
			Provider: schema.IndexProvider{Kind: schema.BasicIndex, Columns: []uint8{0}, Unique: true},
		}},
		NextColumnID: 2,
	}
	require.NoError(t, storage.PutTableSchema(txn.KV(), "public", table))
	require.NoError(t, txn.Commit())
	return factory
}

func TestBuildSnapshot(t *testing.T) {
	factory := seededFactory(t)

	snap, err := Build(factory, "public")
	require.NoError(t, err)
	require.Len(t, snap.Schemas, 1)
	require.Len(t, snap.Schemas[0].Tables, 1)

	table := snap.Schemas[0].Tables[0]
	require.Equal(t, "widgets", table.Name)
	require.Equal(t, []string{"id", "label"}, []string{table.Columns[0].Name, table.Columns[1].Name})
	require.True(t, table.Columns[0].NotNull)
	require.Equal(t, []string{"id"}, table.PK)
	require.NotEmpty(t, snap.Checksum)
}

func TestEngineCatalogLookups(t *testing.T) {
	factory := seededFactory(t)
	rc := New(factory, Options{})
	require.NoError(t, rc.Refresh())

	cols, ok := rc.Columns("widgets")
	require.True(t, ok)
	require.Equal(t, []string{"id", "label"}, cols)

	pks, ok := rc.PrimaryKeys("public.widgets")
	require.True(t, ok)
	require.Equal(t, []string{"id"}, pks)

	_, ok = rc.Columns("missing")
	require.False(t, ok)
}

func TestRefreshChangesChecksum(t *testing.T) {
	factory := seededFactory(t)
	rc := New(factory, Options{})
	require.NoError(t, rc.Refresh())
	first := rc.Summary().Checksum

	txn, err := factory.BeginTransaction("public")
	require.NoError(t, err)
	table := &schema.Table{
		ID:   2,
		Name: "gadgets",
		Columns: []schema.Column{
			{ID: 0, Name: "id", DataType: schema.DataType{Kind: schema.Int64}},
		},
		NextColumnID: 1,
	}
	require.NoError(t, storage.PutTableSchema(txn.KV(), "public", table))
	require.NoError(t, txn.Commit())

	require.NoError(t, rc.Refresh())
	require.NotEqual(t, first, rc.Summary().Checksum)
}
