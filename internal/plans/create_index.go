package plans

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/rowiter"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

// createIndex implements CREATE [UNIQUE] INDEX [IF NOT EXISTS] with
// transactional backfill: the index is appended to the table schema and
// every existing row gets an entry before this transaction commits, so a
// crash mid-backfill leaves no partial index.
func createIndex(env Env, stmt *pg_query.IndexStmt) (*Result, error) {
	if stmt.Concurrent {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "CREATE INDEX CONCURRENTLY is not supported")
	}
	if stmt.AccessMethod != "" && stmt.AccessMethod != "btree" {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "USING %s is not supported", stmt.AccessMethod)
	}
	if stmt.NullsNotDistinct {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "NULLS NOT DISTINCT is not supported")
	}
	if stmt.WhereClause != nil {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "partial indexes are not supported")
	}
	if len(stmt.IndexIncludingParams) > 0 {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "INCLUDE columns are not supported")
	}

	table, schemaName, err := mustGetTable(env, stmt.Relation)
	if err != nil {
		return nil, err
	}

	var columnIDs []uint8
	var columnNames []string
	for _, p := range stmt.IndexParams {
		elem := p.GetIndexElem()
		if elem == nil || elem.Name == "" {
			return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "only plain column index keys are supported")
		}
		col, _, ok := table.ColumnByName(elem.Name)
		if !ok {
			return nil, arenaerrors.New(arenaerrors.KindColumnDoesntExist, "column %q does not exist in table %q", elem.Name, table.Name)
		}
		columnIDs = append(columnIDs, col.ID)
		columnNames = append(columnNames, col.Name)
	}
	if len(columnIDs) == 0 {
		return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "CREATE INDEX requires at least one column")
	}

	indexName := stmt.Idxname
	if indexName == "" {
		indexName = table.Name + "_" + strings.Join(columnNames, "_") + "_idx"
	}
	if _, exists := table.IndexByName(indexName); exists {
		if stmt.IfNotExists {
			return commandResult("CREATE INDEX"), nil
		}
		return nil, arenaerrors.New(arenaerrors.KindRelationAlreadyExists, "index %q already exists", indexName)
	}

	if err := env.Txn.Handle().AcquireTableSchemaWriteLock(env.Ctx, schemaName, table.Name); err != nil {
		return nil, err
	}

	kv := env.Txn.KV()
	indexID, err := storage.GetNextTableIndexID(kv)
	if err != nil {
		return nil, err
	}
	index := schema.TableIndex{
		ID:   indexID,
		Name: indexName,
		Provider: schema.IndexProvider{
			Kind:    schema.BasicIndex,
			Columns: columnIDs,
			Unique:  stmt.Unique,
		},
	}

	clone := table.Clone()
	clone.Indexes = append(clone.Indexes, index)
	if err := storage.PutTableSchema(kv, schemaName, clone); err != nil {
		return nil, err
	}
	env.Txn.OverrideTable(schemaName, clone.Name, clone)

	if err := backfillIndex(env, clone, index); err != nil {
		return nil, err
	}
	env.log().Debug("created index",
		zap.String("table", clone.Name), zap.String("index", indexName), zap.Bool("unique", stmt.Unique))
	return commandResult("CREATE INDEX"), nil
}

// backfillIndex scans every existing row and adds its entry under the new
// index, enforcing uniqueness across pre-existing rows.
func backfillIndex(env Env, table *schema.Table, index schema.TableIndex) error {
	all := make([]int, len(table.Columns))
	for i := range all {
		all[i] = i
	}
	it, err := rowiter.Heap(env.Txn.KV(), table, all)
	if err != nil {
		return err
	}
	defer it.Close()

	handler := storage.New(env.Txn.KV(), table)
	for it.Next() {
		if err := handler.AddRowToIndex(index, it.Cells(), it.RowID()); err != nil {
			return err
		}
	}
	return it.Err()
}
