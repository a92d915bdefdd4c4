package plans

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/storage"
)

// alterTable implements ALTER TABLE ... ADD COLUMN. Existing rows are not
// rewritten: a row written before the column existed simply carries fewer
// cells, and projection reads the absent cell as null.
func alterTable(env Env, stmt *pg_query.AlterTableStmt) (*Result, error) {
	if stmt.MissingOk {
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "ALTER TABLE IF EXISTS is not supported")
	}
	table, schemaName, err := mustGetTable(env, stmt.Relation)
	if err != nil {
		return nil, err
	}

	if err := env.Txn.Handle().AcquireTableSchemaWriteLock(env.Ctx, schemaName, table.Name); err != nil {
		return nil, err
	}

	clone := table.Clone()
	for _, c := range stmt.Cmds {
		cmd := c.GetAlterTableCmd()
		if cmd == nil || cmd.Subtype != pg_query.AlterTableType_AT_AddColumn {
			return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "only ADD COLUMN is supported in ALTER TABLE")
		}
		cd := cmd.GetDef().GetColumnDef()
		if cd == nil {
			return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "ADD COLUMN has no column definition")
		}
		if _, _, exists := clone.ColumnByName(cd.Colname); exists {
			return nil, arenaerrors.New(arenaerrors.KindRelationAlreadyExists,
				"column %q of relation %q already exists", cd.Colname, clone.Name)
		}
		col, colConstraints, err := buildColumn(cd, clone.NextColumnID)
		if err != nil {
			return nil, err
		}
		if len(colConstraints) > 0 {
			return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation,
				"constraints on added columns are not supported")
		}
		clone.Columns = append(clone.Columns, col)
		clone.NextColumnID++
	}

	if err := storage.PutTableSchema(env.Txn.KV(), schemaName, clone); err != nil {
		return nil, err
	}
	env.Txn.OverrideTable(schemaName, clone.Name, clone)
	env.log().Debug("altered table", zap.String("table", clone.Name))
	return commandResult("ALTER TABLE"), nil
}
