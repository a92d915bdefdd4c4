package plans

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/schema"
	"github.com/arenadb/arenasql/internal/storage"
)

func createTable(env Env, stmt *pg_query.CreateStmt) (*Result, error) {
	schemaName, tableName := resolveRelation(env, stmt.Relation)

	if _, ok, err := env.Txn.GetTable(schemaName, tableName); err != nil {
		return nil, err
	} else if ok {
		if stmt.IfNotExists {
			return commandResult("CREATE TABLE"), nil
		}
		return nil, arenaerrors.New(arenaerrors.KindRelationAlreadyExists, "relation %q already exists", tableName)
	}

	var columns []schema.Column
	var constraints []schema.Constraint
	for _, elt := range stmt.TableElts {
		switch {
		case elt.GetColumnDef() != nil:
			col, colConstraints, err := buildColumn(elt.GetColumnDef(), uint8(len(columns)))
			if err != nil {
				return nil, err
			}
			columns = append(columns, col)
			constraints = append(constraints, colConstraints...)
		case elt.GetConstraint() != nil:
			c, err := buildTableConstraint(elt.GetConstraint(), columns)
			if err != nil {
				return nil, err
			}
			constraints = append(constraints, c)
		default:
			return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported table element in CREATE TABLE")
		}
	}
	if len(columns) == 0 {
		return nil, arenaerrors.New(arenaerrors.KindInvalidQuery, "table %q has no columns", tableName)
	}

	kv := env.Txn.KV()
	tableID, err := storage.GetNextTableID(kv)
	if err != nil {
		return nil, err
	}
	table := &schema.Table{
		ID:           tableID,
		Name:         tableName,
		Columns:      columns,
		Constraints:  constraints,
		NextColumnID: uint8(len(columns)),
	}

	// Unique and primary-key constraints become unique basic indexes at
	// create time.
	for _, c := range constraints {
		indexID, err := storage.GetNextTableIndexID(kv)
		if err != nil {
			return nil, err
		}
		table.Indexes = append(table.Indexes, schema.TableIndex{
			ID:   indexID,
			Name: constraintIndexName(tableName, table, c),
			Provider: schema.IndexProvider{
				Kind:    schema.BasicIndex,
				Columns: c.Columns,
				Unique:  true,
			},
		})
	}

	if err := storage.PutTableSchema(kv, schemaName, table); err != nil {
		return nil, err
	}
	env.Txn.OverrideTable(schemaName, tableName, table)
	env.log().Debug("created table",
		zap.String("schema", schemaName), zap.String("table", tableName))
	return commandResult("CREATE TABLE"), nil
}

func buildColumn(cd *pg_query.ColumnDef, id uint8) (schema.Column, []schema.Constraint, error) {
	dt, serial, err := translateType(cd.TypeName)
	if err != nil {
		return schema.Column{}, nil, err
	}
	col := schema.Column{
		ID:       id,
		Name:     cd.Colname,
		DataType: dt,
		Properties: schema.ColumnProperties{
			Nullable: true,
			IsSerial: serial,
		},
	}
	var constraints []schema.Constraint
	for _, cn := range cd.Constraints {
		c := cn.GetConstraint()
		if c == nil {
			continue
		}
		switch c.Contype {
		case pg_query.ConstrType_CONSTR_NOTNULL:
			col.Properties.Nullable = false
		case pg_query.ConstrType_CONSTR_NULL:
			col.Properties.Nullable = true
		case pg_query.ConstrType_CONSTR_DEFAULT:
			raw, err := renderDefault(c.RawExpr)
			if err != nil {
				return schema.Column{}, nil, err
			}
			col.Default = &raw
		case pg_query.ConstrType_CONSTR_UNIQUE:
			constraints = append(constraints, schema.Constraint{Kind: schema.ConstraintUnique, Columns: []uint8{id}})
		case pg_query.ConstrType_CONSTR_PRIMARY:
			col.Properties.Nullable = false
			constraints = append(constraints, schema.Constraint{Kind: schema.ConstraintPrimaryKey, Columns: []uint8{id}})
		default:
			return schema.Column{}, nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation,
				"unsupported constraint on column %q", cd.Colname)
		}
	}
	return col, constraints, nil
}

func buildTableConstraint(c *pg_query.Constraint, columns []schema.Column) (schema.Constraint, error) {
	var kind schema.ConstraintKind
	switch c.Contype {
	case pg_query.ConstrType_CONSTR_UNIQUE:
		kind = schema.ConstraintUnique
	case pg_query.ConstrType_CONSTR_PRIMARY:
		kind = schema.ConstraintPrimaryKey
	default:
		return schema.Constraint{}, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported table constraint")
	}
	var ids []uint8
	for _, k := range c.Keys {
		name := k.GetString_().GetSval()
		found := false
		for _, col := range columns {
			if col.Name == name {
				ids = append(ids, col.ID)
				found = true
				break
			}
		}
		if !found {
			return schema.Constraint{}, arenaerrors.New(arenaerrors.KindColumnDoesntExist,
				"column %q named in constraint does not exist", name)
		}
	}
	return schema.Constraint{Kind: kind, Columns: ids}, nil
}

func constraintIndexName(tableName string, table *schema.Table, c schema.Constraint) string {
	if c.Kind == schema.ConstraintPrimaryKey {
		return tableName + "_pkey"
	}
	names := make([]string, len(c.Columns))
	for i, id := range c.Columns {
		ord := table.OrdinalOfColumnID(id)
		names[i] = table.Columns[ord].Name
	}
	return tableName + "_" + strings.Join(names, "_") + "_key"
}

// renderDefault keeps only literal defaults; expression defaults are out
// of scope for this engine.
func renderDefault(node *pg_query.Node) (string, error) {
	if node == nil {
		return "", nil
	}
	ac := node.GetAConst()
	if ac == nil {
		if tc := node.GetTypeCast(); tc != nil {
			return renderDefault(tc.Arg)
		}
		return "", arenaerrors.New(arenaerrors.KindUnsupportedOperation, "only literal column defaults are supported")
	}
	switch {
	case ac.GetIsnull():
		return "", nil
	case ac.GetIval() != nil:
		return strconv.FormatInt(int64(ac.GetIval().GetIval()), 10), nil
	case ac.GetFval() != nil:
		return ac.GetFval().GetFval(), nil
	case ac.GetSval() != nil:
		return ac.GetSval().GetSval(), nil
	case ac.GetBoolval() != nil:
		if ac.GetBoolval().GetBoolval() {
			return "true", nil
		}
		return "false", nil
	}
	return "", arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported column default")
}
