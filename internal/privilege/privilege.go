// Package privilege implements the 64-bit permission flag set and the
// mapping from statement kind to the minimum privilege it requires.
package privilege

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Privilege is a bit set. Composite privileges OR their parts together,
// so UPDATE_ROWS implies SELECT_ROWS by construction.
type Privilege uint64

const (
	None      Privilege = 0
	SuperUser Privilege = 1 << 63

	// Database level
	CreateDatabase Privilege = 1 << 47

	// System schema (pg_user, pg_database, ...)
	AlterSystemSchema Privilege = 1 << 46
	ReadSystemSchema  Privilege = 1 << 45

	// Table level
	CreateTable     Privilege = 1 << 31
	DropTable       Privilege = 1 << 30
	AlterTable      Privilege = 1 << 29
	ReadTableSchema Privilege = 1 << 28

	// Row level
	SelectRows Privilege = 1 << 12
	InsertRows Privilege = 1 << 13
	UpdateRows Privilege = 1<<14 | SelectRows
	DeleteRows Privilege = 1<<15 | SelectRows

	ReadOnly        = ReadTableSchema | SelectRows
	TablePrivileges = CreateTable | DropTable | AlterTable | ReadTableSchema
	RowsPrivileges  = SelectRows | InsertRows | UpdateRows | DeleteRows

	// Admin is the full set granted to the administrator at session bind:
	// Can tests bit overlap, so the SUPER_USER marker alone would satisfy
	// nothing but the statements that explicitly require it.
	Admin = SuperUser | CreateDatabase | AlterSystemSchema | ReadSystemSchema |
		TablePrivileges | RowsPrivileges
)

// Required returns the minimum privilege set for a parsed statement.
// Transaction control statements require None; the session context
// dispatches those before any privilege check, so Can's "at least one
// required bit" rule never sees them.
func Required(stmt *pg_query.Node) Privilege {
	switch {
	case stmt.GetCreatedbStmt() != nil:
		return CreateDatabase
	case stmt.GetCreateStmt() != nil:
		return CreateTable
	case stmt.GetAlterTableStmt() != nil, stmt.GetIndexStmt() != nil:
		return AlterTable
	case stmt.GetExplainStmt() != nil:
		return ReadTableSchema
	case stmt.GetInsertStmt() != nil:
		return InsertRows
	case stmt.GetDeleteStmt() != nil:
		return DeleteRows
	case stmt.GetUpdateStmt() != nil:
		return UpdateRows
	case stmt.GetSelectStmt() != nil:
		return SelectRows
	case stmt.GetTransactionStmt() != nil:
		return None
	case stmt.GetVariableSetStmt() != nil:
		// SET is issued by most client libraries at connect time; it needs
		// no privilege, and the session context dispatches it without a Can
		// check, exactly like transaction control.
		return None
	case stmt.GetDropStmt() != nil:
		drop := stmt.GetDropStmt()
		switch drop.RemoveType {
		case pg_query.ObjectType_OBJECT_TABLE, pg_query.ObjectType_OBJECT_INDEX:
			return DropTable
		default:
			return SuperUser
		}
	default:
		return SuperUser
	}
}

// Can reports whether p can execute stmt: at least one required bit must
// be present in p.
func (p Privilege) Can(stmt *pg_query.Node) bool {
	return p&Required(stmt) != 0
}

// Has reports whether every bit of q is set in p.
func (p Privilege) Has(q Privilege) bool { return p&q == q }
