// Package session implements the session context: the active-transaction
// slot with auto begin/commit/rollback per statement, statement-level
// privilege enforcement, and the session's advisory-lock bookkeeping.
package session

import (
	"context"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/catalog"
	"github.com/arenadb/arenasql/internal/codec"
	"github.com/arenadb/arenasql/internal/plans"
	"github.com/arenadb/arenasql/internal/privilege"
)

// Session is one authenticated conversation bound to a catalog.
type Session struct {
	ID          uint64
	User        string
	CatalogName string
	SchemaName  string
	Privilege   privilege.Privilege

	ctx *Context
}

// New binds a session to its catalog's storage factory.
func New(id uint64, user, catalogName, schemaName string, priv privilege.Privilege, factory *catalog.StorageFactory, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		ID:          id,
		User:        user,
		CatalogName: catalogName,
		SchemaName:  schemaName,
		Privilege:   priv,
	}
	s.ctx = &Context{
		sessionID:     id,
		defaultSchema: schemaName,
		factory:       factory,
		params:        make(map[string]string),
		log:           log.With(zap.Uint64("session_id", id), zap.String("catalog", catalogName)),
	}
	return s
}

// Context returns the session's statement-execution context.
func (s *Session) Context() *Context { return s.ctx }

// Close rolls back any open transaction and releases session state,
// including advisory locks.
func (s *Session) Close() {
	s.ctx.Close()
}

// Context holds the active-transaction slot: at most one transaction at a
// time, reused while chained (explicit BEGIN), one-shot otherwise.
type Context struct {
	sessionID     uint64
	defaultSchema string
	factory       *catalog.StorageFactory
	log           *zap.Logger

	mu           sync.Mutex
	active       *catalog.Transaction
	chained      bool
	params       map[string]string
	advisoryHeld *int64
}

// SessionID implements plans.SessionHooks.
func (c *Context) SessionID() uint64 { return c.sessionID }

// SetParameter implements plans.SessionHooks.
func (c *Context) SetParameter(name, value string) {
	c.mu.Lock()
	if value == "" {
		delete(c.params, name)
	} else {
		c.params[name] = value
	}
	c.mu.Unlock()
}

// Parameter reads a previously SET session parameter.
func (c *Context) Parameter(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.params[name]
	return v, ok
}

// AcquireAdvisoryLock implements plans.SessionHooks. A session holds at
// most one advisory lock; asking for a second concurrent one fails loudly
// rather than deadlocking the session against itself.
func (c *Context) AcquireAdvisoryLock(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.advisoryHeld != nil {
		held := *c.advisoryHeld
		c.mu.Unlock()
		if held == id {
			return nil
		}
		return arenaerrors.New(arenaerrors.KindUnsupportedOperation,
			"session already holds advisory lock %d; one advisory lock per session", held)
	}
	c.mu.Unlock()

	if err := c.factory.Advisory().Acquire(ctx, id, c.sessionID); err != nil {
		return err
	}
	c.mu.Lock()
	c.advisoryHeld = &id
	c.mu.Unlock()
	return nil
}

// ReleaseAdvisoryLock implements plans.SessionHooks. Returns false if the
// session doesn't hold the lock, mirroring pg_advisory_unlock's boolean.
func (c *Context) ReleaseAdvisoryLock(id int64) (bool, error) {
	c.mu.Lock()
	held := c.advisoryHeld
	c.mu.Unlock()
	if held == nil || *held != id {
		return false, nil
	}
	if err := c.factory.Advisory().Release(id, c.sessionID); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.advisoryHeld = nil
	c.mu.Unlock()
	return true, nil
}

// InTransaction reports whether an explicit transaction block is open,
// for the wire protocol's ReadyForQuery status byte.
func (c *Context) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chained && c.active != nil
}

// Close rolls back any non-committed active transaction and clears the
// advisory lock. Rollback failures are logged and swallowed; dropping a
// session must never panic or error.
func (c *Context) Close() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.chained = false
	held := c.advisoryHeld
	c.advisoryHeld = nil
	c.mu.Unlock()

	if active != nil {
		if err := active.Rollback(); err != nil {
			c.log.Warn("rollback on session close failed", zap.Error(err))
		}
	}
	if held != nil {
		c.factory.Advisory().ReleaseSession(c.sessionID)
	}
}

// ExecuteStatement runs one parsed statement under the session's
// transaction discipline:
//
//   - BEGIN opens (or keeps) the active transaction and chains it,
//   - COMMIT/ROLLBACK terminate it and clear the slot,
//   - anything else reuses the chained transaction or runs one-shot; a
//     one-shot query commits through a completion hook on its row stream
//     so rows are produced before the commit, while a one-shot statement
//     without a row stream (DML/DDL, SET) commits before ExecuteStatement
//     returns.
//
// An error rolls back the active transaction, chained or not.
func (s *Session) ExecuteStatement(ctx context.Context, stmt *pg_query.Node, params [][]byte) (*plans.Result, error) {
	c := s.ctx

	if ts := stmt.GetTransactionStmt(); ts != nil {
		return c.executeTransactionStmt(ts)
	}

	// SET requires no privilege, like transaction control: Can tests bit
	// overlap, so a zero required set can never pass it, and every client
	// library issues SET at connect time.
	if stmt.GetVariableSetStmt() == nil && !s.Privilege.Can(stmt) {
		return nil, arenaerrors.New(arenaerrors.KindInsufficientPrivilege,
			"user %q does not have the privilege to execute this statement", s.User)
	}

	c.mu.Lock()
	oneShot := !(c.chained && c.active != nil)
	var txn *catalog.Transaction
	var err error
	if oneShot {
		txn, err = c.factory.BeginTransaction(c.defaultSchema)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
	} else {
		txn = c.active
	}
	c.mu.Unlock()

	env := plans.Env{
		Ctx:           ctx,
		Txn:           txn,
		DefaultSchema: c.defaultSchema,
		Params:        params,
		Session:       c,
		Logger:        c.log,
	}
	res, err := plans.Execute(env, stmt)
	if err != nil {
		c.rollbackAfterError(txn, oneShot)
		return nil, err
	}

	if !oneShot {
		return res, nil
	}
	if res.Rows != nil {
		res.Rows = &commitOnDrain{inner: res.Rows, txn: txn, log: c.log}
		return res, nil
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// DescribeStatement reports a statement's result columns without
// executing it, for the extended protocol's Describe message. It reuses a
// chained transaction if one is open, otherwise runs a throwaway
// read-only transaction that is always rolled back.
func (s *Session) DescribeStatement(ctx context.Context, stmt *pg_query.Node) ([]plans.Column, error) {
	c := s.ctx
	c.mu.Lock()
	txn := c.active
	borrowed := c.chained && txn != nil
	c.mu.Unlock()

	if !borrowed {
		var err error
		txn, err = c.factory.BeginTransaction(c.defaultSchema)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := txn.Rollback(); err != nil {
				c.log.Warn("rollback after describe failed", zap.Error(err))
			}
		}()
	}
	env := plans.Env{
		Ctx:           ctx,
		Txn:           txn,
		DefaultSchema: c.defaultSchema,
		Session:       c,
		Logger:        c.log,
	}
	return plans.DescribeColumns(env, stmt)
}

func (c *Context) executeTransactionStmt(ts *pg_query.TransactionStmt) (*plans.Result, error) {
	switch ts.Kind {
	case pg_query.TransactionStmtKind_TRANS_STMT_BEGIN, pg_query.TransactionStmtKind_TRANS_STMT_START:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active == nil {
			txn, err := c.factory.BeginTransaction(c.defaultSchema)
			if err != nil {
				return nil, err
			}
			c.active = txn
		}
		c.chained = true
		return &plans.Result{Tag: "BEGIN"}, nil
	case pg_query.TransactionStmtKind_TRANS_STMT_COMMIT:
		c.mu.Lock()
		active := c.active
		c.active = nil
		c.chained = false
		c.mu.Unlock()
		if active != nil {
			if err := active.Commit(); err != nil {
				return nil, err
			}
		}
		return &plans.Result{Tag: "COMMIT"}, nil
	case pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK:
		c.mu.Lock()
		active := c.active
		c.active = nil
		c.chained = false
		c.mu.Unlock()
		if active != nil {
			if err := active.Rollback(); err != nil {
				c.log.Warn("rollback failed", zap.Error(err))
			}
		}
		return &plans.Result{Tag: "ROLLBACK"}, nil
	default:
		return nil, arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported transaction statement")
	}
}

func (c *Context) rollbackAfterError(txn *catalog.Transaction, oneShot bool) {
	if !oneShot {
		c.mu.Lock()
		c.active = nil
		c.chained = false
		c.mu.Unlock()
	}
	if err := txn.Rollback(); err != nil {
		c.log.Warn("rollback after statement error failed", zap.Error(err))
	}
}

// commitOnDrain couples a one-shot transaction to its result stream: the
// transaction commits when the stream finishes and rolls back if the
// stream is dropped before completion.
type commitOnDrain struct {
	inner plans.RowStream
	txn   *catalog.Transaction
	log   *zap.Logger
	done  bool
}

func (h *commitOnDrain) Next() ([]codec.Cell, bool, error) {
	if h.done {
		return nil, false, nil
	}
	row, ok, err := h.inner.Next()
	if err != nil {
		h.done = true
		_ = h.inner.Close()
		if rbErr := h.txn.Rollback(); rbErr != nil {
			h.log.Warn("rollback after stream error failed", zap.Error(rbErr))
		}
		return nil, false, err
	}
	if !ok {
		h.done = true
		_ = h.inner.Close()
		if err := h.txn.Commit(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return row, true, nil
}

func (h *commitOnDrain) Close() error {
	if h.done {
		return nil
	}
	h.done = true
	_ = h.inner.Close()
	if err := h.txn.Rollback(); err != nil {
		h.log.Warn("rollback on stream drop failed", zap.Error(err))
	}
	return nil
}
