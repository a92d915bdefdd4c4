package cluster

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5/pgproto3"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/arenaerrors"
	"github.com/arenadb/arenasql/internal/logutil"
	"github.com/arenadb/arenasql/internal/plans"
	"github.com/arenadb/arenasql/internal/privilege"
	"github.com/arenadb/arenasql/internal/session"
)

// connState is one connection's protocol state.
type connState struct {
	server  *Server
	backend *pgproto3.Backend
	session *session.Session
	portals *PortalStore
	log     *zap.Logger
	// errored suppresses extended-protocol messages until the next Sync.
	errored bool
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	backend := pgproto3.NewBackend(conn, conn)

	startup, err := receiveStartup(conn, backend)
	if err != nil || startup == nil {
		return
	}

	user := startup.Parameters["user"]
	if user == "" {
		sendFatal(backend, "28000", "user startup parameter is required")
		return
	}
	if err := s.auth.Authenticate(backend, user); err != nil {
		s.log.Info("authentication failed", zap.String("user", user), zap.Error(err))
		sendFatal(backend, "28P01", fmt.Sprintf("password authentication failed for user %q", user))
		return
	}

	database := startup.Parameters["database"]
	if database == "" {
		database = SystemCatalogName
	}
	factory, err := s.factoryFor(database)
	if err != nil {
		sendFatal(backend, "3D000", fmt.Sprintf("database %q is not available: %v", database, err))
		return
	}

	// The administrator gets the full super-user set; everyone else starts
	// with no privilege and is elevated per-query out-of-band.
	priv := privilege.None
	if user == s.cfg.AdminUser {
		priv = privilege.Admin
	}

	sessionID := s.sessions.NextID()
	sess := session.New(sessionID, user, database, DefaultSchemaName, priv, factory, s.log)
	s.sessions.Put(sess)
	defer s.removeSession(sessionID)
	// the session id rides the connection metadata so anything holding the
	// startup parameters can find its session
	startup.Parameters["session_id"] = strconv.FormatUint(sessionID, 10)

	state := &connState{
		server:  s,
		backend: backend,
		session: sess,
		portals: s.portalStore(sessionID),
		log:     s.log.With(zap.Uint64("session_id", sessionID)),
	}
	state.log.Debug("session bound", logutil.Values(
		zap.String("user", user),
		zap.String("catalog", database),
		zap.String("remote", conn.RemoteAddr().String()),
	))

	backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "15.0"})
	backend.Send(&pgproto3.ParameterStatus{Name: "server_encoding", Value: "UTF8"})
	backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	backend.Send(&pgproto3.ParameterStatus{Name: "standard_conforming_strings", Value: "on"})
	backend.Send(&pgproto3.BackendKeyData{ProcessID: uint32(sessionID), SecretKey: uint32(sessionID)})
	state.sendReady()
	if err := backend.Flush(); err != nil {
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.Query:
			state.handleSimpleQuery(m.String)
		case *pgproto3.Parse:
			state.handleParse(m)
		case *pgproto3.Bind:
			state.handleBind(m)
		case *pgproto3.Describe:
			state.handleDescribe(m)
		case *pgproto3.Execute:
			state.handleExecute(m)
		case *pgproto3.Close:
			state.handleClose(m)
		case *pgproto3.Sync:
			state.errored = false
			state.portals.Reset()
			state.sendReady()
		case *pgproto3.Flush:
			// everything is flushed after each message already
		case *pgproto3.Terminate:
			return
		default:
			state.sendError(arenaerrors.New(arenaerrors.KindUnsupportedOperation, "unsupported protocol message %T", msg))
			state.sendReady()
		}
		if err := backend.Flush(); err != nil {
			return
		}
	}
}

func receiveStartup(conn net.Conn, backend *pgproto3.Backend) (*pgproto3.StartupMessage, error) {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return nil, err
			}
		case *pgproto3.GSSEncRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return nil, err
			}
		case *pgproto3.StartupMessage:
			return m, nil
		case *pgproto3.CancelRequest:
			return nil, nil
		default:
			return nil, fmt.Errorf("cluster: unexpected startup message %T", msg)
		}
	}
}

func sendFatal(backend *pgproto3.Backend, code, message string) {
	backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: code, Message: message})
	_ = backend.Flush()
}

func (c *connState) sendReady() {
	status := byte('I')
	if c.session.Context().InTransaction() {
		status = 'T'
	}
	c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: status})
}

func (c *connState) sendError(err error) {
	c.log.Debug("statement failed", logutil.Err(err))
	c.backend.Send(errorResponse(err))
}

// handleSimpleQuery parses and runs every statement in the query string;
// the first error aborts the rest, matching simple-protocol semantics.
func (c *connState) handleSimpleQuery(sql string) {
	parsed, err := pg_query.Parse(sql)
	if err != nil {
		c.sendError(arenaerrors.Wrap(arenaerrors.KindParserError, err, "%v", err))
		c.sendReady()
		return
	}
	if len(parsed.Stmts) == 0 {
		c.backend.Send(&pgproto3.EmptyQueryResponse{})
		c.sendReady()
		return
	}
	for _, raw := range parsed.Stmts {
		res, err := c.session.ExecuteStatement(context.Background(), raw.Stmt, nil)
		if err != nil {
			c.sendError(err)
			break
		}
		if err := c.sendResult(res, true); err != nil {
			c.sendError(err)
			break
		}
	}
	c.sendReady()
}

// sendResult drains a result, emitting RowDescription (when asked) and
// DataRows, then the command tag. A bare SELECT tag gets its row count
// appended after the drain; the commit hook on a one-shot stream fires
// inside Next when the stream ends.
func (c *connState) sendResult(res *plans.Result, describe bool) error {
	if res.Rows == nil {
		c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(res.Tag)})
		return nil
	}
	defer res.Rows.Close()
	if describe {
		c.backend.Send(rowDescription(res.Columns))
	}
	count := 0
	for {
		row, ok, err := res.Rows.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		c.backend.Send(dataRow(row))
		count++
	}
	tag := res.Tag
	if tag == "SELECT" {
		tag = fmt.Sprintf("SELECT %d", count)
	}
	c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
	return nil
}

func (c *connState) handleParse(m *pgproto3.Parse) {
	if c.errored {
		return
	}
	parsed, err := pg_query.Parse(m.Query)
	if err != nil {
		c.failExtended(arenaerrors.Wrap(arenaerrors.KindParserError, err, "%v", err))
		return
	}
	stmt := &PreparedStatement{Name: m.Name, SQL: m.Query}
	if len(parsed.Stmts) > 1 {
		c.failExtended(arenaerrors.New(arenaerrors.KindInvalidQuery, "cannot prepare multiple statements at once"))
		return
	}
	if len(parsed.Stmts) == 1 {
		stmt.Stmt = parsed.Stmts[0].Stmt
	}
	c.portals.PutStatement(stmt)
	c.backend.Send(&pgproto3.ParseComplete{})
}

func (c *connState) handleBind(m *pgproto3.Bind) {
	if c.errored {
		return
	}
	stmt, ok := c.portals.GetStatement(m.PreparedStatement)
	if !ok {
		c.failExtended(arenaerrors.New(arenaerrors.KindInvalidQuery, "prepared statement %q does not exist", m.PreparedStatement))
		return
	}
	for _, code := range m.ParameterFormatCodes {
		if code != 0 {
			c.failExtended(arenaerrors.New(arenaerrors.KindUnsupportedOperation, "binary parameter format is not supported"))
			return
		}
	}
	for _, code := range m.ResultFormatCodes {
		if code != 0 {
			c.failExtended(arenaerrors.New(arenaerrors.KindUnsupportedOperation, "binary result format is not supported"))
			return
		}
	}
	c.portals.Bind(m.DestinationPortal, stmt, m.Parameters)
	c.backend.Send(&pgproto3.BindComplete{})
}

var paramPattern = regexp.MustCompile(`\$([0-9]+)`)

func countStatementParams(sql string) int {
	max := 0
	for _, m := range paramPattern.FindAllStringSubmatch(sql, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

func (c *connState) handleDescribe(m *pgproto3.Describe) {
	if c.errored {
		return
	}
	var stmt *PreparedStatement
	switch m.ObjectType {
	case 'S':
		s, ok := c.portals.GetStatement(m.Name)
		if !ok {
			c.failExtended(arenaerrors.New(arenaerrors.KindInvalidQuery, "prepared statement %q does not exist", m.Name))
			return
		}
		stmt = s
		// parameter types are never inferred; OID 0 lets the client choose
		oids := make([]uint32, countStatementParams(s.SQL))
		c.backend.Send(&pgproto3.ParameterDescription{ParameterOIDs: oids})
	case 'P':
		p, ok := c.portals.GetPortal(m.Name)
		if !ok {
			c.failExtended(arenaerrors.New(arenaerrors.KindInvalidQuery, "portal %q does not exist", m.Name))
			return
		}
		stmt = p.Stmt
	}
	if stmt == nil || stmt.Stmt == nil {
		c.backend.Send(&pgproto3.NoData{})
		return
	}
	cols, err := c.session.DescribeStatement(context.Background(), stmt.Stmt)
	if err != nil {
		c.failExtended(err)
		return
	}
	if len(cols) == 0 {
		c.backend.Send(&pgproto3.NoData{})
		return
	}
	c.backend.Send(rowDescription(cols))
}

func (c *connState) handleExecute(m *pgproto3.Execute) {
	if c.errored {
		return
	}
	portal, ok := c.portals.GetPortal(m.Portal)
	if !ok {
		c.failExtended(arenaerrors.New(arenaerrors.KindInvalidQuery, "portal %q does not exist", m.Portal))
		return
	}
	if portal.Stmt.Stmt == nil {
		c.backend.Send(&pgproto3.EmptyQueryResponse{})
		return
	}
	res, err := c.session.ExecuteStatement(context.Background(), portal.Stmt.Stmt, portal.Params)
	if err != nil {
		c.failExtended(err)
		return
	}
	if err := c.sendResult(res, false); err != nil {
		c.failExtended(err)
	}
}

func (c *connState) handleClose(m *pgproto3.Close) {
	if c.errored {
		return
	}
	switch m.ObjectType {
	case 'S':
		c.portals.CloseStatement(m.Name)
	case 'P':
		c.portals.ClosePortal(m.Name)
	}
	c.backend.Send(&pgproto3.CloseComplete{})
}

func (c *connState) failExtended(err error) {
	c.errored = true
	c.sendError(err)
}
