package cluster

import (
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/google/uuid"
)

// PreparedStatement is one Parse-message product.
type PreparedStatement struct {
	Name string
	SQL  string
	Stmt *pg_query.Node // nil for an empty query
}

// Portal binds a prepared statement to parameter values.
type Portal struct {
	// Handle is a server-side identifier generated for every bound portal,
	// named or unnamed, so log lines can refer to it.
	Handle string
	Stmt   *PreparedStatement
	Params [][]byte
}

// PortalStore is one session's isolated prepared-statement and portal
// namespace; the server keys one store per session id.
type PortalStore struct {
	mu         sync.Mutex
	statements map[string]*PreparedStatement
	portals    map[string]*Portal
}

func NewPortalStore() *PortalStore {
	return &PortalStore{
		statements: make(map[string]*PreparedStatement),
		portals:    make(map[string]*Portal),
	}
}

func (p *PortalStore) PutStatement(stmt *PreparedStatement) {
	p.mu.Lock()
	p.statements[stmt.Name] = stmt
	p.mu.Unlock()
}

func (p *PortalStore) GetStatement(name string) (*PreparedStatement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statements[name]
	return s, ok
}

func (p *PortalStore) CloseStatement(name string) {
	p.mu.Lock()
	delete(p.statements, name)
	p.mu.Unlock()
}

// Bind creates (or replaces) a portal over a prepared statement.
func (p *PortalStore) Bind(name string, stmt *PreparedStatement, params [][]byte) *Portal {
	portal := &Portal{Handle: uuid.New().String(), Stmt: stmt, Params: params}
	p.mu.Lock()
	p.portals[name] = portal
	p.mu.Unlock()
	return portal
}

func (p *PortalStore) GetPortal(name string) (*Portal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	portal, ok := p.portals[name]
	return portal, ok
}

func (p *PortalStore) ClosePortal(name string) {
	p.mu.Lock()
	delete(p.portals, name)
	p.mu.Unlock()
}

// Reset drops all portals; the connection calls it at every Sync.
func (p *PortalStore) Reset() {
	p.mu.Lock()
	p.portals = make(map[string]*Portal)
	p.mu.Unlock()
}
