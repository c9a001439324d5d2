// Package pool implements the ConnectionPool/Adapter shim of spec.md §4.2:
// one pool per (scheme, host, port), whose only real job is funneling race
// parameters — including the per-queue-position barrier reference, which
// changes between requests — into newly minted Connections. Keep-alive is
// never used: reusing a socket would defeat the withhold trick, so every
// lend mints a fresh Connection instead of reusing one (spec.md §4.2).
package pool

import (
	"sync"

	"github.com/corbalt/collide/connection"
	"github.com/corbalt/collide/metrics"
	"github.com/corbalt/collide/obslog"
	"github.com/corbalt/collide/params"
)

// key is the (scheme, host, port) a Pool is grouped by.
type key struct {
	scheme, host, port string
}

// Manager routes requests to per-(scheme,host,port) Pools, the "Adapter"
// half of spec.md §4.2's shim.
type Manager struct {
	mu    sync.Mutex
	pools map[key]*Pool

	log *obslog.Logger
	met *metrics.Collector
}

// NewManager builds an empty Manager. log/met may be nil (a no-op facade is
// substituted).
func NewManager(log *obslog.Logger, met *metrics.Collector) *Manager {
	if log == nil {
		log = obslog.Nop()
	}
	if met == nil {
		met = metrics.NewNop()
	}
	return &Manager{pools: make(map[key]*Pool), log: log, met: met}
}

// PoolFor returns the Pool for (scheme, host, port), creating it on first
// use.
func (m *Manager) PoolFor(scheme, host, port string) *Pool {
	k := key{scheme, host, port}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[k]; ok {
		return p
	}
	p := &Pool{target: connection.Target{Scheme: scheme, Host: host, Port: port}, log: m.log, met: m.met}
	m.pools[k] = p
	return p
}

// Pool lends fresh Connections for one (scheme, host, port); it carries no
// reusable-socket state since pooling is disabled by design (spec.md §4.2).
type Pool struct {
	target connection.Target
	log    *obslog.Logger
	met    *metrics.Collector
}

// Lend mints a new Connection threading the Worker's race parameters and
// dial plan through — the only state this shim exists to carry (spec.md
// §4.2 item 2).
func (p *Pool) Lend(workerID int, plan connection.DialPlan, raceParams params.RaceParams) *connection.Connection {
	return connection.New(workerID, p.target, plan, raceParams, p.log, p.met)
}

// Return is a no-op: Connections are never recycled, they are simply
// closed by the caller once a Send completes (spec.md §4.2).
func (p *Pool) Return(c *connection.Connection) {
	_ = c.Close()
}
