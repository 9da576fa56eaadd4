package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TigerZhang/onecache/pool"
)

// Policy selects which backend within a group serves a request.
type Policy int

const (
	// MasterOnly sends every request to the first usable master in
	// declared order; it never spreads load across masters. This is the original's
	// default and the only policy that guarantees read-your-write
	// consistency.
	MasterOnly Policy = iota
	// ReadBalance spreads read-only commands across masters and slaves,
	// sending writes only to masters.
	ReadBalance
)

func (p Policy) String() string {
	if p == ReadBalance {
		return "ReadBalance"
	}
	return "MasterOnly"
}

// Backend is one upstream RESP server: an address plus the connection pool
// dialing it.
type Backend struct {
	Addr string
	Pool *pool.Pool
}

// GroupOption mirrors redis-proxy-config.h's GroupOption: per-group
// auto-eject/auto-restore behavior on total backend exhaustion.
type GroupOption struct {
	AutoEjectGroup   bool
	EjectAfterRestore bool
	GroupRetryTime   time.Duration // default 30s
}

func (o *GroupOption) setDefaults() {
	if o.GroupRetryTime <= 0 {
		o.GroupRetryTime = 30 * time.Second
	}
}

// Group is a named set of master and slave backends sharing a selection
// policy, grounded on the original's RedisServantGroup.
type Group struct {
	Name    string
	Policy  Policy
	Option  GroupOption
	log     *logrus.Entry

	mu       sync.RWMutex
	masters  []*Backend
	slaves   []*Backend
	ejected  bool

	readRR uint64 // atomic round-robin cursor over masters+slaves
}

func NewGroup(name string, policy Policy, opt GroupOption, log *logrus.Entry) *Group {
	opt.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Group{
		Name:   name,
		Policy: policy,
		Option: opt,
		log:    log.WithField("group", name),
	}
}

func (g *Group) AddMaster(b *Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.masters = append(g.masters, b)
}

func (g *Group) AddSlave(b *Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slaves = append(g.slaves, b)
}

func (g *Group) Masters() []*Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Backend, len(g.masters))
	copy(out, g.masters)
	return out
}

func (g *Group) Slaves() []*Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Backend, len(g.slaves))
	copy(out, g.slaves)
	return out
}

// Ejected reports whether the group has been temporarily disabled after
// every backend became unreachable (AutoEjectGroup).
func (g *Group) Ejected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ejected
}

// Eject disables the group for Option.GroupRetryTime, then (if
// EjectAfterRestore) probes one master before re-enabling, else
// re-enables unconditionally. Grounded on redisproxy.cpp's
// m_proxyManager.setGroupTTL.
func (g *Group) Eject() {
	g.mu.Lock()
	if g.ejected || !g.Option.AutoEjectGroup {
		g.mu.Unlock()
		return
	}
	g.ejected = true
	g.log.Warnf("group ejected for %s after exhausting all backends", g.Option.GroupRetryTime)
	g.mu.Unlock()

	time.AfterFunc(g.Option.GroupRetryTime, func() {
		if g.Option.EjectAfterRestore {
			for _, m := range g.Masters() {
				if m.Pool.Probe(2 * time.Second) {
					m.Pool.Enable()
					g.restore()
					return
				}
			}
			// still unreachable: re-arm the same wait
			g.mu.Lock()
			g.ejected = false
			g.mu.Unlock()
			g.Eject()
			return
		}
		g.restore()
	})
}

func (g *Group) restore() {
	g.mu.Lock()
	g.ejected = false
	g.mu.Unlock()
	g.log.Info("group restored")
}

// FindUsableServant selects a Backend for a request. readOnly selects
// between the master-only and read-balanced candidate sets according to
// Policy; writes always go to a master regardless of Policy. It returns
// nil if every candidate backend is disabled or out of pool capacity,
// the condition that triggers Eject.
//
// MasterOnly (and every write, regardless of Policy) tries masters in
// declared order and returns the first usable one, rather than
// round-robining: the original's FindUsableServant behavior for this
// policy is to always prefer the first declared master, not to spread
// load across masters.
func (g *Group) FindUsableServant(readOnly bool) *Backend {
	if g.Ejected() {
		return nil
	}
	masters := g.Masters()
	if !readOnly || g.Policy == MasterOnly {
		return firstEnabled(masters)
	}
	candidates := append(append([]*Backend{}, masters...), g.Slaves()...)
	return pickRoundRobin(candidates, &g.readRR)
}

// usable reports whether b is enabled and its pool can hand out a
// connection: an idle one, or spare capacity to dial a new one.
func usable(b *Backend) bool {
	if !b.Pool.Enabled() {
		return false
	}
	st := b.Pool.Stats()
	return st.Idle > 0 || st.Active+st.Broken < st.Capacity
}

// firstEnabled returns the first usable backend in declared order, or
// nil if none is usable. Unlike pickRoundRobin it never advances a
// cursor: MasterOnly dispatch always prefers the first declared master.
func firstEnabled(candidates []*Backend) *Backend {
	for _, b := range candidates {
		if usable(b) {
			return b
		}
	}
	return nil
}

// pickRoundRobin returns the next usable backend in candidates starting
// from the shared cursor, or nil if none is usable. It never blocks and
// never dials; callers acquire a pool connection separately.
func pickRoundRobin(candidates []*Backend, cursor *uint64) *Backend {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	start := int(atomic.AddUint64(cursor, 1) % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		b := candidates[idx]
		if usable(b) {
			return b
		}
	}
	return nil
}
