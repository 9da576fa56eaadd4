package cluster

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TigerZhang/onecache/pool"
)

// MigrationTargetRegistry holds a pool for each "ip:port" a YMIGRATE has
// ever targeted, independent of the static group config, grounded on the
// original's CreateMigrationTarget/m_migrationTargets map keyed the same
// way. A migration target is not necessarily one of the statically
// configured groups: operators may migrate a slot to a brand-new host
// before it is added to any <group>.
type MigrationTargetRegistry struct {
	mu      sync.Mutex
	targets map[string]*Group
	log     *logrus.Entry
}

func NewMigrationTargetRegistry(log *logrus.Entry) *MigrationTargetRegistry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MigrationTargetRegistry{
		targets: make(map[string]*Group),
		log:     log,
	}
}

// GetOrCreate returns the single-backend Group fronting addr, creating it
// (with a fresh pool, default capacity 50 per the original's
// CreateRedisServant) on first use.
func (r *MigrationTargetRegistry) GetOrCreate(addr string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.targets[addr]; ok {
		return g
	}
	p := pool.New(pool.Options{
		Addr:              addr,
		Capacity:          50,
		ReconnectInterval: time.Second,
		ReconnectMaxCount: 100,
	}, r.log)
	g := NewGroup(addr, MasterOnly, GroupOption{}, r.log)
	g.AddMaster(&Backend{Addr: addr, Pool: p})
	r.targets[addr] = g
	r.log.WithField("addr", addr).Info("created migration target")
	return g
}

// Lookup returns the target group for addr if one has already been
// created, without creating it.
func (r *MigrationTargetRegistry) Lookup(addr string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[addr]
}
