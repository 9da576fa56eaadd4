// Package proxy implements the proxy core (components C5-C8): the
// command table, per-connection request state machine, fan-out/fan-in,
// migration engine, and admin command surface, grounded on
// cmdhandler.cpp and redisproxy.cpp's RedisProxy::handleClientPacket /
// readingRequest / writeReply dispatch loop.
package proxy

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/config"
	"github.com/TigerZhang/onecache/logging"
	"github.com/TigerZhang/onecache/metrics"
	"github.com/TigerZhang/onecache/pool"
)

// Server is the running proxy: the routing core plus its listener and
// connection bookkeeping.
type Server struct {
	cfg *config.Config

	slots            *cluster.SlotTable
	groups           map[string]*cluster.Group
	keyOverride      *cluster.KeyOverride
	migrationTargets *cluster.MigrationTargetRegistry

	metrics    *metrics.Registry
	baseLogger *logrus.Logger
	log        *logrus.Entry
	vip        VIPHandoff

	listener  net.Listener
	connSeq   uint64
	loopSeq   uint64
	numLoops  int
	shutdownC chan struct{}
}

// New builds a Server from a loaded config, wiring a Group per <group>
// element, a Backend+Pool per <host>, the key override map, and any
// migration slots armed in the config at startup.
func New(cfg *config.Config, baseLogger *logrus.Logger, reg *metrics.Registry) (*Server, error) {
	log := logging.ForConn(baseLogger, "startup")
	s := &Server{
		cfg:              cfg,
		slots:            cluster.NewSlotTable(cfg.MaxHash()),
		groups:           make(map[string]*cluster.Group),
		keyOverride:      cluster.NewKeyOverride(),
		migrationTargets: cluster.NewMigrationTargetRegistry(log),
		metrics:          reg,
		baseLogger:       baseLogger,
		log:              log,
		vip:              NoopVIP{},
		numLoops:         numCPULoops(),
		shutdownC:        make(chan struct{}),
	}

	for _, gc := range cfg.Groups {
		policy := cluster.MasterOnly
		if gc.Policy == "ReadBalance" {
			policy = cluster.ReadBalance
		}
		opt := cluster.GroupOption{
			AutoEjectGroup:    cfg.GroupOption.AutoEjectGroup,
			EjectAfterRestore: cfg.GroupOption.EjectAfterRestore,
			GroupRetryTime:    time.Duration(cfg.GroupOption.GroupRetryTime) * time.Second,
		}
		g := cluster.NewGroup(gc.Name, policy, opt, log)
		for _, h := range gc.Hosts {
			p := pool.New(pool.Options{
				Addr:              h.Addr(),
				Capacity:          max(h.ConnectionNum, 1),
				ReconnectInterval: time.Duration(cfg.GroupOption.BackendRetryInterval) * time.Second,
				ReconnectMaxCount: cfg.GroupOption.BackendRetryLimit,
			}, log)
			backend := &cluster.Backend{Addr: h.Addr(), Pool: p}
			if h.Master {
				g.AddMaster(backend)
			} else {
				g.AddSlave(backend)
			}
		}
		s.groups[gc.Name] = g
		s.slots.SetOwner(gc.HashMin, gc.HashMax, g)
	}

	for _, km := range cfg.KeyMapping {
		if g := s.groups[km.GroupName]; g != nil {
			s.keyOverride.Set(km.Key, g)
		}
	}

	for _, ms := range cfg.MigrationSlots {
		addr := fmt.Sprintf("%s:%d", ms.Addr, ms.Port)
		target := s.migrationTargets.GetOrCreate(addr)
		s.slots.StartMigration(ms.Slot, target)
	}

	if cfg.Vip != nil && cfg.Vip.Enable {
		log.Infof("vip configured (%s, %s) — VIP/ARP handoff is not implemented, only the lifecycle seam is", cfg.Vip.IfAliasName, cfg.Vip.Address)
	}

	return s, nil
}

// numCPULoops sizes the conceptual loop pool used for connection-id
// grouping in logs to the host's CPU count, the same sizing the rest of
// the pack's goroutine-pool idioms use (one loop per core).
func numCPULoops() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// SetVIPHandoff overrides the default no-op VIP lifecycle hook.
func (s *Server) SetVIPHandoff(v VIPHandoff) { s.vip = v }

// Run listens on cfg.Port and accepts connections until ctx is canceled
// or SHUTDOWN is issued over the admin surface.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return err
	}
	s.listener = ln
	if err := s.vip.Acquire(ctx); err != nil {
		s.log.WithError(err).Warn("VIP acquire failed")
	}
	s.log.WithField("port", s.cfg.Port).Info("proxy listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.reportPoolMetrics(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownC:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		loopID := atomic.AddUint64(&s.loopSeq, 1) % uint64(s.numLoops)
		connID := uuid.NewString()
		go s.serveConn(conn, connID, loopID)
	}
}

func (s *Server) serveConn(conn net.Conn, connID string, loopID uint64) {
	atomic.AddUint64(&s.connSeq, 1)
	log := logging.ForConn(s.baseLogger, connID).WithField("loop", loopID)
	sess := newSession(s, conn, connID, log)
	sess.run()
}

// persistConfig rewrites the backing XML config after an admin mutation,
// matching RedisProxyCfg::rewriteConfig's call sites in
// onAddKeyMapping/onDelKeyMapping/migrateSlot.
func (s *Server) persistConfig() error {
	if s.cfg == nil {
		return fmt.Errorf("no config to persist")
	}
	return s.cfg.Rewrite(func() string {
		return time.Now().Format("20060102-150405")
	})
}

// shutdown stops accepting connections and exits the process, matching
// onShutDown's exit(0)/exit(APP_EXIT_KEY) behavior.
func (s *Server) shutdown(force bool) {
	close(s.shutdownC)
	if s.listener != nil {
		s.listener.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.vip.Release(ctx)
	if force {
		os.Exit(appExitKey)
	}
	os.Exit(0)
}

// appExitKey mirrors the original's APP_EXIT_KEY sentinel for a forced
// shutdown.
const appExitKey = 10
