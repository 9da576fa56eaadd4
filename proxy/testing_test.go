package proxy

import (
	"net"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/metrics"
	"github.com/TigerZhang/onecache/pool"
)

// testMetrics is shared across this package's tests: metrics.NewRegistry
// registers its collectors with the default prometheus registerer, which
// panics on a second registration of the same name, so every test in this
// package reuses one Registry instance.
var testMetrics = metrics.NewRegistry()

// scriptedBackend is a fake RESP backend: it reads one frame per
// connection and writes back the next canned reply from replies, looping
// if more requests arrive than replies were scripted.
type scriptedBackend struct {
	t       *testing.T
	ln      net.Listener
	mu      sync.Mutex
	replies [][]byte
	next    int
	Received [][]byte
}

func newScriptedBackend(t *testing.T, replies ...string) *scriptedBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sb := &scriptedBackend{t: t, ln: ln}
	for _, r := range replies {
		sb.replies = append(sb.replies, []byte(r))
	}
	go sb.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return sb
}

func (sb *scriptedBackend) acceptLoop() {
	for {
		c, err := sb.ln.Accept()
		if err != nil {
			return
		}
		go sb.serve(c)
	}
}

func (sb *scriptedBackend) serve(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil {
			c.Close()
			return
		}
		sb.mu.Lock()
		req := make([]byte, n)
		copy(req, buf[:n])
		sb.Received = append(sb.Received, req)
		var reply []byte
		if sb.next < len(sb.replies) {
			reply = sb.replies[sb.next]
			sb.next++
		} else if len(sb.replies) > 0 {
			reply = sb.replies[len(sb.replies)-1]
		} else {
			reply = []byte("+OK\r\n")
		}
		sb.mu.Unlock()
		if _, err := c.Write(reply); err != nil {
			return
		}
	}
}

func (sb *scriptedBackend) addr() string { return sb.ln.Addr().String() }

func (sb *scriptedBackend) receivedCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.Received)
}

// newTestServer wires a minimal Server with one group named "g1" (a
// single master backed by backend), enough to exercise routing, fan-out
// and admin handlers without a real config file.
func newTestServer(t *testing.T, backend *scriptedBackend) *Server {
	t.Helper()
	base := logrus.New()
	log := logrus.NewEntry(base)
	s := &Server{
		slots:            cluster.NewSlotTable(cluster.DefaultMaxHashValue),
		groups:           make(map[string]*cluster.Group),
		keyOverride:      cluster.NewKeyOverride(),
		migrationTargets: cluster.NewMigrationTargetRegistry(log),
		metrics:          testMetrics,
		baseLogger:       base,
		log:              log,
	}
	g := cluster.NewGroup("g1", cluster.MasterOnly, cluster.GroupOption{}, log)
	p := pool.New(pool.Options{Addr: backend.addr(), Capacity: 4}, log)
	g.AddMaster(&cluster.Backend{Addr: backend.addr(), Pool: p})
	s.groups["g1"] = g
	s.slots.SetOwner(0, s.slots.MaxHash()-1, g)
	return s
}
