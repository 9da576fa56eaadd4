// Package pool implements the per-backend connection pool (spec component
// C2): a fixed-capacity set of long-lived TCP connections to one upstream
// RESP server, with exponential-capped reconnect and a broken/disabled
// lifecycle.
package pool

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoUsableConnection is returned by Acquire when no idle connection is
// available and the pool is already at capacity.
var ErrNoUsableConnection = errors.New("no usable connection")

// ErrBackendUnreachable is returned by Acquire when a freshly dialed
// connection fails to connect.
var ErrBackendUnreachable = errors.New("backend unreachable")

// Options configures a Pool. Zero values are replaced with the defaults
// from the original implementation's RedisServant::Option.
type Options struct {
	Addr               string
	Capacity           int           // poolSize, default 50
	ReconnectInterval  time.Duration // first retry delay, default 1s
	ReconnectMaxCount   int          // maxReconnCount before the backend is marked disabled, default 100
	ReconnectMaxBackoff time.Duration
	DialTimeout        time.Duration
}

func (o *Options) setDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 50
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = time.Second
	}
	if o.ReconnectMaxCount <= 0 {
		o.ReconnectMaxCount = 100
	}
	if o.ReconnectMaxBackoff <= 0 {
		o.ReconnectMaxBackoff = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
}

// Conn is a single pooled connection. It is either idle (sitting in the
// pool's free list), busy (checked out to exactly one in-flight request),
// or broken (failed and awaiting reconnect, never returned by Acquire).
type Conn struct {
	net.Conn
	pool   *Pool
	broken bool
}

// Pool owns up to Capacity connections to a single backend address.
type Pool struct {
	opts Options
	log  *logrus.Entry

	mu           sync.Mutex
	idle         []*Conn
	activeCount  int // busy, i.e. checked out
	brokenCount  int
	reconnFails  int
	disabled     bool
	reconnDelay  time.Duration
}

func New(opts Options, log *logrus.Entry) *Pool {
	opts.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		opts:        opts,
		log:         log.WithField("backend", opts.Addr),
		reconnDelay: opts.ReconnectInterval,
	}
}

func (p *Pool) Addr() string { return p.opts.Addr }

// Enabled reports whether the backend may still be dialed. A pool is
// disabled once ReconnectMaxCount consecutive connect failures have
// occurred; it is re-enabled by Enable (manual probe success or the
// group-level auto-restore timer).
func (p *Pool) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled
}

func (p *Pool) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = false
	p.reconnFails = 0
	p.reconnDelay = p.opts.ReconnectInterval
}

func (p *Pool) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = true
}

// Stats reports the pool's active, idle, broken connection counts and its
// fixed capacity, used by the POOLINFO admin command.
type Stats struct {
	Active   int
	Idle     int
	Broken   int
	Capacity int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:   p.activeCount,
		Idle:     len(p.idle),
		Broken:   p.brokenCount,
		Capacity: p.opts.Capacity,
	}
}

// Acquire returns an idle connection, dialing a new one if the pool has
// spare capacity. It returns ErrNoUsableConnection if the pool is at
// capacity with none idle, and ErrBackendUnreachable if the pool is
// disabled or a fresh dial fails. A failed dial counts toward
// ReconnectMaxCount; it does not schedule a reconnect.
func (p *Pool) Acquire() (*Conn, error) {
	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return nil, ErrBackendUnreachable
	}
	if len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		p.activeCount++
		p.mu.Unlock()
		return c, nil
	}
	inUse := p.activeCount + p.brokenCount
	if inUse >= p.opts.Capacity {
		p.mu.Unlock()
		return nil, ErrNoUsableConnection
	}
	p.activeCount++
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", p.opts.Addr, p.opts.DialTimeout)
	if err != nil {
		p.mu.Lock()
		p.activeCount--
		p.mu.Unlock()
		p.onConnectFailure()
		return nil, errors.Wrapf(ErrBackendUnreachable, "dial %s: %v", p.opts.Addr, err)
	}
	p.onConnectSuccess()
	return &Conn{Conn: conn, pool: p}, nil
}

// Release returns a connection to the idle FIFO for reuse.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.broken {
		return
	}
	p.activeCount--
	p.idle = append(p.idle, c)
}

// MarkBroken drops a connection (it will never be returned to the idle
// list) and schedules a reconnect attempt via the backoff timer.
func (p *Pool) MarkBroken(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if !c.broken {
		c.broken = true
		p.activeCount--
		p.brokenCount++
	}
	p.mu.Unlock()
	_ = c.Conn.Close()
	p.scheduleReconnect()
}

func (p *Pool) onConnectFailure() {
	p.mu.Lock()
	p.reconnFails++
	fails := p.reconnFails
	if fails >= p.opts.ReconnectMaxCount {
		p.disabled = true
		p.log.Warnf("backend disabled after %d consecutive connect failures", fails)
	}
	p.mu.Unlock()
}

func (p *Pool) onConnectSuccess() {
	p.mu.Lock()
	p.reconnFails = 0
	p.reconnDelay = p.opts.ReconnectInterval
	p.mu.Unlock()
}

// scheduleReconnect arms a one-shot timer that retries a dial after the
// pool's current backoff delay, doubling the delay on repeated failure up
// to ReconnectMaxBackoff, matching the original's
// backend_retry_interval/backend_retry_limit semantics.
func (p *Pool) scheduleReconnect() {
	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return
	}
	delay := p.reconnDelay
	p.mu.Unlock()

	time.AfterFunc(delay, func() {
		p.mu.Lock()
		p.brokenCount--
		disabled := p.disabled
		if p.reconnDelay < p.opts.ReconnectMaxBackoff {
			p.reconnDelay *= 2
			if p.reconnDelay > p.opts.ReconnectMaxBackoff {
				p.reconnDelay = p.opts.ReconnectMaxBackoff
			}
		}
		p.mu.Unlock()
		if disabled {
			return
		}
		conn, err := net.DialTimeout("tcp", p.opts.Addr, p.opts.DialTimeout)
		if err != nil {
			p.onConnectFailure()
			p.log.WithError(err).Debug("reconnect attempt failed")
			return
		}
		p.onConnectSuccess()
		p.mu.Lock()
		p.idle = append(p.idle, &Conn{Conn: conn, pool: p})
		p.mu.Unlock()
	})
}

// Probe dials once, synchronously, to check whether a disabled backend has
// recovered. On success the connection is closed immediately; it does not
// join the idle list, and Probe does not re-enable the pool (the caller
// decides whether to Enable()).
func (p *Pool) Probe(timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", p.opts.Addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
