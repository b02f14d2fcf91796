package amcp

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// Addr renders the canonical host:port key shared by all slots that target
// the same engine.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Pool holds one Conn per remote address. Connections are created on first
// reference and retained until pruned after a config save that no longer
// mentions them.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Conn
	dial  func(addr string) *Conn
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		conns: make(map[string]*Conn),
		dial:  Dial,
	}
}

// Get returns the connection for addr, creating it on first use.
func (p *Pool) Get(addr string) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok {
		return c
	}
	c := p.dial(addr)
	p.conns[addr] = c
	return c
}

// States returns a snapshot of every connection's lifecycle state.
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.conns))
	for addr, c := range p.conns {
		out[addr] = c.State()
	}
	return out
}

// Prune closes every connection whose address is not in keep. Called after a
// config save; in-flight work on a pruned connection is allowed to finish.
func (p *Pool) Prune(keep map[string]struct{}) {
	p.mu.Lock()
	var doomed []*Conn
	for addr, c := range p.conns {
		if _, ok := keep[addr]; !ok {
			doomed = append(doomed, c)
			delete(p.conns, addr)
		}
	}
	p.mu.Unlock()
	for _, c := range doomed {
		c.Close()
	}
}

// CloseAll shuts every connection down, waiting up to deadline in total for
// in-flight batches before forcing sockets shut.
func (p *Pool) CloseAll(deadline time.Duration) {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.CloseWait(deadline)
		}(c)
	}
	wg.Wait()
}
