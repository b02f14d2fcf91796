// SPDX-License-Identifier: MIT
package amcp

import (
	"bufio"
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/ManuGH/loopsync/internal/log"
	"github.com/ManuGH/loopsync/internal/metrics"
)

// State describes the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBusy
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBusy:
		return "busy"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const (
	initialBackoff  = 500 * time.Millisecond
	maxBackoff      = 10 * time.Second
	exchangeTimeout = 10 * time.Second
)

type request struct {
	lines []string
	done  chan result
}

type result struct {
	replies []Reply
	err     error
}

// Conn is a persistent session to one playout engine. At most one batch is
// in flight at any time; additional batches queue in FIFO order. On
// transport failure every queued batch fails with NetworkError and the
// session redials with jittered exponential backoff.
type Conn struct {
	addr   string
	logger zerolog.Logger
	dialer func(ctx context.Context, addr string) (net.Conn, error)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*request
	closed bool

	state  atomic.Int32
	sock   atomic.Pointer[net.Conn]
	done   chan struct{} // closed when the run loop has exited
	cancel chan struct{} // closed by Close
}

// Dial creates the session and starts its run loop. The TCP connection is
// established lazily by the loop; Dial itself never blocks on the network.
func Dial(addr string) *Conn {
	c := &Conn{
		addr:   addr,
		logger: xlog.WithComponent("amcp").With().Str(xlog.FieldRemote, addr).Logger(),
		dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

// Addr returns the remote address this session is bound to.
func (c *Conn) Addr() string {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug().
			Str(xlog.FieldEvent, "conn.state").
			Str(xlog.FieldOldState, old.String()).
			Str(xlog.FieldNewState, s.String()).
			Msg("connection state changed")
	}
}

// Send writes the batch envelope and awaits one reply per line. The batch
// fails as a whole: the first non-success reply surfaces as RemoteError,
// transport failures as NetworkError, an unparseable reply as ProtocolError.
func (c *Conn) Send(ctx context.Context, b *Batch) ([]Reply, error) {
	if b.Empty() {
		return nil, nil
	}
	return c.submit(ctx, b.Lines())
}

// Query sends a single command outside any envelope and returns its reply.
func (c *Conn) Query(ctx context.Context, cmd Command) (Reply, error) {
	replies, err := c.submit(ctx, []string{string(cmd)})
	if err != nil {
		return Reply{}, err
	}
	return replies[0], nil
}

func (c *Conn) submit(ctx context.Context, lines []string) ([]Reply, error) {
	req := &request{lines: lines, done: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.queue = append(c.queue, req)
	c.cond.Signal()
	c.mu.Unlock()

	select {
	case res := <-req.done:
		return res.replies, res.err
	case <-ctx.Done():
		// Once written to the socket the batch is not cancellable; the
		// result is simply discarded.
		return nil, ctx.Err()
	}
}

// Close shuts the session down. Queued batches fail with ErrClosed; an
// exchange already on the wire is allowed to finish.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.cancel)
	c.cond.Broadcast()
	c.mu.Unlock()

	c.failPending(ErrClosed)
}

// CloseWait closes the session and waits for the run loop to exit, forcing
// the socket shut if the deadline passes first.
func (c *Conn) CloseWait(deadline time.Duration) {
	c.Close()
	select {
	case <-c.done:
	case <-time.After(deadline):
		if p := c.sock.Load(); p != nil {
			_ = (*p).Close()
		}
		<-c.done
	}
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	backoff := initialBackoff
	for {
		// Wait until there is work before dialing; an idle session holds
		// no socket open across long quiet periods after a failure.
		if !c.waitForWork() {
			return
		}

		c.setState(StateConnecting)
		ctx, cancelDial := context.WithTimeout(context.Background(), exchangeTimeout)
		nc, err := c.dialer(ctx, c.addr)
		cancelDial()
		if err != nil {
			c.logger.Warn().
				Str(xlog.FieldEvent, "conn.dial_failed").
				Dur("backoff", backoff).
				Err(err).
				Msg("dial failed")
			metrics.Reconnects.WithLabelValues(c.addr).Inc()
			c.failPending(&NetworkError{Addr: c.addr, Err: err})
			c.setState(StateReconnecting)
			if !c.sleep(jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.setState(StateConnected)
		c.sock.Store(&nc)
		err = c.serve(nc)
		c.sock.Store(nil)
		_ = nc.Close()

		if c.isClosed() {
			return
		}
		c.logger.Warn().
			Str(xlog.FieldEvent, "conn.lost").
			Err(err).
			Msg("connection lost")
		metrics.Reconnects.WithLabelValues(c.addr).Inc()
		c.failPending(&NetworkError{Addr: c.addr, Err: err})
		c.setState(StateReconnecting)
		if !c.sleep(jitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// serve owns the socket: it pops requests in FIFO order and performs one
// exchange at a time. It returns on the first transport or framing error.
func (c *Conn) serve(nc net.Conn) error {
	br := bufio.NewReader(nc)
	for {
		req, ok := c.next()
		if !ok {
			return nil
		}
		c.setState(StateBusy)
		start := time.Now()
		replies, err := c.exchange(nc, br, req.lines)
		req.done <- result{replies: replies, err: err}

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.Batches.WithLabelValues(outcome).Inc()
		metrics.BatchDuration.Observe(time.Since(start).Seconds())

		if err != nil && !errors.Is(err, ErrRemote) {
			// Network or protocol failure: the stream can no longer be
			// trusted. Remote errors keep the session up.
			return err
		}
		c.setState(StateConnected)
	}
}

func (c *Conn) exchange(nc net.Conn, br *bufio.Reader, lines []string) ([]Reply, error) {
	_ = nc.SetDeadline(time.Now().Add(exchangeTimeout))
	defer nc.SetDeadline(time.Time{}) //nolint:errcheck

	var wire strings.Builder
	for _, line := range lines {
		wire.WriteString(line)
		wire.WriteString("\r\n")
	}
	if _, err := nc.Write([]byte(wire.String())); err != nil {
		return nil, &NetworkError{Addr: c.addr, Err: err}
	}

	// One reply per line written, in order.
	replies := make([]Reply, 0, len(lines))
	var firstErr error
	for range lines {
		r, err := readReply(br, c.addr)
		if err != nil {
			return nil, err
		}
		replies = append(replies, r)
		if !r.OK() && firstErr == nil {
			firstErr = &RemoteError{Addr: c.addr, Code: r.Code, Message: r.Status}
		}
	}
	if firstErr != nil {
		return replies, firstErr
	}
	return replies, nil
}

// next blocks until a request is queued or the session is closed.
func (c *Conn) next() (*request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return nil, false
	}
	req := c.queue[0]
	c.queue = c.queue[1:]
	return req, true
}

// waitForWork blocks until a request is queued, without popping it. Returns
// false when the session is closed.
func (c *Conn) waitForWork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	return len(c.queue) > 0
}

// failPending drains the queue, failing every queued request with err.
func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, req := range pending {
		req.done <- result{err: err}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.cancel:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// jitter spreads reconnect attempts by +-20%.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}
