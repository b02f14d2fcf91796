package amcp

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

// MockEngine is a scriptable stand-in for a playout engine, used by tests in
// this package and in the engine package. It answers every received line
// with a success reply unless a Responder overrides it.
type MockEngine struct {
	ln net.Listener

	mu    sync.Mutex
	lines []string
	conns map[net.Conn]struct{}

	frame     atomic.Int64
	responder atomic.Pointer[Responder]

	wg sync.WaitGroup
}

// Responder maps a received line to a raw wire reply (without terminator).
// Returning ok=false falls back to the default success reply.
type Responder func(line string) (reply string, ok bool)

// NewMockEngine starts the engine on an ephemeral loopback port.
func NewMockEngine() (*MockEngine, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &MockEngine{ln: ln, conns: make(map[net.Conn]struct{})}
	m.wg.Add(1)
	go m.accept()
	return m, nil
}

// Addr returns the host:port the engine listens on.
func (m *MockEngine) Addr() string {
	return m.ln.Addr().String()
}

// SetFrame scripts the frame index reported to CALL ... FRAME queries.
func (m *MockEngine) SetFrame(f int64) {
	m.frame.Store(f)
}

// Respond installs a responder; pass nil to restore defaults.
func (m *MockEngine) Respond(r Responder) {
	if r == nil {
		m.responder.Store(nil)
		return
	}
	m.responder.Store(&r)
}

// Lines returns every line received so far, in arrival order.
func (m *MockEngine) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Reset clears the recorded lines.
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
}

// DropConnections severs every live client connection without stopping the
// listener. Clients observe a transport failure and reconnect.
func (m *MockEngine) DropConnections() {
	m.mu.Lock()
	for c := range m.conns {
		_ = c.Close()
	}
	m.mu.Unlock()
}

// Close stops the listener and severs all connections.
func (m *MockEngine) Close() {
	_ = m.ln.Close()
	m.DropConnections()
	m.wg.Wait()
}

func (m *MockEngine) accept() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns[conn] = struct{}{}
		m.mu.Unlock()
		m.wg.Add(1)
		go m.serve(conn)
	}
}

func (m *MockEngine) serve(conn net.Conn) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(raw, "\r\n")
		m.mu.Lock()
		m.lines = append(m.lines, line)
		m.mu.Unlock()

		if _, err := conn.Write([]byte(m.reply(line) + "\r\n")); err != nil {
			return
		}
	}
}

func (m *MockEngine) reply(line string) string {
	if p := m.responder.Load(); p != nil {
		if reply, ok := (*p)(line); ok {
			return reply
		}
	}
	verb := line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb = line[:i]
	}
	if verb == "CALL" && strings.HasSuffix(line, "FRAME") {
		return fmt.Sprintf("201 CALL OK\r\n%d", m.frame.Load())
	}
	return "202 " + verb + " OK"
}
