package relay

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errMockSend = errors.New("mock send failure")

// MockConn implements the Conn interface for testing
type MockConn struct {
	mu        sync.Mutex
	address   string
	events    Events
	journal   *journal
	sent      []string
	closes    int
	failAfter int
}

func (m *MockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closes > 0 {
		return ErrConnClosed
	}
	if m.failAfter > 0 && len(m.sent) >= m.failAfter {
		return errMockSend
	}

	m.sent = append(m.sent, string(data))
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes++
	m.journal.add("close " + m.address)
	return nil
}

func (m *MockConn) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.sent))
	copy(result, m.sent)
	return result
}

func (m *MockConn) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Open simulates the transport finishing its handshake
func (m *MockConn) Open() { m.events.OnOpen() }

// Drop simulates the peer or the network closing the connection
func (m *MockConn) Drop(err error) { m.events.OnClose(err) }

// Deliver simulates an inbound frame
func (m *MockConn) Deliver(frame string) { m.events.OnMessage([]byte(frame)) }

// MockDialer implements the Dialer interface and records every connection it creates
type MockDialer struct {
	mu      sync.Mutex
	conns   []*MockConn
	err     error
	journal journal
}

func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

func (d *MockDialer) Dial(address string, events Events) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}

	conn := &MockConn{address: address, events: events, journal: &d.journal}
	d.conns = append(d.conns, conn)
	d.journal.add("dial " + address)
	return conn, nil
}

func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]*MockConn, len(d.conns))
	copy(result, d.conns)
	return result
}

func (d *MockDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *MockDialer) Conn(i int) *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// journal keeps the order of dial and close calls across connections
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	result := make([]string, len(j.entries))
	copy(result, j.entries)
	return result
}

// waitFor polls cond until it holds. Mock clock timers run their callbacks on
// their own goroutine, so debounce effects are observed asynchronously.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
