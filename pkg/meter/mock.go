package meter

import (
	"sync"
	"time"
)

// MockTransport is a scripted Transport for tests, mirroring the hardware
// mock the daemon tests run against. Each Write consumes the next enqueued
// script; Read serves the chunks of the active script and simulates device
// silence once they run out.
type MockTransport struct {
	mu      sync.Mutex
	opened  bool
	scripts [][][]byte
	current [][]byte
	writes  [][]byte
}

var _ Transport = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Enqueue schedules the response chunks for one future request. Enqueue with
// no chunks scripts a silent device (read timeouts).
func (m *MockTransport) Enqueue(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, chunks)
}

// EnqueueFrame schedules a single well-formed response frame built from the
// given payload, e.g. "VAL,1,3.30,V".
func (m *MockTransport) EnqueueFrame(payload string) {
	m.Enqueue(BuildFrame(payload))
}

// Writes returns every request the device received so far.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Opened reports whether the channel is currently open.
func (m *MockTransport) Opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockTransport) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *MockTransport) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := make([]byte, len(p))
	copy(b, p)
	m.writes = append(m.writes, b)

	if len(m.scripts) > 0 {
		m.current = m.scripts[0]
		m.scripts = m.scripts[1:]
	} else {
		m.current = nil
	}
	return nil
}

func (m *MockTransport) Read(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	if len(m.current) > 0 {
		chunk := m.current[0]
		m.current = m.current[1:]
		m.mu.Unlock()
		return chunk, nil
	}
	m.mu.Unlock()

	// Nothing scripted: behave like a silent device.
	time.Sleep(timeout)
	return nil, ErrReadTimeout
}
