package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMockClosed is returned by MockConnection once it has been closed
var ErrMockClosed = errors.New("connection closed")

// MockConnection is an in-memory Connection for pump tests. Queued reads are
// returned in order; once they run out ReadMessage blocks until Close when
// HoldOpen is set, and fails otherwise.
type MockConnection struct {
	mu sync.Mutex

	WriteErr        error
	WrittenMessages []MockMessage

	ReadMessages []MockMessage
	readIndex    int
	HoldOpen     bool

	Closed     bool
	closedCh   chan struct{}
	CloseCalls int

	ReadDeadline  time.Time
	WriteDeadline time.Time
	ReadLimit     int64
	PongHandler   func(string) error

	RemoteAddress string
}

// MockMessage is one frame read from or written to a MockConnection
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConnection creates an open mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		closedCh:      make(chan struct{}),
		RemoteAddress: "127.0.0.1:8080",
	}
}

// WriteMessage records the frame
func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return ErrMockClosed
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.WrittenMessages = append(m.WrittenMessages, MockMessage{
		Type: messageType,
		Data: append([]byte(nil), data...),
	})
	return nil
}

// ReadMessage returns the next queued frame
func (m *MockConnection) ReadMessage() (messageType int, p []byte, err error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, nil, ErrMockClosed
	}
	if m.readIndex < len(m.ReadMessages) {
		msg := m.ReadMessages[m.readIndex]
		m.readIndex++
		m.mu.Unlock()
		return msg.Type, msg.Data, msg.Err
	}
	hold, closed := m.HoldOpen, m.closedCh
	m.mu.Unlock()

	if hold {
		<-closed
		return 0, nil, ErrMockClosed
	}
	return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

// Close marks the connection closed and releases a held ReadMessage
func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	if !m.Closed {
		m.Closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadLimit = limit
}

func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PongHandler = h
}

func (m *MockConnection) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteAddress
}

// AddReadMessage queues a frame for ReadMessage
func (m *MockConnection) AddReadMessage(messageType int, data []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadMessages = append(m.ReadMessages, MockMessage{Type: messageType, Data: data, Err: err})
}

// GetWrittenMessages returns a copy of everything written so far
func (m *MockConnection) GetWrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.WrittenMessages))
	copy(out, m.WrittenMessages)
	return out
}

// WrittenText returns the payloads of the text frames written so far
func (m *MockConnection) WrittenText() []string {
	var out []string
	for _, msg := range m.GetWrittenMessages() {
		if msg.Type == websocket.TextMessage {
			out = append(out, string(msg.Data))
		}
	}
	return out
}

// IsClosed reports whether Close has been called
func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}
