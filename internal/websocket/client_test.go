package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/chat"
	"pricewatch/internal/config"
	"pricewatch/internal/identity"
	"pricewatch/internal/shared/testutil"
)

// recordingHandler collects what a read pump hands over
type recordingHandler struct {
	mu      sync.Mutex
	frames  []string
	removed []string
}

func (h *recordingHandler) HandleFrame(_ context.Context, _ string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(data))
	return nil
}

func (h *recordingHandler) Remove(_ context.Context, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, connID)
}

func testOptions() Options {
	return Options{
		SendBufferSize: 8,
		MaxFrameBytes:  1024,
		PingPeriod:     time.Hour,
		PongWait:       2 * time.Hour,
		WriteWait:      time.Second,
	}
}

func newTestClient(t *testing.T, conn *MockConnection, opts Options) *Client {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewClient(conn, opts, logger)
}

func TestClient_SendIsNonBlocking(t *testing.T) {
	opts := testOptions()
	opts.SendBufferSize = 1
	c := newTestClient(t, NewMockConnection(), opts)

	assert.True(t, c.Open())
	assert.True(t, c.Send([]byte("one")))
	assert.False(t, c.Send([]byte("two")), "full queue drops the frame")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Open())
	assert.False(t, c.Send([]byte("three")))
}

func TestClient_WritePumpFlushesThenCloses(t *testing.T) {
	conn := NewMockConnection()
	c := newTestClient(t, conn, testOptions())

	require.True(t, c.Send([]byte(`{"n":1}`)))
	require.True(t, c.Send([]byte(`{"n":2}`)))
	require.NoError(t, c.Close())

	done := make(chan struct{})
	go func() {
		c.WritePump(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop after Close")
	}

	written := conn.GetWrittenMessages()
	require.Len(t, written, 3)
	assert.Equal(t, `{"n":1}`, string(written[0].Data))
	assert.Equal(t, `{"n":2}`, string(written[1].Data))
	assert.Equal(t, websocket.CloseMessage, written[2].Type)
	assert.True(t, conn.IsClosed())
}

func TestClient_WritePumpSendsPings(t *testing.T) {
	conn := NewMockConnection()
	opts := testOptions()
	opts.PingPeriod = 10 * time.Millisecond
	opts.PongWait = time.Second
	c := newTestClient(t, conn, opts)

	go c.WritePump(context.Background())
	defer c.Close()

	assert.Eventually(t, func() bool {
		for _, m := range conn.GetWrittenMessages() {
			if m.Type == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestClient_WriteFailureClosesClient(t *testing.T) {
	conn := NewMockConnection()
	conn.WriteErr = errors.New("broken pipe")
	c := newTestClient(t, conn, testOptions())

	require.True(t, c.Send([]byte("x")))
	c.WritePump(context.Background())

	assert.False(t, c.Open())
	assert.True(t, conn.IsClosed())
}

func TestClient_ReadPump(t *testing.T) {
	conn := NewMockConnection()
	conn.AddReadMessage(websocket.TextMessage, []byte(`{"type":"message","text":"a"}`), nil)
	conn.AddReadMessage(websocket.PingMessage, nil, nil)
	conn.AddReadMessage(websocket.TextMessage, []byte(`{"type":"message","text":"b"}`), nil)
	c := newTestClient(t, conn, testOptions())
	h := &recordingHandler{}

	c.ReadPump(context.Background(), h, "conn-1")

	assert.Equal(t, []string{`{"type":"message","text":"a"}`, `{"type":"message","text":"b"}`}, h.frames)
	assert.Equal(t, []string{"conn-1"}, h.removed)
	assert.False(t, c.Open())
	assert.True(t, conn.IsClosed())
	assert.Equal(t, int64(1024), conn.ReadLimit)

	require.NotNil(t, conn.PongHandler)
	before := conn.ReadDeadline
	time.Sleep(time.Millisecond)
	require.NoError(t, conn.PongHandler(""))
	assert.True(t, conn.ReadDeadline.After(before), "pong extends the read deadline")
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PingPeriod: time.Minute, PongWait: 30 * time.Second}.withDefaults()
	assert.Equal(t, 256, o.SendBufferSize)
	assert.Equal(t, int64(config.DefaultMaxFrameBytes), o.MaxFrameBytes)
	assert.Equal(t, 27*time.Second, o.PingPeriod, "ping period must stay below pong wait")
	assert.Equal(t, 10*time.Second, o.WriteWait)
}

func TestClient_ServeWithGateway(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	opts := chat.DefaultOptions()
	opts.Logger = logger
	g := chat.NewGateway(opts)

	conn := NewMockConnection()
	conn.HoldOpen = true
	conn.AddReadMessage(websocket.TextMessage, []byte(`{"type":"message","text":"  hi  "}`), nil)
	c := newTestClient(t, conn, testOptions())

	cc, err := g.Admit(context.Background(), identity.Authenticated("u1", "Ada"), c)
	require.NoError(t, err)
	c.Serve(context.Background(), g, cc.ID)

	require.Eventually(t, func() bool { return len(conn.WrittenText()) >= 2 }, time.Second, 5*time.Millisecond)

	texts := conn.WrittenText()
	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(texts[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(texts[1]), &second))
	assert.Equal(t, "history", first["type"])
	assert.Equal(t, "message", second["type"])
	assert.Equal(t, "hi", second["text"])
	assert.Equal(t, "u1", second["authorId"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return g.Stats().Connections == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Open())
}
