package chat

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingTransport is an in-memory Transport that keeps every queued frame
type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (t *recordingTransport) Send(frame []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.full {
		return false
	}
	t.frames = append(t.frames, append([]byte(nil), frame...))
	return true
}

func (t *recordingTransport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *recordingTransport) setFull(full bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.full = full
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// decoded returns every queued frame as a generic JSON object
func (t *recordingTransport) decoded(tb testing.TB) []map[string]interface{} {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(t.frames))
	for _, f := range t.frames {
		var m map[string]interface{}
		require.NoError(tb, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (t *recordingTransport) last(tb testing.TB) map[string]interface{} {
	tb.Helper()
	frames := t.decoded(tb)
	require.NotEmpty(tb, frames)
	return frames[len(frames)-1]
}
