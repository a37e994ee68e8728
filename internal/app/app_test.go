package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
	"pricewatch/internal/identity"
	"pricewatch/internal/shared/testutil"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Auth.JWTSecret = "app-test-secret"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	app, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		_ = app.Gateway.Shutdown(context.Background())
		srv.Close()
	})
	return app, srv
}

func TestNew_WiresComponents(t *testing.T) {
	app, _ := newTestApp(t, testConfig())

	assert.NotNil(t, app.Gateway)
	assert.NotNil(t, app.Resolver)
	assert.NotNil(t, app.Router)
	assert.Equal(t, ":4000", app.Server.Addr)
	assert.Empty(t, app.healthChecks, "no stores configured")
	assert.Nil(t, app.directory)
	assert.Nil(t, app.redis)
}

func TestNew_RedisWithoutDirectoryIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Addr = "127.0.0.1:1"

	app, _ := newTestApp(t, cfg)
	assert.Nil(t, app.redis)
	assert.NotContains(t, app.healthChecks, "redis")
}

func TestRoutes(t *testing.T) {
	_, srv := newTestApp(t, testConfig())

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
	}{
		{name: "liveness", path: config.HealthEndpoint, status: http.StatusOK},
		{name: "detailed health", path: "/api/health", status: http.StatusOK},
		{name: "history", path: config.ChatHistoryEndpoint, status: http.StatusOK},
		{name: "unknown route", path: "/api/nope", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestRoutes_SecurityHeadersOnAPI(t *testing.T) {
	_, srv := newTestApp(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, srv.URL+config.ChatHistoryEndpoint, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestChatEndToEnd(t *testing.T) {
	cfg := testConfig()
	app, srv := newTestApp(t, cfg)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + config.ChatSocketEndpoint

	token, err := identity.SignToken(cfg.Auth, "u-1", "Ada", "ada@example.com", time.Hour)
	require.NoError(t, err)

	author, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	defer author.Close()
	guest, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer guest.Close()

	read := func(c *websocket.Conn) map[string]interface{} {
		t.Helper()
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame map[string]interface{}
		require.NoError(t, c.ReadJSON(&frame))
		return frame
	}

	assert.Equal(t, "history", read(author)["type"])
	assert.Equal(t, "history", read(guest)["type"])

	require.NoError(t, author.WriteJSON(map[string]string{"type": "message", "text": "hello"}))
	posted := read(author)
	assert.Equal(t, "Ada", posted["authorName"])
	assert.Equal(t, "hello", read(guest)["text"])

	id, _ := posted["id"].(string)
	require.NotEmpty(t, id)

	require.NoError(t, guest.WriteJSON(map[string]string{"type": "delete", "messageId": id}))
	denied := read(guest)
	assert.Equal(t, "error", denied["type"])
	assert.Equal(t, "guests cannot delete messages", denied["message"])

	require.NoError(t, author.WriteJSON(map[string]string{"type": "delete", "messageId": id}))
	assert.Equal(t, "delete", read(author)["type"])
	assert.Equal(t, id, read(guest)["messageId"])

	resp, err := http.Get(srv.URL + config.ChatHistoryEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	var history struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Equal(t, 0, history.Count)
	assert.Equal(t, 2, app.Gateway.Stats().Connections)
}

func TestStop(t *testing.T) {
	app, srv := newTestApp(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + config.ChatSocketEndpoint

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, app.Stop(context.Background()))

	// the history frame was already read; next comes the close frame
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	logger, _ := testutil.NewTestLogger(t)
	app, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	app.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
