package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pricewatch/internal/config"
	"pricewatch/internal/infrastructure"
)

// FrameHandler consumes what a client reads. HandleFrame is called once per
// inbound frame, in arrival order; Remove once when the socket goes away.
type FrameHandler interface {
	HandleFrame(ctx context.Context, connID string, data []byte) error
	Remove(ctx context.Context, connID string)
}

// Options tunes the socket pumps
type Options struct {
	SendBufferSize int
	MaxFrameBytes  int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

// OptionsFromConfig maps the websocket configuration section onto Options
func OptionsFromConfig(cfg config.WebSocketConfig) Options {
	return Options{
		SendBufferSize: cfg.SendBufferSize,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
	}
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = config.DefaultMaxFrameBytes
	}
	if o.PongWait <= 0 {
		o.PongWait = config.WebSocketPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = config.WebSocketWriteWait
	}
	return o
}

// Client is a middleman between the websocket connection and the chat
// gateway. It implements chat.Transport: Send only queues, and a single
// write pump owns every write to the socket.
type Client struct {
	conn Connection
	opts Options

	// Buffered channel of outbound frames. Closed, under mu, by Close.
	send   chan []byte
	mu     sync.Mutex
	closed bool

	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	framesReceived atomic.Int64
	framesSent     atomic.Int64
	bytesReceived  atomic.Int64
	bytesSent      atomic.Int64
}

// NewClient wraps an upgraded connection
func NewClient(conn Connection, opts Options, logger *slog.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		conn:        conn,
		opts:        opts,
		send:        make(chan []byte, opts.SendBufferSize),
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: infrastructure.WithComponent(logger, "websocket.client").
			With(slog.String("remote_addr", conn.RemoteAddr())),
	}
}

// Send queues a frame. It never blocks: a full queue or a closed client
// drops the frame and returns false.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Open reports whether the client still accepts frames
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close stops accepting frames. The write pump flushes what is queued,
// sends a close message and closes the socket, which in turn ends the
// read pump. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// RemoteAddr returns the peer address
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Serve starts both pumps for an admitted connection and returns at once
func (c *Client) Serve(ctx context.Context, handler FrameHandler, connID string) {
	go c.WritePump(ctx)
	go c.ReadPump(ctx, handler, connID)
}

// ReadPump reads frames and hands them to handler until the socket fails
// or closes, then removes the connection from handler.
func (c *Client) ReadPump(ctx context.Context, handler FrameHandler, connID string) {
	logger := c.logger.With(slog.String("connection_id", connID))
	defer func() {
		handler.Remove(ctx, connID)
		c.Close()
		c.conn.Close()
		logger.InfoContext(ctx, "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("frames_received", c.framesReceived.Load()),
			slog.Int64("bytes_received", c.bytesReceived.Load()))
	}()

	c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.WarnContext(ctx, "unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.framesReceived.Add(1)
		c.bytesReceived.Add(int64(len(data)))

		// Rejections are already answered on the socket by the handler
		_ = handler.HandleFrame(ctx, connID, data)
	}
}

// WritePump writes queued frames and keepalive pings. It is the only
// goroutine that writes to the socket.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.DebugContext(ctx, "websocket write pump stopped",
			slog.Int64("frames_sent", c.framesSent.Load()),
			slog.Int64("bytes_sent", c.bytesSent.Load()))
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// Close was called and the queue is drained
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// Every frame goes out as its own websocket message
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.DebugContext(ctx, "websocket write failed", slog.String("error", err.Error()))
				c.Close()
				return
			}
			c.framesSent.Add(1)
			c.bytesSent.Add(int64(len(frame)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "failed to send ping", slog.String("error", err.Error()))
				c.Close()
				return
			}
		}
	}
}
