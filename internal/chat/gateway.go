package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"pricewatch/internal/config"
	apperrors "pricewatch/internal/errors"
	"pricewatch/internal/identity"
	"pricewatch/internal/infrastructure"
)

// DefaultHistoryCapacity is used when Options leaves the capacity unset
const DefaultHistoryCapacity = config.DefaultHistoryCapacity

// ErrHistoryUndeliverable is returned by Admit when the history snapshot
// could not be queued on the new connection
var ErrHistoryUndeliverable = errors.New("history snapshot could not be queued")

// Options configures a Gateway
type Options struct {
	HistoryCapacity  int
	MaxMessageLength int
	// EchoToSender includes the posting connection in the message broadcast
	EchoToSender bool
	// MalformedFramePolicy is config.MalformedPolicyReply or config.MalformedPolicyDrop
	MalformedFramePolicy string
	// FrameRate and FrameBurst bound inbound frames per connection. A zero
	// rate, the default, disables the limit.
	FrameRate  float64
	FrameBurst int

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// DefaultOptions returns the options matching config.Default
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Chat)
}

// OptionsFromConfig maps the chat configuration section onto Options
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		HistoryCapacity:      cfg.HistoryCapacity,
		MaxMessageLength:     cfg.MaxMessageLength,
		EchoToSender:         cfg.EchoToSender,
		MalformedFramePolicy: cfg.MalformedFramePolicy,
		FrameRate:            cfg.FrameRate,
		FrameBurst:           cfg.FrameBurst,
	}
}

// Stats is a point-in-time view of the gateway
type Stats struct {
	Connections     int `json:"connections"`
	HistorySize     int `json:"historySize"`
	HistoryCapacity int `json:"historyCapacity"`
}

// Gateway owns the history and the connection registry. One mutex covers
// both, and every broadcast is queued while holding it, so each connection
// observes history mutations in the same order.
type Gateway struct {
	mu       sync.Mutex
	history  *History
	registry *Registry
	closed   bool

	opts     Options
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	validate *validator.Validate
	now      func() time.Time
}

// NewGateway creates a gateway with an empty history
func NewGateway(opts Options) *Gateway {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = config.DefaultMaxMessageLength
	}
	if opts.MalformedFramePolicy == "" {
		opts.MalformedFramePolicy = config.MalformedPolicyReply
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Gateway{
		history:  NewHistory(opts.HistoryCapacity),
		registry: NewRegistry(),
		opts:     opts,
		logger:   infrastructure.WithComponent(opts.Logger, "chat.gateway"),
		metrics:  opts.Metrics,
		tracer:   otel.Tracer(meterName),
		validate: validator.New(),
		now:      now,
	}
}

// Admit registers an open transport under the given identity and queues the
// current history snapshot as its first frame. Both happen under the
// gateway lock, so no broadcast can slip in ahead of the snapshot and none
// that follows it is missed.
func (g *Gateway) Admit(ctx context.Context, who identity.Identity, t Transport) (*Connection, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	if !t.Open() {
		g.mu.Unlock()
		return nil, ErrTransportClosed
	}

	c := g.registry.Add(who, t, g.now())
	if g.opts.FrameRate > 0 {
		burst := g.opts.FrameBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(g.opts.FrameRate), burst)
	}

	snapshot := g.history.Snapshot()
	if !c.Send(EncodeHistory(snapshot)) {
		g.registry.Remove(c.ID)
		g.mu.Unlock()
		g.metrics.RecordDroppedFrame(ctx, FrameHistory)
		return nil, ErrHistoryUndeliverable
	}
	active := g.registry.Len()
	g.mu.Unlock()

	g.metrics.RecordConnection(ctx, who.IsGuest())
	g.logger.InfoContext(ctx, "connection admitted",
		slog.String("connection_id", c.ID),
		slog.String("user_id", who.UserID),
		slog.Bool("guest", who.IsGuest()),
		slog.Int("history_messages", len(snapshot)),
		slog.Int("active_connections", active))
	return c, nil
}

// Remove forgets a connection. It is safe to call more than once.
func (g *Gateway) Remove(ctx context.Context, connID string) {
	g.mu.Lock()
	c, ok := g.registry.Get(connID)
	if ok {
		g.registry.Remove(connID)
	}
	active := g.registry.Len()
	g.mu.Unlock()

	if !ok {
		return
	}
	g.metrics.RecordDisconnection(ctx, c.Identity.IsGuest(), g.now().Sub(c.ConnectedAt))
	g.logger.InfoContext(ctx, "connection removed",
		slog.String("connection_id", connID),
		slog.Int("active_connections", active))
}

// HandleFrame processes one inbound frame from an admitted connection. A
// rejected frame is answered with an error frame on that connection only
// and the rejection is returned; the connection stays open either way.
func (g *Gateway) HandleFrame(ctx context.Context, connID string, data []byte) error {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "chat.frame", trace.WithAttributes(
		attribute.String("chat.connection_id", connID),
	))
	defer span.End()

	c, ok := g.connection(connID)
	if !ok {
		return ErrConnectionNotFound
	}

	frameType := "unknown"
	err := g.dispatch(ctx, c, data, &frameType)
	span.SetAttributes(attribute.String("chat.frame_type", frameType))
	g.metrics.RecordFrame(ctx, frameType, g.now().Sub(start))
	if err == nil {
		return nil
	}

	span.SetStatus(codes.Error, err.Error())
	g.reject(ctx, c, frameType, err)
	return err
}

func (g *Gateway) dispatch(ctx context.Context, c *Connection, data []byte, frameType *string) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}

	frame, err := DecodeInbound(data)
	if err != nil {
		*frameType = "malformed"
		return err
	}
	*frameType = frame.Type

	switch frame.Type {
	case FrameMessage:
		_, err = g.post(ctx, c, frame.Text)
	case FrameDelete:
		err = g.delete(ctx, c, frame.MessageID)
	default:
		*frameType = "unknown"
		err = apperrors.NewAppError(apperrors.ErrTypeValidation,
			fmt.Sprintf("unknown frame type %q", frame.Type), ErrUnknownFrameType)
	}
	return err
}

// reject answers a failed frame. Malformed frames are answered only under
// the reply policy.
func (g *Gateway) reject(ctx context.Context, c *Connection, frameType string, err error) {
	errType := "unknown"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		errType = string(appErr.Type)
	}
	g.metrics.RecordFrameError(ctx, frameType, errType)

	logAttrs := []any{
		slog.String("connection_id", c.ID),
		slog.String("frame_type", frameType),
		slog.String("error", err.Error()),
	}

	if errType == string(apperrors.ErrTypeMalformedFrame) && g.opts.MalformedFramePolicy == config.MalformedPolicyDrop {
		g.logger.DebugContext(ctx, "malformed frame dropped", logAttrs...)
		return
	}

	g.logger.DebugContext(ctx, "frame rejected", logAttrs...)
	if !c.Send(EncodeError(apperrors.ClientMessage(err, "request failed"))) {
		g.metrics.RecordDroppedFrame(ctx, FrameError)
	}
}

// PostMessage posts text as the given connection. The text is trimmed and
// capped at the configured length; empty text is rejected.
func (g *Gateway) PostMessage(ctx context.Context, connID, text string) (Message, error) {
	c, ok := g.connection(connID)
	if !ok {
		return Message{}, ErrConnectionNotFound
	}
	return g.post(ctx, c, text)
}

func (g *Gateway) post(ctx context.Context, c *Connection, text string) (Message, error) {
	text = NormalizeText(text, g.opts.MaxMessageLength)
	if text == "" {
		return Message{}, ErrEmptyText
	}

	except := ""
	if !g.opts.EchoToSender {
		except = c.ID
	}

	g.mu.Lock()
	msg := NewMessage(c.Identity, text, g.now())
	for {
		if _, dup := g.history.Get(msg.ID); !dup {
			break
		}
		msg.ID = uuid.NewString()
	}
	g.history.Append(msg)
	res := g.registry.Broadcast(EncodeMessage(msg), except)
	size := g.history.Len()
	g.mu.Unlock()

	g.metrics.RecordBroadcast(ctx, FrameMessage, res)
	g.metrics.RecordHistorySize(ctx, size)
	g.logBroadcast(ctx, FrameMessage, msg.ID, res)
	return msg, nil
}

// DeleteMessage removes a message on behalf of a connection. Only the
// authenticated author of a message may delete it.
func (g *Gateway) DeleteMessage(ctx context.Context, connID, messageID string) error {
	c, ok := g.connection(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	return g.delete(ctx, c, messageID)
}

func (g *Gateway) delete(ctx context.Context, c *Connection, messageID string) error {
	if err := g.validate.Var(messageID, "required"); err != nil {
		return ErrMissingMessageID
	}

	// Guests are refused before the lookup: their reply never depends on which ids exist
	if c.Identity.IsGuest() {
		return ErrGuestCannotDelete
	}

	g.mu.Lock()
	msg, ok := g.history.Get(messageID)
	switch {
	case !ok:
		g.mu.Unlock()
		return ErrMessageNotFound
	case !msg.AuthoredBy(c.Identity):
		g.mu.Unlock()
		return ErrNotAuthor
	}
	g.history.Remove(messageID)
	res := g.registry.Broadcast(EncodeDelete(messageID), "")
	size := g.history.Len()
	g.mu.Unlock()

	g.metrics.RecordBroadcast(ctx, FrameDelete, res)
	g.metrics.RecordHistorySize(ctx, size)
	g.logBroadcast(ctx, FrameDelete, messageID, res)
	return nil
}

func (g *Gateway) logBroadcast(ctx context.Context, frameType, messageID string, res BroadcastResult) {
	level := slog.LevelDebug
	if res.Dropped > 0 {
		level = slog.LevelWarn
	}
	g.logger.Log(ctx, level, "broadcast",
		slog.String("frame_type", frameType),
		slog.String("message_id", messageID),
		slog.Int("delivered", res.Delivered),
		slog.Int("dropped", res.Dropped),
		slog.Int("skipped", res.Skipped))
}

// History returns a copy of the current history, oldest first
func (g *Gateway) History() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history.Snapshot()
}

// Stats returns the current connection count and history size
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Connections:     g.registry.Len(),
		HistorySize:     g.history.Len(),
		HistoryCapacity: g.history.Cap(),
	}
}

// Shutdown stops admitting connections and closes every admitted transport.
// Connections leave the registry through their own close path.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	transports := make([]Transport, 0, g.registry.Len())
	g.registry.each(func(c *Connection) {
		transports = append(transports, c.transport)
	})
	g.mu.Unlock()

	var errs []error
	for _, t := range transports {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	g.logger.InfoContext(ctx, "chat gateway shut down", slog.Int("closed_connections", len(transports)))
	return errors.Join(errs...)
}

func (g *Gateway) connection(connID string) (*Connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry.Get(connID)
}
