package chat

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pricewatch/internal/identity"
)

// Transport is the write side of an open socket as the gateway sees it.
// Send must not block and must be safe for concurrent use: it queues one
// complete frame and returns false when the frame could not be queued.
type Transport interface {
	Send(frame []byte) bool
	Open() bool
	Close() error
}

// Connection is an admitted socket and the identity it speaks as
type Connection struct {
	ID          string
	Identity    identity.Identity
	ConnectedAt time.Time

	transport Transport
	limiter   *rate.Limiter
}

// Send queues frame on the connection's transport
func (c *Connection) Send(frame []byte) bool {
	return c.transport.Send(frame)
}

// BroadcastResult counts what happened to one broadcast frame
type BroadcastResult struct {
	Delivered int
	Dropped   int // transport open but its queue was full
	Skipped   int // transport no longer open, or the excluded sender
}

// Registry is the set of admitted connections. Like History it relies on
// the Gateway for synchronization.
type Registry struct {
	conns map[string]*Connection
	newID func() string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		newID: uuid.NewString,
	}
}

// Add admits a connection under a fresh id unique among admitted connections
func (r *Registry) Add(who identity.Identity, t Transport, now time.Time) *Connection {
	id := r.newID()
	for {
		if _, taken := r.conns[id]; !taken {
			break
		}
		id = r.newID()
	}

	c := &Connection{
		ID:          id,
		Identity:    who,
		ConnectedAt: now,
		transport:   t,
	}
	r.conns[id] = c
	return c
}

// Remove forgets a connection. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Get returns the connection with the given id
func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of admitted connections
func (r *Registry) Len() int { return len(r.conns) }

// Broadcast queues frame on every open connection except the one with id
// except (empty excludes nobody). Closed transports are skipped, not
// removed; removal follows from the transport's own close.
func (r *Registry) Broadcast(frame []byte, except string) BroadcastResult {
	var res BroadcastResult
	for id, c := range r.conns {
		if id == except || !c.transport.Open() {
			res.Skipped++
			continue
		}
		if c.transport.Send(frame) {
			res.Delivered++
		} else {
			res.Dropped++
		}
	}
	return res
}

// each calls fn for every admitted connection
func (r *Registry) each(fn func(*Connection)) {
	for _, c := range r.conns {
		fn(c)
	}
}
