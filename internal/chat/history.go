package chat

// History is the bounded window of recent messages, oldest first. Appending
// to a full history evicts the oldest message. History is not safe for
// concurrent use; the Gateway serializes access to it.
type History struct {
	buf  []Message
	head int // index of the oldest message
	size int
}

// NewHistory creates a history holding at most capacity messages
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]Message, capacity)}
}

// Append adds m at the tail. It returns the evicted message, if any.
func (h *History) Append(m Message) (evicted Message, ok bool) {
	capacity := len(h.buf)
	if h.size == capacity {
		evicted = h.buf[h.head]
		h.buf[h.head] = m
		h.head = (h.head + 1) % capacity
		return evicted, true
	}
	h.buf[(h.head+h.size)%capacity] = m
	h.size++
	return Message{}, false
}

// Snapshot returns a copy of the messages in insertion order. The result is
// never nil, so it encodes as an empty JSON array.
func (h *History) Snapshot() []Message {
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.at(i)
	}
	return out
}

// Get returns the message with the given id
func (h *History) Get(id string) (Message, bool) {
	if i := h.indexOf(id); i >= 0 {
		return h.at(i), true
	}
	return Message{}, false
}

// Remove deletes the message with the given id and reports whether it was present
func (h *History) Remove(id string) bool {
	i := h.indexOf(id)
	if i < 0 {
		return false
	}

	capacity := len(h.buf)
	for j := i; j < h.size-1; j++ {
		h.buf[(h.head+j)%capacity] = h.buf[(h.head+j+1)%capacity]
	}
	h.buf[(h.head+h.size-1)%capacity] = Message{}
	h.size--
	return true
}

// Len returns the number of stored messages
func (h *History) Len() int { return h.size }

// Cap returns the maximum number of stored messages
func (h *History) Cap() int { return len(h.buf) }

func (h *History) at(i int) Message {
	return h.buf[(h.head+i)%len(h.buf)]
}

func (h *History) indexOf(id string) int {
	for i := 0; i < h.size; i++ {
		if h.at(i).ID == id {
			return i
		}
	}
	return -1
}
