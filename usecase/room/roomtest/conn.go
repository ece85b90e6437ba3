// Package roomtest provides an in-memory room.Conn for tests.
package roomtest

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"interview-coordinator/usecase/room"
)

// Conn records every message it is sent.
type Conn struct {
	mu       sync.Mutex
	messages []room.Message
	closed   atomic.Bool
	// Refuse makes Send drop messages, like a connection with a full buffer.
	Refuse bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) Send(msg room.Message) bool {
	if c.closed.Load() || c.Refuse {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return true
}

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) Close() { c.closed.Store(true) }

// Messages returns a copy of everything received so far.
func (c *Conn) Messages() []room.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]room.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// OfType returns the received messages of type t.
func (c *Conn) OfType(t room.MessageType) []room.Message {
	var out []room.Message
	for _, m := range c.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message of type t and whether there was one.
func (c *Conn) Last(t room.MessageType) (room.Message, bool) {
	msgs := c.OfType(t)
	if len(msgs) == 0 {
		return room.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Decode unmarshals the payload of msg into v.
func Decode(msg room.Message, v any) error {
	return json.Unmarshal(msg.Payload, v)
}
