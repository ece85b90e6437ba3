package interfaces

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/usecase/room"
)

const maxMessageSize = 64 << 10

// wsConn adapts a websocket to room.Conn. Sends go through a buffered channel
// drained by writePump; a full buffer drops the message.
type wsConn struct {
	ws           *websocket.Conn
	send         chan room.Message
	done         chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
	pongTimeout  time.Duration
	log          logger.Logger
}

func newWSConn(ws *websocket.Conn, buffer int, writeTimeout, pongTimeout time.Duration, log logger.Logger) *wsConn {
	if buffer <= 0 {
		buffer = 32
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	return &wsConn{
		ws:           ws,
		send:         make(chan room.Message, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pongTimeout:  pongTimeout,
		log:          log,
	}
}

func (c *wsConn) Send(msg room.Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, message dropped", map[string]interface{}{
			"type":      msg.Type,
			"sessionId": msg.SessionID,
		})
		return false
	}
}

func (c *wsConn) Closed() bool { return c.closed.Load() }

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump owns all writes to the socket.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// readPump decodes incoming messages and hands them to handle until the
// socket fails. Frames that are not valid messages go to invalid.
func (c *wsConn) readPump(handle func(room.Message), invalid func(error)) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		var msg room.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection closed unexpectedly", map[string]interface{}{"error": err.Error()})
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				invalid(err)
				continue
			}
			return
		}
		handle(msg)
	}
}
