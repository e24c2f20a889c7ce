package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/devblac/nft-stream/internal/rooms"
)

// Reasons a session is closed by the server.
var (
	ErrSlowConsumer = errors.New("slow consumer")
	ErrShutdown     = errors.New("server shutting down")
)

// session is one subscriber connection. The read goroutine handles requests;
// the write goroutine drains queue and sends keepalive pings.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	queue  chan []byte

	done      chan struct{}
	closeOnce sync.Once
	reason    error
}

func newSession(conn *websocket.Conn, srv *Server) *session {
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		server: srv,
		queue:  make(chan []byte, srv.opts.QueueSize),
		done:   make(chan struct{}),
	}
}

func (c *session) ID() string { return c.id }

// Deliver queues msg without blocking. A full queue closes the session.
func (c *session) Deliver(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.queue <- msg:
	default:
		c.server.metrics.SessionDropped("slow_consumer")
		c.close(ErrSlowConsumer)
	}
}

func (c *session) reply(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.server.logger.Error("encode reply", "session", c.id, "err", err)
		return
	}
	c.Deliver(msg)
}

// close marks the session finished. reason is nil for a client-side close.
func (c *session) close(reason error) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *session) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *session) readLoop() {
	opts := c.server.opts
	limiter := NewTokenBucket(float64(opts.RequestBurst), opts.RequestRate)

	c.conn.SetReadLimit(opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
				c.server.logger.Debug("session read", "session", c.id, "err", err)
			}
			c.close(nil)
			return
		}
		if !limiter.Allow(time.Now()) {
			c.server.metrics.Errors("protocol")
			c.reply(errorResponse{Type: "error", Error: "rate limit exceeded"})
			continue
		}
		c.handle(data)
	}
}

func (c *session) handle(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		c.server.metrics.Errors("protocol")
		c.reply(errorResponse{Type: "error", Error: "malformed request: " + err.Error()})
		return
	}
	mgr := c.server.rooms
	room := rooms.Canonical(req.Room)
	switch req.Type {
	case reqSubscribe:
		resp := subscribedResponse{Type: "subscribed", Room: room, Success: true}
		if err := mgr.Join(c, req.Room); err != nil {
			c.server.metrics.Errors("protocol")
			resp.Success = false
			resp.Error = err.Error()
		}
		c.reply(resp)
	case reqUnsubscribe:
		mgr.Leave(c, req.Room)
		c.reply(unsubscribedResponse{Type: "unsubscribed", Room: room, Success: true})
	case reqGetRooms:
		c.reply(roomsResponse{Type: "rooms", Rooms: mgr.Rooms(c)})
	default:
		c.server.metrics.Errors("protocol")
		c.reply(errorResponse{Type: "error", Error: "unknown request type: " + req.Type})
	}
}

func (c *session) writeLoop() {
	opts := c.server.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(nil)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteTimeout)); err != nil {
				c.close(nil)
				return
			}
		case <-c.done:
			code, text := websocket.CloseNormalClosure, ""
			switch {
			case errors.Is(c.reason, ErrSlowConsumer):
				code, text = websocket.CloseTryAgainLater, c.reason.Error()
			case errors.Is(c.reason, ErrShutdown):
				code, text = websocket.CloseGoingAway, c.reason.Error()
			}
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(opts.WriteTimeout))
			return
		}
	}
}

var _ rooms.Session = (*session)(nil)
