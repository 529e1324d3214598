package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/icotes/agenthub/pkg/protocol"
)

const (
	maxFrameBytes = 1 << 20
	pongWait      = 60 * time.Second
	pingInterval  = 45 * time.Second // must be shorter than pongWait
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// Client is one WebSocket connection. It implements chat.Conn: frames
// handed to Send are marshalled on the write pump, so slow readers never
// block the chat service.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	done   chan struct{}
}

func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// ID implements chat.Conn.
func (c *Client) ID() string { return c.id }

// Send queues a frame for delivery. A full queue drops the frame rather
// than stalling the caller.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		c.server.logger.Warn("client send queue full, dropping frame", "id", c.id)
		return nil
	}
}

// Run drives both pumps until the connection drops or ctx ends.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// Close tears the connection down. Safe to call after Run returns.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed", "id", c.id, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		frame, err := protocol.ParseInbound(data)
		if err != nil {
			c.Send(protocol.NewErrorFrame(protocol.ErrInvalidArgument, "malformed frame: "+err.Error()))
			continue
		}
		if err := c.server.chat.HandleFrame(ctx, c, frame); err != nil {
			c.server.logger.Warn("frame handling failed", "id", c.id, "type", frame.Type, "error", err)
			c.Send(protocol.NewErrorFrame(protocol.ErrInternal, err.Error()))
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
