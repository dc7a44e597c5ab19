package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit    = 64 << 10
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// MessageProcessor handles raw gateway frames.
type MessageProcessor interface {
	Process(ctx context.Context, gatewayID string, raw []byte) ([]byte, error)
}

// Connection represents an active gateway WebSocket connection.
type Connection struct {
	gatewayID    string
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	onClose      func(*Connection)
}

// NewConnection builds connection wrapper.
func NewConnection(gatewayID string, ws *websocket.Conn, processor MessageProcessor, writeTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	return &Connection{
		gatewayID:    gatewayID,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		logger:       logger,
		processor:    processor,
		writeTimeout: writeTimeout,
		onClose:      onClose,
	}
}

// GatewayID returns identifier.
func (c *Connection) GatewayID() string {
	return c.gatewayID
}

// Start launches read/write pumps and blocks until the read side closes.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

// Close sends a going-away frame and drops the connection.
func (c *Connection) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	_ = c.ws.Close()
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("gateway connection closed", zap.String("gateway_id", c.gatewayID), zap.Error(err))
			return
		}

		response, err := c.processor.Process(ctx, c.gatewayID, message)
		if err != nil {
			c.logger.Warn("failed to process frame", zap.String("gateway_id", c.gatewayID), zap.Error(err))
			continue
		}
		if response != nil {
			c.enqueue(response)
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue is only called from the read pump, which also owns closing send.
func (c *Connection) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping ack, buffer full", zap.String("gateway_id", c.gatewayID))
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	close(c.send)
	if c.onClose != nil {
		c.onClose(c)
	}
}
