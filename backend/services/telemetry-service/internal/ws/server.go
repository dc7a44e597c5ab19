package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

// Server upgrades HTTP connections to WebSockets for streaming gateways.
type Server struct {
	manager      *Manager
	processor    MessageProcessor
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, processor MessageProcessor, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Server{
		manager:      manager,
		processor:    processor,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for /ingest/ws.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	gatewayID := r.URL.Query().Get("gateway_id")
	if gatewayID == "" {
		http.Error(w, "gateway_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(gatewayID, conn, s.processor, s.writeTimeout, s.logger, func(c *Connection) {
		s.manager.Remove(c)
		cancel()
		_ = conn.Close()
	})
	s.manager.Add(connection)

	go connection.Start(ctx)
	s.logger.Info("gateway connected", zap.String("gateway_id", gatewayID))
}

// Shutdown disconnects all gateways.
func (s *Server) Shutdown() {
	s.manager.CloseAll()
}
