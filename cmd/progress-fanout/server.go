package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/astrokit/sequencer/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Operator dashboards connect from arbitrary origins on the LAN.
		return true
	},
}

// Server handles WebSocket upgrades for progress subscriptions
type Server struct {
	hub   *Hub
	redis *redis.Client
	log   *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redisClient *redis.Client, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
		log:   log,
	}
}

// HandleWebSocket upgrades the connection and subscribes it to a run.
// URL: /ws?runId=<uuid>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if _, err := uuid.Parse(runID); err != nil {
		http.Error(w, "runId query parameter must be a valid UUID", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, runID, s.log)
	s.hub.register <- client

	s.log.Info("websocket subscriber connected", "run_id", runID, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()

	// Late joiners get the current snapshot immediately instead of
	// waiting for the next engine publication.
	s.sendLatestSnapshot(r.Context(), client, runID)
}

// sendLatestSnapshot loads the stored snapshot for a run and queues it
func (s *Server) sendLatestSnapshot(ctx context.Context, client *Client, runID string) {
	loadCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("run:progress:%s", runID)
	data, err := s.redis.Get(loadCtx, key).Result()
	if err != nil {
		return // no snapshot yet; the stream will deliver the first one
	}

	select {
	case client.send <- []byte(data):
	default:
	}
}
