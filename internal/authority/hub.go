package authority

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/models"
)

// Hub owns all websocket stream subscribers. It implements [Broadcaster]:
// every committed mutation is written to each attached connection, and a
// heartbeat keeps idle connections distinguishable from dead ones.
type Hub struct {
	interval time.Duration
	logger   *logger.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewHub constructs a Hub sending heartbeats every interval.
func NewHub(interval time.Duration, log *logger.Logger) *Hub {
	return &Hub{
		interval: interval,
		logger:   log.Component("hub"),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Run sends heartbeats until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Broadcast(models.PushEvent{Type: models.EventHeartbeat, Timestamp: time.Now().UTC()})
		}
	}
}

// Broadcast writes ev to every attached connection. A connection that fails
// to take the write is detached and closed; the client is expected to
// reconnect and re-list.
func (h *Hub) Broadcast(ev models.PushEvent) {
	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.conns))
	for conn, wmu := range h.conns {
		conns[conn] = wmu
	}
	h.mu.Unlock()

	for conn, wmu := range conns {
		wmu.Lock()
		err := conn.WriteJSON(ev)
		wmu.Unlock()
		if err != nil {
			h.logger.Debug().Err(err).Msg("dropping unwritable stream subscriber")
			h.detach(conn)
			conn.Close()
		}
	}
}

// attach registers conn and greets it, so clients can distinguish a fresh
// stream from a resumed one.
func (h *Hub) attach(conn *websocket.Conn) error {
	wmu := &sync.Mutex{}

	wmu.Lock()
	err := conn.WriteJSON(models.PushEvent{Type: models.EventConnected, Timestamp: time.Now().UTC()})
	wmu.Unlock()
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.conns[conn] = wmu
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info().Int("subscribers", count).Msg("stream subscriber attached")
	return nil
}

func (h *Hub) detach(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info().Int("subscribers", count).Msg("stream subscriber detached")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
