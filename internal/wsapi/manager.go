// Package wsapi implements the WebSocket surface of spec.md §6 and the
// eventbus.Broadcaster it fans out to. Grounded on the client-registry
// plus read/write-pump idiom of
// itsneelabh-gomind/ui/transports/websocket/websocket.go (map+mutex
// client set, buffered per-client send channel, ping/pong keepalive,
// non-blocking fan-out that drops a message rather than stall the
// emitting goroutine).
package wsapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Manager upgrades HTTP connections to WebSocket and fans out
// WorkflowEvents/StreamEvents to subscribed clients. It implements
// eventbus.Broadcaster.
type Manager struct {
	store    workflowstore.Store
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewManager constructs a Manager. allowedOrigins mirrors the pack's
// CORS-aware CheckOrigin idiom; an empty slice allows every origin.
func NewManager(store workflowstore.Store, log zerolog.Logger, allowedOrigins []string) *Manager {
	m := &Manager{
		store:   store,
		log:     log,
		clients: make(map[*client]struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return m
}

// ServeHTTP upgrades the connection and registers a client.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("wsapi: upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan serverFrame, sendBuffer),
		subs: make(map[string]bool),
	}

	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	go m.writePump(c)
	go m.readPump(c)
}

func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
	m.mu.Unlock()
}

// BroadcastEvent implements eventbus.Broadcaster.
func (m *Manager) BroadcastEvent(event domain.WorkflowEvent) {
	m.fanOut(serverFrame{Type: frameEvent, Payload: event})
}

// BroadcastStream implements eventbus.Broadcaster.
func (m *Manager) BroadcastStream(event domain.StreamEvent) {
	m.fanOut(serverFrame{Type: frameEvent, Payload: event})
}

func (m *Manager) fanOut(frame serverFrame) {
	workflowID := frameWorkflowID(frame)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.clients {
		c.mu.RLock()
		interested := c.all || c.subs[workflowID]
		c.mu.RUnlock()
		if !interested {
			continue
		}
		select {
		case c.send <- frame:
		default:
			m.log.Warn().Msg("wsapi: client send buffer full, dropping frame")
		}
	}
}

func frameWorkflowID(frame serverFrame) string {
	switch p := frame.Payload.(type) {
	case domain.WorkflowEvent:
		return p.WorkflowID
	case domain.StreamEvent:
		return p.WorkflowID
	default:
		return ""
	}
}
