package wsapi

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client tracks one connected WebSocket peer's subscriptions.
type client struct {
	conn *websocket.Conn
	send chan serverFrame

	mu   sync.RWMutex
	subs map[string]bool
	all  bool
}

func (c *client) subscribe(workflowID string) {
	c.mu.Lock()
	c.subs[workflowID] = true
	c.mu.Unlock()
}

func (c *client) unsubscribe(workflowID string) {
	c.mu.Lock()
	delete(c.subs, workflowID)
	c.mu.Unlock()
}

func (c *client) subscribeAll() {
	c.mu.Lock()
	c.all = true
	c.mu.Unlock()
}
