package wsapi

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// writePump drains c.send to the socket and pings on idle, matching
// the pack's write-pump idiom (ticker + channel select, connection
// closed on either branch's write failure).
func (m *Manager) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
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

// readPump processes client->server frames until the connection
// closes, then unregisters the client.
func (m *Manager) readPump(c *client) {
	defer m.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		m.handleClientFrame(c, frame)
	}
}

func (m *Manager) handleClientFrame(c *client, frame clientFrame) {
	switch frame.Type {
	case frameSubscribe:
		c.subscribe(frame.WorkflowID)
	case frameUnsubscribe:
		c.unsubscribe(frame.WorkflowID)
	case frameSubscribeAll:
		c.subscribeAll()
	case framePing:
		select {
		case c.send <- serverFrame{Type: framePong}:
		default:
		}
	case frameBackfillRequest:
		m.handleBackfill(c, frame.WorkflowID, frame.AfterSequence)
	}
}

// handleBackfill replays events after afterSequence for workflowID.
// If the store's current max sequence is behind what the client
// already claims to have seen, the requested window can no longer be
// reconstructed (e.g. retention pruned it) and backfill_expired is
// sent instead of a (silently incomplete) replay.
func (m *Manager) handleBackfill(c *client, workflowID string, afterSequence int64) {
	ctx := context.Background()

	maxSeq, err := m.store.GetMaxEventSequence(ctx, workflowID)
	if err != nil {
		m.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("wsapi: backfill max-sequence lookup failed")
		m.send(c, serverFrame{Type: frameBackfillExpired, WorkflowID: workflowID})
		return
	}
	if afterSequence > maxSeq {
		m.send(c, serverFrame{Type: frameBackfillExpired, WorkflowID: workflowID})
		return
	}

	events, err := m.store.Events(ctx, workflowID, afterSequence)
	if err != nil {
		m.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("wsapi: backfill events lookup failed")
		m.send(c, serverFrame{Type: frameBackfillExpired, WorkflowID: workflowID})
		return
	}

	for _, event := range events {
		m.send(c, serverFrame{Type: frameEvent, Payload: event, WorkflowID: workflowID})
	}
	m.send(c, serverFrame{Type: frameBackfillComplete, WorkflowID: workflowID})
}

func (m *Manager) send(c *client, frame serverFrame) {
	select {
	case c.send <- frame:
	default:
		m.log.Warn().Msg("wsapi: client send buffer full, dropping frame")
	}
}
