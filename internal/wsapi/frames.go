package wsapi

// clientFrameType enumerates the client->server message types of
// spec.md §6's WebSocket surface.
type clientFrameType string

const (
	frameSubscribe       clientFrameType = "subscribe"
	frameUnsubscribe     clientFrameType = "unsubscribe"
	frameSubscribeAll    clientFrameType = "subscribe_all"
	framePing            clientFrameType = "ping"
	frameBackfillRequest clientFrameType = "backfill_request"
)

// clientFrame is the inbound envelope. Fields not relevant to Type
// are left at their zero value.
type clientFrame struct {
	Type          clientFrameType `json:"type"`
	WorkflowID    string          `json:"workflow_id"`
	AfterSequence int64           `json:"after_sequence"`
}

// serverFrameType enumerates the server->client message types.
type serverFrameType string

const (
	frameEvent            serverFrameType = "event"
	framePong             serverFrameType = "pong"
	frameBackfillComplete serverFrameType = "backfill_complete"
	frameBackfillExpired  serverFrameType = "backfill_expired"
)

// serverFrame is the outbound envelope; Payload is marshaled as-is.
type serverFrame struct {
	Type       serverFrameType `json:"type"`
	Payload    interface{}     `json:"payload,omitempty"`
	WorkflowID string          `json:"workflow_id,omitempty"`
}
