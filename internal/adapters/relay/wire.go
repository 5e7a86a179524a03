package relay

import (
	"encoding/json"

	"github.com/dkeye/peercall/internal/core"
)

// Websocket frame events sent by the relay server.
const (
	EventRecord = "record"
	EventGone   = "gone"
)

// WireEvent is one websocket frame of a relay subscription.
type WireEvent struct {
	Event  string            `json:"event"`
	Record *core.RelayRecord `json:"record,omitempty"`
}

// AppendRequest is the body of POST /api/relay/:key.
type AppendRequest struct {
	SenderID string          `json:"sender_id" binding:"required"`
	Type     string          `json:"type" binding:"required"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SnapshotResponse is the body of GET /api/relay/:key.
type SnapshotResponse struct {
	Exists  bool               `json:"exists"`
	Records []core.RelayRecord `json:"records"`
}
