package models

import "time"

// Request is the outbound envelope sent to the remote authority. ID is the
// idempotency key of the mutation; the authority must recognise a repeated ID
// and replay the original response instead of applying the mutation twice.
type Request struct {
	ID       string    `json:"id"`
	Op       Operation `json:"op"`
	EntityID string    `json:"entityId,omitempty"` // server-origin id; empty for creates
	Content  *Content  `json:"content,omitempty"`
}

// Record is the canonical server-side shape of one protocard version,
// produced by the authority in acks and push events.
type Record struct {
	EntityID   string    `json:"entityId"`
	SnapshotID string    `json:"snapshotId,omitempty"`
	OrderKey   int64     `json:"orderKey,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	Content    Content   `json:"content"`
}

// ResponseError carries the failure detail of an unsuccessful response.
type ResponseError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Meta is the trailer common to every response.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	AckID     string    `json:"ackId,omitempty"`
}

// Response is the inbound envelope returned by the remote authority. ID
// echoes the request's idempotency key so the caller can correlate the ack
// with the message that produced it.
type Response struct {
	ID      string         `json:"id,omitempty"`
	Success bool           `json:"success"`
	Type    string         `json:"type"`
	Result  *Record        `json:"result,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
	Meta    Meta           `json:"meta"`
}

// ListResponse is the envelope of the read-side list endpoint.
type ListResponse struct {
	Success bool     `json:"success"`
	Type    string   `json:"type"`
	Results []Record `json:"results"`
	Meta    Meta     `json:"meta"`
}

// Push event types delivered over the persistent server-to-client stream.
const (
	EventEntityCreated = "entity.created"
	EventEntityUpdated = "entity.updated"
	EventEntityDeleted = "entity.deleted"
	EventHeartbeat     = "heartbeat"
	EventConnected     = "connected"
)

// PushEvent is one change notification from the push channel. For
// EventEntityDeleted the Result carries only the server entity identifier.
// Heartbeats carry no semantic payload and must be ignored by consumers.
type PushEvent struct {
	Type      string    `json:"type"`
	Result    *Record   `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}
