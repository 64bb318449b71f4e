package gateway

import (
	"encoding/json"

	"docchat/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between client and server over WebSocket.
// The remote sync client speaks the same framing.
type Frame struct {
	Type    FrameType        `json:"type"`
	ID      uint64           `json:"id,omitempty"`      // request/response correlation
	Method  string           `json:"method,omitempty"`  // request only
	Payload json.RawMessage  `json:"payload,omitempty"` // params or result
	Error   string           `json:"error,omitempty"`   // response only
	Code    domain.ErrorCode `json:"code,omitempty"`    // response only
}

// RPC method names.
const (
	MethodDraftPush = "draft.push"
	MethodDraftGet  = "draft.get"
)

// DraftPushRequest is the payload of a draft.push request.
type DraftPushRequest struct {
	State          domain.SyncState `json:"state"`
	IdempotenceKey string           `json:"idempotence_key,omitempty"`
}
