package remote

import "encoding/json"

// Frame types — client → server.
const (
	frameGet         = "get"
	frameSet         = "set"
	frameCreate      = "create"
	frameUpdate      = "update"
	framePush        = "push"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
)

// Frame types — server → client.
const (
	frameResult = "result"
	frameError  = "error"
	frameChange = "change"
)

// Server error codes carried in error frames.
const (
	codeNotFound    = "not_found"
	codeExists      = "exists"
	codeUnavailable = "unavailable"
)

// Frame is the envelope for every message on the store socket. Requests
// carry a correlation ID echoed by the matching result or error frame;
// change frames carry the subscription id they belong to.
type Frame struct {
	Type    string                     `json:"type"`
	ID      int64                      `json:"id,omitempty"`
	Sub     int64                      `json:"sub,omitempty"`
	Path    string                     `json:"path,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	Writes  map[string]json.RawMessage `json:"writes,omitempty"`
	Key     string                     `json:"key,omitempty"`
	Code    string                     `json:"code,omitempty"`
	Message string                     `json:"message,omitempty"`
	TS      int64                      `json:"ts,omitempty"`
}
