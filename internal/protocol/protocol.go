// Package protocol defines the JSON messages exchanged with admin clients
// over the status stream and the admin HTTP API.
package protocol

import "encoding/json"

const Version = 1

// Message types.
const (
	TypeHello  = "HELLO"
	TypeStatus = "STATUS"
	TypePass   = "PASS"
	TypeError  = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
