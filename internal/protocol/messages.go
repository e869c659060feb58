package protocol

import (
	"time"

	"beaconranger.dev/internal/beacons"
)

// HelloMsg opens a status stream.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	// IntervalMS asks for periodic STATUS frames; 0 means only after passes.
	IntervalMS int `json:"interval_ms,omitempty"`
}

type StatusMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion int            `json:"protocol_version"`
	Time            time.Time      `json:"time"`
	Status          beacons.Status `json:"status"`
}

type PassMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion int               `json:"protocol_version"`
	Pass            beacons.PassStats `json:"pass"`
}

// ErrorMsg is the body of every non-2xx admin API response.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewStatus(st beacons.Status, now time.Time) StatusMsg {
	return StatusMsg{Type: TypeStatus, ProtocolVersion: Version, Time: now.UTC(), Status: st}
}

func NewPass(p beacons.PassStats) PassMsg {
	return PassMsg{Type: TypePass, ProtocolVersion: Version, Pass: p}
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: msg}
}
