package beacons

import (
	"fmt"
	"time"
)

// ChunkSize is the edge length of a chunk column in blocks.
const ChunkSize = 16

// TicksPerSecond converts the host tick unit to wall time.
const TicksPerSecond = 20

// KindBeacon is the block entity kind this package tracks.
const KindBeacon = "BEACON"

// Location is a block position inside a named world. It is a plain value type
// and is used directly as a map key.
type Location struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s@%d,%d,%d", l.World, l.X, l.Y, l.Z)
}

// Chunk returns the chunk column containing l.
func (l Location) Chunk() ChunkPos {
	return ChunkPos{World: l.World, CX: floorDiv(l.X, ChunkSize), CZ: floorDiv(l.Z, ChunkSize)}
}

// ChunkPos identifies a chunk column inside a world.
type ChunkPos struct {
	World string `json:"world"`
	CX    int    `json:"cx"`
	CZ    int    `json:"cz"`
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("%s[%d,%d]", p.World, p.CX, p.CZ)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Event is a host notification about a block entity appearing or disappearing.
type Event struct {
	Location Location
	Kind     string
}

// PassStats summarizes one reconciliation pass.
type PassStats struct {
	Seq      uint64        `json:"seq"`
	Mode     string        `json:"mode"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Checked  int           `json:"checked"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Pruned   int           `json:"pruned"`
	Routed   int           `json:"routed"`
}

// Status is the snapshot reported to administrative callers.
type Status struct {
	Mode            string     `json:"mode"`
	Radius          int        `json:"radius"`
	Tracked         int        `json:"tracked"`
	CapabilityMode  string     `json:"capability_mode"`
	IntervalSeconds int        `json:"interval_seconds"`
	RetainChunks    bool       `json:"retain_chunks"`
	Debug           bool       `json:"debug"`
	PinnedChunks    int        `json:"pinned_chunks"`
	Passes          uint64     `json:"passes"`
	LastPass        *PassStats `json:"last_pass,omitempty"`
}

// Audit entry kinds.
const (
	AuditCreated = "CREATED"
	AuditRemoved = "REMOVED"
	AuditPruned  = "PRUNED"
	AuditScan    = "SCAN"
	AuditPass    = "PASS"
	AuditRadius  = "RADIUS"
)

// AuditEntry is one record in the tracker's audit trail.
type AuditEntry struct {
	Time     time.Time  `json:"time"`
	Kind     string     `json:"kind"`
	Mode     string     `json:"mode"`
	Location *Location  `json:"location,omitempty"`
	Tracked  int        `json:"tracked"`
	Radius   int        `json:"radius,omitempty"`
	Pass     *PassStats `json:"pass,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// AuditLogger receives audit entries. Implementations must be safe for
// concurrent use.
type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}
