package beacons

import (
	"strconv"
	"strings"
)

const (
	MinRadius              = 10
	MaxRadius              = 1000
	DefaultRadius          = 100
	DefaultIntervalSeconds = 300
)

// Settings is the read-only snapshot the tracker works from. The owning
// configuration layer hands in a new value on reload.
type Settings struct {
	Radius          int  `json:"radius"`
	IntervalSeconds int  `json:"interval_seconds"`
	RetainChunks    bool `json:"retain_chunks"`
	Debug           bool `json:"debug"`
}

func DefaultSettings() Settings {
	return Settings{
		Radius:          DefaultRadius,
		IntervalSeconds: DefaultIntervalSeconds,
		RetainChunks:    true,
	}
}

// Normalize clamps the radius into [MinRadius, MaxRadius] and treats a
// negative interval as disabled.
func (s Settings) Normalize() Settings {
	s.Radius = ClampRadius(s.Radius)
	if s.IntervalSeconds < 0 {
		s.IntervalSeconds = 0
	}
	return s
}

func ClampRadius(r int) int {
	if r < MinRadius {
		return MinRadius
	}
	if r > MaxRadius {
		return MaxRadius
	}
	return r
}

// ParseRadius parses admin input. Non-numeric input is rejected; numeric
// input is clamped.
func ParseRadius(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidRadius
	}
	return ClampRadius(n), nil
}
