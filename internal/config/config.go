// Package config loads and saves beaconranger.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/sim/host"
	"beaconranger.dev/internal/sim/voxel"
)

type Config struct {
	BeaconRange      int  `yaml:"beacon_range"`
	UpdateInterval   int  `yaml:"update_interval"`
	LoadBeaconChunks bool `yaml:"load_beacon_chunks"`
	Debug            bool `yaml:"debug"`

	Host HostConfig `yaml:"host"`
}

// HostConfig configures the bundled host simulation.
type HostConfig struct {
	TickRateHz   int           `yaml:"tick_rate_hz"`
	Regions      bool          `yaml:"regions"`
	RegionShift  int           `yaml:"region_shift"`
	PreciseRange bool          `yaml:"precise_range"`
	Worlds       []WorldConfig `yaml:"worlds"`
}

type WorldConfig struct {
	Name          string     `yaml:"name"`
	PreloadRadius int        `yaml:"preload_radius"`
	Beacons       []BlockPos `yaml:"beacons,omitempty"`
}

type BlockPos struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("beaconranger.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("beaconranger.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		BeaconRange:      beacons.DefaultRadius,
		UpdateInterval:   beacons.DefaultIntervalSeconds,
		LoadBeaconChunks: true,
		Host: HostConfig{
			TickRateHz:  beacons.TicksPerSecond,
			RegionShift: 3,
			Worlds: []WorldConfig{
				{Name: "world", PreloadRadius: 2},
			},
		},
	}
}

// Normalize clamps out-of-range values instead of rejecting them; Validate
// only fails on values that have no sensible clamp.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.BeaconRange = beacons.ClampRadius(c.BeaconRange)
	if c.UpdateInterval < 0 {
		c.UpdateInterval = 0
	}
	if c.Host.TickRateHz <= 0 {
		c.Host.TickRateHz = beacons.TicksPerSecond
	}
	if c.Host.RegionShift < 0 {
		c.Host.RegionShift = 0
	}
	if len(c.Host.Worlds) == 0 {
		c.Host.Worlds = Defaults().Host.Worlds
	}
	for i := range c.Host.Worlds {
		c.Host.Worlds[i].Name = strings.TrimSpace(c.Host.Worlds[i].Name)
		if c.Host.Worlds[i].PreloadRadius < 0 {
			c.Host.Worlds[i].PreloadRadius = 0
		}
	}
}

func (c Config) Validate() error {
	if c.Host.TickRateHz > 1000 {
		return fmt.Errorf("host.tick_rate_hz must be <= 1000")
	}
	if c.Host.RegionShift > 8 {
		return fmt.Errorf("host.region_shift must be <= 8")
	}
	seen := map[string]bool{}
	for _, w := range c.Host.Worlds {
		if w.Name == "" {
			return fmt.Errorf("host.worlds: name is required")
		}
		if seen[w.Name] {
			return fmt.Errorf("host.worlds: duplicate world %q", w.Name)
		}
		seen[w.Name] = true
		if w.PreloadRadius > 32 {
			return fmt.Errorf("host.worlds[%s]: preload_radius must be <= 32", w.Name)
		}
	}
	return nil
}

// Save writes cfg to path, replacing the file atomically.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".beaconranger-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Settings is the tracker's read-only view of the configuration.
func (c Config) Settings() beacons.Settings {
	return beacons.Settings{
		Radius:          c.BeaconRange,
		IntervalSeconds: c.UpdateInterval,
		RetainChunks:    c.LoadBeaconChunks,
		Debug:           c.Debug,
	}
}

// ApplySettings copies tracker settings back so they can be saved.
func (c *Config) ApplySettings(s beacons.Settings) {
	c.BeaconRange = s.Radius
	c.UpdateInterval = s.IntervalSeconds
	c.LoadBeaconChunks = s.RetainChunks
	c.Debug = s.Debug
}

func (c Config) HostConfig() host.Config {
	out := host.Config{
		TickRateHz:   c.Host.TickRateHz,
		PreciseRange: c.Host.PreciseRange,
		RegionShift:  c.Host.RegionShift,
	}
	for _, w := range c.Host.Worlds {
		ws := host.WorldSpec{Name: w.Name, Preload: w.PreloadRadius}
		for _, p := range w.Beacons {
			ws.Beacons = append(ws.Beacons, voxel.Vec3i{X: p.X, Y: p.Y, Z: p.Z})
		}
		out.Worlds = append(out.Worlds, ws)
	}
	return out
}
