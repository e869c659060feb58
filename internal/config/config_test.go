package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatalf("could not find repo root from cwd")
	return ""
}

func TestLoadBundledConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(findRepoRoot(t), "configs", "beaconranger.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.Settings()
	if s.Radius != 100 || s.IntervalSeconds != 300 || !s.RetainChunks || s.Debug {
		t.Fatalf("settings: %+v", s)
	}
	hc := cfg.HostConfig()
	if len(hc.Worlds) != 2 || len(hc.Worlds[0].Beacons) != 3 || !hc.PreciseRange {
		t.Fatalf("host config: %+v", hc)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BeaconRange != 100 || cfg.UpdateInterval != 300 || !cfg.LoadBeaconChunks {
		t.Fatalf("defaults: %+v", cfg)
	}
	if len(cfg.Host.Worlds) != 1 || cfg.Host.Worlds[0].Name != "world" {
		t.Fatalf("default worlds: %+v", cfg.Host.Worlds)
	}
}

func TestLoadClampsAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("beacon_range: 5000\nupdate_interval: -4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BeaconRange != 1000 || cfg.UpdateInterval != 0 {
		t.Fatalf("normalize: range=%d interval=%d", cfg.BeaconRange, cfg.UpdateInterval)
	}
	if !cfg.LoadBeaconChunks {
		t.Fatalf("missing key should keep its default")
	}
}

func TestLoadRejectsDuplicateWorlds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "host:\n  worlds:\n    - name: a\n    - name: a\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate world") {
		t.Fatalf("expected duplicate world error, got %v", err)
	}
}

func TestSaveRoundTripsRadius(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := Defaults()
	s := cfg.Settings()
	s.Radius = 640
	cfg.ApplySettings(s)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.BeaconRange != 640 {
		t.Fatalf("radius after reload: %d", got.BeaconRange)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
