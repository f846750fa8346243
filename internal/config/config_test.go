package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
[coordinator]
addr = "127.0.0.1:8787"
db_path = "massim.db"
execution_interval_ms = 50
restore_completed = true

[[agents]]
name = "Truck1"
x = 40
y = 100
managing = true
children = ["Helicopter1"]
tasks = ["TaskTree"]

[[agents]]
name = "Helicopter1"
x = 40
y = 200
`

func TestLoadDecodesAgents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected path %s, got %s", path, cfg.Path)
	}
	if cfg.Coordinator.ExecutionIntervalMS != 50 {
		t.Fatalf("unexpected execution interval %d", cfg.Coordinator.ExecutionIntervalMS)
	}
	if !cfg.Coordinator.RestoreCompleted {
		t.Fatalf("expected restore_completed to be decoded")
	}
	if len(cfg.Agents) != 2 || !cfg.Agents[0].Managing || cfg.Agents[0].Children[0] != "Helicopter1" {
		t.Fatalf("unexpected agents %+v", cfg.Agents)
	}
	if cfg.Agents[1].Y != 200 {
		t.Fatalf("unexpected helicopter position %+v", cfg.Agents[1])
	}
	if _, ok := cfg.Raw["coordinator"]; !ok {
		t.Fatalf("expected raw config to keep coordinator section")
	}
}

func TestParseRejectsUnknownChild(t *testing.T) {
	bad := strings.Replace(sample, `children = ["Helicopter1"]`, `children = ["Boat"]`, 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected unknown child to be rejected")
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/x/config.toml")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "x", "config.toml") {
		t.Fatalf("unexpected expansion %s", got)
	}
}
