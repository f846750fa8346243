package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Coordinator CoordinatorRuntimeConfig `toml:"coordinator"`
	Agents      []AgentConfig            `toml:"agents"`
	Raw         map[string]any           `toml:"-"`
	Path        string                   `toml:"-"`
}

type CoordinatorRuntimeConfig struct {
	Addr                string  `toml:"addr"`
	DBPath              string  `toml:"db_path"`
	TaskRepository      string  `toml:"task_repository"`
	DumpDir             string  `toml:"dump_dir"`
	BusBuffer           int     `toml:"bus_buffer"`
	ExecutionIntervalMS int     `toml:"execution_interval_ms"`
	RetryIntervalMS     int     `toml:"retry_interval_ms"`
	HeuristicQualityCap float64 `toml:"heuristic_quality_cap"`
	// SimulationUnitMS completes dispatched methods after duration*unit
	// milliseconds. Zero leaves completion to external METHOD_COMPLETED events.
	SimulationUnitMS    int     `toml:"simulation_unit_ms"`
	// RestoreCompleted carries completed methods and tasks over from the
	// database into a new run, where they satisfy enablers.
	RestoreCompleted    bool    `toml:"restore_completed"`
}

type AgentConfig struct {
	Name     string   `toml:"name"`
	X        float64  `toml:"x"`
	Y        float64  `toml:"y"`
	Managing bool     `toml:"managing"`
	Children []string `toml:"children"`
	Tasks    []string `toml:"tasks"`
}

func Load(path string) (Config, error) {
	resolved, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	cfg, err := Parse(bytes)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = resolved
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks agent names are unique and that every managed child is a
// declared agent.
func (c Config) Validate() error {
	names := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		k := strings.ToLower(strings.TrimSpace(a.Name))
		if k == "" {
			return fmt.Errorf("agent name is required")
		}
		if _, dup := names[k]; dup {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		names[k] = struct{}{}
	}
	for _, a := range c.Agents {
		if len(a.Children) > 0 && !a.Managing {
			return fmt.Errorf("agent %q lists children but is not managing", a.Name)
		}
		for _, child := range a.Children {
			if _, ok := names[strings.ToLower(strings.TrimSpace(child))]; !ok {
				return fmt.Errorf("agent %q manages unknown agent %q", a.Name, child)
			}
		}
	}
	return nil
}

// ExpandPath resolves "~" and falls back to the default config location.
func ExpandPath(path string) (string, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	return filepath.Clean(resolved), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".massim/config.toml"
	}
	return filepath.Join(home, ".massim", "config.toml")
}
