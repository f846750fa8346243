package policy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"mas_sched/internal/taems"
)

type Store interface {
	MethodCompleted(label string) bool
	TaskCompleted(label string) bool
}

// DefaultArtifactKinds are the file extensions agents may dump.
var DefaultArtifactKinds = []string{".gv", ".dot", ".maxsum", ".json"}

type Engine struct {
	store         Store
	artifactKinds map[string]struct{}
}

func New(store Store) *Engine {
	e := &Engine{store: store, artifactKinds: make(map[string]struct{})}
	for _, ext := range DefaultArtifactKinds {
		e.artifactKinds[ext] = struct{}{}
	}
	return e
}

// EnablersInPlace reports whether every enabler of m has completed. The
// reason names the first missing enabler.
func (e *Engine) EnablersInPlace(m *taems.Method) (bool, string) {
	for _, from := range m.Enablers() {
		label := from.Label()
		switch from.Kind {
		case taems.KindTask:
			if !e.store.TaskCompleted(label) {
				return false, fmt.Sprintf("waiting for task %s", label)
			}
		default:
			if !e.store.MethodCompleted(label) {
				return false, fmt.Sprintf("waiting for method %s", label)
			}
		}
	}
	return true, "enablers in place"
}

func (e *Engine) CanWriteArtifact(_ context.Context, agentID, relPath string) (bool, string, error) {
	if strings.TrimSpace(agentID) == "" {
		return false, "artifact producer is required", nil
	}
	ext := strings.ToLower(path.Ext(relPath))
	if _, ok := e.artifactKinds[ext]; !ok {
		return false, fmt.Sprintf("artifact kind %q not allowed", ext), nil
	}
	return true, "allowed", nil
}
