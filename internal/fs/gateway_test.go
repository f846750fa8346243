package fs

import (
	"context"
	"errors"
	"testing"

	"mas_sched/internal/domain"
)

type testPolicy struct {
	allowed bool
}

func (p testPolicy) CanWriteArtifact(_ context.Context, _, _ string) (bool, string, error) {
	if p.allowed {
		return true, "allowed", nil
	}
	return false, "denied", nil
}

type testLogger struct {
	entries []domain.Artifact
}

func (l *testLogger) CreateArtifact(_ context.Context, entry domain.Artifact) error {
	l.entries = append(l.entries, entry)
	return nil
}

func TestWriteArtifactDeniedByPolicy(t *testing.T) {
	logger := &testLogger{}
	gw, err := NewGateway(t.TempDir(), testPolicy{allowed: false}, logger)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	err = gw.WriteArtifact(context.Background(), "Truck1", "graph", "graphs/a.gv", []byte("digraph {}"))
	if !errors.Is(err, ErrForbiddenArtifact) {
		t.Fatalf("expected write to be denied, got %v", err)
	}
	if len(logger.entries) == 0 {
		t.Fatalf("expected denied write to be logged")
	}
	if logger.entries[0].Allowed {
		t.Fatalf("expected denied log entry")
	}
}

func TestWriteArtifactAllowed(t *testing.T) {
	logger := &testLogger{}
	gw, err := NewGateway(t.TempDir(), testPolicy{allowed: true}, logger)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	if err := gw.WriteArtifact(context.Background(), "Truck1", "graph", "./graphs/a.gv", []byte("digraph {}")); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	content, err := gw.ReadArtifact("graphs/a.gv")
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "digraph {}" {
		t.Fatalf("unexpected content %q", content)
	}
	if len(logger.entries) != 1 || logger.entries[0].Checksum == "" || logger.entries[0].URI != "graphs/a.gv" {
		t.Fatalf("unexpected artifact log: %+v", logger.entries)
	}
}

func TestWriteArtifactRejectsEscape(t *testing.T) {
	logger := &testLogger{}
	gw, err := NewGateway(t.TempDir(), testPolicy{allowed: true}, logger)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if err := gw.WriteArtifact(context.Background(), "Truck1", "graph", "../outside.gv", nil); err == nil {
		t.Fatalf("expected escape to be rejected")
	}
	if len(logger.entries) != 1 || logger.entries[0].Allowed {
		t.Fatalf("expected rejected write to be logged")
	}
}
