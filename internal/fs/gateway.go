package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mas_sched/internal/domain"
)

var ErrForbiddenArtifact = errors.New("artifact write is forbidden by policy")

type Policy interface {
	CanWriteArtifact(ctx context.Context, agentID, relPath string) (bool, string, error)
}

type ArtifactLogger interface {
	CreateArtifact(ctx context.Context, artifact domain.Artifact) error
}

// Gateway writes agent dumps (compiled graphs, allocation problems) below a
// single root directory.
type Gateway struct {
	root   string
	policy Policy
	logger ArtifactLogger
}

func NewGateway(root string, policy Policy, logger ArtifactLogger) (*Gateway, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	return &Gateway{
		root:   absRoot,
		policy: policy,
		logger: logger,
	}, nil
}

func (g *Gateway) Root() string { return g.root }

func (g *Gateway) WriteArtifact(ctx context.Context, agentID, kind, relPath string, content []byte) error {
	entry := domain.Artifact{
		ID:            uuid.NewString(),
		ProducerAgent: agentID,
		Kind:          kind,
		URI:           relPath,
		CreatedAt:     time.Now().UTC(),
	}
	absPath, normalized, err := g.resolve(relPath)
	if err != nil {
		entry.Reason = err.Error()
		_ = g.logger.CreateArtifact(ctx, entry)
		return err
	}
	entry.URI = normalized

	allowed, reason, err := g.policy.CanWriteArtifact(ctx, agentID, normalized)
	if err != nil {
		return fmt.Errorf("policy check write artifact: %w", err)
	}
	if !allowed {
		entry.Reason = reason
		_ = g.logger.CreateArtifact(ctx, entry)
		return fmt.Errorf("%w: %s", ErrForbiddenArtifact, reason)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	sum := sha256.Sum256(content)
	entry.Checksum = hex.EncodeToString(sum[:])
	entry.Allowed = true
	entry.Reason = reason
	if err := g.logger.CreateArtifact(ctx, entry); err != nil {
		return fmt.Errorf("log artifact write: %w", err)
	}
	return nil
}

func (g *Gateway) ReadArtifact(relPath string) ([]byte, error) {
	absPath, _, err := g.resolve(relPath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return content, nil
}

func (g *Gateway) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	abs := filepath.Join(g.root, filepath.FromSlash(normalized))
	absClean := filepath.Clean(abs)
	absRoot := filepath.Clean(g.root)

	rel, err := filepath.Rel(absRoot, absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") || rel == "." {
		return "", "", fmt.Errorf("path escapes artifact root: %q", relPath)
	}
	return absClean, strings.ReplaceAll(rel, "\\", "/"), nil
}
