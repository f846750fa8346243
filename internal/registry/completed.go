// Package registry tracks which methods and tasks have been completed across
// all agents.
package registry

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"mas_sched/internal/domain"
)

// Sink persists registry appends. Failures are logged and do not block the
// in-memory registry.
type Sink interface {
	RecordCompletedMethod(ctx context.Context, entry domain.CompletedMethod) error
	RecordCompletedTask(ctx context.Context, entry domain.CompletedTask) error
}

type Completed struct {
	mu      sync.RWMutex
	methods []domain.CompletedMethod
	tasks   []domain.CompletedTask
	byLabel map[string]struct{}
	tasksBy map[string]struct{}

	sink   Sink
	logger *log.Logger
}

func New(sink Sink, logger *log.Logger) *Completed {
	if logger == nil {
		logger = log.Default()
	}
	return &Completed{
		byLabel: make(map[string]struct{}),
		tasksBy: make(map[string]struct{}),
		sink:    sink,
		logger:  logger,
	}
}

// Restore seeds the registry with previously persisted entries without
// writing them back to the sink.
func (c *Completed) Restore(methods []domain.CompletedMethod, tasks []domain.CompletedTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range methods {
		c.methods = append(c.methods, m)
		c.byLabel[key(m.Label)] = struct{}{}
	}
	for _, t := range tasks {
		c.tasks = append(c.tasks, t)
		c.tasksBy[key(t.Label)] = struct{}{}
	}
}

func (c *Completed) AddMethod(ctx context.Context, label string, index int, agent string) {
	entry := domain.CompletedMethod{
		Label:       label,
		MethodIndex: index,
		Agent:       agent,
		CompletedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.methods = append(c.methods, entry)
	c.byLabel[key(label)] = struct{}{}
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.RecordCompletedMethod(ctx, entry); err != nil {
			c.logger.Printf("registry persist method=%s: %v", label, err)
		}
	}
}

func (c *Completed) AddTask(ctx context.Context, label, agent string) {
	entry := domain.CompletedTask{
		Label:       label,
		Agent:       agent,
		CompletedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.tasks = append(c.tasks, entry)
	c.tasksBy[key(label)] = struct{}{}
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.RecordCompletedTask(ctx, entry); err != nil {
			c.logger.Printf("registry persist task=%s: %v", label, err)
		}
	}
}

func (c *Completed) MethodCompleted(label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byLabel[key(label)]
	return ok
}

func (c *Completed) TaskCompleted(label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tasksBy[key(label)]
	return ok
}

func (c *Completed) Methods() []domain.CompletedMethod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.CompletedMethod(nil), c.methods...)
}

func (c *Completed) Tasks() []domain.CompletedTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.CompletedTask(nil), c.tasks...)
}

func key(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
