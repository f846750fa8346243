package inproc

import (
	"errors"
	"strings"
	"sync"

	"mas_sched/internal/domain"
)

var (
	ErrAgentNotRegistered = errors.New("agent is not registered in bus")
	ErrAgentQueueFull     = errors.New("agent queue is full")
)

// Bus delivers scheduling events to per-agent queues keyed by the event's
// addressee. Names are matched case-insensitively.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Event
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Event),
		buffer: buffer,
	}
}

func (b *Bus) Register(agentID string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := busKey(agentID)
	if ch, ok := b.subs[k]; ok {
		return ch
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[k] = ch
	return ch
}

func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := busKey(agentID)
	ch, ok := b.subs[k]
	if !ok {
		return
	}
	delete(b.subs, k)
	close(ch)
}

func (b *Bus) Registered(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[busKey(agentID)]
	return ok
}

// Publish is a non-blocking send. The read lock is held across the send so
// Unregister cannot close the channel underneath it.
func (b *Bus) Publish(ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[busKey(ev.AgentName)]
	if !ok {
		return ErrAgentNotRegistered
	}

	select {
	case ch <- ev:
		return nil
	default:
		return ErrAgentQueueFull
	}
}

func busKey(agentID string) string {
	return strings.ToLower(strings.TrimSpace(agentID))
}
