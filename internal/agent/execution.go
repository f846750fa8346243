package agent

import (
	"context"
	"strings"
	"time"

	"mas_sched/internal/domain"
	"mas_sched/internal/schedule"
	"mas_sched/internal/taems"
)

// AssignTask resolves name through the repository and queues the fresh tree
// for the next schedule computation.
func (a *Agent) AssignTask(ctx context.Context, name string) error {
	task, err := a.deps.Repository.GetTask(name)
	if err != nil {
		a.logger.Printf("agent %s assign task=%s: %v", a.cfg.Name, name, err)
		a.logAction(ctx, "assign_failed", err.Error(), map[string]any{"task": name})
		return err
	}
	task.AssignAgent(a.cfg.Name)

	for _, m := range task.Methods() {
		_ = a.publish(domain.DisplayListener, domain.CommandDisplayAddMethod, domain.EventParams{
			AgentID:  a.cfg.Name,
			TaskName: task.Label,
			MethodID: m.Label,
			X:        m.Position.X,
			Y:        m.Position.Y,
		})
	}

	a.treeMu.Lock()
	a.pending = append(a.pending, task)
	a.treeMu.Unlock()

	a.logAction(ctx, "task_assigned", task.Label, map[string]any{"methods": len(task.Methods())})
	a.trigger()
	return nil
}

func (a *Agent) executionLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ExecutionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.executeNext(ctx)
		}
	}
}

// executeNext dispatches the first pending element once its enablers are
// completed. The agent then waits for a completion event.
func (a *Agent) executeNext(ctx context.Context) {
	a.mu.Lock()
	if a.status != domain.AgentStatusProcessing {
		a.mu.Unlock()
		return
	}
	el := a.live.Next()
	a.mu.Unlock()
	if el == nil {
		return
	}
	m := el.Method

	if ok, reason := a.deps.Gate.EnablersInPlace(m); !ok {
		a.mu.Lock()
		first := a.blockedOn != m.Label
		a.blockedOn = m.Label
		a.mu.Unlock()
		if first {
			a.logger.Printf("agent %s method=%s blocked: %s", a.cfg.Name, m.Label, reason)
			a.logAction(ctx, "method_blocked", reason, map[string]any{"method": m.Label})
		}
		return
	}

	a.mu.Lock()
	if a.status != domain.AgentStatusProcessing || a.live.Next() != el {
		a.mu.Unlock()
		return
	}
	el.Status = schedule.ElementActive
	a.status = domain.AgentStatusAwaitingCompletion
	a.blockedOn = ""
	a.updatedAt = time.Now().UTC()
	a.mu.Unlock()

	_ = a.publish(domain.DisplayListener, domain.CommandDisplayTaskExecution, domain.EventParams{
		AgentID:  a.cfg.Name,
		MethodID: m.Label,
		X:        m.Position.X,
		Y:        m.Position.Y,
		Duration: m.Outcome.Duration,
	})
	a.logAction(ctx, "method_dispatched", m.Label, map[string]any{
		"index":   m.Index,
		"quality": el.Quality,
	})
}

// MarkMethodCompleted finishes the method in flight. Completions for any
// other method are ignored.
func (a *Agent) MarkMethodCompleted(ctx context.Context, methodID string) bool {
	a.mu.Lock()
	el := a.live.Active()
	if el == nil || !strings.EqualFold(el.Method.Label, strings.TrimSpace(methodID)) {
		a.mu.Unlock()
		a.logger.Printf("agent %s ignoring completion of %s: not in flight", a.cfg.Name, methodID)
		return false
	}
	el.Status = schedule.ElementCompleted
	a.live.Remove(el)
	a.live.TotalQuality -= el.Quality
	a.position = el.Method.Position
	a.status = domain.AgentStatusProcessing
	a.updatedAt = time.Now().UTC()
	a.mu.Unlock()

	m := el.Method
	a.treeMu.Lock()
	if tm := a.tree.FindMethod(m.Origin); tm != nil {
		tm.MarkCompleted()
	}
	a.treeMu.Unlock()

	a.deps.Registry.AddMethod(ctx, m.Label, m.Origin, a.cfg.Name)
	_ = a.publish(domain.DisplayListener, domain.CommandDisplayRemoveMethod, domain.EventParams{
		AgentID:  a.cfg.Name,
		MethodID: m.Label,
		X:        m.Position.X,
		Y:        m.Position.Y,
	})
	a.logAction(ctx, "method_completed", m.Label, map[string]any{"quality": el.Quality})
	a.trigger()
	return true
}

// Tree returns a pruned copy of the agent's current work.
func (a *Agent) Tree() *taems.Task {
	a.treeMu.Lock()
	defer a.treeMu.Unlock()
	return a.tree.Pruned()
}
