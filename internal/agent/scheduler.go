package agent

import (
	"bytes"
	"context"
	"strings"
	"time"

	"mas_sched/internal/domain"
	"mas_sched/internal/schedule"
	"mas_sched/internal/taems"
)

func (a *Agent) scheduleLoop(ctx context.Context) {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		case <-retry:
		}
		retry = nil

		s, ok := a.CalculateSchedule(ctx)
		if !ok && a.hasWork() {
			a.logger.Printf("agent %s no feasible schedule, retrying in %s", a.cfg.Name, a.cfg.RetryInterval)
			retry = time.After(a.cfg.RetryInterval)
		}
		a.applySchedule(s)
	}
}

// CalculateSchedule folds pending tasks into the tree, prunes finished work
// and returns the best schedule for what is left. ok is false when there is
// nothing feasible to run right now.
func (a *Agent) CalculateSchedule(ctx context.Context) (*schedule.Schedule, bool) {
	a.calcMu.Lock()
	defer a.calcMu.Unlock()

	a.treeMu.Lock()
	for _, t := range a.pending {
		a.tree.AddChild(taems.TaskNode(t))
	}
	a.pending = nil
	var finished []*taems.Task
	a.tree.Cleanup(func(t *taems.Task) {
		finished = append(finished, t)
	})
	var comp *schedule.Compilation
	if a.tree.HasChildren() {
		comp = a.compiler.Compile(a.tree, a.Position())
	}
	a.treeMu.Unlock()

	for _, t := range finished {
		a.deps.Registry.AddTask(ctx, t.Label, a.cfg.Name)
		_ = a.publish(domain.DisplayListener, domain.CommandTaskCompleted, domain.EventParams{
			AgentID:  a.cfg.Name,
			TaskName: t.Label,
		})
		a.logAction(ctx, "task_completed", t.Label, nil)
	}

	if comp == nil {
		return nil, false
	}
	a.mu.Lock()
	a.compilation = comp
	a.mu.Unlock()
	a.dumpGraph(ctx, comp)

	s, ok := a.selector.Select(comp)
	if !ok {
		return nil, false
	}
	return s, true
}

// applySchedule merges s into the live schedule. A nil s keeps only the
// element in flight.
func (a *Agent) applySchedule(s *schedule.Schedule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live.Merge(s)
	if a.status != domain.AgentStatusAwaitingCompletion {
		if a.live.Len() > 0 {
			a.status = domain.AgentStatusProcessing
		} else {
			a.status = domain.AgentStatusEmpty
		}
	}
	a.updatedAt = time.Now().UTC()
	if s != nil {
		a.logger.Printf("agent %s schedule %s", a.cfg.Name, a.live)
	}
}

func (a *Agent) hasWork() bool {
	a.treeMu.Lock()
	defer a.treeMu.Unlock()
	return a.tree.HasChildren() || len(a.pending) > 0
}

// CalculateIncrementalQualities returns the best schedule quality with task
// added to the current work (base) and without it (incremental). The live
// tree is not modified.
func (a *Agent) CalculateIncrementalQualities(task *taems.Task) (base, incremental float64) {
	a.calcMu.Lock()
	defer a.calcMu.Unlock()

	a.treeMu.Lock()
	without := a.tree.Pruned()
	for _, p := range a.pending {
		without.AddChild(taems.TaskNode(p.Pruned()))
	}
	a.treeMu.Unlock()

	with := taems.NewTask(without.Label, without.QAF, append(without.Children(), taems.TaskNode(task))...)
	pos := a.Position()
	return a.bestQuality(with, pos), a.bestQuality(without, pos)
}

func (a *Agent) bestQuality(root *taems.Task, pos taems.Position) float64 {
	if !root.HasChildren() {
		return 0
	}
	s, ok := a.selector.Select(a.compiler.Compile(root, pos))
	if !ok {
		return 0
	}
	return s.TotalQuality
}

func (a *Agent) dumpGraph(ctx context.Context, comp *schedule.Compilation) {
	if a.deps.Artifacts == nil {
		return
	}
	var buf bytes.Buffer
	if err := comp.Graph.WriteDOT(&buf, a.cfg.Name); err != nil {
		a.logger.Printf("agent %s render graph: %v", a.cfg.Name, err)
		return
	}
	rel := "graphs/" + strings.ToLower(a.cfg.Name) + ".gv"
	if err := a.deps.Artifacts.WriteArtifact(ctx, a.cfg.Name, "graph", rel, buf.Bytes()); err != nil {
		a.logger.Printf("agent %s dump graph: %v", a.cfg.Name, err)
	}
}
