package agent

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"mas_sched/internal/domain"
	"mas_sched/internal/messaging/inproc"
	"mas_sched/internal/negotiation"
	"mas_sched/internal/policy"
	"mas_sched/internal/registry"
	"mas_sched/internal/repository"
	"mas_sched/internal/taems"
)

type fakeStore struct {
	mu           sync.Mutex
	decisions    []domain.DecisionLog
	negotiations map[string]domain.Negotiation
}

func newFakeStore() *fakeStore {
	return &fakeStore{negotiations: make(map[string]domain.Negotiation)}
}

func (s *fakeStore) LogDecision(_ context.Context, entry domain.DecisionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, entry)
	return nil
}

func (s *fakeStore) CreateNegotiation(_ context.Context, n domain.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations[n.ID] = n
	return nil
}

func (s *fakeStore) ResolveNegotiation(_ context.Context, id, winner string, status domain.NegotiationStatus, problem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.negotiations[id]
	n.Winner = winner
	n.Status = status
	n.Problem = problem
	s.negotiations[id] = n
	return nil
}

func (s *fakeStore) resolved() []domain.Negotiation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Negotiation
	for _, n := range s.negotiations {
		if n.Status != domain.NegotiationStatusOpen {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	ctx      context.Context
	bus      *inproc.Bus
	repo     *repository.Repository
	registry *registry.Completed
	store    *fakeStore
	arena    *taems.Arena
	display  <-chan domain.Event
	logger   *log.Logger
}

func newHarness(t *testing.T, defs ...repository.NodeDef) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.New(io.Discard, "", 0)
	arena := taems.NewArena()
	repo := repository.New(arena)
	for _, d := range defs {
		if err := repo.Add(d); err != nil {
			t.Fatalf("add definition %s: %v", d.Name, err)
		}
	}
	bus := inproc.New(256)
	return &harness{
		ctx:      ctx,
		bus:      bus,
		repo:     repo,
		registry: registry.New(nil, logger),
		store:    newFakeStore(),
		arena:    arena,
		display:  bus.Register(domain.DisplayListener),
		logger:   logger,
	}
}

func (h *harness) newAgent(cfg Config) *Agent {
	if cfg.ExecutionInterval == 0 {
		cfg.ExecutionInterval = 5 * time.Millisecond
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 20 * time.Millisecond
	}
	return New(cfg, Deps{
		Bus:        h.bus,
		Repository: h.repo,
		Registry:   h.registry,
		Gate:       policy.New(h.registry),
		Solver:     negotiation.BruteForceSolver{},
		Arena:      h.arena,
		Store:      h.store,
	}, h.logger)
}

func (h *harness) startAgent(cfg Config) *Agent {
	a := h.newAgent(cfg)
	a.Start(h.ctx)
	return a
}

func (h *harness) send(t *testing.T, to string, typ domain.CommandType, params domain.EventParams) {
	t.Helper()
	if err := h.bus.Publish(domain.Event{AgentName: to, Type: typ, Params: params}); err != nil {
		t.Fatalf("publish %s to %s: %v", typ, to, err)
	}
}

func (h *harness) nextDisplay(t *testing.T, typ domain.CommandType, timeout time.Duration) domain.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-h.display:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for display event %s", typ)
			return domain.Event{}
		}
	}
}

func (h *harness) expectNoDisplay(t *testing.T, typ domain.CommandType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case ev := <-h.display:
			if ev.Type == typ {
				t.Fatalf("unexpected display event %s for %s", typ, ev.Params.MethodID)
			}
		case <-deadline:
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func leaf(name string, quality, duration, x, y float64, enabledBy ...string) repository.NodeDef {
	return repository.NodeDef{Name: name, Quality: quality, Duration: duration, X: x, Y: y, EnabledBy: enabledBy}
}

func group(name, qaf string, children ...repository.NodeDef) repository.NodeDef {
	return repository.NodeDef{Name: name, QAF: qaf, Children: children}
}

func scheduleLabels(s domain.AgentSnapshot) string {
	parts := make([]string, 0, len(s.Schedule))
	for _, it := range s.Schedule {
		parts = append(parts, it.Label)
	}
	return strings.Join(parts, ",")
}

func TestAgentSchedulesAndDispatchesAssignedTask(t *testing.T) {
	h := newHarness(t, group("Task2", "sum_all",
		leaf("M1", 8, 1, 1, 0),
		leaf("M2", 10, 1, 2, 0),
		leaf("M3", 12, 1, 3, 0),
	))
	a := h.startAgent(Config{Name: "Truck1"})

	h.send(t, "Truck1", domain.CommandAssignTask, domain.EventParams{TaskName: "Task2"})

	ev := h.nextDisplay(t, domain.CommandDisplayTaskExecution, 2*time.Second)
	if ev.Params.MethodID != "M1" || ev.Params.X != 1 {
		t.Fatalf("expected M1 at x=1 to run first, got %+v", ev.Params)
	}
	snap := a.Snapshot()
	if snap.Status != domain.AgentStatusAwaitingCompletion {
		t.Fatalf("expected awaiting completion, got %s", snap.Status)
	}
	if got := scheduleLabels(snap); got != "M1,M2,M3" {
		t.Fatalf("unexpected schedule %s", got)
	}
	if snap.TotalQuality != 27 {
		t.Fatalf("expected total quality 27, got %v", snap.TotalQuality)
	}
	if snap.Current != "M1" {
		t.Fatalf("expected M1 in flight, got %q", snap.Current)
	}

	var buf strings.Builder
	if err := a.WriteGraph(&buf); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	if !strings.Contains(buf.String(), "digraph") {
		t.Fatalf("expected dot output, got %q", buf.String())
	}
}

func TestAgentRunsScheduleToCompletion(t *testing.T) {
	h := newHarness(t, group("Task2", "sum_all",
		leaf("M1", 8, 1, 1, 0),
		leaf("M2", 10, 1, 2, 0),
		leaf("M3", 12, 1, 3, 0),
	))
	a := h.startAgent(Config{Name: "Truck1"})
	h.send(t, "Truck1", domain.CommandAssignTask, domain.EventParams{TaskName: "Task2"})

	var order []string
	for i := 0; i < 3; i++ {
		ev := h.nextDisplay(t, domain.CommandDisplayTaskExecution, 2*time.Second)
		order = append(order, ev.Params.MethodID)
		h.send(t, "Truck1", domain.CommandMethodCompleted, domain.EventParams{MethodID: strings.ToLower(ev.Params.MethodID)})
	}
	if got := strings.Join(order, ","); got != "M1,M2,M3" {
		t.Fatalf("unexpected execution order %s", got)
	}

	waitFor(t, 2*time.Second, "task completion", func() bool {
		return h.registry.TaskCompleted("Task2") && a.Status() == domain.AgentStatusEmpty
	})
	if len(h.registry.Methods()) != 3 {
		t.Fatalf("expected 3 completed methods, got %d", len(h.registry.Methods()))
	}
	if pos := a.Position(); pos.X != 3 {
		t.Fatalf("expected agent to end at the last method, got %+v", pos)
	}
}

func TestAgentIgnoresCompletionOfIdleMethod(t *testing.T) {
	h := newHarness(t, group("Task1", "seq_sum", leaf("M1", 5, 1, 0, 0)))
	a := h.newAgent(Config{Name: "Truck1"})
	if a.MarkMethodCompleted(h.ctx, "M1") {
		t.Fatalf("expected completion without a method in flight to be ignored")
	}
}

func TestAgentWaitsForEnablers(t *testing.T) {
	h := newHarness(t, group("Refuel", "seq_sum",
		leaf("Drive", 5, 1, 0, 0),
		leaf("Fill", 20, 1, 0, 0, "gasStationOpen"),
	))
	h.startAgent(Config{Name: "Truck1"})
	h.send(t, "Truck1", domain.CommandAssignTask, domain.EventParams{TaskName: "Refuel"})

	ev := h.nextDisplay(t, domain.CommandDisplayTaskExecution, 2*time.Second)
	if ev.Params.MethodID != "Drive" {
		t.Fatalf("expected Drive first, got %s", ev.Params.MethodID)
	}
	h.send(t, "Truck1", domain.CommandMethodCompleted, domain.EventParams{MethodID: "Drive"})

	h.expectNoDisplay(t, domain.CommandDisplayTaskExecution, 100*time.Millisecond)

	h.registry.AddMethod(h.ctx, "gasStationOpen", 0, "station")
	ev = h.nextDisplay(t, domain.CommandDisplayTaskExecution, 2*time.Second)
	if ev.Params.MethodID != "Fill" {
		t.Fatalf("expected Fill after enabler, got %s", ev.Params.MethodID)
	}
}

func TestAgentIgnoresMisaddressedEvents(t *testing.T) {
	h := newHarness(t, group("Task1", "seq_sum", leaf("M1", 5, 1, 0, 0)))
	a := h.newAgent(Config{Name: "Truck1"})

	a.handleEvent(h.ctx, domain.Event{AgentName: "Helicopter1", Type: domain.CommandAssignTask, Params: domain.EventParams{TaskName: "Task1"}})
	if snap := a.Snapshot(); snap.PendingTasks != 0 {
		t.Fatalf("expected misaddressed assignment to be ignored, got %d pending", snap.PendingTasks)
	}
}

func TestAgentRejectsUnknownTask(t *testing.T) {
	h := newHarness(t)
	a := h.newAgent(Config{Name: "Truck1"})
	if err := a.AssignTask(h.ctx, "Nope"); err == nil {
		t.Fatalf("expected unknown task to fail")
	}
	if snap := a.Snapshot(); snap.PendingTasks != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestCalculateIncrementalQualitiesLeavesTreeAlone(t *testing.T) {
	h := newHarness(t,
		group("Big", "seq_sum", leaf("B1", 100, 1, 0, 0)),
		group("Job", "seq_sum", leaf("J1", 10, 1, 0, 0)),
	)
	a := h.newAgent(Config{Name: "Truck1"})
	if err := a.AssignTask(h.ctx, "Big"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	job, err := h.repo.GetTask("Job")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	base, incremental := a.CalculateIncrementalQualities(job)
	if base != 110 || incremental != 100 {
		t.Fatalf("expected base=110 incremental=100, got %v %v", base, incremental)
	}
	snap := a.Snapshot()
	if snap.PendingTasks != 1 || len(snap.Tasks) != 0 {
		t.Fatalf("expected tree untouched, got %+v", snap)
	}
}

func TestAgentReordersTasksToMeetDeadlines(t *testing.T) {
	urgent := leaf("U1", 20, 2, 0, 0)
	urgent.Deadline = 5
	h := newHarness(t,
		group("Far", "seq_sum", leaf("F1", 50, 10, 0, 0)),
		group("Urgent", "seq_sum", urgent),
	)
	a := h.newAgent(Config{Name: "Truck1"})
	if err := a.AssignTask(h.ctx, "Far"); err != nil {
		t.Fatalf("assign far: %v", err)
	}

	task, err := h.repo.GetTask("Urgent")
	if err != nil {
		t.Fatalf("get urgent: %v", err)
	}
	base, incremental := a.CalculateIncrementalQualities(task)
	if base != 70 || incremental != 50 {
		t.Fatalf("expected base=70 incremental=50, got %v %v", base, incremental)
	}

	if err := a.AssignTask(h.ctx, "Urgent"); err != nil {
		t.Fatalf("assign urgent: %v", err)
	}
	s, ok := a.CalculateSchedule(h.ctx)
	if !ok {
		t.Fatalf("expected a feasible schedule running the urgent task first")
	}
	var labels []string
	for _, el := range s.Items {
		labels = append(labels, el.Method.Label)
	}
	if got := strings.Join(labels, ","); got != "U1,F1" {
		t.Fatalf("unexpected schedule %s", got)
	}
	if s.TotalQuality != 70 {
		t.Fatalf("expected total quality 70, got %v", s.TotalQuality)
	}
}

func TestNegotiationAwardsHighestIncremental(t *testing.T) {
	h := newHarness(t,
		group("Big", "seq_sum", leaf("B1", 100, 1, 0, 0)),
		group("Job", "seq_sum", leaf("J1", 10, 1, 0, 0)),
	)
	truck := h.startAgent(Config{Name: "Truck1", Managing: true, Children: []string{"Helicopter1"}})
	heli := h.startAgent(Config{Name: "Helicopter1"})

	h.send(t, "Helicopter1", domain.CommandAssignTask, domain.EventParams{TaskName: "Big"})
	waitFor(t, 2*time.Second, "helicopter schedule", func() bool {
		return len(heli.Snapshot().Schedule) > 0
	})

	h.send(t, "Truck1", domain.CommandNegotiate, domain.EventParams{TaskName: "Job"})
	waitFor(t, 2*time.Second, "job assigned to helicopter", func() bool {
		for _, name := range heli.Snapshot().Tasks {
			if name == "Job" {
				return true
			}
		}
		return false
	})
	if tasks := truck.Snapshot().Tasks; len(tasks) != 0 {
		t.Fatalf("expected truck to stay idle, got %v", tasks)
	}

	resolved := h.store.resolved()
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved negotiation, got %d", len(resolved))
	}
	n := resolved[0]
	if n.Winner != "Helicopter1" || n.Status != domain.NegotiationStatusAwarded {
		t.Fatalf("unexpected negotiation result %+v", n)
	}
	if !strings.HasPrefix(n.Problem, "AGENT 1\n") {
		t.Fatalf("expected encoded problem to be recorded, got %q", n.Problem)
	}
}

func TestNegotiationWithoutManagedAgentsKeepsTask(t *testing.T) {
	h := newHarness(t, group("Job", "seq_sum", leaf("J1", 10, 1, 0, 0)))
	truck := h.startAgent(Config{Name: "Truck1"})

	h.send(t, "Truck1", domain.CommandNegotiate, domain.EventParams{TaskName: "Job"})
	waitFor(t, 2*time.Second, "job kept by requester", func() bool {
		tasks := truck.Snapshot().Tasks
		return len(tasks) == 1 && tasks[0] == "Job"
	})
}

func TestNegotiationWithUnreachableChildKeepsTask(t *testing.T) {
	h := newHarness(t, group("Job", "seq_sum", leaf("J1", 10, 1, 0, 0)))
	truck := h.startAgent(Config{Name: "Truck1", Managing: true, Children: []string{"Ghost"}})

	h.send(t, "Truck1", domain.CommandNegotiate, domain.EventParams{TaskName: "Job"})
	waitFor(t, 2*time.Second, "job kept by requester", func() bool {
		tasks := truck.Snapshot().Tasks
		return len(tasks) == 1 && tasks[0] == "Job"
	})
}
