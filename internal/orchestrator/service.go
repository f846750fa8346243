// Package orchestrator owns a simulated world: the shared identity arena, the
// completion registry, the event bus and every scheduling agent. It consumes
// display events, optionally simulates method execution and exposes the
// command center used by the server and the monitor.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mas_sched/internal/agent"
	"mas_sched/internal/config"
	"mas_sched/internal/domain"
	"mas_sched/internal/fs"
	"mas_sched/internal/messaging/inproc"
	"mas_sched/internal/negotiation"
	"mas_sched/internal/policy"
	"mas_sched/internal/registry"
	"mas_sched/internal/repository"
	"mas_sched/internal/taems"
)

const worldActor = "world"

const recentEventLimit = 200

var (
	ErrAgentNotRegistered = errors.New("agent not registered")
	ErrAgentExists        = errors.New("agent already registered")
	ErrBadCommand         = errors.New("command must look like Agent>Task")
)

type Store interface {
	RecordCompletedMethod(ctx context.Context, entry domain.CompletedMethod) error
	RecordCompletedTask(ctx context.Context, entry domain.CompletedTask) error
	ListCompletedMethods(ctx context.Context) ([]domain.CompletedMethod, error)
	ListCompletedTasks(ctx context.Context) ([]domain.CompletedTask, error)

	CreateNegotiation(ctx context.Context, n domain.Negotiation) error
	ResolveNegotiation(ctx context.Context, id, winner string, status domain.NegotiationStatus, problem string) error
	ListNegotiations(ctx context.Context, limit int) ([]domain.Negotiation, error)

	CreateArtifact(ctx context.Context, artifact domain.Artifact) error

	LogDecision(ctx context.Context, entry domain.DecisionLog) error
	ListDecisions(ctx context.Context, actor string, limit int) ([]domain.DecisionLog, error)
}

type Config struct {
	BusBuffer         int
	ExecutionInterval time.Duration
	RetryInterval     time.Duration
	HeuristicCap      float64
	// DumpDir receives compiled graphs and allocation problems when set.
	DumpDir string
	// SimulationUnit completes a dispatched method after duration*unit. Zero
	// disables simulated execution.
	SimulationUnit time.Duration
	// RestoreCompleted seeds the registry with completions persisted by
	// earlier runs. Off, each run starts with an empty registry and the store
	// only keeps the history.
	RestoreCompleted bool
}

func (c Config) withDefaults() Config {
	if c.BusBuffer <= 0 {
		c.BusBuffer = 256
	}
	if c.ExecutionInterval <= 0 {
		c.ExecutionInterval = 100 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	return c
}

type Service struct {
	store  Store
	cfg    Config
	logger *log.Logger

	arena    *taems.Arena
	repo     *repository.Repository
	registry *registry.Completed
	bus      *inproc.Bus
	policy   *policy.Engine
	files    *fs.Gateway
	solver   negotiation.Solver

	mu      sync.RWMutex
	agents  map[string]*agent.Agent
	order   []string
	initial map[string][]string
	runCtx  context.Context

	eventsMu sync.Mutex
	events   []domain.Event

	wg sync.WaitGroup
}

// New builds the world around store. The completion registry is restored
// from it only when cfg.RestoreCompleted is set.
func New(ctx context.Context, store Store, cfg Config, logger *log.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	arena := taems.NewArena()
	reg := registry.New(store, logger)

	if cfg.RestoreCompleted {
		methods, err := store.ListCompletedMethods(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore completed methods: %w", err)
		}
		tasks, err := store.ListCompletedTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore completed tasks: %w", err)
		}
		reg.Restore(methods, tasks)
		logger.Printf("world restored completed methods=%d tasks=%d", len(methods), len(tasks))
	}

	s := &Service{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		arena:    arena,
		repo:     repository.New(arena),
		registry: reg,
		bus:      inproc.New(cfg.BusBuffer),
		policy:   policy.New(reg),
		solver:   negotiation.BruteForceSolver{},
		agents:   make(map[string]*agent.Agent),
		initial:  make(map[string][]string),
	}
	if strings.TrimSpace(cfg.DumpDir) != "" {
		files, err := fs.NewGateway(cfg.DumpDir, s.policy, store)
		if err != nil {
			return nil, fmt.Errorf("create dump gateway: %w", err)
		}
		s.files = files
	}
	return s, nil
}

func (s *Service) Repository() *repository.Repository { return s.repo }

func (s *Service) Registry() *registry.Completed { return s.registry }

// LoadTasks adds every task definition found at path to the repository.
func (s *Service) LoadTasks(path string) error {
	if err := s.repo.LoadPath(path); err != nil {
		return err
	}
	s.logger.Printf("world loaded task definitions path=%s tasks=%s", path, strings.Join(s.repo.Names(), ","))
	return nil
}

// AddAgent creates an agent from its configuration. Agents added after Start
// begin running immediately.
func (s *Service) AddAgent(ac config.AgentConfig) (*agent.Agent, error) {
	name := strings.TrimSpace(ac.Name)
	if name == "" {
		return nil, fmt.Errorf("add agent: name is required")
	}
	k := strings.ToLower(name)

	s.mu.Lock()
	if _, ok := s.agents[k]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("add agent %s: %w", name, ErrAgentExists)
	}
	deps := agent.Deps{
		Bus:        s.bus,
		Repository: s.repo,
		Registry:   s.registry,
		Gate:       s.policy,
		Solver:     s.solver,
		Arena:      s.arena,
		Store:      s.store,
	}
	if s.files != nil {
		deps.Artifacts = s.files
	}
	a := agent.New(agent.Config{
		Name:              name,
		Position:          taems.Position{X: ac.X, Y: ac.Y},
		Managing:          ac.Managing,
		Children:          append([]string(nil), ac.Children...),
		ExecutionInterval: s.cfg.ExecutionInterval,
		RetryInterval:     s.cfg.RetryInterval,
		HeuristicCap:      s.cfg.HeuristicCap,
	}, deps, s.logger)
	s.agents[k] = a
	s.order = append(s.order, k)
	if len(ac.Tasks) > 0 {
		s.initial[k] = append([]string(nil), ac.Tasks...)
	}
	runCtx := s.runCtx
	s.mu.Unlock()

	s.logDecision(context.Background(), "agent_added", name, ac)
	if runCtx != nil {
		s.startAgent(runCtx, a)
		s.sendInitialTasks(runCtx, k, a)
	}
	return a, nil
}

// Start runs the display loop and every registered agent, then hands each
// agent its configured tasks.
func (s *Service) Start(ctx context.Context) {
	display := s.bus.Register(domain.DisplayListener)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.bus.Unregister(domain.DisplayListener)
		s.displayLoop(ctx, display)
	}()

	s.mu.Lock()
	s.runCtx = ctx
	type entry struct {
		key string
		a   *agent.Agent
	}
	started := make([]entry, 0, len(s.order))
	for _, k := range s.order {
		started = append(started, entry{key: k, a: s.agents[k]})
	}
	s.mu.Unlock()

	for _, e := range started {
		s.startAgent(ctx, e.a)
	}
	// Children must be listening before a manager opens its first round.
	for _, e := range started {
		s.sendInitialTasks(ctx, e.key, e.a)
	}
}

func (s *Service) startAgent(ctx context.Context, a *agent.Agent) {
	a.Start(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.Wait()
	}()
}

func (s *Service) sendInitialTasks(ctx context.Context, key string, a *agent.Agent) {
	s.mu.Lock()
	tasks := s.initial[key]
	delete(s.initial, key)
	s.mu.Unlock()
	for _, task := range tasks {
		if err := s.Negotiate(ctx, a.Name(), task); err != nil {
			s.logger.Printf("world initial task agent=%s task=%s: %v", a.Name(), task, err)
		}
	}
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Agent(name string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", name, ErrAgentNotRegistered)
	}
	return a, nil
}

// Agents returns a snapshot of every agent in registration order.
func (s *Service) Agents() []domain.AgentSnapshot {
	s.mu.RLock()
	list := make([]*agent.Agent, 0, len(s.order))
	for _, k := range s.order {
		list = append(list, s.agents[k])
	}
	s.mu.RUnlock()

	out := make([]domain.AgentSnapshot, 0, len(list))
	for _, a := range list {
		out = append(out, a.Snapshot())
	}
	return out
}

func (s *Service) Assign(ctx context.Context, agentName, task string) error {
	return s.send(ctx, agentName, domain.CommandAssignTask, domain.EventParams{TaskName: task})
}

func (s *Service) Negotiate(ctx context.Context, agentName, task string) error {
	return s.send(ctx, agentName, domain.CommandNegotiate, domain.EventParams{TaskName: task})
}

// Complete reports the method in flight at agentName as finished.
func (s *Service) Complete(ctx context.Context, agentName, method string) error {
	return s.send(ctx, agentName, domain.CommandMethodCompleted, domain.EventParams{MethodID: method})
}

// Command runs a command center line of the form "Agent>Task": the agent
// negotiates the task among the agents it manages, or keeps it.
func (s *Service) Command(ctx context.Context, line string) (agentName, task string, err error) {
	agentName, task, err = ParseCommand(line)
	if err != nil {
		return "", "", err
	}
	if err := s.Negotiate(ctx, agentName, task); err != nil {
		return "", "", err
	}
	return agentName, task, nil
}

func ParseCommand(line string) (agentName, task string, err error) {
	left, right, ok := strings.Cut(line, ">")
	agentName = strings.TrimSpace(left)
	task = strings.TrimSpace(right)
	if !ok || agentName == "" || task == "" || strings.Contains(task, ">") {
		return "", "", fmt.Errorf("parse %q: %w", line, ErrBadCommand)
	}
	return agentName, task, nil
}

func (s *Service) send(ctx context.Context, agentName string, typ domain.CommandType, params domain.EventParams) error {
	a, err := s.Agent(agentName)
	if err != nil {
		return err
	}
	if params.TaskName != "" && !s.repo.Has(params.TaskName) {
		return fmt.Errorf("%w: %s", repository.ErrTaskNotFound, params.TaskName)
	}
	ev := domain.Event{
		ID:        uuid.NewString(),
		AgentName: a.Name(),
		Type:      typ,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.bus.Publish(ev); err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, a.Name(), err)
	}
	s.logDecision(ctx, "command_sent", string(typ), map[string]any{
		"agent":  a.Name(),
		"task":   params.TaskName,
		"method": params.MethodID,
	})
	return nil
}

// WriteGraph renders the last graph compiled by agentName.
func (s *Service) WriteGraph(agentName string, w io.Writer) error {
	a, err := s.Agent(agentName)
	if err != nil {
		return err
	}
	return a.WriteGraph(w)
}

func (s *Service) Decisions(ctx context.Context, actor string, limit int) ([]domain.DecisionLog, error) {
	return s.store.ListDecisions(ctx, actor, limit)
}

func (s *Service) Negotiations(ctx context.Context, limit int) ([]domain.Negotiation, error) {
	return s.store.ListNegotiations(ctx, limit)
}

// Events returns up to limit of the most recent display events, newest last.
func (s *Service) Events(limit int) []domain.Event {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	return append([]domain.Event(nil), s.events[len(s.events)-limit:]...)
}

func (s *Service) displayLoop(ctx context.Context, ch <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.handleDisplay(ctx, ev)
		}
	}
}

func (s *Service) handleDisplay(ctx context.Context, ev domain.Event) {
	s.eventsMu.Lock()
	s.events = append(s.events, ev)
	if over := len(s.events) - recentEventLimit; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.eventsMu.Unlock()

	actor := ev.Params.AgentID
	if actor == "" {
		actor = worldActor
	}
	reason := ev.Params.MethodID
	if reason == "" {
		reason = ev.Params.TaskName
	}
	if err := s.store.LogDecision(ctx, domain.DecisionLog{
		Actor:   actor,
		Action:  strings.ToLower(string(ev.Type)),
		Reason:  reason,
		Payload: mustJSON(ev.Params),
	}); err != nil {
		s.logger.Printf("world record display event %s: %v", ev.Type, err)
	}

	if ev.Type == domain.CommandDisplayTaskExecution && s.cfg.SimulationUnit > 0 {
		s.simulateExecution(ctx, ev.Params)
	}
}

func (s *Service) simulateExecution(ctx context.Context, p domain.EventParams) {
	wait := time.Duration(p.Duration * float64(s.cfg.SimulationUnit))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.Complete(ctx, p.AgentID, p.MethodID); err != nil {
			s.logger.Printf("world simulated completion agent=%s method=%s: %v", p.AgentID, p.MethodID, err)
		}
	}()
}

func (s *Service) logDecision(ctx context.Context, action, reason string, payload any) {
	if err := s.store.LogDecision(ctx, domain.DecisionLog{
		Actor:   worldActor,
		Action:  action,
		Reason:  reason,
		Payload: mustJSON(payload),
	}); err != nil {
		s.logger.Printf("world log decision %s: %v", action, err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
