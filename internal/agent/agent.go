// Package agent runs one scheduling agent: it keeps a task tree, recomputes
// the best schedule when work changes, executes it method by method and takes
// part in task negotiations.
package agent

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

	"mas_sched/internal/domain"
	"mas_sched/internal/negotiation"
	"mas_sched/internal/schedule"
	"mas_sched/internal/taems"
)

var ErrNoGraph = errors.New("no schedule graph compiled yet")

type MessageQueue interface {
	Register(agentID string) <-chan domain.Event
	Unregister(agentID string)
	Publish(ev domain.Event) error
}

type Repository interface {
	GetTask(name string) (*taems.Task, error)
}

type Registry interface {
	AddMethod(ctx context.Context, label string, index int, agent string)
	AddTask(ctx context.Context, label, agent string)
}

type Gate interface {
	EnablersInPlace(m *taems.Method) (bool, string)
}

type Store interface {
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
	CreateNegotiation(ctx context.Context, n domain.Negotiation) error
	ResolveNegotiation(ctx context.Context, id, winner string, status domain.NegotiationStatus, problem string) error
}

type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, agentID, kind, relPath string, content []byte) error
}

type Deps struct {
	Bus        MessageQueue
	Repository Repository
	Registry   Registry
	Gate       Gate
	Solver     negotiation.Solver
	Arena      *taems.Arena
	Store      Store
	Artifacts  ArtifactWriter
}

type Config struct {
	Name              string
	Position          taems.Position
	Managing          bool
	Children          []string
	ExecutionInterval time.Duration
	RetryInterval     time.Duration
	HeuristicCap      float64
}

func (c Config) withDefaults() Config {
	if c.ExecutionInterval <= 0 {
		c.ExecutionInterval = 100 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.HeuristicCap <= 0 {
		c.HeuristicCap = schedule.DefaultHeuristicCap
	}
	return c
}

type Agent struct {
	cfg      Config
	deps     Deps
	compiler *schedule.Compiler
	selector *schedule.Selector
	logger   *log.Logger

	// calcMu serializes schedule and cost computations.
	calcMu sync.Mutex

	// treeMu guards tree and pending.
	treeMu  sync.Mutex
	tree    *taems.Task
	pending []*taems.Task

	// mu guards the live schedule and execution state.
	mu          sync.Mutex
	status      domain.AgentStatus
	position    taems.Position
	live        *schedule.Schedule
	compilation *schedule.Compilation
	blockedOn   string
	updatedAt   time.Time

	roundsMu sync.Mutex
	rounds   map[string]*negotiation.Round

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, deps Deps, logger *log.Logger) *Agent {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if deps.Arena == nil {
		deps.Arena = taems.NewArena()
	}
	if deps.Solver == nil {
		deps.Solver = negotiation.BruteForceSolver{}
	}
	selector := schedule.NewSelector()
	selector.HeuristicCap = cfg.HeuristicCap
	return &Agent{
		cfg:       cfg,
		deps:      deps,
		compiler:  schedule.NewCompiler(deps.Arena),
		selector:  selector,
		logger:    logger,
		tree:      taems.NewTask("Task Group", taems.SumAllQAF),
		status:    domain.AgentStatusEmpty,
		position:  cfg.Position,
		live:      &schedule.Schedule{},
		updatedAt: time.Now().UTC(),
		rounds:    make(map[string]*negotiation.Round),
		wake:      make(chan struct{}, 1),
	}
}

func (a *Agent) Name() string { return a.cfg.Name }

// Start registers the agent on the bus and runs its inbox, scheduling and
// execution loops until ctx is done.
func (a *Agent) Start(ctx context.Context) {
	ch := a.deps.Bus.Register(a.cfg.Name)
	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		defer a.deps.Bus.Unregister(a.cfg.Name)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				a.handleEvent(ctx, ev)
			}
		}
	}()
	go func() {
		defer a.wg.Done()
		a.scheduleLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.executionLoop(ctx)
	}()

	pos := a.Position()
	_ = a.publish(domain.DisplayListener, domain.CommandDisplayAddAgent, domain.EventParams{
		AgentID: a.cfg.Name,
		X:       pos.X,
		Y:       pos.Y,
	})
}

func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) handleEvent(ctx context.Context, ev domain.Event) {
	if !strings.EqualFold(ev.AgentName, a.cfg.Name) {
		a.logger.Printf("agent %s ignoring event %s addressed to %s", a.cfg.Name, ev.Type, ev.AgentName)
		return
	}

	switch ev.Type {
	case domain.CommandAssignTask:
		_ = a.AssignTask(ctx, ev.Params.TaskName)
	case domain.CommandNegotiate:
		_ = a.Negotiate(ctx, ev.Params.TaskName)
	case domain.CommandCalculateCost:
		_ = a.CalculateCost(ctx, ev.Params.TaskName, ev.Params.Requester, ev.Params.RoundID)
	case domain.CommandCostBroadcast:
		a.ProcessCostBroadcast(ctx, ev)
	case domain.CommandMethodCompleted:
		a.MarkMethodCompleted(ctx, ev.Params.MethodID)
	default:
		a.logger.Printf("agent %s unsupported event type=%s", a.cfg.Name, ev.Type)
	}
}

func (a *Agent) Position() taems.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *Agent) Status() domain.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Snapshot reports the agent's state for display.
func (a *Agent) Snapshot() domain.AgentSnapshot {
	a.treeMu.Lock()
	var tasks []string
	for _, c := range a.tree.Children() {
		tasks = append(tasks, c.Label())
	}
	pending := len(a.pending)
	a.treeMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	snap := domain.AgentSnapshot{
		Name:         a.cfg.Name,
		Status:       a.status,
		X:            a.position.X,
		Y:            a.position.Y,
		Managing:     a.cfg.Managing,
		Children:     append([]string(nil), a.cfg.Children...),
		Tasks:        tasks,
		PendingTasks: pending,
		TotalQuality: a.live.TotalQuality,
		Schedule:     make([]domain.ScheduleItem, 0, a.live.Len()),
		UpdatedAt:    a.updatedAt,
	}
	for _, el := range a.live.Items {
		snap.Schedule = append(snap.Schedule, domain.ScheduleItem{
			Label:   el.Method.Label,
			Index:   el.Method.Index,
			Quality: el.Quality,
			Status:  string(el.Status),
			X:       el.Method.Position.X,
			Y:       el.Method.Position.Y,
		})
		if el.Status == schedule.ElementActive {
			snap.Current = el.Method.Label
		}
	}
	return snap
}

// WriteGraph renders the most recently compiled graph as Graphviz dot.
func (a *Agent) WriteGraph(w io.Writer) error {
	a.mu.Lock()
	comp := a.compilation
	a.mu.Unlock()
	if comp == nil {
		return ErrNoGraph
	}
	return comp.Graph.WriteDOT(w, a.cfg.Name)
}

func (a *Agent) trigger() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Agent) publish(to string, typ domain.CommandType, params domain.EventParams) error {
	ev := domain.Event{
		ID:        uuid.NewString(),
		AgentName: to,
		Type:      typ,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.deps.Bus.Publish(ev); err != nil {
		a.logger.Printf("agent %s publish %s to %s failed: %v", a.cfg.Name, typ, to, err)
		return fmt.Errorf("publish %s to %s: %w", typ, to, err)
	}
	return nil
}

func (a *Agent) logAction(ctx context.Context, action, reason string, payload any) {
	if a.deps.Store == nil || action == "" {
		return
	}
	raw := []byte("{}")
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	if err := a.deps.Store.LogDecision(ctx, domain.DecisionLog{
		Actor:   a.cfg.Name,
		Action:  action,
		Reason:  reason,
		Payload: raw,
	}); err != nil {
		a.logger.Printf("agent %s log decision %s failed: %v", a.cfg.Name, action, err)
	}
}
