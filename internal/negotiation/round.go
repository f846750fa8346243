package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Round collects cost answers for one task auction and resolves the winner.
type Round struct {
	ID        string
	TaskName  string
	Requester string
	Expected  int
	CreatedAt time.Time

	mu        sync.Mutex
	qualities []ScheduleQualities
	agents    []string
}

func NewRound(taskName, requester string, expected int) *Round {
	return &Round{
		ID:        uuid.NewString(),
		TaskName:  taskName,
		Requester: requester,
		Expected:  expected,
		CreatedAt: time.Now().UTC(),
	}
}

// AddCostData records one agent's qualities and reports whether the round
// has heard from everyone. Repeated answers from an agent are ignored.
func (r *Round) AddCostData(agent string, base, incremental float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if strings.EqualFold(a, agent) {
			return len(r.agents) >= r.Expected
		}
	}
	r.qualities = append(r.qualities, ScheduleQualities{
		AgentVariableID: len(r.agents),
		Base:            base,
		Incremental:     incremental,
	})
	r.agents = append(r.agents, agent)
	return len(r.agents) >= r.Expected
}

// Withdraw lowers the expected answer count for a participant that cannot be
// reached.
func (r *Round) Withdraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Expected > 0 {
		r.Expected--
	}
}

func (r *Round) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents) >= r.Expected
}

func (r *Round) Responses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Candidates applies the idle preference and returns the renumbered
// qualities with the variable-id to agent table for this round.
func (r *Round) Candidates() ([]ScheduleQualities, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return FilterCandidates(r.qualities, r.agents)
}

// FilterCandidates keeps only idle agents (Base == 0) when there is at least
// one, otherwise every agent.
func FilterCandidates(qs []ScheduleQualities, agents []string) ([]ScheduleQualities, []string) {
	idle := false
	for _, q := range qs {
		if q.Base == 0 {
			idle = true
			break
		}
	}
	var (
		outQ []ScheduleQualities
		outA []string
	)
	for _, q := range qs {
		if idle && q.Base != 0 {
			continue
		}
		if q.AgentVariableID < 0 || q.AgentVariableID >= len(agents) {
			continue
		}
		outA = append(outA, agents[q.AgentVariableID])
		q.AgentVariableID = len(outQ)
		outQ = append(outQ, q)
	}
	return outQ, outA
}

// Problem encodes the current candidates.
func (r *Round) Problem() (Problem, []string, error) {
	qs, agents := r.Candidates()
	p, err := Encode(qs)
	if err != nil {
		return Problem{}, nil, err
	}
	return p, agents, nil
}

// Resolve runs the solver and returns the winning agent. When there is no
// candidate or no feasible solution the requester keeps the task and awarded
// is false.
func (r *Round) Resolve(ctx context.Context, solver Solver) (winner string, awarded bool, err error) {
	p, agents, err := r.Problem()
	if errors.Is(err, ErrNoCandidates) {
		return r.Requester, false, nil
	}
	if err != nil {
		return r.Requester, false, fmt.Errorf("encode round %s: %w", r.ID, err)
	}
	v, ok, err := solver.Solve(ctx, p)
	if err != nil {
		return r.Requester, false, fmt.Errorf("solve round %s: %w", r.ID, err)
	}
	if !ok || v < 0 || v >= len(agents) {
		return r.Requester, false, nil
	}
	return agents[v], true, nil
}

// FormatCost renders a cost answer as "base,incremental".
func FormatCost(base, incremental float64) string {
	return strconv.FormatFloat(base, 'f', -1, 64) + "," + strconv.FormatFloat(incremental, 'f', -1, 64)
}

func ParseCost(data string) (base, incremental float64, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("cost data %q: want base,incremental", data)
	}
	base, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse base: %w", err)
	}
	incremental, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse incremental: %w", err)
	}
	return base, incremental, nil
}
