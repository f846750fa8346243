package agent

import (
	"context"
	"fmt"
	"strings"

	"mas_sched/internal/domain"
	"mas_sched/internal/negotiation"
)

// Negotiate auctions task name among the agents this agent manages. An agent
// without managed agents keeps the task.
func (a *Agent) Negotiate(ctx context.Context, name string) error {
	task, err := a.deps.Repository.GetTask(name)
	if err != nil {
		a.logger.Printf("agent %s negotiate task=%s: %v", a.cfg.Name, name, err)
		a.logAction(ctx, "negotiate_failed", err.Error(), map[string]any{"task": name})
		return err
	}
	if !a.cfg.Managing || len(a.cfg.Children) == 0 {
		a.logAction(ctx, "negotiation_skipped", "no managed agents", map[string]any{"task": name})
		return a.AssignTask(ctx, name)
	}

	round := negotiation.NewRound(task.Label, a.cfg.Name, len(a.cfg.Children)+1)
	base, incremental := a.CalculateIncrementalQualities(task)
	round.AddCostData(a.cfg.Name, base, incremental)

	a.roundsMu.Lock()
	a.rounds[round.ID] = round
	a.roundsMu.Unlock()

	if a.deps.Store != nil {
		if err := a.deps.Store.CreateNegotiation(ctx, domain.Negotiation{
			ID:           round.ID,
			TaskName:     round.TaskName,
			Requester:    a.cfg.Name,
			Participants: round.Expected,
			Status:       domain.NegotiationStatusOpen,
			CreatedAt:    round.CreatedAt,
		}); err != nil {
			a.logger.Printf("agent %s record negotiation %s: %v", a.cfg.Name, round.ID, err)
		}
	}
	a.logAction(ctx, "negotiation_opened", round.TaskName, map[string]any{
		"round":       round.ID,
		"base":        base,
		"incremental": incremental,
	})

	for _, child := range a.cfg.Children {
		err := a.publish(child, domain.CommandCalculateCost, domain.EventParams{
			TaskName:  round.TaskName,
			AgentID:   child,
			Requester: a.cfg.Name,
			RoundID:   round.ID,
		})
		if err != nil {
			round.Withdraw()
		}
	}
	if round.Complete() {
		a.resolveRound(ctx, round)
	}
	return nil
}

// CalculateCost answers a cost request with this agent's qualities for the
// task.
func (a *Agent) CalculateCost(ctx context.Context, name, requester, roundID string) error {
	task, err := a.deps.Repository.GetTask(name)
	if err != nil {
		a.logger.Printf("agent %s calculate cost task=%s: %v", a.cfg.Name, name, err)
		return err
	}
	base, incremental := a.CalculateIncrementalQualities(task)
	a.logAction(ctx, "cost_calculated", task.Label, map[string]any{
		"round":       roundID,
		"base":        base,
		"incremental": incremental,
	})
	return a.publish(requester, domain.CommandCostBroadcast, domain.EventParams{
		TaskName:  task.Label,
		AgentID:   a.cfg.Name,
		Requester: requester,
		RoundID:   roundID,
		Data:      negotiation.FormatCost(base, incremental),
	})
}

// ProcessCostBroadcast records a cost answer and resolves the round once
// every participant has answered.
func (a *Agent) ProcessCostBroadcast(ctx context.Context, ev domain.Event) {
	base, incremental, err := negotiation.ParseCost(ev.Params.Data)
	if err != nil {
		a.logger.Printf("agent %s bad cost broadcast from %s: %v", a.cfg.Name, ev.Params.AgentID, err)
		return
	}
	a.roundsMu.Lock()
	round, ok := a.rounds[ev.Params.RoundID]
	a.roundsMu.Unlock()
	if !ok {
		a.logger.Printf("agent %s cost broadcast for unknown round %s", a.cfg.Name, ev.Params.RoundID)
		return
	}
	if round.AddCostData(ev.Params.AgentID, base, incremental) {
		a.resolveRound(ctx, round)
	}
}

func (a *Agent) resolveRound(ctx context.Context, round *negotiation.Round) {
	a.roundsMu.Lock()
	if _, ok := a.rounds[round.ID]; !ok {
		a.roundsMu.Unlock()
		return
	}
	delete(a.rounds, round.ID)
	a.roundsMu.Unlock()

	var problemText string
	if p, _, err := round.Problem(); err == nil {
		problemText = p.String()
		if a.deps.Artifacts != nil {
			rel := fmt.Sprintf("rounds/%s.maxsum", round.ID)
			if err := a.deps.Artifacts.WriteArtifact(ctx, a.cfg.Name, "problem", rel, []byte(problemText)); err != nil {
				a.logger.Printf("agent %s dump problem %s: %v", a.cfg.Name, round.ID, err)
			}
		}
	}

	winner, awarded, err := round.Resolve(ctx, a.deps.Solver)
	if err != nil {
		a.logger.Printf("agent %s resolve round %s: %v", a.cfg.Name, round.ID, err)
	}
	status := domain.NegotiationStatusRetained
	if awarded {
		status = domain.NegotiationStatusAwarded
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.ResolveNegotiation(ctx, round.ID, winner, status, problemText); err != nil {
			a.logger.Printf("agent %s record negotiation result %s: %v", a.cfg.Name, round.ID, err)
		}
	}
	a.logAction(ctx, "negotiation_resolved", round.TaskName, map[string]any{
		"round":   round.ID,
		"winner":  winner,
		"awarded": awarded,
	})

	if strings.EqualFold(winner, a.cfg.Name) {
		_ = a.AssignTask(ctx, round.TaskName)
		return
	}
	if err := a.publish(winner, domain.CommandAssignTask, domain.EventParams{
		TaskName:  round.TaskName,
		AgentID:   winner,
		Requester: a.cfg.Name,
	}); err != nil {
		_ = a.AssignTask(ctx, round.TaskName)
	}
}
