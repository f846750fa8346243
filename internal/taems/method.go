// Package taems holds the hierarchical task model: methods, composite tasks
// and the enabler relations between them.
package taems

import (
	"fmt"
	"math"
)

const (
	StartIndex = 1
	EndIndex   = 2

	StartLabel = "Start"
	EndLabel   = "End"
)

type Outcome struct {
	Quality  float64 `json:"quality"`
	Duration float64 `json:"duration"`
	Cost     float64 `json:"cost"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) Distance(o Position) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Interrelationship is an enabler edge: To may not execute before From is completed.
type Interrelationship struct {
	From    Node
	To      Node
	Outcome Outcome
}

// Method is a primitive executable action. Two methods are the same iff their
// indices match.
type Method struct {
	Index              int
	Origin             int
	Label              string
	Outcome            Outcome
	Deadline           float64
	Position           Position
	Interrelationships []Interrelationship

	completed bool
}

func (m *Method) Equal(o *Method) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Index == o.Index
}

func (m *Method) IsSentinel() bool {
	return m.Index == StartIndex || m.Index == EndIndex
}

// MarkCompleted flags a tree method as done. Callers hold the owning tree's lock.
func (m *Method) MarkCompleted() { m.completed = true }

func (m *Method) Completed() bool { return m.completed }

// Enablers lists the nodes that must be completed before m may run.
func (m *Method) Enablers() []Node {
	out := make([]Node, 0, len(m.Interrelationships))
	for _, ir := range m.Interrelationships {
		out = append(out, ir.From)
	}
	return out
}

func (m *Method) String() string {
	return fmt.Sprintf("%s#%d", m.Label, m.Index)
}
