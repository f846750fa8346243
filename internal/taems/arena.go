package taems

import "sync/atomic"

// Arena allocates method indices. One arena is shared by everything that
// creates methods in a process so indices never collide.
type Arena struct {
	next atomic.Int64
}

func NewArena() *Arena {
	a := &Arena{}
	a.next.Store(EndIndex)
	return a
}

func (a *Arena) nextIndex() int {
	return int(a.next.Add(1))
}

func (a *Arena) NewMethod(label string, outcome Outcome, pos Position, deadline float64) *Method {
	idx := a.nextIndex()
	return &Method{
		Index:    idx,
		Origin:   idx,
		Label:    label,
		Outcome:  outcome,
		Deadline: deadline,
		Position: pos,
	}
}

// Clone copies m under a fresh index. Interrelationships are carried over and
// Origin keeps pointing at the tree method the first clone was made from.
func (a *Arena) Clone(m *Method) *Method {
	c := &Method{
		Index:    a.nextIndex(),
		Origin:   m.Origin,
		Label:    m.Label,
		Outcome:  m.Outcome,
		Deadline: m.Deadline,
		Position: m.Position,
	}
	if c.Origin == 0 {
		c.Origin = m.Index
	}
	if len(m.Interrelationships) > 0 {
		c.Interrelationships = append([]Interrelationship(nil), m.Interrelationships...)
	}
	return c
}

func NewStart(pos Position) *Method {
	return &Method{Index: StartIndex, Origin: StartIndex, Label: StartLabel, Position: pos}
}

func NewEnd(pos Position) *Method {
	return &Method{Index: EndIndex, Origin: EndIndex, Label: EndLabel, Position: pos}
}
