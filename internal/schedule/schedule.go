package schedule

import (
	"fmt"
	"strings"

	"mas_sched/internal/taems"
)

type ElementStatus string

const (
	ElementPending   ElementStatus = "pending"
	ElementActive    ElementStatus = "active"
	ElementCompleted ElementStatus = "completed"
)

type Element struct {
	Method  *taems.Method
	Quality float64
	Status  ElementStatus
}

// Schedule is an ordered list of methods to execute with the quality the path
// selector expects from them.
type Schedule struct {
	Items        []*Element
	TotalQuality float64
}

func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Next returns the first pending element, or nil.
func (s *Schedule) Next() *Element {
	if s == nil {
		return nil
	}
	for _, el := range s.Items {
		if el.Status == ElementPending {
			return el
		}
	}
	return nil
}

// Active returns the element currently executing, or nil.
func (s *Schedule) Active() *Element {
	if s == nil {
		return nil
	}
	for _, el := range s.Items {
		if el.Status == ElementActive {
			return el
		}
	}
	return nil
}

func (s *Schedule) Remove(el *Element) bool {
	for i, it := range s.Items {
		if it == el {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Merge folds a freshly computed schedule into s. The active element stays at
// the head and its counterpart in next is dropped; pending elements are
// replaced by next's ordering.
func (s *Schedule) Merge(next *Schedule) {
	active := s.Active()
	items := make([]*Element, 0, next.Len()+1)
	if active != nil {
		items = append(items, active)
	}
	skipped := false
	if next != nil {
		for _, el := range next.Items {
			if active != nil && !skipped && sameWork(active.Method, el.Method) {
				skipped = true
				continue
			}
			if el.Status == ElementCompleted {
				continue
			}
			items = append(items, el)
		}
		s.TotalQuality = next.TotalQuality
	} else {
		s.TotalQuality = 0
	}
	s.Items = items
}

func sameWork(a, b *taems.Method) bool {
	if a.Origin != 0 && b.Origin != 0 {
		return a.Origin == b.Origin
	}
	return strings.EqualFold(a.Label, b.Label)
}

func (s *Schedule) String() string {
	if s.Len() == 0 {
		return "<empty>"
	}
	parts := make([]string, 0, len(s.Items))
	for _, el := range s.Items {
		parts = append(parts, fmt.Sprintf("%s(%g)", el.Method.Label, el.Quality))
	}
	return fmt.Sprintf("%s total=%g", strings.Join(parts, " -> "), s.TotalQuality)
}
