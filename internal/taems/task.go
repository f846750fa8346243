package taems

import (
	"fmt"
	"strings"
)

// QAF is the quality accumulation function of a composite task.
type QAF string

const (
	// SeqSumQAF runs every child in the listed order.
	SeqSumQAF QAF = "seq_sum"
	// SumAllQAF runs every child in any order.
	SumAllQAF QAF = "sum_all"
	// ExactlyOneQAF runs exactly one child.
	ExactlyOneQAF QAF = "exactly_one"
)

func ParseQAF(s string) (QAF, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seq_sum", "seqsum", "sequential_all", "sequentialall", "seq":
		return SeqSumQAF, nil
	case "sum_all", "sumall", "unordered_all", "unorderedall", "sum":
		return SumAllQAF, nil
	case "exactly_one", "exactlyone", "one":
		return ExactlyOneQAF, nil
	default:
		return "", fmt.Errorf("unknown qaf %q", s)
	}
}

type Task struct {
	Label string
	QAF   QAF
	Agent string

	children []Node
}

func NewTask(label string, qaf QAF, children ...Node) *Task {
	return &Task{Label: label, QAF: qaf, children: append([]Node(nil), children...)}
}

func (t *Task) AddChild(n Node) {
	t.children = append(t.children, n)
}

func (t *Task) Children() []Node {
	return append([]Node(nil), t.children...)
}

func (t *Task) HasChildren() bool { return len(t.children) > 0 }

// AssignAgent sets the owning agent on t and every subtask.
func (t *Task) AssignAgent(agent string) {
	t.Agent = agent
	for _, c := range t.children {
		if c.Kind == KindTask {
			c.Task.AssignAgent(agent)
		}
	}
}

// Methods returns every method leaf below t in tree order.
func (t *Task) Methods() []*Method {
	var out []*Method
	t.walk(func(n Node) {
		if n.Kind == KindMethod {
			out = append(out, n.Method)
		}
	})
	return out
}

// FindMethod returns the tree method with the given index.
func (t *Task) FindMethod(index int) *Method {
	var found *Method
	t.walk(func(n Node) {
		if found == nil && n.Kind == KindMethod && n.Method.Index == index {
			found = n.Method
		}
	})
	return found
}

// Find returns the first node below t (t included) with the given label.
func (t *Task) Find(label string) (Node, bool) {
	if t.Label == label {
		return TaskNode(t), true
	}
	var (
		found Node
		ok    bool
	)
	t.walk(func(n Node) {
		if !ok && n.Label() == label {
			found, ok = n, true
		}
	})
	return found, ok
}

func (t *Task) walk(fn func(Node)) {
	for _, c := range t.children {
		fn(c)
		if c.Kind == KindTask {
			c.Task.walk(fn)
		}
	}
}

// Cleanup drops completed methods and finished subtasks from t, calling done
// for every subtask that finished. It reports whether t itself is finished.
func (t *Task) Cleanup(done func(*Task)) bool {
	kept := make([]Node, 0, len(t.children))
	finished := false
	for _, c := range t.children {
		switch c.Kind {
		case KindMethod:
			if c.Method.Completed() {
				finished = true
				continue
			}
		case KindTask:
			if c.Task.Cleanup(done) {
				if done != nil {
					done(c.Task)
				}
				finished = true
				continue
			}
		}
		kept = append(kept, c)
	}
	if t.QAF == ExactlyOneQAF && finished {
		t.children = nil
		return true
	}
	t.children = kept
	return finished && len(kept) == 0
}

// Pruned returns a structural copy of t without completed work. Methods are
// shared with t; t itself is not modified.
func (t *Task) Pruned() *Task {
	cp := &Task{Label: t.Label, QAF: t.QAF, Agent: t.Agent}
	finished := false
	for _, c := range t.children {
		switch c.Kind {
		case KindMethod:
			if c.Method.Completed() {
				finished = true
				continue
			}
			cp.children = append(cp.children, c)
		case KindTask:
			sub := c.Task.Pruned()
			if c.Task.finishedCopy(sub) {
				finished = true
				continue
			}
			cp.children = append(cp.children, TaskNode(sub))
		}
	}
	if t.QAF == ExactlyOneQAF && finished {
		cp.children = nil
	}
	return cp
}

func (t *Task) finishedCopy(pruned *Task) bool {
	if len(pruned.children) > 0 {
		return false
	}
	return t.hasCompleted()
}

func (t *Task) hasCompleted() bool {
	for _, c := range t.children {
		switch c.Kind {
		case KindMethod:
			if c.Method.Completed() {
				return true
			}
		case KindTask:
			if c.Task.hasCompleted() {
				return true
			}
		}
	}
	return false
}

func (t *Task) String() string {
	var sb strings.Builder
	t.format(&sb, 0)
	return sb.String()
}

func (t *Task) format(sb *strings.Builder, depth int) {
	fmt.Fprintf(sb, "%s%s [%s]\n", strings.Repeat("  ", depth), t.Label, t.QAF)
	for _, c := range t.children {
		switch c.Kind {
		case KindMethod:
			fmt.Fprintf(sb, "%s- %s q=%g d=%g\n", strings.Repeat("  ", depth+1), c.Method.Label, c.Method.Outcome.Quality, c.Method.Outcome.Duration)
		case KindTask:
			c.Task.format(sb, depth+1)
		}
	}
}
