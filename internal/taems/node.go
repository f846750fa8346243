package taems

type NodeKind uint8

const (
	KindMethod NodeKind = iota + 1
	KindTask
)

func (k NodeKind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Node is either a Method leaf or a composite Task. Exactly one of Method and
// Task is set, matching Kind.
type Node struct {
	Kind   NodeKind
	Method *Method
	Task   *Task
}

func MethodNode(m *Method) Node { return Node{Kind: KindMethod, Method: m} }

func TaskNode(t *Task) Node { return Node{Kind: KindTask, Task: t} }

func (n Node) IsTask() bool { return n.Kind == KindTask }

func (n Node) Label() string {
	switch n.Kind {
	case KindMethod:
		if n.Method != nil {
			return n.Method.Label
		}
	case KindTask:
		if n.Task != nil {
			return n.Task.Label
		}
	}
	return ""
}

func (n Node) Children() []Node {
	if n.Kind != KindTask || n.Task == nil {
		return nil
	}
	return n.Task.Children()
}

func (n Node) Valid() bool {
	switch n.Kind {
	case KindMethod:
		return n.Method != nil && n.Task == nil
	case KindTask:
		return n.Task != nil && n.Method == nil
	default:
		return false
	}
}
