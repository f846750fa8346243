// Package negotiation turns competing agents' schedule qualities into a
// pseudo-boolean allocation problem and maps its solution back to an agent.
package negotiation

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"
)

// MaxAgents bounds a single round; the objective table has 2^n rows.
const MaxAgents = 20

var (
	ErrNoCandidates  = errors.New("no candidate agents")
	ErrTooManyAgents = errors.New("too many agents for exhaustive encoding")
)

// ScheduleQualities is one agent's answer to a cost request. Base is the best
// schedule quality with the candidate task included, Incremental without it.
type ScheduleQualities struct {
	AgentVariableID int     `json:"agent_variable_id"`
	Base            float64 `json:"base"`
	Incremental     float64 `json:"incremental"`
}

type Variable struct {
	ID     int
	Domain int
}

// Row is one line of the objective table. Assignment[j] is the value of
// variable j.
type Row struct {
	Index      int
	Assignment []bool
	Value      float64
}

func (r Row) SetCount() int {
	n := 0
	for _, b := range r.Assignment {
		if b {
			n++
		}
	}
	return n
}

// Problem is a single-agent MaxSum problem: one binary variable per candidate,
// an exactly-one constraint over all of them and the full objective table.
type Problem struct {
	Variables  []Variable
	Constraint []int
	Table      []Row
}

// VariableForRow maps a single-bit row index to the variable it selects.
// Rows are printed most significant bit first, so row 2^k belongs to
// variable n-1-k.
func VariableForRow(rowIndex, n int) (int, bool) {
	if rowIndex <= 0 || bits.OnesCount(uint(rowIndex)) != 1 {
		return 0, false
	}
	k := bits.TrailingZeros(uint(rowIndex))
	if k >= n {
		return 0, false
	}
	return n - 1 - k, true
}

// Encode builds the allocation problem for qs. Each entry's AgentVariableID
// must equal its position.
func Encode(qs []ScheduleQualities) (Problem, error) {
	n := len(qs)
	if n == 0 {
		return Problem{}, ErrNoCandidates
	}
	if n > MaxAgents {
		return Problem{}, fmt.Errorf("%w: %d", ErrTooManyAgents, n)
	}
	p := Problem{
		Variables:  make([]Variable, n),
		Constraint: make([]int, n),
		Table:      make([]Row, 0, 1<<n),
	}
	for i, q := range qs {
		if q.AgentVariableID != i {
			return Problem{}, fmt.Errorf("variable id %d at position %d", q.AgentVariableID, i)
		}
		p.Variables[i] = Variable{ID: i, Domain: 2}
		p.Constraint[i] = i
	}
	for i := 0; i < 1<<n; i++ {
		row := Row{Index: i, Assignment: make([]bool, n)}
		for j := 0; j < n; j++ {
			row.Assignment[j] = i&(1<<(n-1-j)) != 0
		}
		if v, ok := VariableForRow(i, n); ok {
			row.Value = qs[v].Incremental
		}
		p.Table = append(p.Table, row)
	}
	return p, nil
}

// WriteTo renders p in the MaxSum text format.
func (p Problem) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	sb.WriteString("AGENT 1\n")
	for _, v := range p.Variables {
		fmt.Fprintf(&sb, "VARIABLE %d 1 %d\n", v.ID, v.Domain)
	}
	sb.WriteString("CONSTRAINT 0 1")
	for _, id := range p.Constraint {
		fmt.Fprintf(&sb, " %d", id)
	}
	sb.WriteString("\n")
	for _, row := range p.Table {
		sb.WriteString("F")
		for _, b := range row.Assignment {
			if b {
				sb.WriteString(" 1")
			} else {
				sb.WriteString(" 0")
			}
		}
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatFloat(row.Value, 'f', -1, 64))
		sb.WriteString("\n")
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (p Problem) String() string {
	var sb strings.Builder
	_, _ = p.WriteTo(&sb)
	return sb.String()
}
