package negotiation

import (
	"context"
)

// Solver finds the variable to set in an allocation problem. ok is false when
// no assignment satisfies the constraint.
type Solver interface {
	Solve(ctx context.Context, p Problem) (variable int, ok bool, err error)
}

// BruteForceSolver scans the objective table for the best row that satisfies
// the exactly-one constraint. Ties go to the lowest variable id.
type BruteForceSolver struct{}

func (BruteForceSolver) Solve(ctx context.Context, p Problem) (int, bool, error) {
	n := len(p.Variables)
	best, bestValue, found := 0, 0.0, false
	for i, row := range p.Table {
		if i&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
		}
		if row.SetCount() != 1 {
			continue
		}
		v, ok := VariableForRow(row.Index, n)
		if !ok {
			continue
		}
		if !found || row.Value > bestValue || (row.Value == bestValue && v < best) {
			best, bestValue, found = v, row.Value, true
		}
	}
	return best, found, nil
}
