package repository

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mas_sched/internal/taems"
)

func TestLoadTOMLBuildsTree(t *testing.T) {
	repo := New(taems.NewArena())
	require.NoError(t, repo.LoadFile(filepath.Join("testdata", "simworld.toml")))

	root, err := repo.GetTask("tasktree")
	require.NoError(t, err)
	assert.Equal(t, taems.SeqSumQAF, root.QAF)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, taems.SumAllQAF, children[0].Task.QAF)
	assert.Equal(t, taems.ExactlyOneQAF, children[1].Task.QAF)

	methods := root.Methods()
	require.Len(t, methods, 5)
	assert.Equal(t, 12.0, methods[2].Outcome.Quality)
	assert.Equal(t, taems.Position{X: 300, Y: 100}, methods[2].Position)

	m4 := methods[3]
	require.Len(t, m4.Enablers(), 1)
	assert.True(t, m4.Enablers()[0].IsTask())
	assert.Same(t, children[0].Task, m4.Enablers()[0].Task)

	m5 := methods[4]
	require.Len(t, m5.Enablers(), 1)
	assert.Same(t, methods[2], m5.Enablers()[0].Method)
}

func TestGetTaskReturnsFreshTrees(t *testing.T) {
	repo := New(taems.NewArena())
	require.NoError(t, repo.LoadFile(filepath.Join("testdata", "simworld.toml")))

	first, err := repo.GetTask("TaskTree")
	require.NoError(t, err)
	second, err := repo.GetTask("TaskTree")
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, m := range first.Methods() {
		seen[m.Index] = true
	}
	for _, m := range second.Methods() {
		assert.False(t, seen[m.Index])
	}
}

func TestLoadYAMLWithExternalEnabler(t *testing.T) {
	repo := New(nil)
	require.NoError(t, repo.LoadPath("testdata"))
	assert.Equal(t, []string{"Refuel", "TaskTree"}, repo.Names())

	root, err := repo.GetTask("Refuel")
	require.NoError(t, err)
	fill := root.Methods()[1]
	enablers := fill.Enablers()
	require.Len(t, enablers, 2)
	assert.Equal(t, "DriveToStation", enablers[0].Label())
	assert.Equal(t, "gasStationOpen", enablers[1].Label())
	assert.Zero(t, enablers[1].Method.Index)
}

func TestGetTaskUnknown(t *testing.T) {
	_, err := New(nil).GetTask("nope")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestAddValidates(t *testing.T) {
	repo := New(nil)
	assert.Error(t, repo.Add(NodeDef{Name: "leaf", Quality: 3}))
	assert.Error(t, repo.Add(NodeDef{Name: "bad", QAF: "min", Children: []NodeDef{{Name: "a"}}}))
	assert.Error(t, repo.Add(NodeDef{Name: "neg", QAF: "seq_sum", Children: []NodeDef{{Name: "a", Duration: -1}}}))
	assert.NoError(t, repo.Add(NodeDef{Name: "ok", QAF: "one", Children: []NodeDef{{Name: "a"}}}))
}
