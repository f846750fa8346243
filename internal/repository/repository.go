// Package repository resolves task names to fresh task trees built from
// TOML or YAML definition files.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mas_sched/internal/taems"
)

var ErrTaskNotFound = errors.New("task not found in repository")

const taskRefPrefix = "task:"

type File struct {
	Tasks []NodeDef `toml:"task" yaml:"tasks"`
}

// NodeDef describes a composite task when QAF or Children is set, otherwise
// a method.
type NodeDef struct {
	Name      string    `toml:"name" yaml:"name"`
	QAF       string    `toml:"qaf" yaml:"qaf"`
	Children  []NodeDef `toml:"children" yaml:"children"`
	Quality   float64   `toml:"quality" yaml:"quality"`
	Duration  float64   `toml:"duration" yaml:"duration"`
	Cost      float64   `toml:"cost" yaml:"cost"`
	Deadline  float64   `toml:"deadline" yaml:"deadline"`
	X         float64   `toml:"x" yaml:"x"`
	Y         float64   `toml:"y" yaml:"y"`
	EnabledBy []string  `toml:"enabled_by" yaml:"enabled_by"`
}

func (d NodeDef) IsTask() bool {
	return d.QAF != "" || len(d.Children) > 0
}

type Repository struct {
	mu    sync.RWMutex
	arena *taems.Arena
	defs  map[string]NodeDef
}

func New(arena *taems.Arena) *Repository {
	if arena == nil {
		arena = taems.NewArena()
	}
	return &Repository{arena: arena, defs: make(map[string]NodeDef)}
}

// LoadPath loads a single definition file or every .toml/.yaml/.yml file in a
// directory.
func (r *Repository) LoadPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat task definitions %s: %w", path, err)
	}
	if !info.IsDir() {
		return r.LoadFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read task directory %s: %w", path, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		if err := r.LoadFile(filepath.Join(path, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read task file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = r.LoadTOML(data)
	case ".yaml", ".yml":
		err = r.LoadYAML(data)
	default:
		return fmt.Errorf("unsupported task file %s", path)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (r *Repository) LoadTOML(data []byte) error {
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return fmt.Errorf("decode toml tasks: %w", err)
	}
	return r.addAll(f.Tasks)
}

func (r *Repository) LoadYAML(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode yaml tasks: %w", err)
	}
	return r.addAll(f.Tasks)
}

func (r *Repository) addAll(defs []NodeDef) error {
	for _, d := range defs {
		if err := r.Add(d); err != nil {
			return err
		}
	}
	return nil
}

// Add registers a top-level task definition, replacing any definition with
// the same name.
func (r *Repository) Add(def NodeDef) error {
	if !def.IsTask() {
		return fmt.Errorf("top-level definition %q is not a task", def.Name)
	}
	if err := validate(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[key(def.Name)] = def
	return nil
}

func (r *Repository) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}

func (r *Repository) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[key(name)]
	return ok
}

// GetTask builds a fresh tree for name. Every call allocates new method
// indices, so repeated assignments never share methods.
func (r *Repository) GetTask(name string) (*taems.Task, error) {
	r.mu.RLock()
	def, ok := r.defs[key(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	root := r.build(def).Task
	var pending []enablerRef
	collectEnablers(def, root, &pending)
	for _, ref := range pending {
		ref.method.Interrelationships = append(ref.method.Interrelationships, taems.Interrelationship{
			From: resolve(root, ref.label),
			To:   taems.MethodNode(ref.method),
		})
	}
	return root, nil
}

func (r *Repository) build(def NodeDef) taems.Node {
	if !def.IsTask() {
		m := r.arena.NewMethod(def.Name, taems.Outcome{
			Quality:  def.Quality,
			Duration: def.Duration,
			Cost:     def.Cost,
		}, taems.Position{X: def.X, Y: def.Y}, def.Deadline)
		return taems.MethodNode(m)
	}
	qaf, _ := taems.ParseQAF(def.QAF)
	t := taems.NewTask(def.Name, qaf)
	for _, c := range def.Children {
		t.AddChild(r.build(c))
	}
	return taems.TaskNode(t)
}

type enablerRef struct {
	method *taems.Method
	label  string
}

// collectEnablers pairs each method def with its built method. Defs and
// built children share ordering.
func collectEnablers(def NodeDef, t *taems.Task, out *[]enablerRef) {
	children := t.Children()
	for i, c := range def.Children {
		node := children[i]
		if c.IsTask() {
			collectEnablers(c, node.Task, out)
			continue
		}
		for _, label := range c.EnabledBy {
			*out = append(*out, enablerRef{method: node.Method, label: label})
		}
	}
}

// resolve finds an enabler inside the tree or returns an unallocated
// reference node for work owned elsewhere.
func resolve(root *taems.Task, label string) taems.Node {
	if name, ok := strings.CutPrefix(label, taskRefPrefix); ok {
		if n, found := root.Find(name); found && n.IsTask() {
			return n
		}
		return taems.TaskNode(taems.NewTask(name, ""))
	}
	if n, found := root.Find(label); found && !n.IsTask() {
		return n
	}
	return taems.MethodNode(&taems.Method{Label: label})
}

func validate(def NodeDef) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("definition name is required")
	}
	if def.IsTask() {
		if _, err := taems.ParseQAF(def.QAF); err != nil {
			return fmt.Errorf("task %s: %w", def.Name, err)
		}
		if len(def.EnabledBy) > 0 {
			return fmt.Errorf("task %s: enabled_by is only valid on methods", def.Name)
		}
		for _, c := range def.Children {
			if err := validate(c); err != nil {
				return err
			}
		}
		return nil
	}
	if def.Duration < 0 || def.Deadline < 0 {
		return fmt.Errorf("method %s: negative duration or deadline", def.Name)
	}
	return nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
