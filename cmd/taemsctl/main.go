package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mas_sched/internal/negotiation"
	"mas_sched/internal/repository"
	"mas_sched/internal/schedule"
	"mas_sched/internal/taems"
)

var (
	flagTasks string
	flagJSON  bool
	flagX     float64
	flagY     float64
	flagCap   float64
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	magenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taemsctl",
		Short: "Inspect task definitions, schedules and allocation problems offline",
	}
	rootCmd.PersistentFlags().StringVar(&flagTasks, "tasks", "configs/tasks", "Task definition file or directory")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(encodeCmd())
	rootCmd.AddCommand(issueCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadRepository(arena *taems.Arena) (*repository.Repository, error) {
	repo := repository.New(arena)
	if err := repo.LoadPath(flagTasks); err != nil {
		return nil, err
	}
	return repo, nil
}

// compileTasks groups the named tasks under an unordered root, the same way
// an agent holds its assigned work.
func compileTasks(names []string) (*schedule.Compilation, error) {
	arena := taems.NewArena()
	repo, err := loadRepository(arena)
	if err != nil {
		return nil, err
	}
	root := taems.NewTask("Task Group", taems.SumAllQAF)
	for _, name := range names {
		t, err := repo.GetTask(name)
		if err != nil {
			return nil, err
		}
		root.AddChild(taems.TaskNode(t))
	}
	return schedule.NewCompiler(arena).Compile(root, taems.Position{X: flagX, Y: flagY}), nil
}

func addPositionFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&flagX, "x", 0, "Agent start x")
	cmd.Flags().Float64Var(&flagY, "y", 0, "Agent start y")
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List task definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := loadRepository(taems.NewArena())
			if err != nil {
				return err
			}
			names := repo.Names()
			if flagJSON {
				return outputJSON(names)
			}
			for _, name := range names {
				t, err := repo.GetTask(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s  %s  %s\n", magenta(name), dim(string(t.QAF)), dim(fmt.Sprintf("%d methods", len(t.Methods()))))
			}
			return nil
		},
	}
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <task> [task...]",
		Short: "Compute the best schedule for one or more tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := compileTasks(args)
			if err != nil {
				return err
			}
			selector := schedule.NewSelector()
			if flagCap > 0 {
				selector.HeuristicCap = flagCap
			}
			s, ok := selector.Select(comp)
			if flagJSON {
				return outputJSON(scheduleJSON(s, ok))
			}
			if !ok {
				fmt.Println(red("No feasible schedule"))
				return nil
			}
			fmt.Printf("%s from (%g,%g)\n", bold("Schedule"), flagX, flagY)
			for i, el := range s.Items {
				fmt.Printf("  %2d. %s  q=%s  at (%g,%g)\n", i+1, cyan(el.Method.Label), green(fmt.Sprintf("%.1f", el.Quality)), el.Method.Position.X, el.Method.Position.Y)
			}
			fmt.Printf("%s %s\n", bold("Total quality"), green(fmt.Sprintf("%.1f", s.TotalQuality)))
			return nil
		},
	}
	addPositionFlags(cmd)
	cmd.Flags().Float64Var(&flagCap, "cap", schedule.DefaultHeuristicCap, "Quality above which a step is rejected")
	return cmd
}

type scheduleStep struct {
	Label   string  `json:"label"`
	Index   int     `json:"index"`
	Quality float64 `json:"quality"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func scheduleJSON(s *schedule.Schedule, ok bool) map[string]any {
	out := map[string]any{"feasible": ok}
	if !ok {
		return out
	}
	steps := make([]scheduleStep, 0, s.Len())
	for _, el := range s.Items {
		steps = append(steps, scheduleStep{
			Label:   el.Method.Label,
			Index:   el.Method.Index,
			Quality: el.Quality,
			X:       el.Method.Position.X,
			Y:       el.Method.Position.Y,
		})
	}
	out["steps"] = steps
	out["total_quality"] = s.TotalQuality
	return out
}

func graphCmd() *cobra.Command {
	var flagOut string
	cmd := &cobra.Command{
		Use:   "graph <task> [task...]",
		Short: "Print the compiled schedule graph as Graphviz dot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := compileTasks(args)
			if err != nil {
				return err
			}
			var w io.Writer = os.Stdout
			if flagOut != "" {
				f, err := os.Create(flagOut)
				if err != nil {
					return fmt.Errorf("create %s: %w", flagOut, err)
				}
				defer f.Close()
				w = f
			}
			if err := comp.Graph.WriteDOT(w, strings.Join(args, "+")); err != nil {
				return err
			}
			if flagOut != "" {
				fmt.Fprintf(os.Stderr, "%s %s (%d nodes, %d edges)\n", green("wrote"), flagOut, len(comp.Graph.Methods), len(comp.Graph.Transitions))
			}
			return nil
		},
	}
	addPositionFlags(cmd)
	cmd.Flags().StringVar(&flagOut, "out", "", "Write to file instead of stdout")
	return cmd
}

func encodeCmd() *cobra.Command {
	var costs []string
	cmd := &cobra.Command{
		Use:     "encode",
		Short:   "Encode cost answers as an allocation problem and solve it",
		Example: `  taemsctl encode --cost Truck1=0,5 --cost Helicopter1=10,20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(costs) == 0 {
				return fmt.Errorf("at least one --cost agent=base,incremental is required")
			}
			round := negotiation.NewRound("offline", "", len(costs))
			for _, c := range costs {
				agentName, data, ok := strings.Cut(c, "=")
				if !ok || strings.TrimSpace(agentName) == "" {
					return fmt.Errorf("cost %q: want agent=base,incremental", c)
				}
				base, inc, err := negotiation.ParseCost(data)
				if err != nil {
					return err
				}
				round.AddCostData(strings.TrimSpace(agentName), base, inc)
			}
			p, agents, err := round.Problem()
			if err != nil {
				return err
			}
			winner, awarded, err := round.Resolve(context.Background(), negotiation.BruteForceSolver{})
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(map[string]any{
					"candidates": agents,
					"problem":    p.String(),
					"winner":     winner,
					"awarded":    awarded,
				})
			}
			if _, err := p.WriteTo(os.Stdout); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", dim("candidates:"), strings.Join(agents, ", "))
			if !awarded {
				fmt.Println(red("no feasible allocation"))
				return nil
			}
			fmt.Printf("%s %s\n", bold("winner:"), green(winner))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&costs, "cost", nil, "Cost answer as agent=base,incremental (repeatable)")
	return cmd
}

func issueCmd() *cobra.Command {
	var flagAddr string
	cmd := &cobra.Command{
		Use:   "issue <Agent>Task>",
		Short: "Send a command center line to a running massim server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"command": args[0]})
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(strings.TrimRight(flagAddr, "/")+"/commands", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("post command: %w", err)
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode >= 300 {
				return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(raw)))
			}
			if flagJSON {
				_, err := os.Stdout.Write(raw)
				return err
			}
			fmt.Printf("%s %s\n", green("sent"), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "http://localhost:8092", "massim base URL")
	return cmd
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
