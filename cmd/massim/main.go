package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mas_sched/internal/agent"
	"mas_sched/internal/config"
	"mas_sched/internal/orchestrator"
	"mas_sched/internal/repository"
	sqlitestore "mas_sched/internal/store/sqlite"
)

type app struct {
	cfg   config.Config
	world *orchestrator.Service
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.massim/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	tasksFlag := flag.String("tasks", "", "task definition file or directory override")
	dumpFlag := flag.String("dump", "", "directory for graph and problem dumps override")
	simulate := flag.Int("simulate-ms", -1, "complete methods after duration*N ms (0 disables, -1 uses config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := firstNonEmpty(*addrFlag, cfg.Coordinator.Addr, ":8092")
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Coordinator.DBPath, "data/massim.db"))
	tasksPath := firstNonEmpty(*tasksFlag, cfg.Coordinator.TaskRepository, "configs/tasks")
	dumpDir := firstNonEmpty(*dumpFlag, cfg.Coordinator.DumpDir)
	simulationMS := cfg.Coordinator.SimulationUnitMS
	if *simulate >= 0 {
		simulationMS = *simulate
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	world, err := orchestrator.New(ctx, store, orchestrator.Config{
		BusBuffer:         cfg.Coordinator.BusBuffer,
		ExecutionInterval: durationMS(cfg.Coordinator.ExecutionIntervalMS, 100*time.Millisecond),
		RetryInterval:     durationMS(cfg.Coordinator.RetryIntervalMS, 2*time.Second),
		HeuristicCap:      cfg.Coordinator.HeuristicQualityCap,
		DumpDir:           dumpDir,
		SimulationUnit:    time.Duration(simulationMS) * time.Millisecond,
		RestoreCompleted:  cfg.Coordinator.RestoreCompleted,
	}, log.Default())
	if err != nil {
		log.Fatalf("create world: %v", err)
	}
	if err := world.LoadTasks(tasksPath); err != nil {
		log.Fatalf("load task definitions: %v", err)
	}
	for _, ac := range cfg.Agents {
		if _, err := world.AddAgent(ac); err != nil {
			log.Fatalf("add agent: %v", err)
		}
	}
	world.Start(ctx)

	a := &app{cfg: cfg, world: world}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/tasks", a.handleTasks)
	mux.HandleFunc("/agents", a.handleAgents)
	mux.HandleFunc("/agents/", a.handleAgentByName)
	mux.HandleFunc("/commands", a.handleCommands)
	mux.HandleFunc("/decisions", a.handleDecisions)
	mux.HandleFunc("/negotiations", a.handleNegotiations)
	mux.HandleFunc("/events", a.handleEvents)

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"massim started addr=%s db=%s tasks=%s agents=%d simulate_ms=%d",
		addr,
		dbPath,
		tasksPath,
		len(cfg.Agents),
		simulationMS,
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
	world.Wait()
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.world.Repository().Names())
}

func (a *app) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.world.Agents())
}

func (a *app) handleAgentByName(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(trimmed, "/")
	name := parts[0]
	if name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent name is required"))
		return
	}
	ag, err := a.world.Agent(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, ag.Snapshot())
		return
	}

	action := parts[1]
	switch action {
	case "graph":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		if err := ag.WriteGraph(w); err != nil {
			if errors.Is(err, agent.ErrNoGraph) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
		}
	case "assign", "negotiate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Task string `json:"task"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.Task) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("task is required"))
			return
		}
		send := a.world.Assign
		if action == "negotiate" {
			send = a.world.Negotiate
		}
		if err := send(r.Context(), ag.Name(), req.Task); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": action + " sent", "agent": ag.Name(), "task": req.Task})
	case "complete":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.Method) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("method is required"))
			return
		}
		if err := a.world.Complete(r.Context(), ag.Name(), req.Method); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "completion sent", "agent": ag.Name(), "method": req.Method})
	case "decisions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := a.world.Decisions(r.Context(), ag.Name(), queryInt(r, "limit", 200))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (a *app) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	agentName, task, err := a.world.Command(r.Context(), req.Command)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "negotiation requested", "agent": agentName, "task": task})
}

func (a *app) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := a.world.Decisions(r.Context(), r.URL.Query().Get("actor"), queryInt(r, "limit", 300))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleNegotiations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := a.world.Negotiations(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.world.Events(queryInt(r, "limit", 100)))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrBadCommand):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAgentNotRegistered), errors.Is(err, repository.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
