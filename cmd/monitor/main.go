package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"mas_sched/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type embeddedServer struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8092", "massim base URL")
	interval := flag.Duration("interval", time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start massim in the same monitor process lifecycle")
	serverBinary := flag.String("massim-bin", "", "path to massim binary (optional in embedded mode)")
	configPath := flag.String("config", "", "config path for embedded massim")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if *embedded {
		proc, err := startEmbeddedServer(*addr, *serverBinary, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded massim: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "massim health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	scheduleView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	scheduleView.SetTitle("Schedule").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Display Events").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	negotiationsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	negotiationsView.SetTitle("Negotiations").SetBorder(true)

	commandInput := tview.NewInputField().
		SetLabel("Agent>Task: ")
	commandInput.SetBorder(true).SetTitle("Enter = negotiate task, Agent!Method = report completion")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus command, Ctrl+T focus agents",
		c.baseURL,
		*embedded,
	))

	rightTop := tview.NewFlex().
		AddItem(scheduleView, 0, 1, false).
		AddItem(negotiationsView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 2, false).
		AddItem(eventsView, 0, 2, false).
		AddItem(decisionsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(agentsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(commandInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedAgent string
	var lastAgents []domain.AgentSnapshot
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshAgents := func() {
		agents, err := c.listAgents()
		if err != nil {
			app.QueueUpdateDraw(func() {
				agentsTable.Clear()
				agentsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastAgents = agents
		app.QueueUpdateDraw(func() {
			renderAgentsTable(agentsTable, agents, selectedAgent)
			scheduleView.SetText(renderSchedule(selectedAgent, agents))
		})
	}

	refreshDetailsAsync := func(agentName string) {
		version := atomic.AddUint64(&detailsVersion, 1)
		go func(selected string, v uint64) {
			type eventResult struct {
				items []domain.Event
				err   error
			}
			type decisionResult struct {
				items []domain.DecisionLog
				err   error
			}
			type negotiationResult struct {
				items []domain.Negotiation
				err   error
			}

			eventCh := make(chan eventResult, 1)
			decisionCh := make(chan decisionResult, 1)
			negotiationCh := make(chan negotiationResult, 1)

			go func() {
				items, err := c.listEvents(100)
				eventCh <- eventResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listDecisions(selected, 200)
				decisionCh <- decisionResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listNegotiations(50)
				negotiationCh <- negotiationResult{items: items, err: err}
			}()

			eventRes := <-eventCh
			decisionRes := <-decisionCh
			negotiationRes := <-negotiationCh

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if eventRes.err != nil {
					eventsView.SetText(fmt.Sprintf("error: %v", eventRes.err))
				} else {
					eventsView.SetText(renderEvents(eventRes.items, selected))
				}
				if decisionRes.err != nil {
					decisionsView.SetText(fmt.Sprintf("error: %v", decisionRes.err))
				} else {
					decisionsView.SetText(renderDecisions(decisionRes.items))
				}
				if negotiationRes.err != nil {
					negotiationsView.SetText(fmt.Sprintf("error: %v", negotiationRes.err))
				} else {
					negotiationsView.SetText(renderNegotiations(negotiationRes.items))
				}
			})
		}(agentName, version)
	}

	submitCommand := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		commandInput.SetText("")
		if agentName, method, ok := strings.Cut(line, "!"); ok {
			setStatusUI("Reporting completion...")
			go func(agentName, method string) {
				if err := c.completeMethod(agentName, method); err != nil {
					setStatusAsync("Completion failed: " + err.Error())
					return
				}
				setStatusAsync(fmt.Sprintf("Completion of %s sent to %s", method, agentName))
				refreshAgents()
			}(strings.TrimSpace(agentName), strings.TrimSpace(method))
			return
		}
		setStatusUI("Sending command...")
		go func(input string) {
			agentName, err := c.sendCommand(input)
			if err != nil {
				setStatusAsync("Command failed: " + err.Error())
				return
			}
			selectedAgent = agentName
			refreshAgents()
			refreshDetailsAsync(selectedAgent)
			setStatusAsync("Negotiation requested: " + input)
		}(line)
	}

	commandInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitCommand(commandInput.GetText())
	})

	agentsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastAgents) {
			return
		}
		selectedAgent = lastAgents[row-1].Name
		scheduleView.SetText(renderSchedule(selectedAgent, lastAgents))
		refreshDetailsAsync(selectedAgent)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == commandInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(agentsTable)
				setStatusUI("Focus -> agents")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape:
			app.SetFocus(agentsTable)
			setStatusUI("Focus -> agents")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshAgents()
			refreshDetailsAsync(selectedAgent)
			setStatusUI("Manual refresh complete")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(commandInput)
			setStatusUI("Focus -> command")
			return nil
		case tcell.KeyCtrlT:
			app.SetFocus(agentsTable)
			setStatusUI("Focus -> agents")
			return nil
		case tcell.KeyRune:
			app.SetFocus(commandInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshAgents()
		if len(lastAgents) > 0 {
			selectedAgent = lastAgents[0].Name
		}
		refreshDetailsAsync(selectedAgent)
		for range ticker.C {
			refreshAgents()
			refreshDetailsAsync(selectedAgent)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(commandInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func startEmbeddedServer(addr, serverBinary, configPath string) (*embeddedServer, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"--addr", ":" + port}
	if strings.TrimSpace(configPath) != "" {
		args = append(args, "--config", configPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(serverBinary) != "" {
		cmd = exec.Command(serverBinary, args...)
	} else {
		self, err := os.Executable()
		if err == nil {
			sibling := filepath.Join(filepath.Dir(self), "massim")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/massim"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start massim process: %w", err)
	}
	return &embeddedServer{cmd: cmd}, nil
}

func (e *embeddedServer) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func renderAgentsTable(table *tview.Table, agents []domain.AgentSnapshot, selected string) {
	table.Clear()
	headers := []string{"Agent", "Status", "Position", "Tasks", "Quality", "Running"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		name := a.Name
		if a.Managing {
			name += "*"
		}
		table.SetCell(row, 0, tview.NewTableCell(name))
		table.SetCell(row, 1, tview.NewTableCell(string(a.Status)).SetTextColor(statusColor(a.Status)))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("(%g,%g)", a.X, a.Y)))
		table.SetCell(row, 3, tview.NewTableCell(trimLine(strings.Join(a.Tasks, ","), 32)))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%.1f", a.TotalQuality)))
		table.SetCell(row, 5, tview.NewTableCell(a.Current))
		if strings.EqualFold(a.Name, selected) {
			table.Select(row, 0)
		}
	}
}

func statusColor(s domain.AgentStatus) tcell.Color {
	switch s {
	case domain.AgentStatusProcessing:
		return tcell.ColorGreen
	case domain.AgentStatusAwaitingCompletion:
		return tcell.ColorYellow
	default:
		return tcell.ColorGray
	}
}

func renderSchedule(selected string, agents []domain.AgentSnapshot) string {
	if strings.TrimSpace(selected) == "" {
		return "No agent selected"
	}
	for _, a := range agents {
		if !strings.EqualFold(a.Name, selected) {
			continue
		}
		var b strings.Builder
		b.WriteString(fmt.Sprintf("%s  status=%s  pending=%d\n", a.Name, a.Status, a.PendingTasks))
		if len(a.Children) > 0 {
			b.WriteString("manages: " + strings.Join(a.Children, ", ") + "\n")
		}
		if len(a.Schedule) == 0 {
			b.WriteString("Empty schedule\n")
			return b.String()
		}
		for i, it := range a.Schedule {
			marker := " "
			if it.Status == "active" {
				marker = "[yellow]>[-]"
			}
			b.WriteString(fmt.Sprintf("%s %2d. %-16s q=%6.1f at (%g,%g)\n", marker, i+1, it.Label, it.Quality, it.X, it.Y))
		}
		b.WriteString(fmt.Sprintf("total quality %.1f\n", a.TotalQuality))
		return b.String()
	}
	return "Agent not found: " + selected
}

func renderEvents(items []domain.Event, selected string) string {
	if len(items) == 0 {
		return "No events"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		ev := items[i]
		if selected != "" && !strings.EqualFold(ev.Params.AgentID, selected) {
			continue
		}
		subject := ev.Params.MethodID
		if subject == "" {
			subject = ev.Params.TaskName
		}
		b.WriteString(fmt.Sprintf(
			"[%s] %-12s %-24s %s\n",
			ev.CreatedAt.Format("15:04:05"),
			ev.Params.AgentID,
			ev.Type,
			subject,
		))
	}
	return b.String()
}

func renderNegotiations(items []domain.Negotiation) string {
	if len(items) == 0 {
		return "No negotiations"
	}
	var b strings.Builder
	for _, n := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %s by %s -> %s (%s, %d agents)\n",
			n.CreatedAt.Format("15:04:05"),
			n.TaskName,
			n.Requester,
			n.Winner,
			n.Status,
			n.Participants,
		))
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	for _, d := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %s %s\n  reason: %s\n",
			d.CreatedAt.Format("15:04:05"),
			d.Actor,
			d.Action,
			trimLine(d.Reason, 100),
		))
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + trimLine(detail, 160) + "\n")
		}
	}
	return b.String()
}

func decisionPayloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func (c *client) sendCommand(line string) (string, error) {
	var out struct {
		Agent string `json:"agent"`
	}
	if err := c.postJSON("/commands", map[string]any{"command": line}, &out); err != nil {
		return "", err
	}
	return out.Agent, nil
}

func (c *client) completeMethod(agentName, method string) error {
	return c.postJSON(fmt.Sprintf("/agents/%s/complete", url.PathEscape(agentName)), map[string]any{"method": method}, nil)
}

func (c *client) listAgents() ([]domain.AgentSnapshot, error) {
	var out []domain.AgentSnapshot
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listEvents(limit int) ([]domain.Event, error) {
	var out []domain.Event
	if err := c.getJSON(fmt.Sprintf("/events?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listDecisions(actor string, limit int) ([]domain.DecisionLog, error) {
	var out []domain.DecisionLog
	path := fmt.Sprintf("/decisions?limit=%d", limit)
	if strings.TrimSpace(actor) != "" {
		path += "&actor=" + url.QueryEscape(actor)
	}
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listNegotiations(limit int) ([]domain.Negotiation, error) {
	var out []domain.Negotiation
	if err := c.getJSON(fmt.Sprintf("/negotiations?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
