package domain

import (
	"encoding/json"
	"time"
)

// DisplayListener is the bus address of the world's display consumer.
const DisplayListener = "display"

type CommandType string

const (
	CommandAssignTask           CommandType = "ASSIGN_TASK"
	CommandNegotiate            CommandType = "NEGOTIATE"
	CommandCalculateCost        CommandType = "CALCULATE_COST"
	CommandCostBroadcast        CommandType = "COST_BROADCAST"
	CommandMethodCompleted      CommandType = "METHOD_COMPLETED"
	CommandTaskCompleted        CommandType = "TASK_COMPLETED"
	CommandDisplayAddAgent      CommandType = "DISPLAY_ADD_AGENT"
	CommandDisplayAddMethod     CommandType = "DISPLAY_ADD_METHOD"
	CommandDisplayRemoveMethod  CommandType = "DISPLAY_REMOVE_METHOD"
	CommandDisplayTaskExecution CommandType = "DISPLAY_TASK_EXECUTION"
)

type AgentStatus string

const (
	AgentStatusEmpty              AgentStatus = "empty"
	AgentStatusProcessing         AgentStatus = "processing"
	AgentStatusAwaitingCompletion AgentStatus = "awaiting_completion"
)

type NegotiationStatus string

const (
	NegotiationStatusOpen     NegotiationStatus = "open"
	NegotiationStatusAwarded  NegotiationStatus = "awarded"
	NegotiationStatusRetained NegotiationStatus = "retained"
)

// Event is a scheduling event. AgentName is the addressee; the bus routes on it.
type Event struct {
	ID        string      `json:"id"`
	AgentName string      `json:"agent_name"`
	Type      CommandType `json:"type"`
	Params    EventParams `json:"params"`
	CreatedAt time.Time   `json:"created_at"`
}

type EventParams struct {
	TaskName  string  `json:"task_name,omitempty"`
	AgentID   string  `json:"agent_id,omitempty"`
	Requester string  `json:"requester,omitempty"`
	RoundID   string  `json:"round_id,omitempty"`
	MethodID  string  `json:"method_id,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Data      string  `json:"data,omitempty"`
}

type CompletedMethod struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	MethodIndex int       `json:"method_index"`
	Agent       string    `json:"agent"`
	CompletedAt time.Time `json:"completed_at"`
}

type CompletedTask struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	Agent       string    `json:"agent"`
	CompletedAt time.Time `json:"completed_at"`
}

type Negotiation struct {
	ID           string            `json:"id"`
	TaskName     string            `json:"task_name"`
	Requester    string            `json:"requester"`
	Participants int               `json:"participants"`
	Winner       string            `json:"winner,omitempty"`
	Status       NegotiationStatus `json:"status"`
	Problem      string            `json:"problem,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Artifact struct {
	ID            string          `json:"id"`
	ProducerAgent string          `json:"producer_agent"`
	Kind          string          `json:"kind"`
	URI           string          `json:"uri"`
	Checksum      string          `json:"checksum"`
	Allowed       bool            `json:"allowed"`
	Reason        string          `json:"reason"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type ScheduleItem struct {
	Label   string  `json:"label"`
	Index   int     `json:"index"`
	Quality float64 `json:"quality"`
	Status  string  `json:"status"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type AgentSnapshot struct {
	Name         string         `json:"name"`
	Status       AgentStatus    `json:"status"`
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	Managing     bool           `json:"managing"`
	Children     []string       `json:"children,omitempty"`
	Tasks        []string       `json:"tasks,omitempty"`
	PendingTasks int            `json:"pending_tasks"`
	Schedule     []ScheduleItem `json:"schedule"`
	TotalQuality float64        `json:"total_quality"`
	Current      string         `json:"current,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
