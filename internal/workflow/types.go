// Package workflow implements the DAG task engine: validation, the
// topological wave scheduler with separate sequential and parallel ready
// queues, conditional tasks, retries with exponential backoff, and state
// persistence.
package workflow

import (
	"time"

	"github.com/icotes/agenthub/internal/config"
)

// TaskType selects how a ready task is scheduled.
type TaskType string

const (
	TaskSequential  TaskType = "sequential"
	TaskParallel    TaskType = "parallel"
	TaskConditional TaskType = "conditional"
	TaskHandoff     TaskType = "handoff"
)

// Task is one node of the workflow DAG. Dependencies may reference other
// tasks by id or by name; validation rewrites names to ids.
type Task struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         TaskType               `json:"type"`
	AgentConfig  *config.AgentSpec      `json:"agent_config,omitempty"`
	TaskContent  string                 `json:"task_content"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Conditions   map[string]interface{} `json:"conditions,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	MaxRetries   int                    `json:"max_retries"`
	RetryCount   int                    `json:"retry_count"`
}

// Config describes a whole workflow.
type Config struct {
	Name          string        `json:"name"`
	Tasks         []Task        `json:"tasks"`
	ParallelLimit int           `json:"parallel_limit"`
	AutoSave      bool          `json:"auto_save"`
	SavePath      string        `json:"save_path,omitempty"`
	GlobalTimeout time.Duration `json:"global_timeout,omitempty"`
}

const defaultParallelLimit = 5

// Status is the workflow lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// State is the observable progress of one workflow run.
type State struct {
	WorkflowID   string                 `json:"workflow_id"`
	Status       Status                 `json:"status"`
	CurrentTask  string                 `json:"current_task,omitempty"`
	Completed    []string               `json:"completed"`
	Failed       []string               `json:"failed"`
	TaskResults  map[string]interface{} `json:"task_results"`
	StartTime    *time.Time             `json:"start_time,omitempty"`
	EndTime      *time.Time             `json:"end_time,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Event names emitted to handlers.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowPaused    = "workflow_paused"
	EventWorkflowResumed   = "workflow_resumed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventTaskStarted       = "task_started"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventTaskSkipped       = "task_skipped"
)

// Event is one engine notification.
type Event struct {
	Name       string    `json:"name"`
	WorkflowID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Handler receives engine events.
type Handler func(Event)
