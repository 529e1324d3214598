package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/icotes/agenthub/internal/agent"
	"github.com/icotes/agenthub/internal/config"
)

// WorkflowAgent is the slice of the agent surface the engine drives.
// *agent.Agent satisfies it.
type WorkflowAgent interface {
	Execute(ctx context.Context, task agent.Task) <-chan agent.Message
	Pause() error
	Resume() error
	Stop() error
}

// AgentProvider hands the engine agents for its tasks.
type AgentProvider interface {
	Acquire(ctx context.Context, spec *config.AgentSpec) (WorkflowAgent, error)
}

// Engine runs one workflow. Build with NewEngine, call Initialize, then
// Execute once.
type Engine struct {
	cfg      Config
	provider AgentProvider
	logger   *slog.Logger

	retryBase time.Duration // unit for the 2^n backoff

	mu        sync.Mutex
	resumed   *sync.Cond
	state     State
	handlers  []Handler
	byID      map[string]*Task
	idForName map[string]string
	agents    map[string]WorkflowAgent // task id -> acquired agent
	owned     []WorkflowAgent
	cancelRun context.CancelFunc
}

func NewEngine(cfg Config, provider AgentProvider) *Engine {
	if cfg.ParallelLimit <= 0 {
		cfg.ParallelLimit = defaultParallelLimit
	}
	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		logger:    slog.Default().With("component", "workflow", "workflow", cfg.Name),
		retryBase: time.Second,
		state: State{
			WorkflowID:  uuid.NewString(),
			Status:      StatusCreated,
			TaskResults: make(map[string]interface{}),
		},
		byID:      make(map[string]*Task),
		idForName: make(map[string]string),
		agents:    make(map[string]WorkflowAgent),
	}
	e.resumed = sync.NewCond(&e.mu)
	return e
}

// OnEvent registers a handler for engine events.
func (e *Engine) OnEvent(h Handler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

func (e *Engine) emit(name, taskID, detail string) {
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers...)
	id := e.state.WorkflowID
	e.mu.Unlock()
	ev := Event{Name: name, WorkflowID: id, TaskID: taskID, Detail: detail, Timestamp: time.Now().UTC()}
	for _, h := range handlers {
		h(ev)
	}
}

// State returns a snapshot of the run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.Completed = append([]string(nil), e.state.Completed...)
	s.Failed = append([]string(nil), e.state.Failed...)
	results := make(map[string]interface{}, len(e.state.TaskResults))
	for k, v := range e.state.TaskResults {
		results[k] = v
	}
	s.TaskResults = results
	return s
}

// Initialize validates the DAG: every dependency must resolve by id or
// name, and the graph must be acyclic.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusCreated {
		return fmt.Errorf("workflow already initialized (status %s)", e.state.Status)
	}

	for i := range e.cfg.Tasks {
		t := &e.cfg.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if _, dup := e.byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		e.byID[t.ID] = t
		if t.Name != "" {
			e.idForName[t.Name] = t.ID
		}
	}

	// Rewrite name references to ids.
	for _, t := range e.byID {
		for i, dep := range t.Dependencies {
			if _, ok := e.byID[dep]; ok {
				continue
			}
			if id, ok := e.idForName[dep]; ok {
				t.Dependencies[i] = id
				continue
			}
			return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
		}
	}

	if cycle := e.findCycle(); len(cycle) > 0 {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	e.state.Status = StatusReady
	return nil
}

// findCycle runs DFS with a recursion stack and returns one cycle, if any.
func (e *Engine) findCycle() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(e.byID))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range e.byID[id].Dependencies {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, t := range e.cfg.Tasks {
		if color[t.ID] == white {
			if c := visit(t.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

// Execute runs the wave scheduler to completion.
func (e *Engine) Execute(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Status != StatusReady {
		status := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("workflow not ready (status %s)", status)
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if e.cfg.GlobalTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.GlobalTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.cancelRun = cancel
	now := time.Now().UTC()
	e.state.Status = StatusRunning
	e.state.StartTime = &now
	e.mu.Unlock()
	defer cancel()

	e.emit(EventWorkflowStarted, "", "")
	defer func() {
		end := time.Now().UTC()
		e.mu.Lock()
		e.state.EndTime = &end
		e.mu.Unlock()
		if e.cfg.AutoSave && e.cfg.SavePath != "" {
			if err := e.saveState(); err != nil {
				e.logger.Error("state save failed", "error", err)
			}
		}
	}()

	err := e.runWaves(runCtx)
	switch {
	case err == nil:
		e.setStatus(StatusCompleted, "")
		e.emit(EventWorkflowCompleted, "", "")
	case runCtx.Err() != nil || e.State().Status == StatusCancelled:
		e.setStatus(StatusCancelled, "")
		e.stopOwned()
		e.emit(EventWorkflowCancelled, "", "")
		return err
	default:
		e.setStatus(StatusFailed, err.Error())
		e.emit(EventWorkflowFailed, "", err.Error())
		return err
	}
	return nil
}

func (e *Engine) setStatus(s Status, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status == StatusCancelled && s != StatusCancelled {
		return
	}
	e.state.Status = s
	if errMsg != "" {
		e.state.ErrorMessage = errMsg
	}
}

// runWaves loops over readiness waves until no task is ready. Sequential
// and parallel ready tasks go into separate queues: the sequential queue
// runs one at a time in enumeration order, then the parallel queue drains
// under the semaphore. The two never mix.
func (e *Engine) runWaves(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(e.cfg.ParallelLimit))
	for {
		if err := e.waitIfPaused(ctx); err != nil {
			return err
		}

		sequential, parallel := e.readyQueues()
		if len(sequential) == 0 && len(parallel) == 0 {
			return nil
		}

		for _, t := range sequential {
			if err := e.waitIfPaused(ctx); err != nil {
				return err
			}
			if err := e.runTask(ctx, t); err != nil {
				return err
			}
		}

		if len(parallel) > 0 {
			var wg sync.WaitGroup
			errs := make(chan error, len(parallel))
			for _, t := range parallel {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				wg.Add(1)
				go func(t *Task) {
					defer wg.Done()
					defer sem.Release(1)
					if err := e.runTask(ctx, t); err != nil {
						errs <- err
					}
				}(t)
			}
			wg.Wait()
			close(errs)
			if err := <-errs; err != nil {
				return err
			}
		}
	}
}

// readyQueues partitions unexecuted tasks whose dependencies are all
// completed. Conditional and handoff tasks schedule sequentially.
func (e *Engine) readyQueues() (sequential, parallel []*Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	done := make(map[string]bool, len(e.state.Completed))
	for _, id := range e.state.Completed {
		done[id] = true
	}
	failed := make(map[string]bool, len(e.state.Failed))
	for _, id := range e.state.Failed {
		failed[id] = true
	}

	for i := range e.cfg.Tasks {
		t := &e.cfg.Tasks[i]
		if done[t.ID] || failed[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if t.Type == TaskParallel {
			parallel = append(parallel, t)
		} else {
			sequential = append(sequential, t)
		}
	}
	return sequential, parallel
}

// runTask executes one task with the retry policy.
func (e *Engine) runTask(ctx context.Context, t *Task) error {
	if t.Type == TaskConditional && !e.conditionsMet(t) {
		// A skipped conditional counts as completed with no recorded
		// result; downstream task_result conditions on it fail closed.
		e.mu.Lock()
		e.state.Completed = append(e.state.Completed, t.ID)
		e.mu.Unlock()
		e.emit(EventTaskSkipped, t.ID, "conditions not met")
		return nil
	}

	e.mu.Lock()
	e.state.CurrentTask = t.ID
	e.mu.Unlock()
	e.emit(EventTaskStarted, t.ID, "")

	for {
		result, err := e.executeOnAgent(ctx, t)
		if err == nil {
			e.mu.Lock()
			e.state.Completed = append(e.state.Completed, t.ID)
			e.state.TaskResults[t.ID] = result
			e.mu.Unlock()
			e.emit(EventTaskCompleted, t.ID, "")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.RetryCount++
		if t.RetryCount > t.MaxRetries {
			e.mu.Lock()
			e.state.Failed = append(e.state.Failed, t.ID)
			e.mu.Unlock()
			e.emit(EventTaskFailed, t.ID, err.Error())
			return fmt.Errorf("task %q failed after %d retries: %w", t.ID, t.MaxRetries, err)
		}
		backoff := e.retryBase * (1 << t.RetryCount)
		e.logger.Warn("task failed, retrying", "task", t.ID, "attempt", t.RetryCount, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// conditionsMet evaluates a conditional task's conditions immediately
// before execution.
func (e *Engine) conditionsMet(t *Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, want := range t.Conditions {
		switch {
		case strings.HasPrefix(key, "task_result:"):
			ref := e.resolveRefLocked(strings.TrimPrefix(key, "task_result:"))
			got, ok := e.state.TaskResults[ref]
			if !ok || got != want {
				return false
			}
		case strings.HasPrefix(key, "task_status:"):
			ref := e.resolveRefLocked(strings.TrimPrefix(key, "task_status:"))
			found := false
			for _, id := range e.state.Completed {
				if id == ref {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (e *Engine) resolveRefLocked(ref string) string {
	if _, ok := e.byID[ref]; ok {
		return ref
	}
	if id, ok := e.idForName[ref]; ok {
		return id
	}
	return ref
}

// executeOnAgent obtains the task's agent and concatenates the text items
// of one run into the result.
func (e *Engine) executeOnAgent(ctx context.Context, t *Task) (string, error) {
	ag, err := e.agentFor(ctx, t)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for item := range ag.Execute(ctx, agent.Task{Prompt: t.TaskContent}) {
		switch item.Kind {
		case agent.MsgText:
			sb.WriteString(item.Content)
		case agent.MsgError:
			return "", fmt.Errorf("agent error: %s", item.Content)
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return sb.String(), nil
}

func (e *Engine) agentFor(ctx context.Context, t *Task) (WorkflowAgent, error) {
	e.mu.Lock()
	if ag, ok := e.agents[t.ID]; ok {
		e.mu.Unlock()
		return ag, nil
	}
	e.mu.Unlock()

	ag, err := e.provider.Acquire(ctx, t.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("acquire agent for task %q: %w", t.ID, err)
	}
	e.mu.Lock()
	e.agents[t.ID] = ag
	e.owned = append(e.owned, ag)
	e.mu.Unlock()
	return ag, nil
}

// waitIfPaused blocks between tasks while the workflow is paused.
func (e *Engine) waitIfPaused(ctx context.Context) error {
	e.mu.Lock()
	for e.state.Status == StatusPaused {
		e.resumed.Wait()
	}
	status := e.state.Status
	e.mu.Unlock()
	if status == StatusCancelled {
		return context.Canceled
	}
	return ctx.Err()
}

// Pause suspends scheduling after the current task and pauses owned
// agents.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state.Status != StatusRunning {
		status := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("cannot pause workflow in status %s", status)
	}
	e.state.Status = StatusPaused
	owned := append([]WorkflowAgent(nil), e.owned...)
	e.mu.Unlock()

	for _, ag := range owned {
		if err := ag.Pause(); err != nil {
			e.logger.Debug("agent pause skipped", "error", err)
		}
	}
	e.emit(EventWorkflowPaused, "", "")
	return nil
}

// Resume restarts a paused workflow.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state.Status != StatusPaused {
		status := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("cannot resume workflow in status %s", status)
	}
	e.state.Status = StatusRunning
	owned := append([]WorkflowAgent(nil), e.owned...)
	e.resumed.Broadcast()
	e.mu.Unlock()

	for _, ag := range owned {
		if err := ag.Resume(); err != nil {
			e.logger.Debug("agent resume skipped", "error", err)
		}
	}
	e.emit(EventWorkflowResumed, "", "")
	return nil
}

// Cancel stops owned agents and terminates the run.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.state.Status = StatusCancelled
	cancel := e.cancelRun
	e.resumed.Broadcast()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.stopOwned()
}

func (e *Engine) stopOwned() {
	e.mu.Lock()
	owned := append([]WorkflowAgent(nil), e.owned...)
	e.mu.Unlock()
	for _, ag := range owned {
		if err := ag.Stop(); err != nil {
			e.logger.Debug("agent stop skipped", "error", err)
		}
	}
}

// TaskResult resolves a result by task id or name. ok is false for
// unknown tasks and for skipped conditionals.
func (e *Engine) TaskResult(idOrName string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.resolveRefLocked(idOrName)
	v, ok := e.state.TaskResults[id]
	return v, ok
}

// savedState is the persisted form: the run state plus minimal config.
type savedState struct {
	State  State  `json:"state"`
	Name   string `json:"name"`
	Tasks  int    `json:"tasks"`
	Limits int    `json:"parallel_limit"`
}

// saveState writes the state JSON atomically.
func (e *Engine) saveState() error {
	data, err := json.MarshalIndent(savedState{
		State:  e.State(),
		Name:   e.cfg.Name,
		Tasks:  len(e.cfg.Tasks),
		Limits: e.cfg.ParallelLimit,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.cfg.SavePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, e.cfg.SavePath)
}
