package agentsvc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/icotes/agenthub/internal/config"
	"github.com/icotes/agenthub/internal/workflow"
)

// agentProvider lends service-owned agents to workflow engines. A task
// without its own agent config runs on the default agent.
type agentProvider struct {
	svc *Service
}

func (p agentProvider) Acquire(ctx context.Context, spec *config.AgentSpec) (workflow.WorkflowAgent, error) {
	if spec == nil {
		sess, err := p.svc.Default(ctx)
		if err != nil {
			return nil, err
		}
		return sess.Agent, nil
	}
	sess, err := p.svc.Create(ctx, *spec)
	if err != nil {
		return nil, err
	}
	return sess.Agent, nil
}

// workflowRun is one registered engine with its bookkeeping.
type workflowRun struct {
	engine    *workflow.Engine
	name      string
	createdAt time.Time
}

// CreateWorkflow builds and validates an engine for cfg and registers it
// under its workflow id. Agents come from this service.
func (s *Service) CreateWorkflow(cfg workflow.Config) (string, error) {
	eng := workflow.NewEngine(cfg, agentProvider{svc: s})
	id := eng.State().WorkflowID
	eng.OnEvent(func(ev workflow.Event) {
		s.bus.Publish("workflow."+ev.Name, map[string]interface{}{
			"workflow_id": ev.WorkflowID,
			"task_id":     ev.TaskID,
			"detail":      ev.Detail,
		}, "agentsvc")
	})
	if err := eng.Initialize(); err != nil {
		return "", fmt.Errorf("create workflow %q: %w", cfg.Name, err)
	}

	s.wfMu.Lock()
	if s.workflows == nil {
		s.workflows = make(map[string]*workflowRun)
	}
	s.workflows[id] = &workflowRun{engine: eng, name: cfg.Name, createdAt: time.Now().UTC()}
	s.wfMu.Unlock()

	s.logger.Info("workflow created", "workflow_id", id, "name", cfg.Name, "tasks", len(cfg.Tasks))
	return id, nil
}

// ExecuteWorkflow runs a registered workflow to completion and returns
// the run error, if any. It blocks; callers wanting progress subscribe to
// workflow.* bus events.
func (s *Service) ExecuteWorkflow(ctx context.Context, id string) error {
	run, err := s.workflowRun(id)
	if err != nil {
		return err
	}
	return run.engine.Execute(ctx)
}

// PauseWorkflow suspends scheduling after the current task.
func (s *Service) PauseWorkflow(id string) error {
	run, err := s.workflowRun(id)
	if err != nil {
		return err
	}
	return run.engine.Pause()
}

// ResumeWorkflow restarts a paused workflow.
func (s *Service) ResumeWorkflow(id string) error {
	run, err := s.workflowRun(id)
	if err != nil {
		return err
	}
	return run.engine.Resume()
}

// CancelWorkflow stops the run and its agents.
func (s *Service) CancelWorkflow(id string) error {
	run, err := s.workflowRun(id)
	if err != nil {
		return err
	}
	run.engine.Cancel()
	return nil
}

// WorkflowState returns a snapshot of a registered workflow's run state.
func (s *Service) WorkflowState(id string) (workflow.State, error) {
	run, err := s.workflowRun(id)
	if err != nil {
		return workflow.State{}, err
	}
	return run.engine.State(), nil
}

// ListWorkflows returns state snapshots ordered by creation time.
func (s *Service) ListWorkflows() []workflow.State {
	s.wfMu.Lock()
	runs := make([]*workflowRun, 0, len(s.workflows))
	for _, run := range s.workflows {
		runs = append(runs, run)
	}
	s.wfMu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].createdAt.Before(runs[j].createdAt) })
	out := make([]workflow.State, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.engine.State())
	}
	return out
}

func (s *Service) workflowRun(id string) (*workflowRun, error) {
	s.wfMu.Lock()
	defer s.wfMu.Unlock()
	run, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	return run, nil
}
