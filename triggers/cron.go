package triggers

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/coordinator"
	"github.com/lyzr/workflow-engine/model"
)

// CronRunner starts executions from schedule triggers. Each workflow
// trigger of type "schedule" contributes one cron entry; the trigger's
// config carries the cron expression and optional fixed inputs.
type CronRunner struct {
	cron  *cron.Cron
	coord *coordinator.Coordinator
	log   *logger.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID // workflow id -> entries
}

// NewCronRunner creates a cron trigger runner
func NewCronRunner(coord *coordinator.Coordinator, log *logger.Logger) *CronRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds()),
		coord:   coord,
		log:     log,
		entries: make(map[string][]cron.EntryID),
	}
}

// RegisterWorkflow wires the workflow's schedule triggers into the cron
// table. Workflows without schedule triggers are a no-op.
func (r *CronRunner) RegisterWorkflow(w *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, trigger := range w.Triggers {
		if trigger.Type != "schedule" {
			continue
		}

		expr, _ := trigger.Config["cron"].(string)
		if expr == "" {
			expr, _ = trigger.Config["schedule"].(string)
		}
		if expr == "" {
			return model.NewError(model.ErrValidation, "schedule trigger on workflow %s has no cron expression", w.ID)
		}

		inputs, _ := trigger.Config["inputs"].(map[string]any)
		workflowID := w.ID

		entryID, err := r.cron.AddFunc(expr, func() {
			execution, err := r.coord.StartExecution(context.Background(), workflowID, inputs)
			if err != nil {
				r.log.Error("scheduled execution failed to start", "workflow_id", workflowID, "error", err)
				return
			}
			r.log.Info("scheduled execution started",
				"workflow_id", workflowID,
				"execution_id", execution.ID)
		})
		if err != nil {
			return model.NewError(model.ErrValidation, "invalid cron expression %q on workflow %s: %v", expr, w.ID, err)
		}

		r.entries[w.ID] = append(r.entries[w.ID], entryID)
		r.log.Info("registered schedule trigger", "workflow_id", w.ID, "cron", expr)
	}

	return nil
}

// UnregisterWorkflow removes the workflow's cron entries
func (r *CronRunner) UnregisterWorkflow(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entryID := range r.entries[workflowID] {
		r.cron.Remove(entryID)
	}
	delete(r.entries, workflowID)
}

// Start begins firing triggers
func (r *CronRunner) Start() {
	r.cron.Start()
	r.log.Info("cron trigger runner started")
}

// Stop halts trigger firing and waits for in-flight jobs
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron trigger runner stopped")
}
