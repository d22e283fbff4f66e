package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzr/workflow-engine/common/config"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/coordinator"
	"github.com/lyzr/workflow-engine/model"
	"github.com/lyzr/workflow-engine/parser"
	"github.com/lyzr/workflow-engine/statemachine"
	"github.com/lyzr/workflow-engine/storage"
	"github.com/lyzr/workflow-engine/triggers"
)

// handler serves the engine's HTTP API
type handler struct {
	coord      *coordinator.Coordinator
	sm         *statemachine.Engine
	cron       *triggers.CronRunner
	workflows  storage.WorkflowRepository
	executions storage.ExecutionRepository
	parser     *parser.Parser
	metrics    *metrics.Metrics
}

func newHandler(
	coord *coordinator.Coordinator,
	sm *statemachine.Engine,
	cron *triggers.CronRunner,
	workflows storage.WorkflowRepository,
	executions storage.ExecutionRepository,
	m *metrics.Metrics,
) *handler {
	return &handler{
		coord:      coord,
		sm:         sm,
		cron:       cron,
		workflows:  workflows,
		executions: executions,
		parser:     parser.NewParser(),
		metrics:    m,
	}
}

func (h *handler) register(e *echo.Echo, cfg *config.Config) {
	e.GET("/health", h.health)
	if cfg.Telemetry.EnableMetrics {
		e.GET(cfg.Telemetry.MetricsPath, echo.WrapHandler(
			promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")

	api.POST("/workflows", h.registerWorkflow)
	api.GET("/workflows", h.listWorkflows)
	api.GET("/workflows/:id", h.getWorkflow)
	api.DELETE("/workflows/:id", h.deleteWorkflow)
	api.POST("/workflows/:id/patch", h.patchWorkflow)

	api.POST("/executions", h.startExecution)
	api.GET("/executions", h.listExecutions)
	api.GET("/executions/:id", h.getExecution)
	api.POST("/executions/:id/cancel", h.cancelExecution)
	api.POST("/executions/:id/suspend", h.suspendExecution)
	api.POST("/executions/:id/resume", h.resumeExecution)
	api.GET("/executions/:id/compensation", h.compensationStatus)

	api.POST("/statemachines/:workflow_id/instances", h.createInstance)
	api.GET("/statemachines/instances/:id", h.getInstance)
	api.POST("/statemachines/instances/:id/events", h.sendEvent)

	api.GET("/scheduler/stats", h.schedulerStats)
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// registerWorkflow accepts a JSON or YAML workflow definition
// POST /api/v1/workflows
func (h *handler) registerWorkflow(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return badRequest(c, "failed to read request body")
	}

	w, err := h.parser.Parse(body)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.coord.RegisterWorkflow(c.Request().Context(), w); err != nil {
		return workflowError(c, err)
	}

	if w.Type == model.WorkflowTypeStateMachine {
		if err := h.sm.RegisterWorkflow(w); err != nil {
			return workflowError(c, err)
		}
	}

	if err := h.cron.RegisterWorkflow(w); err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":      w.ID,
		"name":    w.Name,
		"version": w.Version,
		"type":    w.Type,
	})
}

// getWorkflow returns the latest version, or a specific one via ?version=
// GET /api/v1/workflows/:id
func (h *handler) getWorkflow(c echo.Context) error {
	id := c.Param("id")
	version := c.QueryParam("version")

	var (
		w   *model.Workflow
		err error
	)
	if version != "" {
		w, err = h.workflows.GetVersion(c.Request().Context(), id, version)
	} else {
		w, err = h.workflows.Get(c.Request().Context(), id)
	}
	if err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusOK, w)
}

// listWorkflows lists the latest version of every workflow
// GET /api/v1/workflows
func (h *handler) listWorkflows(c echo.Context) error {
	workflows, err := h.workflows.List(c.Request().Context())
	if err != nil {
		return workflowError(c, err)
	}

	summaries := make([]map[string]any, 0, len(workflows))
	for _, w := range workflows {
		summaries = append(summaries, map[string]any{
			"id":      w.ID,
			"name":    w.Name,
			"version": w.Version,
			"type":    w.Type,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": summaries})
}

// deleteWorkflow removes every version of a workflow and its cron entries
// DELETE /api/v1/workflows/:id
func (h *handler) deleteWorkflow(c echo.Context) error {
	id := c.Param("id")

	if err := h.workflows.Delete(c.Request().Context(), id); err != nil {
		return workflowError(c, err)
	}
	h.cron.UnregisterWorkflow(id)

	return c.NoContent(http.StatusNoContent)
}

type patchRequest struct {
	Version string          `json:"version"`
	Patch   json.RawMessage `json:"patch"`
}

// patchWorkflow applies a JSON merge patch to the latest version and
// registers the result as a new immutable version
// POST /api/v1/workflows/:id/patch
func (h *handler) patchWorkflow(c echo.Context) error {
	id := c.Param("id")

	var req patchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid patch request")
	}
	if req.Version == "" {
		return badRequest(c, "version is required")
	}
	if len(req.Patch) == 0 {
		return badRequest(c, "patch is required")
	}

	base, err := h.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return workflowError(c, err)
	}

	patched, err := h.parser.PatchWorkflow(base, req.Patch, req.Version)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.coord.RegisterWorkflow(c.Request().Context(), patched); err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"id":      patched.ID,
		"version": patched.Version,
	})
}

type startExecutionRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Inputs     map[string]any `json:"inputs"`
}

// startExecution begins a DAG workflow run
// POST /api/v1/executions
func (h *handler) startExecution(c echo.Context) error {
	var req startExecutionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid execution request")
	}
	if req.WorkflowID == "" {
		return badRequest(c, "workflow_id is required")
	}

	execution, err := h.coord.StartExecution(c.Request().Context(), req.WorkflowID, req.Inputs)
	if err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": execution.ID,
		"workflow_id":  execution.WorkflowID,
		"status":       execution.GetStatus(),
	})
}

// getExecution returns the execution status view
// GET /api/v1/executions/:id
func (h *handler) getExecution(c echo.Context) error {
	view, err := h.coord.ExecutionStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// listExecutions filters by ?workflow_id= or ?status=
// GET /api/v1/executions
func (h *handler) listExecutions(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		executions []*model.Execution
		err        error
	)
	switch {
	case c.QueryParam("workflow_id") != "":
		executions, err = h.executions.ListByWorkflow(ctx, c.QueryParam("workflow_id"))
	case c.QueryParam("status") != "":
		executions, err = h.executions.ListByStatus(ctx, model.ExecutionStatus(c.QueryParam("status")))
	default:
		return badRequest(c, "workflow_id or status query parameter is required")
	}
	if err != nil {
		return workflowError(c, err)
	}

	views := make([]*model.StatusView, 0, len(executions))
	for _, execution := range executions {
		views = append(views, execution.View())
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": views})
}

// POST /api/v1/executions/:id/cancel
func (h *handler) cancelExecution(c echo.Context) error {
	if err := h.coord.CancelExecution(c.Request().Context(), c.Param("id")); err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

// POST /api/v1/executions/:id/suspend
func (h *handler) suspendExecution(c echo.Context) error {
	if err := h.coord.SuspendExecution(c.Request().Context(), c.Param("id")); err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "suspended"})
}

// POST /api/v1/executions/:id/resume
func (h *handler) resumeExecution(c echo.Context) error {
	if err := h.coord.ResumeExecution(c.Request().Context(), c.Param("id")); err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "running"})
}

// GET /api/v1/executions/:id/compensation
func (h *handler) compensationStatus(c echo.Context) error {
	status := h.coord.CompensationStatus(c.Param("id"))
	if status == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no compensation run for execution",
		})
	}
	return c.JSON(http.StatusOK, status)
}

type createInstanceRequest struct {
	Context map[string]any `json:"context"`
}

// createInstance starts a state machine instance in its initial state
// POST /api/v1/statemachines/:workflow_id/instances
func (h *handler) createInstance(c echo.Context) error {
	var req createInstanceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid instance request")
	}

	instance, err := h.sm.CreateInstance(c.Request().Context(), c.Param("workflow_id"), req.Context)
	if err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"instance_id":   instance.ID,
		"workflow_id":   instance.WorkflowID,
		"current_state": instance.CurrentState,
	})
}

// GET /api/v1/statemachines/instances/:id
func (h *handler) getInstance(c echo.Context) error {
	status, err := h.sm.InstanceStatus(c.Param("id"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

type sendEventRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// sendEvent delivers an event to a state machine instance. The response
// reports whether any transition fired.
// POST /api/v1/statemachines/instances/:id/events
func (h *handler) sendEvent(c echo.Context) error {
	var req sendEventRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid event request")
	}
	if req.Event == "" {
		return badRequest(c, "event is required")
	}

	transitioned, err := h.sm.ProcessEvent(c.Request().Context(), c.Param("id"), req.Event, req.Data)
	if err != nil {
		return workflowError(c, err)
	}

	status, err := h.sm.InstanceStatus(c.Param("id"))
	if err != nil {
		return workflowError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"transitioned":  transitioned,
		"current_state": status.CurrentState,
		"is_final":      status.IsFinal,
	})
}

// GET /api/v1/scheduler/stats
func (h *handler) schedulerStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.Scheduler().GetStats())
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

// workflowError maps domain errors onto HTTP status codes
func workflowError(c echo.Context, err error) error {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrVersionExists):
		status = http.StatusConflict
	default:
		switch model.KindOf(err) {
		case model.ErrValidation, model.ErrParse:
			status = http.StatusBadRequest
		case model.ErrStateTransition, model.ErrConcurrency:
			status = http.StatusConflict
		case model.ErrResource:
			status = http.StatusTooManyRequests
		}
	}

	return c.JSON(status, map[string]string{"error": err.Error()})
}
