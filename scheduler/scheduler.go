package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/model"
)

// Task is a schedulable unit: one node of one execution
type Task struct {
	ExecutionID   string
	NodeID        string
	Priority      int
	ScheduledTime time.Time
	RetryCount    int
	Metadata      map[string]any
}

// Key identifies a task within the scheduler's collections
func (t *Task) Key() string {
	return fmt.Sprintf("%s:%s", t.ExecutionID, t.NodeID)
}

// taskHeap orders tasks by (priority desc, scheduledTime asc)
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledTime.Before(h[j].ScheduledTime)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// ExecutorFunc runs one node. Errors never escape an executor: failure
// handling happens inside via the error pipeline.
type ExecutorFunc func(ctx context.Context, task *Task, node *model.Node)

// Source lets the scheduler look up nodes and executions without owning
// storage
type Source interface {
	SchedNode(executionID, nodeID string) *model.Node
	SchedExecution(executionID string) *model.Execution
}

// Opts configures a scheduler
type Opts struct {
	Resources *ResourceManager
	Source    Source
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Interval  time.Duration
}

// Scheduler drains a priority-ordered ready queue into worker goroutines,
// sweeping a waiting map for tasks whose dependencies have completed.
// Over-capacity tasks are never dropped; they stay queued and surface as
// ready-queue depth.
type Scheduler struct {
	resources *ResourceManager
	source    Source
	log       *logger.Logger
	metrics   *metrics.Metrics
	interval  time.Duration

	mu       sync.Mutex
	ready    taskHeap
	waiting  map[string]*Task
	running  map[string]*Task
	limiters map[string]*RateLimiter
	execs    map[model.NodeType]ExecutorFunc

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler
func NewScheduler(opts Opts) *Scheduler {
	if opts.Resources == nil {
		opts.Resources = NewResourceManager(DefaultQuota())
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Scheduler{
		resources: opts.Resources,
		source:    opts.Source,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		waiting:   make(map[string]*Task),
		running:   make(map[string]*Task),
		limiters:  make(map[string]*RateLimiter),
		execs:     make(map[model.NodeType]ExecutorFunc),
	}
}

// RegisterExecutor binds an executor to a node type
func (s *Scheduler) RegisterExecutor(nodeType model.NodeType, fn ExecutorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[nodeType] = fn
}

// SetRateLimiter attaches a token bucket keyed by node type or tag
func (s *Scheduler) SetRateLimiter(key string, rate int, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[key] = NewRateLimiter(rate, interval)
}

// Start begins the scheduler loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)
	s.log.Info("task scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for in-flight workers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("task scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processReadyTasks(ctx)
			s.checkWaitingTasks()
			s.publishGauges()
		}
	}
}

// ScheduleWorkflow enqueues every dependency-free node as ready and parks
// the rest in the waiting map
func (s *Scheduler) ScheduleWorkflow(w *model.Workflow, execution *model.Execution) {
	for _, node := range w.Nodes {
		s.ScheduleNode(node, execution)
	}
}

// ScheduleNode enqueues a node: ready if its dependencies are satisfied,
// waiting otherwise
func (s *Scheduler) ScheduleNode(node *model.Node, execution *model.Execution) {
	task := &Task{
		ExecutionID:   execution.ID,
		NodeID:        node.ID,
		Priority:      nodePriority(node),
		ScheduledTime: time.Now(),
	}

	execution.EnsureNodeExecution(node.ID)

	if execution.CanExecuteNode(node.ID, node.Dependencies, true) {
		if err := execution.MarkNodeReady(node.ID); err != nil {
			s.log.Warn("node not in a schedulable state", "task", task.Key(), "error", err)
			return
		}
		s.pushReady(task)
		return
	}

	s.mu.Lock()
	s.waiting[task.Key()] = task
	s.mu.Unlock()
}

// ScheduleRetry re-enqueues a failed node keeping its priority, delayed by
// the backoff. The node must already be in retrying state.
func (s *Scheduler) ScheduleRetry(node *model.Node, execution *model.Execution, retryCount int, delay time.Duration) {
	task := &Task{
		ExecutionID:   execution.ID,
		NodeID:        node.ID,
		Priority:      nodePriority(node),
		ScheduledTime: time.Now().Add(delay),
		RetryCount:    retryCount,
	}
	s.pushReady(task)
}

func (s *Scheduler) pushReady(task *Task) {
	s.mu.Lock()
	heap.Push(&s.ready, task)
	s.mu.Unlock()
}

// processReadyTasks drains admissible tasks from the ready queue. Each
// candidate is popped before it is examined, so the task dispatched is
// always the task removed even when workers push concurrently. Tasks held
// back (retry backoff not elapsed, execution suspended, over capacity) go
// back on the heap at the end of the pass: the queue applies back-pressure
// instead of dropping work.
func (s *Scheduler) processReadyTasks(ctx context.Context) {
	now := time.Now()
	var deferred []*Task

	for {
		task := s.popHead()
		if task == nil {
			break
		}

		if task.ScheduledTime.After(now) {
			// Retry backoff not elapsed; hold it for a later pass and keep
			// draining so due lower-priority tasks are not starved behind it
			deferred = append(deferred, task)
			continue
		}

		execution := s.source.SchedExecution(task.ExecutionID)
		if execution == nil {
			s.log.Warn("dropping task for unknown execution", "task", task.Key())
			continue
		}

		switch execution.GetStatus() {
		case model.ExecutionCancelled:
			_ = execution.CancelNode(task.NodeID)
			continue
		case model.ExecutionFailed, model.ExecutionCompleted, model.ExecutionCompensating:
			continue
		case model.ExecutionSuspended:
			// Admission frozen for this execution only; let others proceed
			deferred = append(deferred, task)
			continue
		}

		node := s.source.SchedNode(task.ExecutionID, task.NodeID)
		if node == nil {
			s.log.Error("dropping task for unknown node", "task", task.Key())
			continue
		}

		if err := s.resources.Allocate(task.Key(), node); err != nil {
			// Over capacity; put it back and stop draining until a slot frees
			deferred = append(deferred, task)
			break
		}

		s.mu.Lock()
		s.running[task.Key()] = task
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runTask(ctx, task, node)
	}

	if len(deferred) > 0 {
		s.mu.Lock()
		for _, task := range deferred {
			heap.Push(&s.ready, task)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) popHead() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	return heap.Pop(&s.ready).(*Task)
}

func (s *Scheduler) runTask(ctx context.Context, task *Task, node *model.Node) {
	defer s.wg.Done()
	defer func() {
		s.resources.Release(task.Key(), node)
		s.mu.Lock()
		delete(s.running, task.Key())
		s.mu.Unlock()
	}()

	if limiter := s.limiterFor(node); limiter != nil {
		if err := limiter.Acquire(ctx, 1); err != nil {
			s.log.Warn("rate limit wait aborted", "task", task.Key(), "error", err)
			return
		}
	}

	s.mu.Lock()
	executor := s.execs[node.Type]
	s.mu.Unlock()

	if executor == nil {
		s.log.Error("no executor registered for node type",
			"task", task.Key(),
			"node_type", node.Type)
		if execution := s.source.SchedExecution(task.ExecutionID); execution != nil {
			_ = execution.FailNode(task.NodeID,
				model.NewError(model.ErrScheduling, "no executor for node type %s", node.Type))
		}
		return
	}

	executor(ctx, task, node)
}

func (s *Scheduler) limiterFor(node *model.Node) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tag, ok := node.Config["rate_key"].(string); ok {
		if limiter, ok := s.limiters[tag]; ok {
			return limiter
		}
	}
	return s.limiters[string(node.Type)]
}

// checkWaitingTasks promotes waiting tasks whose dependencies have all
// reached success (or skipped)
func (s *Scheduler) checkWaitingTasks() {
	s.mu.Lock()
	candidates := make([]*Task, 0, len(s.waiting))
	for _, task := range s.waiting {
		candidates = append(candidates, task)
	}
	s.mu.Unlock()

	for _, task := range candidates {
		execution := s.source.SchedExecution(task.ExecutionID)
		if execution == nil || execution.IsTerminal() {
			s.dropWaiting(task.Key())
			continue
		}

		node := s.source.SchedNode(task.ExecutionID, task.NodeID)
		if node == nil {
			s.dropWaiting(task.Key())
			continue
		}

		if execution.CanExecuteNode(node.ID, node.Dependencies, true) {
			if err := execution.MarkNodeReady(node.ID); err != nil {
				continue
			}
			s.dropWaiting(task.Key())
			task.ScheduledTime = time.Now()
			s.pushReady(task)
		}
	}
}

func (s *Scheduler) dropWaiting(key string) {
	s.mu.Lock()
	delete(s.waiting, key)
	s.mu.Unlock()
}

// DropExecution removes all queued tasks of an execution. Used after
// cancellation or failure so stale tasks never dispatch.
func (s *Scheduler) DropExecution(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, task := range s.waiting {
		if task.ExecutionID == executionID {
			delete(s.waiting, key)
		}
	}

	var kept taskHeap
	for _, task := range s.ready {
		if task.ExecutionID != executionID {
			kept = append(kept, task)
		}
	}
	s.ready = kept
	heap.Init(&s.ready)
}

// Stats is a snapshot of scheduler queue depths
type Stats struct {
	ReadyQueueSize int           `json:"ready_queue_size"`
	WaitingTasks   int           `json:"waiting_tasks_count"`
	RunningTasks   int           `json:"running_tasks_count"`
	ResourceUsage  ResourceStats `json:"resource_usage"`
}

// GetStats snapshots queue depths and resource usage
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	ready := len(s.ready)
	waiting := len(s.waiting)
	running := len(s.running)
	s.mu.Unlock()

	return Stats{
		ReadyQueueSize: ready,
		WaitingTasks:   waiting,
		RunningTasks:   running,
		ResourceUsage:  s.resources.Stats(),
	}
}

func (s *Scheduler) publishGauges() {
	if s.metrics == nil {
		return
	}
	stats := s.GetStats()
	s.metrics.ReadyQueueDepth.Set(float64(stats.ReadyQueueSize))
	s.metrics.WaitingTasks.Set(float64(stats.WaitingTasks))
	s.metrics.RunningTasks.Set(float64(stats.RunningTasks))
	s.metrics.ActiveTasks.Set(float64(stats.ResourceUsage.TotalActiveTasks))
}

func nodePriority(node *model.Node) int {
	if node.Metadata == nil {
		return 0
	}
	switch v := node.Metadata["priority"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
