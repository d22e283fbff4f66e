package scheduler

import (
	"sync"

	"github.com/lyzr/workflow-engine/model"
)

// Quota bounds concurrent task execution
type Quota struct {
	MaxConcurrentTasks int
	MaxTasksPerType    map[string]int
	MaxTasksPerAgent   map[string]int
}

// DefaultQuota returns the engine's default admission limits
func DefaultQuota() Quota {
	return Quota{
		MaxConcurrentTasks: 100,
		MaxTasksPerType:    make(map[string]int),
		MaxTasksPerAgent:   make(map[string]int),
	}
}

// ResourceManager performs admission control over concurrent tasks by
// total count, node type, and agent id. A single lock covers the
// check-then-allocate sequence so admission is atomic.
type ResourceManager struct {
	mu            sync.Mutex
	quota         Quota
	activeTasks   map[string]bool
	activeByType  map[string]map[string]bool
	activeByAgent map[string]map[string]bool
}

// NewResourceManager creates a resource manager with the given quota
func NewResourceManager(quota Quota) *ResourceManager {
	return &ResourceManager{
		quota:         quota,
		activeTasks:   make(map[string]bool),
		activeByType:  make(map[string]map[string]bool),
		activeByAgent: make(map[string]map[string]bool),
	}
}

// CanAllocate reports whether the node could be admitted right now
func (rm *ResourceManager) CanAllocate(node *model.Node) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.canAllocateLocked(node)
}

func (rm *ResourceManager) canAllocateLocked(node *model.Node) bool {
	if rm.quota.MaxConcurrentTasks > 0 && len(rm.activeTasks) >= rm.quota.MaxConcurrentTasks {
		return false
	}

	nodeType := string(node.Type)
	if limit, ok := rm.quota.MaxTasksPerType[nodeType]; ok {
		if len(rm.activeByType[nodeType]) >= limit {
			return false
		}
	}

	if node.Type == model.NodeTypeAgent {
		agentID := node.AgentID()
		if limit, ok := rm.quota.MaxTasksPerAgent[agentID]; ok && agentID != "" {
			if len(rm.activeByAgent[agentID]) >= limit {
				return false
			}
		}
	}

	return true
}

// Allocate admits a task, re-checking capacity under the same lock.
// Returns a ResourceExhausted error if capacity is gone.
func (rm *ResourceManager) Allocate(taskID string, node *model.Node) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.canAllocateLocked(node) {
		return model.NewError(model.ErrResource, "cannot allocate resources for task %s", taskID)
	}

	rm.activeTasks[taskID] = true

	nodeType := string(node.Type)
	if rm.activeByType[nodeType] == nil {
		rm.activeByType[nodeType] = make(map[string]bool)
	}
	rm.activeByType[nodeType][taskID] = true

	if node.Type == model.NodeTypeAgent {
		if agentID := node.AgentID(); agentID != "" {
			if rm.activeByAgent[agentID] == nil {
				rm.activeByAgent[agentID] = make(map[string]bool)
			}
			rm.activeByAgent[agentID][taskID] = true
		}
	}

	return nil
}

// Release returns a task's resources. Releasing an unknown task is a no-op.
func (rm *ResourceManager) Release(taskID string, node *model.Node) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.activeTasks, taskID)
	delete(rm.activeByType[string(node.Type)], taskID)

	if node.Type == model.NodeTypeAgent {
		if agentID := node.AgentID(); agentID != "" {
			delete(rm.activeByAgent[agentID], taskID)
		}
	}
}

// ResourceStats is a snapshot of resource usage
type ResourceStats struct {
	TotalActiveTasks   int            `json:"total_active_tasks"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks"`
	ActiveByType       map[string]int `json:"active_by_type"`
	ActiveByAgent      map[string]int `json:"active_by_agent"`
}

// Stats snapshots current usage
func (rm *ResourceManager) Stats() ResourceStats {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	byType := make(map[string]int, len(rm.activeByType))
	for k, v := range rm.activeByType {
		byType[k] = len(v)
	}
	byAgent := make(map[string]int, len(rm.activeByAgent))
	for k, v := range rm.activeByAgent {
		byAgent[k] = len(v)
	}

	return ResourceStats{
		TotalActiveTasks:   len(rm.activeTasks),
		MaxConcurrentTasks: rm.quota.MaxConcurrentTasks,
		ActiveByType:       byType,
		ActiveByAgent:      byAgent,
	}
}
