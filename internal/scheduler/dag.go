package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

var (
	// ErrInvalidGraph is returned when a set of tasks has duplicate IDs,
	// dangling dependencies, or a dependency cycle.
	ErrInvalidGraph = errors.New("invalid task graph")

	// ErrTaskNotFound is returned when an operation names an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotReady is returned when a task cannot be claimed or moved in
	// its current state.
	ErrNotReady = errors.New("task not ready")
)

// DAG represents a directed acyclic graph of tasks.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order, used for deterministic tie-breaks
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
	now        func() time.Time
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		now:        time.Now,
	}
}

// AddTasks adds a batch of tasks. The combined graph (existing plus new) is
// validated first; on any error the DAG is left unchanged and the error
// wraps ErrInvalidGraph. Accepted tasks start pending with no retries.
func (d *DAG) AddTasks(tasks []*Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	combined := make(map[string]*Task, len(d.tasks)+len(tasks))
	for id, task := range d.tasks {
		combined[id] = task
	}
	ids := append([]string(nil), d.order...)

	for _, task := range tasks {
		if task == nil || task.ID == "" {
			return fmt.Errorf("%w: task without ID", ErrInvalidGraph)
		}
		if _, exists := combined[task.ID]; exists {
			return fmt.Errorf("%w: task with ID %q already exists", ErrInvalidGraph, task.ID)
		}
		combined[task.ID] = task
		ids = append(ids, task.ID)
	}

	if _, err := validate(combined, ids); err != nil {
		return err
	}

	for _, task := range tasks {
		cp := cloneTask(task)
		cp.Status = TaskPending
		cp.RetryCount = 0
		cp.Result = ""
		cp.Interactions = nil
		cp.Transitions = nil
		d.tasks[cp.ID] = cp
		d.order = append(d.order, cp.ID)

		// Build dependents map for efficient downstream lookup
		for _, depID := range cp.DependsOn {
			d.dependents[depID] = append(d.dependents[depID], cp.ID)
		}
	}

	return nil
}

// validate runs topological sort using gammazero/toposort over the given
// tasks, visiting them in ids order so the result is deterministic.
// Also verifies all task IDs in DependsOn exist.
func validate(tasks map[string]*Task, ids []string) ([]string, error) {
	for _, taskID := range ids {
		for _, depID := range tasks[taskID].DependsOn {
			if depID == taskID {
				return nil, fmt.Errorf("%w: task %q depends on itself", ErrInvalidGraph, taskID)
			}
			if _, exists := tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %q depends on non-existent task %q", ErrInvalidGraph, taskID, depID)
			}
		}
	}

	// Edge (depID, taskID) means depID must come before taskID
	var edges []toposort.Edge
	for _, taskID := range ids {
		task := tasks[taskID]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: dependency cycle: %v", ErrInvalidGraph, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(ids) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: topological sort lost %d tasks: %s", ErrInvalidGraph, len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Order returns topologically sorted task IDs.
func (d *DAG) Order() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return validate(d.tasks, d.order)
}

// FindReady returns pending tasks whose dependencies are all completed,
// in insertion order.
func (d *DAG) FindReady() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ready := []*Task{}
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status == TaskPending && d.dependenciesCompleted(task) {
			ready = append(ready, cloneTask(task))
		}
	}
	return ready
}

// FindBlocked returns pending tasks with at least one failed dependency,
// in insertion order.
func (d *DAG) FindBlocked() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	blocked := []*Task{}
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status == TaskPending && d.failedDependency(task) != "" {
			blocked = append(blocked, cloneTask(task))
		}
	}
	return blocked
}

// IsResolved reports whether every task is completed or failed.
func (d *DAG) IsResolved() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, task := range d.tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

func (d *DAG) dependenciesCompleted(task *Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := d.tasks[depID]
		if !exists || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// failedDependency returns the ID of the first failed dependency, or "".
func (d *DAG) failedDependency(task *Task) string {
	for _, depID := range task.DependsOn {
		if dep, exists := d.tasks[depID]; exists && dep.Status == TaskFailed {
			return depID
		}
	}
	return ""
}

// transition moves a task to a new status and records why. Caller holds d.mu.
func (d *DAG) transition(task *Task, to TaskStatus, reason string) {
	task.Transitions = append(task.Transitions, Transition{
		From:   task.Status,
		To:     to,
		Reason: reason,
		At:     d.now(),
	})
	task.Status = to
}

// Claim moves a ready task to in-progress. It fails with ErrNotReady if the
// task is not pending or a dependency is not completed, which guarantees a
// task is owned by at most one worker at a time.
func (d *DAG) Claim(taskID, reason string) (*Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskPending || !d.dependenciesCompleted(task) {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotReady, taskID, task.Status)
	}

	d.transition(task, TaskInProgress, reason)
	return cloneTask(task), nil
}

// MarkReviewing moves an in-progress task to reviewing.
func (d *DAG) MarkReviewing(taskID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskInProgress {
		return fmt.Errorf("%w: %q is %s", ErrNotReady, taskID, task.Status)
	}

	d.transition(task, TaskReviewing, reason)
	return nil
}

// Complete marks an active task completed and stores its result.
func (d *DAG) Complete(taskID, result, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskInProgress && task.Status != TaskReviewing {
		return fmt.Errorf("%w: %q is %s", ErrNotReady, taskID, task.Status)
	}

	task.Result = result
	d.transition(task, TaskCompleted, reason)
	return nil
}

// Retry records a failed attempt of an active task. The retry counter is
// incremented; while it stays below maxRetries the task returns to pending,
// otherwise it is permanently failed. Returns the resulting status.
func (d *DAG) Retry(taskID, reason string, maxRetries int) (TaskStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return "", fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskInProgress && task.Status != TaskReviewing {
		return "", fmt.Errorf("%w: %q is %s", ErrNotReady, taskID, task.Status)
	}

	task.RetryCount++
	if task.RetryCount < maxRetries {
		d.transition(task, TaskPending, fmt.Sprintf("%s; retry %d/%d", reason, task.RetryCount, maxRetries))
	} else {
		d.transition(task, TaskFailed, fmt.Sprintf("%s; retries exhausted (%d/%d)", reason, task.RetryCount, maxRetries))
	}
	return task.Status, nil
}

// Release returns an active task to pending without counting a retry. It is
// used when an attempt is abandoned, e.g. on cancellation.
func (d *DAG) Release(taskID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskInProgress && task.Status != TaskReviewing {
		return fmt.Errorf("%w: %q is %s", ErrNotReady, taskID, task.Status)
	}

	d.transition(task, TaskPending, reason)
	return nil
}

// FailBlocked marks every pending task with a failed dependency as failed,
// without it ever running. Returns the clones of the tasks it failed.
func (d *DAG) FailBlocked() []*Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []*Task
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status != TaskPending {
			continue
		}
		depID := d.failedDependency(task)
		if depID == "" {
			continue
		}
		d.transition(task, TaskFailed, fmt.Sprintf("blocked by failed dependency %q", depID))
		failed = append(failed, cloneTask(task))
	}
	return failed
}

// AppendInteraction adds an entry to a task's interaction log.
func (d *DAG) AppendInteraction(taskID string, role InteractionRole, content string) (Interaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return Interaction{}, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}

	in := Interaction{Role: role, Content: content, At: d.now()}
	task.Interactions = append(task.Interactions, in)
	return in, nil
}

// Get returns task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns all tasks in insertion order.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, cloneTask(d.tasks[id]))
	}
	return tasks
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[taskID]...)
}

// Len returns the number of tasks.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tasks)
}

// Progress summarizes task counts per status.
type Progress struct {
	Total      int
	Pending    int
	InProgress int
	Reviewing  int
	Completed  int
	Failed     int
}

// Progress returns the current per-status counts.
func (d *DAG) Progress() Progress {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p := Progress{Total: len(d.tasks)}
	for _, task := range d.tasks {
		switch task.Status {
		case TaskPending:
			p.Pending++
		case TaskInProgress:
			p.InProgress++
		case TaskReviewing:
			p.Reviewing++
		case TaskCompleted:
			p.Completed++
		case TaskFailed:
			p.Failed++
		}
	}
	return p
}
