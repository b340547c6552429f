// Package board owns the in-memory task collection for one mounted view,
// either a user's personal board or one group's board. Every mutation is
// confirm-then-commit: the remote call must succeed before local state
// changes, so a failure leaves the collection exactly as it was and the
// caller re-renders from it.
package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardgate/access"
	"boardgate/domain"
)

// ErrNotFound reports a task id absent from the local collection.
var ErrNotFound = errors.New("task not found")

// TaskClient is the slice of the remote client the reconciler drives.
// Both *client.Remote and *client.Cache satisfy it.
type TaskClient interface {
	GetTasks(ctx context.Context, userEmail string) ([]domain.Task, error)
	CreateTask(ctx context.Context, draft domain.TaskDraft, createdBy, userEmail string) (*domain.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, userEmail string) error
	DeleteTask(ctx context.Context, taskID, userEmail string) error

	GetGroupTasks(ctx context.Context, groupID string) ([]domain.Task, error)
	CreateGroupTask(ctx context.Context, groupID string, draft domain.TaskDraft, createdBy, userEmail string) (*domain.Task, error)
	UpdateGroupTask(ctx context.Context, groupID, taskID string, patch domain.TaskPatch, userEmail string) error
	DeleteGroupTask(ctx context.Context, groupID, taskID, userEmail string) error
}

// State is the terminal state of one mutation attempt.
type State int

const (
	// Committed: the remote call succeeded and local state now reflects it.
	Committed State = iota
	// RolledBack: the mutation never took locally. Prev carries the value
	// the caller should re-render, compensating for any visual move a
	// drag-and-drop layer already performed.
	RolledBack
)

// Result describes how a mutation ended.
type Result struct {
	State State
	// Task is the committed record, server-assigned fields included.
	Task *domain.Task
	// Prev is the pre-mutation record when the mutation rolled back.
	Prev *domain.Task
}

// Reconciler holds the tasks for one scope. It is bound to the mounting
// view's context: once that context is done, in-flight completions are
// discarded and the collection is frozen.
type Reconciler struct {
	ctx    context.Context
	client TaskClient
	viewer domain.User
	group  *domain.Group // nil for the personal scope
	logger *log.Logger

	mu    sync.Mutex
	tasks []domain.Task
}

// NewPersonal creates a reconciler over the viewer's personal tasks.
func NewPersonal(ctx context.Context, c TaskClient, viewer domain.User, logger *log.Logger) *Reconciler {
	return newReconciler(ctx, c, viewer, nil, logger)
}

// NewGroup creates a reconciler over one group's tasks.
func NewGroup(ctx context.Context, c TaskClient, viewer domain.User, group *domain.Group, logger *log.Logger) *Reconciler {
	return newReconciler(ctx, c, viewer, group, logger)
}

func newReconciler(ctx context.Context, c TaskClient, viewer domain.User, group *domain.Group, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{ctx: ctx, client: c, viewer: viewer, group: group, logger: logger}
}

// Load replaces the collection with the remote scope contents. Group
// scopes require membership.
func (r *Reconciler) Load() error {
	if r.group != nil && !access.CanViewGroupTasks(r.viewer.Email, r.group) {
		return access.ErrUnauthorized
	}
	var (
		tasks []domain.Task
		err   error
	)
	if r.group != nil {
		tasks, err = r.client.GetGroupTasks(r.ctx, r.group.ID)
	} else {
		tasks, err = r.client.GetTasks(r.ctx, r.viewer.Email)
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return r.ctx.Err()
	}
	r.tasks = tasks
	return nil
}

// Tasks returns a copy of the collection.
func (r *Reconciler) Tasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// ByCategory partitions the collection over the fixed category set.
// Tasks with an unrecognized category appear in no column; the backend
// should never produce one, and hiding it beats guessing a column.
func (r *Reconciler) ByCategory() map[string][]domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]domain.Task, len(domain.Categories))
	for _, c := range domain.Categories {
		out[c] = []domain.Task{}
	}
	for _, t := range r.tasks {
		if !domain.KnownCategory(t.Category) {
			continue
		}
		out[t.Category] = append(out[t.Category], t)
	}
	return out
}

func (r *Reconciler) canMutate() bool {
	if r.group == nil {
		return true
	}
	return access.CanMutateGroupTasks(r.viewer.Email, r.group)
}

// Create validates the draft locally, sends it, and on success appends
// the server-returned record. The server-assigned id is authoritative;
// no client id is ever invented.
func (r *Reconciler) Create(draft domain.TaskDraft) (Result, error) {
	if err := draft.Validate(); err != nil {
		return Result{State: RolledBack}, err
	}
	if !r.canMutate() {
		return Result{State: RolledBack}, access.ErrUnauthorized
	}

	createdBy := r.viewer.DisplayName
	if createdBy == "" {
		createdBy = r.viewer.Email
	}

	var (
		created *domain.Task
		err     error
	)
	if r.group != nil {
		created, err = r.client.CreateGroupTask(r.ctx, r.group.ID, draft, createdBy, r.viewer.Email)
	} else {
		created, err = r.client.CreateTask(r.ctx, draft, createdBy, r.viewer.Email)
	}
	if err != nil {
		return Result{State: RolledBack}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		// View unmounted while the call was in flight; the record exists
		// remotely but there is no live state to apply it to.
		return Result{State: RolledBack}, r.ctx.Err()
	}
	r.tasks = append(r.tasks, *created)
	return Result{State: Committed, Task: created}, nil
}

// MoveCategory sends a category patch and commits it locally on success.
// Moving a task onto its current category is a no-op: zero remote calls,
// state untouched.
func (r *Reconciler) MoveCategory(taskID, newCategory string) (Result, error) {
	if !domain.KnownCategory(newCategory) {
		return Result{State: RolledBack}, domain.ErrUnknownCategory
	}
	patch := domain.TaskPatch{Category: &newCategory}
	return r.mutate(taskID, patch, func(prev domain.Task) bool {
		return prev.Category == newCategory
	})
}

// Edit patches title/description/category after an authorization check.
func (r *Reconciler) Edit(taskID string, patch domain.TaskPatch) (Result, error) {
	if patch.Empty() {
		return Result{State: RolledBack}, errors.New("empty patch")
	}
	if patch.Category != nil && !domain.KnownCategory(*patch.Category) {
		return Result{State: RolledBack}, domain.ErrUnknownCategory
	}
	return r.mutate(taskID, patch, nil)
}

func (r *Reconciler) mutate(taskID string, patch domain.TaskPatch, noop func(domain.Task) bool) (Result, error) {
	if !r.canMutate() {
		return Result{State: RolledBack}, access.ErrUnauthorized
	}

	r.mu.Lock()
	idx := r.index(taskID)
	if idx < 0 {
		r.mu.Unlock()
		return Result{State: RolledBack}, ErrNotFound
	}
	prev := r.tasks[idx]
	r.mu.Unlock()

	if noop != nil && noop(prev) {
		return Result{State: Committed, Task: &prev}, nil
	}

	var err error
	if r.group != nil {
		err = r.client.UpdateGroupTask(r.ctx, r.group.ID, taskID, patch, r.viewer.Email)
	} else {
		err = r.client.UpdateTask(r.ctx, taskID, patch, r.viewer.Email)
	}
	if err != nil {
		r.logger.WithFields(log.Fields{"task": taskID, "err": err}).Debug("mutation rolled back")
		return Result{State: RolledBack, Prev: &prev}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return Result{State: RolledBack, Prev: &prev}, r.ctx.Err()
	}
	// Re-resolve: a concurrent delete may have removed the record while
	// the call was in flight. Last remote response wins.
	idx = r.index(taskID)
	if idx < 0 {
		return Result{State: RolledBack, Prev: &prev}, ErrNotFound
	}
	updated := patch.Apply(r.tasks[idx])
	r.tasks[idx] = updated
	return Result{State: Committed, Task: &updated}, nil
}

// Delete removes a task. Confirmation is the caller's responsibility;
// by the time this runs the human has already agreed.
func (r *Reconciler) Delete(taskID string) (Result, error) {
	if !r.canMutate() {
		return Result{State: RolledBack}, access.ErrUnauthorized
	}

	r.mu.Lock()
	idx := r.index(taskID)
	if idx < 0 {
		r.mu.Unlock()
		return Result{State: RolledBack}, ErrNotFound
	}
	prev := r.tasks[idx]
	r.mu.Unlock()

	var err error
	if r.group != nil {
		err = r.client.DeleteGroupTask(r.ctx, r.group.ID, taskID, r.viewer.Email)
	} else {
		err = r.client.DeleteTask(r.ctx, taskID, r.viewer.Email)
	}
	if err != nil {
		return Result{State: RolledBack, Prev: &prev}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return Result{State: RolledBack, Prev: &prev}, r.ctx.Err()
	}
	if idx = r.index(taskID); idx >= 0 {
		r.tasks = append(r.tasks[:idx], r.tasks[idx+1:]...)
	}
	return Result{State: Committed, Prev: &prev}, nil
}

// index must be called with the mutex held.
func (r *Reconciler) index(taskID string) int {
	for i := range r.tasks {
		if r.tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}
