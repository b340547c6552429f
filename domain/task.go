package domain

import (
	"errors"
	"strings"
)

// Board categories. The backend stores the display strings verbatim, so
// they are also the canonical values.
const (
	CategoryTodo       = "To-Do"
	CategoryInProgress = "In Progress"
	CategoryDone       = "Done"
)

// Categories lists the board columns in display order.
var Categories = []string{CategoryTodo, CategoryInProgress, CategoryDone}

// KnownCategory reports whether c is one of the three board columns.
func KnownCategory(c string) bool {
	return c == CategoryTodo || c == CategoryInProgress || c == CategoryDone
}

// Task represents a single board item as the backend returns it.
type Task struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CreatedBy   string `json:"createdBy"`
	OwnerEmail  string `json:"userEmail"`
	GroupID     string `json:"groupId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// TaskDraft carries the user-supplied fields for a new task.
type TaskDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

var (
	ErrTitleRequired       = errors.New("task title is required")
	ErrDescriptionRequired = errors.New("task description is required")
	ErrUnknownCategory     = errors.New("unknown task category")
)

// Validate checks required fields and defaults the category to To-Do.
// It is the local gate before any create call goes out.
func (d *TaskDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(d.Description) == "" {
		return ErrDescriptionRequired
	}
	if d.Category == "" {
		d.Category = CategoryTodo
	}
	if !KnownCategory(d.Category) {
		return ErrUnknownCategory
	}
	return nil
}

// TaskPatch holds the mutable task fields for partial updates. Nil means
// leave the field untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil
}

// Apply returns a copy of t with the patched fields replaced.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	return t
}
