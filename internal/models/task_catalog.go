package models

import (
	"fmt"
	"strings"
)

// TaskStatus is a status key such as "open" or "resolved".
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusResolved  TaskStatus = "resolved"
	TaskStatusWontfix   TaskStatus = "wontfix"
	TaskStatusInvalid   TaskStatus = "invalid"
	TaskStatusDuplicate TaskStatus = "duplicate"
	TaskStatusSpite     TaskStatus = "spite"
)

// Built-in priority values. Higher means more urgent.
const (
	PriorityUnbreakNow = 100
	PriorityTriage     = 90
	PriorityHigh       = 80
	PriorityNormal     = 50
	PriorityLow        = 25
	PriorityWishlist   = 0
)

// StatusSpec describes one configured status.
type StatusSpec struct {
	Key    TaskStatus
	Name   string
	Closed bool
}

// PrioritySpec describes one configured priority.
type PrioritySpec struct {
	Value int
	Name  string
	Short string
	Color string
}

// TaskCatalog is the status and priority enumeration for tasks.
type TaskCatalog struct {
	Statuses        []StatusSpec
	Priorities      []PrioritySpec
	defaultStatus   TaskStatus
	defaultPriority int
}

// DefaultTaskCatalog returns the built-in statuses and priorities.
func DefaultTaskCatalog() *TaskCatalog {
	return &TaskCatalog{
		Statuses: []StatusSpec{
			{Key: TaskStatusOpen, Name: "Open"},
			{Key: TaskStatusResolved, Name: "Resolved", Closed: true},
			{Key: TaskStatusWontfix, Name: "Wontfix", Closed: true},
			{Key: TaskStatusInvalid, Name: "Invalid", Closed: true},
			{Key: TaskStatusDuplicate, Name: "Duplicate", Closed: true},
			{Key: TaskStatusSpite, Name: "Spite", Closed: true},
		},
		Priorities: []PrioritySpec{
			{Value: PriorityUnbreakNow, Name: "Unbreak Now!", Short: "unbreak", Color: "pink"},
			{Value: PriorityTriage, Name: "Needs Triage", Short: "triage", Color: "violet"},
			{Value: PriorityHigh, Name: "High", Short: "high", Color: "red"},
			{Value: PriorityNormal, Name: "Normal", Short: "normal", Color: "orange"},
			{Value: PriorityLow, Name: "Low", Short: "low", Color: "yellow"},
			{Value: PriorityWishlist, Name: "Wishlist", Short: "wish", Color: "sky"},
		},
		defaultStatus:   TaskStatusOpen,
		defaultPriority: PriorityTriage,
	}
}

// WithDefaults returns a copy of the catalog using the given default status
// and priority. Empty status keeps the current default.
func (c *TaskCatalog) WithDefaults(status TaskStatus, priority int) (*TaskCatalog, error) {
	out := *c
	if status != "" {
		spec, ok := c.Status(status)
		if !ok {
			return nil, fmt.Errorf("unknown default status: %s", status)
		}
		if spec.Closed {
			return nil, fmt.Errorf("default status must be an open status: %s", status)
		}
		out.defaultStatus = status
	}
	if _, ok := c.Priority(priority); !ok {
		return nil, fmt.Errorf("unknown default priority: %d", priority)
	}
	out.defaultPriority = priority
	return &out, nil
}

// DefaultStatus is the status given to new tasks.
func (c *TaskCatalog) DefaultStatus() TaskStatus { return c.defaultStatus }

// DefaultPriority is the priority given to new tasks.
func (c *TaskCatalog) DefaultPriority() int { return c.defaultPriority }

// Status looks up a status by key.
func (c *TaskCatalog) Status(key TaskStatus) (StatusSpec, bool) {
	for _, s := range c.Statuses {
		if s.Key == key {
			return s, true
		}
	}
	return StatusSpec{}, false
}

// IsClosedStatus reports whether key is a closed status. Unknown statuses
// are treated as open.
func (c *TaskCatalog) IsClosedStatus(key TaskStatus) bool {
	s, ok := c.Status(key)
	return ok && s.Closed
}

// Priority looks up a priority by value.
func (c *TaskCatalog) Priority(value int) (PrioritySpec, bool) {
	for _, p := range c.Priorities {
		if p.Value == value {
			return p, true
		}
	}
	return PrioritySpec{}, false
}

// PriorityByKeyword resolves a short keyword ("high") or full name to a value.
func (c *TaskCatalog) PriorityByKeyword(word string) (int, bool) {
	for _, p := range c.Priorities {
		if strings.EqualFold(p.Short, word) || strings.EqualFold(p.Name, word) {
			return p.Value, true
		}
	}
	return 0, false
}

// PriorityName returns the display name for a value, or the number itself.
func (c *TaskCatalog) PriorityName(value int) string {
	if p, ok := c.Priority(value); ok {
		return p.Name
	}
	return fmt.Sprintf("Priority %d", value)
}

// PriorityKeywords returns the short keywords, most urgent first.
func (c *TaskCatalog) PriorityKeywords() []string {
	out := make([]string, 0, len(c.Priorities))
	for _, p := range c.Priorities {
		out = append(out, p.Short)
	}
	return out
}
