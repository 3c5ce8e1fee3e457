package models

import "time"

// Transaction types applied to tasks by the editor.
const (
	TransactionTitle       = "title"
	TransactionDescription = "description"
	TransactionStatus      = "status"
	TransactionPriority    = "priority"
	TransactionSubpriority = "subpriority"
	TransactionOwner       = "reassign"
	TransactionViewPolicy  = "core:view-policy"
	TransactionEditPolicy  = "core:edit-policy"
	TransactionSubscribers = "core:subscribers"
	TransactionProjects    = "core:projects"
	TransactionDependsOn   = "task:depends-on"
	TransactionCustomField = "core:customfield"
	TransactionComment     = "core:comment"
	TransactionCreate      = "core:create"
)

// TaskTransaction is one recorded change to a task. Old and new values are
// JSON documents.
type TaskTransaction struct {
	ID              int64
	PHID            string
	AuthorPHID      string
	ObjectPHID      string
	TransactionType string
	MetaKey         string // custom field key for core:customfield
	OldValue        string
	NewValue        string
	Comment         string
	DateCreated     time.Time
}
