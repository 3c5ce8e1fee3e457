package models

import (
	"slices"
	"sort"
	"time"
)

// TaskSummary is the serialized form of a task used by the API, the MCP
// server and `task list --json`. Attachments that aren't loaded are omitted.
// AutoSubscribers holds the owner when it has no explicit subscription.
type TaskSummary struct {
	ID              int64               `json:"id"`
	Monogram        string              `json:"monogram"`
	PHID            string              `json:"phid"`
	Title           string              `json:"title"`
	OriginalTitle   string              `json:"original_title"`
	Description     string              `json:"description"`
	Status          TaskStatus          `json:"status"`
	StatusName      string              `json:"status_name"`
	Closed          bool                `json:"closed"`
	Priority        int                 `json:"priority"`
	PriorityName    string              `json:"priority_name"`
	Subpriority     float64             `json:"subpriority"`
	AuthorPHID      string              `json:"author_phid"`
	OwnerPHID       string              `json:"owner_phid,omitempty"`
	ViewPolicy      string              `json:"view_policy"`
	EditPolicy      string              `json:"edit_policy"`
	Subscribers     []string            `json:"subscribers,omitempty"`
	AutoSubscribers []string            `json:"auto_subscribers,omitempty"`
	Projects        []string            `json:"projects,omitempty"`
	GroupByProject  string              `json:"group_by_project,omitempty"`
	Attached        map[string][]string `json:"attached,omitempty"`
	Fields          map[string]string   `json:"fields,omitempty"`
	DateCreated     time.Time           `json:"date_created"`
	DateModified    time.Time           `json:"date_modified"`
}

// Summary returns the serialized form of t.
func (t *Task) Summary(catalog *TaskCatalog) TaskSummary {
	s := TaskSummary{
		ID:            t.ID,
		Monogram:      t.Monogram(),
		PHID:          t.PHID,
		Title:         t.Title,
		OriginalTitle: t.OriginalTitle,
		Description:   t.Description,
		Status:        t.Status,
		StatusName:    string(t.Status),
		Closed:        t.IsClosed(catalog),
		Priority:      t.Priority,
		PriorityName:  catalog.PriorityName(t.Priority),
		Subpriority:   t.Subpriority,
		AuthorPHID:    t.AuthorPHID,
		OwnerPHID:     t.OwnerPHID,
		ViewPolicy:    t.ViewPolicy,
		EditPolicy:    t.EditPolicy,
		DateCreated:   t.DateCreated,
		DateModified:  t.DateModified,
	}
	if spec, ok := catalog.Status(t.Status); ok {
		s.StatusName = spec.Name
	}
	if subs, err := t.SubscriberPHIDs(); err == nil {
		s.Subscribers = subs
		if t.IsAutomaticallySubscribed(t.OwnerPHID) && !slices.Contains(subs, t.OwnerPHID) {
			s.AutoSubscribers = []string{t.OwnerPHID}
		}
	}
	if projects, err := t.ProjectPHIDs(); err == nil {
		s.Projects = projects
	}
	if group, err := t.GroupByProjectPHID(); err == nil {
		s.GroupByProject = group
	}
	types := make([]string, 0, len(t.Attached))
	for typ := range t.Attached {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		if phids := t.AttachedPHIDs(typ); len(phids) > 0 {
			if s.Attached == nil {
				s.Attached = map[string][]string{}
			}
			s.Attached[typ] = phids
		}
	}
	if fields, err := t.CustomFields(); err == nil && fields != nil {
		s.Fields = map[string]string{}
		for _, spec := range fields.Specs {
			if v := fields.Value(spec.Key); v != "" {
				s.Fields[spec.Key] = v
			}
		}
	}
	return s
}
