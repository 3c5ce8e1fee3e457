package models

import (
	"cmp"
	"context"
	"fmt"
	"html/template"
	"slices"
	"sort"
	"time"

	"github.com/joescharf/forge/internal/markup"
	"github.com/joescharf/forge/internal/phid"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/schema"
)

// MarkupFieldDescription is the markup field holding the task description.
const MarkupFieldDescription = "markup:desc"

// TaskTable is the storage table for tasks.
const TaskTable = "tasks"

// Task is a tracked unit of work.
type Task struct {
	ID                  int64
	PHID                string
	AuthorPHID          string
	OwnerPHID           string
	Status              TaskStatus
	Priority            int
	Subpriority         float64
	Title               string
	OriginalTitle       string
	Description         string
	OriginalEmailSource string
	MailKey             string
	ViewPolicy          string
	EditPolicy          string
	// Attached maps an object type to the PHIDs of attached objects of
	// that type and per-object metadata.
	Attached      map[string]map[string]any
	OwnerOrdering string
	DateCreated   time.Time
	DateModified  time.Time

	subscriberPHIDs    attachable[[]string]
	projectPHIDs       attachable[[]string]
	groupByProjectPHID attachable[string]
	customFields       attachable[*CustomFieldAttachment]
}

// InitializeNewTask returns an unsaved task authored by actor, with default
// status and priority from catalog and default policies from app.
func InitializeNewTask(actor *User, app *policy.Application, catalog *TaskCatalog) *Task {
	t := &Task{
		Status:     catalog.DefaultStatus(),
		Priority:   catalog.DefaultPriority(),
		AuthorPHID: actor.PHID,
		ViewPolicy: app.Policy(policy.DefaultViewCapability),
		EditPolicy: app.Policy(policy.DefaultEditCapability),
		Attached:   map[string]map[string]any{},
	}
	t.AttachProjectPHIDs(nil)
	t.AttachSubscriberPHIDs(nil)
	return t
}

// Configuration describes the tasks table.
func (t *Task) Configuration() schema.Config {
	return schema.Config{
		AuxPHID:    true,
		Timestamps: true,
		Serialization: map[string]string{
			"attached": schema.SerializationJSON,
		},
		Columns: []schema.Column{
			{Name: "author_phid", Type: "phid"},
			{Name: "owner_phid", Type: "phid?"},
			{Name: "status", Type: "text12"},
			{Name: "priority", Type: "uint32"},
			{Name: "subpriority", Type: "double"},
			{Name: "title", Type: "sort"},
			{Name: "original_title", Type: "text"},
			{Name: "description", Type: "text"},
			{Name: "original_email_source", Type: "text255?"},
			{Name: "mail_key", Type: "bytes20"},
			{Name: "view_policy", Type: "phid"},
			{Name: "edit_policy", Type: "phid"},
			{Name: "attached", Type: "json"},
			{Name: "owner_ordering", Type: "text64?"},
		},
		Keys: []schema.Key{
			{Name: "phid", Columns: []string{"phid"}, Unique: true},
			{Name: "priority", Columns: []string{"priority", "status"}},
			{Name: "status", Columns: []string{"status"}},
			{Name: "owner", Columns: []string{"owner_phid", "status"}},
			{Name: "author", Columns: []string{"author_phid", "status"}},
			{Name: "owner_ordering", Columns: []string{"owner_ordering"}},
			{Name: "priority_2", Columns: []string{"priority", "subpriority"}},
			{Name: "date_created", Columns: []string{"date_created"}},
			{Name: "date_modified", Columns: []string{"date_modified"}},
			{Name: "title", Columns: []string{"title(64)"}},
		},
	}
}

// GeneratePHID returns a new task PHID.
func (t *Task) GeneratePHID() string {
	return phid.New(phid.TypeTask)
}

// EnsureMailKey generates the mail key if the task doesn't have one yet.
// Called on every save; the key never changes once set.
func (t *Task) EnsureMailKey() error {
	if t.MailKey != "" {
		return nil
	}
	key, err := phid.RandomCharacters(20)
	if err != nil {
		return fmt.Errorf("generate mail key: %w", err)
	}
	t.MailKey = key
	return nil
}

// SetTitle sets the title. Before the first save it also records the
// original title.
func (t *Task) SetTitle(title string) *Task {
	t.Title = title
	if t.ID == 0 {
		t.OriginalTitle = title
	}
	return t
}

// SetOwnerPHID sets or clears the owner.
func (t *Task) SetOwnerPHID(p string) *Task {
	t.OwnerPHID = p
	return t
}

// Monogram is the short human-readable name, e.g. "T123".
func (t *Task) Monogram() string {
	return fmt.Sprintf("T%d", t.ID)
}

// IsClosed reports whether the task's status is closed in catalog.
func (t *Task) IsClosed(catalog *TaskCatalog) bool {
	return catalog.IsClosedStatus(t.Status)
}

// AttachedPHIDs returns the sorted PHIDs attached under objectType.
func (t *Task) AttachedPHIDs(objectType string) []string {
	m := t.Attached[objectType]
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// --- Attachments ---

// SubscriberPHIDs returns the explicit subscribers. They must be attached.
func (t *Task) SubscriberPHIDs() ([]string, error) {
	return t.subscriberPHIDs.get("subscriber PHIDs")
}

// AttachSubscriberPHIDs sets the subscriber relation.
func (t *Task) AttachSubscriberPHIDs(phids []string) *Task {
	t.subscriberPHIDs.set(phids)
	return t
}

// ProjectPHIDs returns the associated projects. They must be attached.
func (t *Task) ProjectPHIDs() ([]string, error) {
	return t.projectPHIDs.get("project PHIDs")
}

// AttachProjectPHIDs sets the project relation.
func (t *Task) AttachProjectPHIDs(phids []string) *Task {
	t.projectPHIDs.set(phids)
	return t
}

// GroupByProjectPHID is the project a grouped query matched this task on.
func (t *Task) GroupByProjectPHID() (string, error) {
	return t.groupByProjectPHID.get("group-by project PHID")
}

// AttachGroupByProjectPHID records the project a grouped query matched.
func (t *Task) AttachGroupByProjectPHID(p string) *Task {
	t.groupByProjectPHID.set(p)
	return t
}

// CustomFields returns the custom field values. They must be attached.
func (t *Task) CustomFields() (*CustomFieldAttachment, error) {
	return t.customFields.get("custom fields")
}

// AttachCustomFields sets the custom field relation.
func (t *Task) AttachCustomFields(fields *CustomFieldAttachment) *Task {
	t.customFields.set(fields)
	return t
}

// LoadDependsOnTaskPHIDs returns the tasks this task depends on.
func (t *Task) LoadDependsOnTaskPHIDs(ctx context.Context, l EdgeLoader) ([]string, error) {
	return l.LoadDestinationPHIDs(ctx, t.PHID, EdgeTaskDependsOnTask)
}

// LoadDependedOnByTaskPHIDs returns the tasks that depend on this task.
func (t *Task) LoadDependedOnByTaskPHIDs(ctx context.Context, l EdgeLoader) ([]string, error) {
	return l.LoadDestinationPHIDs(ctx, t.PHID, EdgeTaskDependedOnByTask)
}

// --- Ordering ---

// SortVector orders tasks in a queue: priority, then subpriority
// descending, then ID.
type SortVector struct {
	Priority       int
	NegSubpriority float64
	ID             int64
}

// PrioritySortVector returns the task's position key.
func (t *Task) PrioritySortVector() SortVector {
	return SortVector{
		Priority:       t.Priority,
		NegSubpriority: -t.Subpriority,
		ID:             t.ID,
	}
}

// Compare orders vectors lexicographically.
func (v SortVector) Compare(o SortVector) int {
	if c := cmp.Compare(v.Priority, o.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(v.NegSubpriority, o.NegSubpriority); c != 0 {
		return c
	}
	return cmp.Compare(v.ID, o.ID)
}

// SortTasksByPriority sorts tasks in place by their sort vectors.
func SortTasksByPriority(tasks []*Task) {
	slices.SortFunc(tasks, func(a, b *Task) int {
		return a.PrioritySortVector().Compare(b.PrioritySortVector())
	})
}

// --- Subscriptions ---

// IsAutomaticallySubscribed reports whether p is implicitly subscribed.
func (t *Task) IsAutomaticallySubscribed(p string) bool {
	return p != "" && p == t.OwnerPHID
}

// --- Markup ---

// MarkupFieldKey is the markup cache key for field. It changes with the text.
func (t *Task) MarkupFieldKey(field string) string {
	return fmt.Sprintf("task:T%d:%s:%s", t.ID, field, markup.Digest(t.MarkupText(field)))
}

// MarkupText returns the source text for a markup field.
func (t *Task) MarkupText(string) string {
	return t.Description
}

// NewMarkupEngine returns the engine used for task descriptions.
func (t *Task) NewMarkupEngine(string) markup.Engine {
	return markup.TaskEngine()
}

// DidMarkupText post-processes rendered output. Tasks keep it as is.
func (t *Task) DidMarkupText(_ string, output template.HTML) template.HTML {
	return output
}

// ShouldUseMarkupCache is true once the task has been saved.
func (t *Task) ShouldUseMarkupCache(string) bool {
	return t.ID != 0
}

// --- Policy ---

// Capabilities lists the capabilities policies are checked for.
func (t *Task) Capabilities() []policy.Capability {
	return []policy.Capability{policy.CanView, policy.CanEdit}
}

// Policy returns the stored policy for c. Unknown capabilities get NoOne.
func (t *Task) Policy(c policy.Capability) string {
	switch c {
	case policy.CanView:
		return t.ViewPolicy
	case policy.CanEdit:
		return t.EditPolicy
	}
	return policy.NoOne
}

// HasAutomaticCapability grants the owner every capability.
func (t *Task) HasAutomaticCapability(_ policy.Capability, viewer policy.Viewer) bool {
	if t.OwnerPHID == "" || viewer == nil {
		return false
	}
	return viewer.ViewerPHID() == t.OwnerPHID
}

// DescribeAutomaticCapability explains the owner bypass.
func (t *Task) DescribeAutomaticCapability(policy.Capability) string {
	return "The owner of a task can always view and edit it."
}

// --- Transactions ---

// NewTransaction returns a transaction template bound to this task.
func (t *Task) NewTransaction(authorPHID, transactionType string) *TaskTransaction {
	return &TaskTransaction{
		AuthorPHID:      authorPHID,
		ObjectPHID:      t.PHID,
		TransactionType: transactionType,
	}
}
