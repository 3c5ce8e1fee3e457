// Package editor applies transactions to tasks: it checks policy, validates
// and normalizes each change, drops changes that have no effect, and writes
// the task, its edges, custom fields and transaction records atomically.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// ErrValidation is wrapped by every rejected transaction.
var ErrValidation = errors.New("invalid transaction")

// Transaction is a requested change. Value's type depends on Type: string
// for text fields, status, owner, policies and custom fields; int for
// priority; float64 for subpriority; []string for subscribers, projects and
// dependencies.
type Transaction struct {
	Type    string
	MetaKey string
	Value   any
	Comment string
}

// Constructors for each transaction type.

func SetTitle(s string) Transaction {
	return Transaction{Type: models.TransactionTitle, Value: s}
}

func SetDescription(s string) Transaction {
	return Transaction{Type: models.TransactionDescription, Value: s}
}

func SetStatus(s models.TaskStatus) Transaction {
	return Transaction{Type: models.TransactionStatus, Value: string(s)}
}

func SetPriority(p int) Transaction {
	return Transaction{Type: models.TransactionPriority, Value: p}
}

func SetSubpriority(p float64) Transaction {
	return Transaction{Type: models.TransactionSubpriority, Value: p}
}

// SetOwner assigns the task; an empty PHID unassigns it.
func SetOwner(userPHID string) Transaction {
	return Transaction{Type: models.TransactionOwner, Value: userPHID}
}

func SetViewPolicy(v string) Transaction {
	return Transaction{Type: models.TransactionViewPolicy, Value: v}
}

func SetEditPolicy(v string) Transaction {
	return Transaction{Type: models.TransactionEditPolicy, Value: v}
}

// SetSubscribers replaces the full subscriber set.
func SetSubscribers(phids []string) Transaction {
	return Transaction{Type: models.TransactionSubscribers, Value: phids}
}

// SetProjects replaces the full project set.
func SetProjects(phids []string) Transaction {
	return Transaction{Type: models.TransactionProjects, Value: phids}
}

// SetDependsOn replaces the set of tasks this task depends on.
func SetDependsOn(taskPHIDs []string) Transaction {
	return Transaction{Type: models.TransactionDependsOn, Value: taskPHIDs}
}

// SetCustomField sets one custom field; an empty value clears it.
func SetCustomField(key, value string) Transaction {
	return Transaction{Type: models.TransactionCustomField, MetaKey: key, Value: value}
}

func AddComment(text string) Transaction {
	return Transaction{Type: models.TransactionComment, Comment: text}
}

// Editor applies transactions to tasks.
type Editor struct {
	store   store.Store
	catalog *models.TaskCatalog
	fields  []models.CustomFieldSpec
	logger  *zap.Logger
}

// New returns an editor using catalog for statuses and priorities and
// fields as the configured custom fields.
func New(s store.Store, catalog *models.TaskCatalog, fields []models.CustomFieldSpec, logger *zap.Logger) *Editor {
	if catalog == nil {
		catalog = models.DefaultTaskCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{store: s, catalog: catalog, fields: fields, logger: logger}
}

// Catalog returns the status and priority catalog in use.
func (e *Editor) Catalog() *models.TaskCatalog { return e.catalog }

// CustomFieldSpecs returns the configured custom fields.
func (e *Editor) CustomFieldSpecs() []models.CustomFieldSpec { return e.fields }

// Create builds a new task for actor and applies xactions to it. A title
// is required.
func (e *Editor) Create(ctx context.Context, actor *models.User, app *policy.Application, xactions []Transaction) (*models.Task, []*models.TaskTransaction, error) {
	if actor.ViewerPHID() == "" {
		return nil, nil, fmt.Errorf("%w: an enabled user is required to create tasks", policy.ErrPermissionDenied)
	}
	task := models.InitializeNewTask(actor, app, e.catalog)
	task.AttachCustomFields(&models.CustomFieldAttachment{Specs: e.fields, Values: map[string]string{}})

	hasTitle := slices.ContainsFunc(xactions, func(x Transaction) bool {
		s, _ := x.Value.(string)
		return x.Type == models.TransactionTitle && strings.TrimSpace(s) != ""
	})
	if !hasTitle {
		return nil, nil, fmt.Errorf("%w: tasks must have a title", ErrValidation)
	}

	create := Transaction{Type: models.TransactionCreate}
	applied, err := e.apply(ctx, actor, task, append([]Transaction{create}, xactions...))
	if err != nil {
		return nil, nil, err
	}
	return task, applied, nil
}

// Apply applies xactions to an existing task. Actor needs edit capability.
// Transactions that would not change anything are dropped; if none remain
// nothing is written.
func (e *Editor) Apply(ctx context.Context, actor *models.User, task *models.Task, xactions []Transaction) ([]*models.TaskTransaction, error) {
	if task.ID == 0 {
		return nil, fmt.Errorf("apply transactions: task is not saved")
	}
	if err := policy.Require(actor, task, policy.CanEdit); err != nil {
		return nil, err
	}
	return e.apply(ctx, actor, task, xactions)
}

type pending struct {
	record  *models.TaskTransaction
	addEdge map[string][]string
	delEdge map[string][]string
	field   *[2]string
}

func (e *Editor) apply(ctx context.Context, actor *models.User, task *models.Task, xactions []Transaction) ([]*models.TaskTransaction, error) {
	isNew := task.ID == 0
	if err := e.ensureAttached(ctx, task); err != nil {
		return nil, err
	}

	// Work on a copy so a rejected transaction leaves task untouched.
	working := *task
	if fields, err := task.CustomFields(); err == nil {
		working.AttachCustomFields(&models.CustomFieldAttachment{Specs: fields.Specs, Values: maps.Clone(fields.Values)})
	}

	var work []*pending
	for _, x := range xactions {
		p, err := e.prepare(ctx, &working, x, isNew)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		p.record.AuthorPHID = actor.PHID
		p.record.Comment = x.Comment
		work = append(work, p)
	}

	if len(work) == 0 {
		e.logger.Debug("no effective transactions", zap.String("task", task.Monogram()))
		return nil, nil
	}

	if !policy.HasCapability(actor, &working, policy.CanEdit) {
		return nil, fmt.Errorf("%w: you can not set an edit policy that locks you out", ErrValidation)
	}

	var records []*models.TaskTransaction
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveTask(ctx, &working); err != nil {
			return err
		}
		for _, p := range work {
			for edgeType, dsts := range p.delEdge {
				for _, dst := range dsts {
					if err := tx.RemoveEdge(ctx, working.PHID, edgeType, dst); err != nil {
						return err
					}
				}
			}
			for edgeType, dsts := range p.addEdge {
				for _, dst := range dsts {
					if err := tx.AddEdge(ctx, working.PHID, edgeType, dst); err != nil {
						return err
					}
				}
			}
			if p.field != nil {
				if err := tx.SetCustomFieldValue(ctx, working.PHID, p.field[0], p.field[1]); err != nil {
					return err
				}
			}
			p.record.ObjectPHID = working.PHID
			if err := tx.CreateTaskTransaction(ctx, p.record); err != nil {
				return err
			}
			records = append(records, p.record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	*task = working
	e.logger.Info("task edited",
		zap.String("task", task.Monogram()),
		zap.String("actor", actor.PHID),
		zap.Int("transactions", len(records)),
	)
	return records, nil
}

func (e *Editor) ensureAttached(ctx context.Context, task *models.Task) error {
	if _, err := task.SubscriberPHIDs(); err != nil {
		subs, err := e.store.LoadDestinationPHIDs(ctx, task.PHID, models.EdgeTaskHasSubscriber)
		if err != nil {
			return err
		}
		task.AttachSubscriberPHIDs(subs)
	}
	if _, err := task.ProjectPHIDs(); err != nil {
		projects, err := e.store.LoadDestinationPHIDs(ctx, task.PHID, models.EdgeTaskHasProject)
		if err != nil {
			return err
		}
		task.AttachProjectPHIDs(projects)
	}
	if _, err := task.CustomFields(); err != nil {
		fields, err := e.store.LoadCustomFields(ctx, task.PHID, e.fields)
		if err != nil {
			return err
		}
		task.AttachCustomFields(fields)
	}
	return nil
}

// prepare validates x, applies it to task in memory and returns the work
// needed to persist it, or nil when it changes nothing.
func (e *Editor) prepare(ctx context.Context, task *models.Task, x Transaction, isNew bool) (*pending, error) {
	rec := task.NewTransaction("", x.Type)
	p := &pending{record: rec}

	switch x.Type {
	case models.TransactionCreate:
		if !isNew {
			return nil, fmt.Errorf("%w: %s on an existing task", ErrValidation, x.Type)
		}
		rec.OldValue, rec.NewValue = "null", "null"
		return p, nil

	case models.TransactionComment:
		if strings.TrimSpace(x.Comment) == "" {
			return nil, nil
		}
		rec.OldValue, rec.NewValue = "null", "null"
		return p, nil

	case models.TransactionTitle:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("%w: title can not be empty", ErrValidation)
		}
		if !isNew && v == task.Title {
			return nil, nil
		}
		if err := setValues(rec, task.Title, v, isNew); err != nil {
			return nil, err
		}
		task.SetTitle(v)
		return p, nil

	case models.TransactionDescription:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		if v == task.Description {
			return nil, nil
		}
		if err := setValues(rec, task.Description, v, isNew); err != nil {
			return nil, err
		}
		task.Description = v
		return p, nil

	case models.TransactionStatus:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		status := models.TaskStatus(v)
		if _, ok := e.catalog.Status(status); !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
		}
		if status == task.Status {
			return nil, nil
		}
		if err := setValues(rec, string(task.Status), v, isNew); err != nil {
			return nil, err
		}
		task.Status = status
		return p, nil

	case models.TransactionPriority:
		v, ok := x.Value.(int)
		if !ok {
			return nil, fmt.Errorf("%w: priority must be an integer", ErrValidation)
		}
		if _, ok := e.catalog.Priority(v); !ok {
			return nil, fmt.Errorf("%w: unknown priority %d", ErrValidation, v)
		}
		if v == task.Priority {
			return nil, nil
		}
		if err := setValues(rec, task.Priority, v, isNew); err != nil {
			return nil, err
		}
		task.Priority = v
		return p, nil

	case models.TransactionSubpriority:
		v, ok := x.Value.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: subpriority must be a number", ErrValidation)
		}
		if v == task.Subpriority {
			return nil, nil
		}
		if err := setValues(rec, task.Subpriority, v, isNew); err != nil {
			return nil, err
		}
		task.Subpriority = v
		return p, nil

	case models.TransactionOwner:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		if v == task.OwnerPHID {
			return nil, nil
		}
		ordering := ""
		if v != "" {
			owner, err := e.store.GetUser(ctx, v)
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: owner %s does not exist", ErrValidation, v)
			}
			if err != nil {
				return nil, err
			}
			if owner.Disabled {
				return nil, fmt.Errorf("%w: owner %s is disabled", ErrValidation, owner.Username)
			}
			ordering = owner.Username
		}
		if err := setValues(rec, nullable(task.OwnerPHID), nullable(v), isNew); err != nil {
			return nil, err
		}
		task.SetOwnerPHID(v)
		task.OwnerOrdering = ordering
		return p, nil

	case models.TransactionViewPolicy, models.TransactionEditPolicy:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		if !policy.IsValid(v) {
			return nil, fmt.Errorf("%w: invalid policy %q", ErrValidation, v)
		}
		current := &task.ViewPolicy
		if x.Type == models.TransactionEditPolicy {
			current = &task.EditPolicy
		}
		if v == *current {
			return nil, nil
		}
		if err := setValues(rec, *current, v, isNew); err != nil {
			return nil, err
		}
		*current = v
		return p, nil

	case models.TransactionSubscribers:
		return e.prepareEdgeSet(ctx, task, x, p, isNew, models.EdgeTaskHasSubscriber)

	case models.TransactionProjects:
		return e.prepareEdgeSet(ctx, task, x, p, isNew, models.EdgeTaskHasProject)

	case models.TransactionDependsOn:
		return e.prepareDependsOn(ctx, task, x, p, isNew)

	case models.TransactionCustomField:
		v, err := stringValue(x)
		if err != nil {
			return nil, err
		}
		fields, err := task.CustomFields()
		if err != nil {
			return nil, err
		}
		spec, ok := fields.Spec(x.MetaKey)
		if !ok {
			return nil, fmt.Errorf("%w: unknown custom field %q", ErrValidation, x.MetaKey)
		}
		if err := spec.Validate(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		old := fields.Values[x.MetaKey]
		if v == old {
			return nil, nil
		}
		rec.MetaKey = x.MetaKey
		if err := setValues(rec, nullable(old), nullable(v), isNew); err != nil {
			return nil, err
		}
		if v == "" {
			delete(fields.Values, x.MetaKey)
		} else {
			fields.Values[x.MetaKey] = v
		}
		p.field = &[2]string{x.MetaKey, v}
		return p, nil
	}

	return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, x.Type)
}

func (e *Editor) prepareEdgeSet(ctx context.Context, task *models.Task, x Transaction, p *pending, isNew bool, edgeType string) (*pending, error) {
	want, ok := x.Value.([]string)
	if !ok && x.Value != nil {
		return nil, fmt.Errorf("%w: %s must be a list of PHIDs", ErrValidation, x.Type)
	}
	want = normalizeSet(want)

	prefix := "PHID-PROJ-"
	if edgeType == models.EdgeTaskHasSubscriber {
		prefix = "PHID-USER-"
	}
	for _, v := range want {
		if !strings.HasPrefix(v, prefix) {
			return nil, fmt.Errorf("%w: %q is not a %s PHID", ErrValidation, v, strings.Trim(prefix, "-"))
		}
		if edgeType == models.EdgeTaskHasSubscriber {
			if _, err := e.store.GetUser(ctx, v); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("%w: subscriber %s does not exist", ErrValidation, v)
				}
				return nil, err
			}
		}
	}

	var current []string
	var err error
	if edgeType == models.EdgeTaskHasSubscriber {
		current, err = task.SubscriberPHIDs()
	} else {
		current, err = task.ProjectPHIDs()
	}
	if err != nil {
		return nil, err
	}
	current = normalizeSet(current)
	if slices.Equal(current, want) {
		return nil, nil
	}

	var add, del []string
	for _, v := range want {
		if !slices.Contains(current, v) {
			add = append(add, v)
		}
	}
	for _, v := range current {
		if !slices.Contains(want, v) {
			del = append(del, v)
		}
	}
	p.addEdge = map[string][]string{edgeType: add}
	p.delEdge = map[string][]string{edgeType: del}

	if err := setValues(p.record, current, want, isNew); err != nil {
		return nil, err
	}
	if edgeType == models.EdgeTaskHasSubscriber {
		task.AttachSubscriberPHIDs(want)
	} else {
		task.AttachProjectPHIDs(want)
	}
	return p, nil
}

// prepareDependsOn diffs the requested dependencies against the stored
// depends-on edges. The store writes the inverse edge.
func (e *Editor) prepareDependsOn(ctx context.Context, task *models.Task, x Transaction, p *pending, isNew bool) (*pending, error) {
	want, ok := x.Value.([]string)
	if !ok && x.Value != nil {
		return nil, fmt.Errorf("%w: %s must be a list of PHIDs", ErrValidation, x.Type)
	}
	want = normalizeSet(want)
	for _, v := range want {
		if v == task.PHID {
			return nil, fmt.Errorf("%w: a task can not depend on itself", ErrValidation)
		}
		if _, err := e.store.GetTaskByPHID(ctx, v); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: task %s does not exist", ErrValidation, v)
			}
			return nil, err
		}
	}

	current := []string{}
	if !isNew {
		loaded, err := task.LoadDependsOnTaskPHIDs(ctx, e.store)
		if err != nil {
			return nil, err
		}
		current = normalizeSet(loaded)
	}
	if slices.Equal(current, want) {
		return nil, nil
	}

	var add, del []string
	for _, v := range want {
		if !slices.Contains(current, v) {
			add = append(add, v)
		}
	}
	for _, v := range current {
		if !slices.Contains(want, v) {
			del = append(del, v)
		}
	}
	p.addEdge = map[string][]string{models.EdgeTaskDependsOnTask: add}
	p.delEdge = map[string][]string{models.EdgeTaskDependsOnTask: del}
	if err := setValues(p.record, current, want, isNew); err != nil {
		return nil, err
	}
	return p, nil
}

func stringValue(x Transaction) (string, error) {
	switch v := x.Value.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("%w: %s expects a string, got %T", ErrValidation, x.Type, x.Value)
}

// nullable maps "" to a JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizeSet(in []string) []string {
	out := []string{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// setValues records old and new as JSON. On new tasks the old value is null.
func setValues(rec *models.TaskTransaction, oldValue, newValue any, isNew bool) error {
	if isNew {
		oldValue = nil
	}
	o, err := json.Marshal(oldValue)
	if err != nil {
		return fmt.Errorf("encode old value: %w", err)
	}
	n, err := json.Marshal(newValue)
	if err != nil {
		return fmt.Errorf("encode new value: %w", err)
	}
	rec.OldValue = string(o)
	rec.NewValue = string(n)
	return nil
}
