// Package destruction permanently removes objects and everything that
// hangs off them, inside a single database transaction.
package destruction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/phid"
	"github.com/joescharf/forge/internal/store"
)

// Destructible is an object that knows how to remove its own rows.
type Destructible interface {
	ObjectPHID() string
	DestroyObjectPermanently(ctx context.Context, run *Run) error
}

// Extension cleans up shared storage (edges, custom fields) for every
// destroyed object it applies to.
type Extension interface {
	Key() string
	CanDestroy(objectPHID string) bool
	DestroyObject(ctx context.Context, run *Run, objectPHID string) error
}

// Engine runs destructions against a store.
type Engine struct {
	store      store.Store
	logger     *zap.Logger
	extensions []Extension
}

// NewEngine returns an engine with the given extensions. With none, the
// default edge and custom field extensions are used.
func NewEngine(s store.Store, logger *zap.Logger, extensions ...Extension) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions()
	}
	return &Engine{store: s, logger: logger, extensions: extensions}
}

// DefaultExtensions returns the built-in extensions.
func DefaultExtensions() []Extension {
	return []Extension{EdgeExtension{}, CustomFieldExtension{}}
}

// Run is one destruction in progress. Every object destroyed through it
// shares the transaction and is logged against the same root.
type Run struct {
	engine    *Engine
	Tx        store.Tx
	RootPHID  string
	Destroyed []string
}

// Destroy permanently removes obj. Either everything it owns is removed or
// nothing is.
func (e *Engine) Destroy(ctx context.Context, obj Destructible) ([]string, error) {
	var destroyed []string
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		run := &Run{engine: e, Tx: tx, RootPHID: obj.ObjectPHID()}
		if err := run.DestroyObject(ctx, obj); err != nil {
			return err
		}
		destroyed = run.Destroyed
		return nil
	})
	if err != nil {
		e.logger.Warn("destruction rolled back", zap.String("phid", obj.ObjectPHID()), zap.Error(err))
		return nil, err
	}
	e.logger.Info("object destroyed",
		zap.String("phid", obj.ObjectPHID()),
		zap.Int("objects", len(destroyed)),
	)
	return destroyed, nil
}

// DestroyTask permanently removes a task and its transaction history.
func (e *Engine) DestroyTask(ctx context.Context, task *models.Task) ([]string, error) {
	return e.Destroy(ctx, Task(task))
}

// DestroyObject removes obj, runs applicable extensions and logs it.
func (r *Run) DestroyObject(ctx context.Context, obj Destructible) error {
	p := obj.ObjectPHID()
	if err := obj.DestroyObjectPermanently(ctx, r); err != nil {
		return fmt.Errorf("destroy %s: %w", p, err)
	}
	for _, ext := range r.engine.extensions {
		if !ext.CanDestroy(p) {
			continue
		}
		if err := ext.DestroyObject(ctx, r, p); err != nil {
			return fmt.Errorf("destroy %s (%s): %w", p, ext.Key(), err)
		}
	}
	if err := r.Tx.RecordDestruction(ctx, p, r.RootPHID); err != nil {
		return err
	}
	r.Destroyed = append(r.Destroyed, p)
	r.engine.logger.Debug("destroyed", zap.String("phid", p), zap.String("root", r.RootPHID))
	return nil
}

// --- Destructible adapters ---

type taskObject struct{ task *models.Task }

// Task adapts a task for destruction. Its transactions go first.
func Task(t *models.Task) Destructible { return taskObject{task: t} }

func (o taskObject) ObjectPHID() string { return o.task.PHID }

func (o taskObject) DestroyObjectPermanently(ctx context.Context, run *Run) error {
	xactions, err := run.Tx.ListTaskTransactions(ctx, o.task.PHID)
	if err != nil {
		return err
	}
	for _, x := range xactions {
		if err := run.DestroyObject(ctx, Transaction(x)); err != nil {
			return err
		}
	}
	return run.Tx.DeleteTask(ctx, o.task.PHID)
}

type transactionObject struct{ xaction *models.TaskTransaction }

// Transaction adapts a task transaction for destruction.
func Transaction(x *models.TaskTransaction) Destructible { return transactionObject{xaction: x} }

func (o transactionObject) ObjectPHID() string { return o.xaction.PHID }

func (o transactionObject) DestroyObjectPermanently(ctx context.Context, run *Run) error {
	return run.Tx.DeleteTaskTransaction(ctx, o.xaction.PHID)
}

// --- Extensions ---

// EdgeExtension removes every edge touching the object.
type EdgeExtension struct{}

func (EdgeExtension) Key() string { return "edges" }

func (EdgeExtension) CanDestroy(objectPHID string) bool {
	return phid.TypeOf(objectPHID) != phid.TypeTransaction
}

func (EdgeExtension) DestroyObject(ctx context.Context, run *Run, objectPHID string) error {
	_, err := run.Tx.DeleteEdgesForObject(ctx, objectPHID)
	return err
}

// CustomFieldExtension removes stored custom field values for tasks.
type CustomFieldExtension struct{}

func (CustomFieldExtension) Key() string { return "customfields" }

func (CustomFieldExtension) CanDestroy(objectPHID string) bool {
	return phid.TypeOf(objectPHID) == phid.TypeTask
}

func (CustomFieldExtension) DestroyObject(ctx context.Context, run *Run, objectPHID string) error {
	return run.Tx.DeleteCustomFieldValues(ctx, objectPHID)
}
