package store

import (
	"context"
	"errors"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/schema"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// Task orderings accepted by TaskQuery.Order.
const (
	OrderPriority = "priority"
	OrderCreated  = "created"
	OrderUpdated  = "updated"
	OrderTitle    = "title"
)

// TaskQuery selects tasks and says which relations to attach.
type TaskQuery struct {
	IDs            []int64
	PHIDs          []string
	Statuses       []models.TaskStatus
	OwnerPHIDs     []string
	AuthorPHIDs    []string
	ProjectPHID    string
	SubscriberPHID string
	// Unowned restricts to tasks with no owner.
	Unowned bool

	NeedSubscribers bool
	NeedProjects    bool
	// CustomFieldSpecs, when non-empty, attaches custom field values.
	CustomFieldSpecs []models.CustomFieldSpec

	Order string
	Limit int
}

// DestructionRecord is one row of the destruction log.
type DestructionRecord struct {
	ID          int64
	ObjectPHID  string
	RootPHID    string
	ObjectType  string
	DateCreated int64
}

// Reader holds the queries available both on the store and inside a
// transaction.
type Reader interface {
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	GetTaskByPHID(ctx context.Context, phid string) (*models.Task, error)
	QueryTasks(ctx context.Context, q TaskQuery) ([]*models.Task, error)

	LoadDestinationPHIDs(ctx context.Context, srcPHID, edgeType string) ([]string, error)
	ListTaskTransactions(ctx context.Context, objectPHID string) ([]*models.TaskTransaction, error)
	LoadCustomFields(ctx context.Context, objectPHID string, specs []models.CustomFieldSpec) (*models.CustomFieldAttachment, error)

	GetUser(ctx context.Context, phid string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Tx is a unit of work. Everything written through it commits or rolls
// back together.
type Tx interface {
	Reader

	SaveTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, phid string) error

	AddEdge(ctx context.Context, srcPHID, edgeType, dstPHID string) error
	RemoveEdge(ctx context.Context, srcPHID, edgeType, dstPHID string) error
	DeleteEdgesForObject(ctx context.Context, phid string) (int64, error)

	CreateTaskTransaction(ctx context.Context, xaction *models.TaskTransaction) error
	DeleteTaskTransaction(ctx context.Context, phid string) error

	SetCustomFieldValue(ctx context.Context, objectPHID, key, value string) error
	DeleteCustomFieldValues(ctx context.Context, objectPHID string) error

	RecordDestruction(ctx context.Context, objectPHID, rootPHID string) error

	CreateDiff(ctx context.Context, d *models.Diff) error
	CreateChangeset(ctx context.Context, c *models.Changeset) error
}

// Store defines the persistence interface for forge.
type Store interface {
	Reader

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, phid string) (*models.Repository, error)
	GetRepositoryByCallsign(ctx context.Context, callsign string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)

	// Diffs
	GetDiff(ctx context.Context, id int64) (*models.Diff, error)
	ListDiffs(ctx context.Context, limit int) ([]*models.Diff, error)
	GetChangeset(ctx context.Context, id int64) (*models.Changeset, error)
	ListChangesets(ctx context.Context, diffID int64) ([]*models.Changeset, error)

	// Inline comments
	CreateInlineComment(ctx context.Context, c *models.InlineComment) error
	ListInlineComments(ctx context.Context, changesetID int64) ([]*models.InlineComment, error)
	DeleteInlineComment(ctx context.Context, id int64, authorPHID string) error

	// Markup cache
	GetMarkupCache(ctx context.Context, key string) (string, bool, error)
	PutMarkupCache(ctx context.Context, key, data string) error

	// Destruction log
	ListDestructionLog(ctx context.Context, limit int) ([]*DestructionRecord, error)

	// InTx runs fn inside a database transaction, committing when fn
	// returns nil and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	CheckSchema(ctx context.Context, table schema.Table) ([]string, error)
	Close() error
}
