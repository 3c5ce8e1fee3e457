package models

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/forge/internal/policy"
)

func newTestTask() *Task {
	actor := &User{PHID: "PHID-USER-author"}
	app := policy.NewApplication("tasks", nil)
	return InitializeNewTask(actor, app, DefaultTaskCatalog())
}

func TestInitializeNewTask(t *testing.T) {
	actor := &User{PHID: "PHID-USER-alice"}
	app := policy.NewApplication("tasks", map[policy.Capability]string{
		policy.DefaultViewCapability: policy.Public,
		policy.DefaultEditCapability: policy.Admins,
	})
	catalog, err := DefaultTaskCatalog().WithDefaults(TaskStatusOpen, PriorityNormal)
	require.NoError(t, err)

	task := InitializeNewTask(actor, app, catalog)

	assert.Equal(t, TaskStatusOpen, task.Status)
	assert.Equal(t, PriorityNormal, task.Priority)
	assert.Equal(t, "PHID-USER-alice", task.AuthorPHID)
	assert.Equal(t, policy.Public, task.ViewPolicy)
	assert.Equal(t, policy.Admins, task.EditPolicy)

	projects, err := task.ProjectPHIDs()
	require.NoError(t, err)
	assert.Empty(t, projects)
	subs, err := task.SubscriberPHIDs()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestInitializeNewTask_DefaultPolicies(t *testing.T) {
	task := newTestTask()
	assert.Equal(t, policy.Users, task.ViewPolicy)
	assert.Equal(t, policy.Users, task.EditPolicy)
	assert.Equal(t, PriorityTriage, task.Priority)
}

func TestTask_UnattachedRelationsFail(t *testing.T) {
	task := &Task{}

	_, err := task.SubscriberPHIDs()
	assert.True(t, errors.Is(err, ErrAttachmentNotSatisfied))
	assert.Contains(t, err.Error(), "subscriber PHIDs")

	_, err = task.ProjectPHIDs()
	assert.ErrorIs(t, err, ErrAttachmentNotSatisfied)

	_, err = task.GroupByProjectPHID()
	assert.ErrorIs(t, err, ErrAttachmentNotSatisfied)

	_, err = task.CustomFields()
	assert.ErrorIs(t, err, ErrAttachmentNotSatisfied)

	// Attaching an empty value satisfies the relation.
	task.AttachSubscriberPHIDs(nil)
	subs, err := task.SubscriberPHIDs()
	require.NoError(t, err)
	assert.Nil(t, subs)
}

func TestTask_SetTitle(t *testing.T) {
	task := newTestTask()
	task.SetTitle("first")
	assert.Equal(t, "first", task.OriginalTitle)

	task.SetTitle("second")
	assert.Equal(t, "second", task.OriginalTitle, "unsaved tasks track the latest title")

	task.ID = 7
	task.SetTitle("third")
	assert.Equal(t, "third", task.Title)
	assert.Equal(t, "second", task.OriginalTitle, "original title is frozen after save")
}

func TestTask_EnsureMailKey(t *testing.T) {
	task := newTestTask()
	require.NoError(t, task.EnsureMailKey())
	assert.Len(t, task.MailKey, 20)

	key := task.MailKey
	require.NoError(t, task.EnsureMailKey())
	assert.Equal(t, key, task.MailKey)
}

func TestTask_Monogram(t *testing.T) {
	task := &Task{ID: 42}
	assert.Equal(t, "T42", task.Monogram())
}

func TestSortTasksByPriority_TotalOrder(t *testing.T) {
	tasks := []*Task{
		{ID: 5, Priority: 50, Subpriority: 1},
		{ID: 2, Priority: 50, Subpriority: 3},
		{ID: 9, Priority: 25, Subpriority: 0},
		{ID: 3, Priority: 50, Subpriority: 1},
		{ID: 1, Priority: 80, Subpriority: 0},
		{ID: 4, Priority: 50, Subpriority: 3},
	}

	want := []int64{9, 2, 4, 3, 5, 1}

	// Order must not depend on input order.
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		r.Shuffle(len(tasks), func(a, b int) { tasks[a], tasks[b] = tasks[b], tasks[a] })
		SortTasksByPriority(tasks)

		var got []int64
		for _, task := range tasks {
			got = append(got, task.ID)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("sort order mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSortVector_Compare(t *testing.T) {
	a := (&Task{ID: 1, Priority: 50, Subpriority: 2}).PrioritySortVector()
	b := (&Task{ID: 2, Priority: 50, Subpriority: 1}).PrioritySortVector()
	assert.Equal(t, -1, a.Compare(b), "higher subpriority sorts first")
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

type viewer struct {
	phid  string
	admin bool
}

func (v viewer) ViewerPHID() string    { return v.phid }
func (v viewer) IsAdministrator() bool { return v.admin }

func TestTask_OwnerBypass(t *testing.T) {
	owner := viewer{phid: "PHID-USER-owner"}
	other := viewer{phid: "PHID-USER-other"}

	for _, pol := range []string{policy.NoOne, policy.Admins, policy.Users, policy.Public, "PHID-USER-someone"} {
		task := &Task{OwnerPHID: owner.phid, ViewPolicy: pol, EditPolicy: pol}
		for _, c := range task.Capabilities() {
			assert.True(t, policy.HasCapability(owner, task, c), "owner %s under %s", c, pol)
			assert.Equal(t, policy.Passes(other, pol), policy.HasCapability(other, task, c),
				"non-owner %s under %s follows policy", c, pol)
		}
	}
}

func TestTask_OwnerBypassNeedsOwner(t *testing.T) {
	task := &Task{ViewPolicy: policy.NoOne, EditPolicy: policy.NoOne}
	assert.False(t, task.HasAutomaticCapability(policy.CanView, viewer{}))
	assert.False(t, policy.HasCapability(viewer{}, task, policy.CanView))
}

func TestTask_RequireDescribesOwnerBypass(t *testing.T) {
	task := &Task{OwnerPHID: "PHID-USER-owner", EditPolicy: policy.NoOne}
	err := policy.Require(viewer{phid: "PHID-USER-x"}, task, policy.CanEdit)
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "The owner of a task can always view and edit it.")
}

func TestTask_MarkupFieldKey(t *testing.T) {
	task := &Task{ID: 3, Description: "hello"}
	k1 := task.MarkupFieldKey(MarkupFieldDescription)
	assert.Contains(t, k1, "task:T3:markup:desc:")

	assert.Equal(t, k1, task.MarkupFieldKey(MarkupFieldDescription), "same text, same key")

	task.Description = "hello!"
	k2 := task.MarkupFieldKey(MarkupFieldDescription)
	assert.NotEqual(t, k1, k2, "text change changes key")

	task.Description = "hello"
	assert.Equal(t, k1, task.MarkupFieldKey(MarkupFieldDescription))
}

func TestTask_ShouldUseMarkupCache(t *testing.T) {
	task := &Task{}
	assert.False(t, task.ShouldUseMarkupCache(MarkupFieldDescription))
	task.ID = 1
	assert.True(t, task.ShouldUseMarkupCache(MarkupFieldDescription))
}

func TestTask_Subscriptions(t *testing.T) {
	task := &Task{AuthorPHID: "PHID-USER-a", OwnerPHID: "PHID-USER-o"}
	assert.True(t, task.IsAutomaticallySubscribed("PHID-USER-o"))
	assert.False(t, task.IsAutomaticallySubscribed("PHID-USER-a"))

	task.OwnerPHID = ""
	assert.False(t, task.IsAutomaticallySubscribed(""))
}

func TestTask_SummaryRelations(t *testing.T) {
	catalog := DefaultTaskCatalog()
	task := &Task{
		ID:        7,
		OwnerPHID: "PHID-USER-o",
		Status:    TaskStatusOpen,
		Attached: map[string]map[string]any{
			"DREV": {"PHID-DREV-b": map[string]any{}, "PHID-DREV-a": map[string]any{}},
			"CMIT": {},
		},
	}

	s := task.Summary(catalog)
	assert.Nil(t, s.Subscribers)
	assert.Nil(t, s.AutoSubscribers, "subscribers not attached")
	assert.Equal(t, map[string][]string{"DREV": {"PHID-DREV-a", "PHID-DREV-b"}}, s.Attached)
	assert.Empty(t, s.GroupByProject)

	task.AttachSubscriberPHIDs([]string{"PHID-USER-s"})
	task.AttachGroupByProjectPHID("PHID-PROJ-x")
	s = task.Summary(catalog)
	assert.Equal(t, []string{"PHID-USER-s"}, s.Subscribers)
	assert.Equal(t, []string{"PHID-USER-o"}, s.AutoSubscribers)
	assert.Equal(t, "PHID-PROJ-x", s.GroupByProject)

	task.AttachSubscriberPHIDs([]string{"PHID-USER-o"})
	assert.Nil(t, task.Summary(catalog).AutoSubscribers, "explicit subscription wins")
}

func TestTask_AttachedPHIDs(t *testing.T) {
	task := &Task{Attached: map[string]map[string]any{
		"DREV": {"PHID-DREV-b": map[string]any{}, "PHID-DREV-a": map[string]any{}},
	}}
	assert.Equal(t, []string{"PHID-DREV-a", "PHID-DREV-b"}, task.AttachedPHIDs("DREV"))
	assert.Empty(t, task.AttachedPHIDs("CMIT"))
}

type fakeEdges map[string][]string

func (f fakeEdges) LoadDestinationPHIDs(_ context.Context, src, edgeType string) ([]string, error) {
	return f[src+"/"+edgeType], nil
}

func TestTask_DependencyEdges(t *testing.T) {
	task := &Task{PHID: "PHID-TASK-1"}
	edges := fakeEdges{
		"PHID-TASK-1/" + EdgeTaskDependsOnTask:    {"PHID-TASK-2"},
		"PHID-TASK-1/" + EdgeTaskDependedOnByTask: {"PHID-TASK-3", "PHID-TASK-4"},
	}

	deps, err := task.LoadDependsOnTaskPHIDs(context.Background(), edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"PHID-TASK-2"}, deps)

	rdeps, err := task.LoadDependedOnByTaskPHIDs(context.Background(), edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"PHID-TASK-3", "PHID-TASK-4"}, rdeps)
}

func TestTask_ConfigurationCreatesSQL(t *testing.T) {
	table := (&Task{}).Configuration().Table(TaskTable)
	ddl, err := table.CreateSQL()
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS tasks")
	assert.Contains(t, ddl, "owner_phid TEXT,")
	assert.Contains(t, ddl, "subpriority REAL NOT NULL")
	assert.Contains(t, ddl, "CREATE UNIQUE INDEX IF NOT EXISTS tasks_phid ON tasks (phid);")
	assert.Contains(t, ddl, "CREATE INDEX IF NOT EXISTS tasks_title ON tasks (title);")
}
