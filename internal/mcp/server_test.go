package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/forge/internal/differential"
	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// failingStore wraps a real store and injects errors into selected reads.
type failingStore struct {
	store.Store
	queryTasksErr error
	listDiffsErr  error
}

func (f *failingStore) QueryTasks(ctx context.Context, q store.TaskQuery) ([]*models.Task, error) {
	if f.queryTasksErr != nil {
		return nil, f.queryTasksErr
	}
	return f.Store.QueryTasks(ctx, q)
}

func (f *failingStore) ListDiffs(ctx context.Context, limit int) ([]*models.Diff, error) {
	if f.listDiffsErr != nil {
		return nil, f.listDiffsErr
	}
	return f.Store.ListDiffs(ctx, limit)
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	srv   *Server
	store *failingStore
	alice *models.User
	bob   *models.User
}

// newTestServer creates a Server acting as alice over a fresh database.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	require.NoError(t, s.CreateUser(context.Background(), alice))
	require.NoError(t, s.CreateUser(context.Background(), bob))

	fs := &failingStore{Store: s}
	app := policy.NewApplication("maniphest", nil)
	srv := NewServer(fs, editor.New(fs, nil, nil, nil), app, alice)
	require.NotNil(t, srv)

	return &testEnv{srv: srv, store: fs, alice: alice, bob: bob}
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// seedTask creates a task through the tool and returns it.
func seedTask(t *testing.T, env *testEnv, args map[string]any) models.TaskSummary {
	t.Helper()
	result, err := env.srv.handleCreateTask(context.Background(), callToolReq("forge_create_task", args))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var task models.TaskSummary
	resultJSON(t, result, &task)
	return task
}

const testDiff = `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,2 +1,2 @@
 package a
-var x = 1
+var x = 2
`

func seedDiff(t *testing.T, env *testEnv) (*models.Diff, []*models.Changeset) {
	t.Helper()
	d, changesets, err := differential.NewImporter(env.store, nil).Import(
		context.Background(), env.alice, []byte(testDiff), differential.ImportOptions{Branch: "main"})
	require.NoError(t, err)
	return d, changesets
}

// ---------------------------------------------------------------------------
// Tests: MCPServer registration
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	env := newTestServer(t)
	mcpSrv := env.srv.MCPServer()
	require.NotNil(t, mcpSrv, "MCPServer() should return non-nil")

	var _ *mcpserver.MCPServer = mcpSrv
}

func TestToolDefinitions(t *testing.T) {
	env := newTestServer(t)
	tools := []func() (mcpgo.Tool, mcpserver.ToolHandlerFunc){
		env.srv.listTasksTool,
		env.srv.getTaskTool,
		env.srv.createTaskTool,
		env.srv.updateTaskTool,
		env.srv.listDiffsTool,
		env.srv.getDiffTool,
		env.srv.rawFileTool,
	}
	seen := map[string]bool{}
	for _, fn := range tools {
		tool, handler := fn()
		assert.True(t, strings.HasPrefix(tool.Name, "forge_"), tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, handler)
		assert.False(t, seen[tool.Name], "duplicate tool %s", tool.Name)
		seen[tool.Name] = true
	}
}

// ---------------------------------------------------------------------------
// Tests: tasks
// ---------------------------------------------------------------------------

func TestHandleCreateTask(t *testing.T) {
	env := newTestServer(t)

	task := seedTask(t, env, map[string]any{
		"title":       "Write docs",
		"description": "For the **API**",
		"priority":    "high",
		"owner":       "bob",
	})
	assert.Equal(t, "T1", task.Monogram)
	assert.Equal(t, "Write docs", task.Title)
	assert.Equal(t, 80, task.Priority)
	assert.Equal(t, env.bob.PHID, task.OwnerPHID)
	assert.Equal(t, env.alice.PHID, task.AuthorPHID)
	assert.Equal(t, policy.Users, task.ViewPolicy)
}

func TestHandleCreateTask_Errors(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing title", map[string]any{}, "missing required parameter: title"},
		{"unknown priority", map[string]any{"title": "x", "priority": "asap"}, "unknown priority"},
		{"unknown owner", map[string]any{"title": "x", "owner": "nobody"}, "user not found"},
		{"blank title", map[string]any{"title": "   "}, "failed to create task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.srv.handleCreateTask(context.Background(), callToolReq("forge_create_task", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleCreateTask_NoActor(t *testing.T) {
	env := newTestServer(t)
	env.srv.actor = nil

	result, err := env.srv.handleCreateTask(context.Background(), callToolReq("forge_create_task", map[string]any{"title": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "permission denied")
}

func TestHandleListTasks(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "low one", "priority": "low"})
	seedTask(t, env, map[string]any{"title": "urgent one", "priority": "unbreak", "owner": "bob"})

	result, err := env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", nil))
	require.NoError(t, err)
	var tasks []models.TaskSummary
	resultJSON(t, result, &tasks)
	require.Len(t, tasks, 2)
	assert.Equal(t, "urgent one", tasks[0].Title, "highest priority first")

	result, err = env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", map[string]any{"owner": "bob"}))
	require.NoError(t, err)
	resultJSON(t, result, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "urgent one", tasks[0].Title)

	result, err = env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", map[string]any{"status": "resolved"}))
	require.NoError(t, err)
	resultJSON(t, result, &tasks)
	assert.Empty(t, tasks)
}

func TestHandleListTasks_FiltersByPolicy(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "mine"})

	env.srv.actor = nil
	result, err := env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", nil))
	require.NoError(t, err)
	var tasks []models.TaskSummary
	resultJSON(t, result, &tasks)
	assert.Empty(t, tasks)
}

func TestHandleListTasks_Errors(t *testing.T) {
	env := newTestServer(t)

	result, err := env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", map[string]any{"limit": "lots"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	env.store.queryTasksErr = errors.New("database locked")
	result, err = env.srv.handleListTasks(context.Background(), callToolReq("forge_list_tasks", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "database locked")
}

func TestHandleGetTask(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "Inspect me", "description": "details"})

	for _, ref := range []string{"T1", "1"} {
		result, err := env.srv.handleGetTask(context.Background(), callToolReq("forge_get_task", map[string]any{"task": ref}))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))

		var out struct {
			Task    models.TaskSummary `json:"task"`
			History []struct {
				Type string `json:"type"`
			} `json:"history"`
		}
		resultJSON(t, result, &out)
		assert.Equal(t, "details", out.Task.Description)
		require.NotEmpty(t, out.History)
		assert.Equal(t, models.TransactionCreate, out.History[0].Type)
	}

	result, err := env.srv.handleGetTask(context.Background(), callToolReq("forge_get_task", map[string]any{"task": "T99"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "task not found")

	result, err = env.srv.handleGetTask(context.Background(), callToolReq("forge_get_task", map[string]any{"task": "abc"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUpdateTask(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "Draft"})

	result, err := env.srv.handleUpdateTask(context.Background(), callToolReq("forge_update_task", map[string]any{
		"task":     "T1",
		"title":    "Final",
		"status":   "resolved",
		"priority": "wish",
		"comment":  "shipped",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var task models.TaskSummary
	resultJSON(t, result, &task)
	assert.Equal(t, "Final", task.Title)
	assert.Equal(t, "Draft", task.OriginalTitle)
	assert.True(t, task.Closed)
	assert.Equal(t, 0, task.Priority)
}

func TestHandleUpdateTask_Errors(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "Draft"})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing task", map[string]any{}, "missing required parameter: task"},
		{"no fields", map[string]any{"task": "T1"}, "no fields provided"},
		{"bad status", map[string]any{"task": "T1", "status": "someday"}, "failed to update task"},
		{"unknown task", map[string]any{"task": "T7", "title": "x"}, "task not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.srv.handleUpdateTask(context.Background(), callToolReq("forge_update_task", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleUpdateTask_RequiresEdit(t *testing.T) {
	env := newTestServer(t)
	seedTask(t, env, map[string]any{"title": "Alice only"})

	// Restrict editing to alice, then act as bob.
	_, err := env.srv.editor.Apply(context.Background(), env.alice, loadTask(t, env, 1), []editor.Transaction{editor.SetEditPolicy(env.alice.PHID)})
	require.NoError(t, err)

	env.srv.actor = env.bob
	result, err := env.srv.handleUpdateTask(context.Background(), callToolReq("forge_update_task", map[string]any{"task": "T1", "title": "hijacked"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "permission denied")
}

func loadTask(t *testing.T, env *testEnv, id int64) *models.Task {
	t.Helper()
	tasks, err := env.store.QueryTasks(context.Background(), store.TaskQuery{
		IDs:             []int64{id},
		NeedSubscribers: true,
		NeedProjects:    true,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

// ---------------------------------------------------------------------------
// Tests: diffs
// ---------------------------------------------------------------------------

func TestHandleListDiffs(t *testing.T) {
	env := newTestServer(t)
	d, _ := seedDiff(t, env)

	result, err := env.srv.handleListDiffs(context.Background(), callToolReq("forge_list_diffs", nil))
	require.NoError(t, err)
	var diffs []struct {
		ID     int64  `json:"id"`
		Branch string `json:"branch"`
	}
	resultJSON(t, result, &diffs)
	require.Len(t, diffs, 1)
	assert.Equal(t, d.ID, diffs[0].ID)
	assert.Equal(t, "main", diffs[0].Branch)

	env.store.listDiffsErr = errors.New("disk full")
	result, err = env.srv.handleListDiffs(context.Background(), callToolReq("forge_list_diffs", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "disk full")
}

func TestHandleGetDiff(t *testing.T) {
	env := newTestServer(t)
	d, changesets := seedDiff(t, env)

	result, err := env.srv.handleGetDiff(context.Background(), callToolReq("forge_get_diff", map[string]any{"diff": fmt.Sprint(d.ID)}))
	require.NoError(t, err)
	var out struct {
		Files []struct {
			Changeset  int64  `json:"changeset"`
			Path       string `json:"path"`
			ChangeType string `json:"change_type"`
			Added      int    `json:"added"`
			Removed    int    `json:"removed"`
		} `json:"files"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out.Files, 1)
	assert.Equal(t, changesets[0].ID, out.Files[0].Changeset)
	assert.Equal(t, "a.go", out.Files[0].Path)
	assert.Equal(t, "change", out.Files[0].ChangeType)
	assert.Equal(t, 1, out.Files[0].Added)
	assert.Equal(t, 1, out.Files[0].Removed)

	result, err = env.srv.handleGetDiff(context.Background(), callToolReq("forge_get_diff", map[string]any{"diff": "404"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRawFile(t *testing.T) {
	env := newTestServer(t)
	_, changesets := seedDiff(t, env)
	id := fmt.Sprint(changesets[0].ID)

	result, err := env.srv.handleRawFile(context.Background(), callToolReq("forge_raw_file", map[string]any{"changeset": id}))
	require.NoError(t, err)
	assert.Equal(t, "package a\nvar x = 2\n", resultText(t, result))

	result, err = env.srv.handleRawFile(context.Background(), callToolReq("forge_raw_file", map[string]any{"changeset": id, "side": "old"}))
	require.NoError(t, err)
	assert.Equal(t, "package a\nvar x = 1\n", resultText(t, result))

	result, err = env.srv.handleRawFile(context.Background(), callToolReq("forge_raw_file", map[string]any{"changeset": id, "side": "middle"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
