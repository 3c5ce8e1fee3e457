package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/llm"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

const testDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-func old() {}
+func renamed() {}
 // end
diff --git a/added.txt b/added.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/added.txt
@@ -0,0 +1 @@
+hello
`

type fakeEnricher struct {
	result *llm.EnrichedTask
	err    error
	calls  int
}

func (f *fakeEnricher) EnrichTask(_ context.Context, _, _ string, _ []string) (*llm.EnrichedTask, error) {
	f.calls++
	return f.result, f.err
}

type testEnv struct {
	srv   *Server
	store *store.SQLiteStore
	alice *models.User // administrator
	bob   *models.User
}

func setupTestServer(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	alice := &models.User{Username: "alice", Admin: true}
	bob := &models.User{Username: "bob"}
	require.NoError(t, s.CreateUser(context.Background(), alice))
	require.NoError(t, s.CreateUser(context.Background(), bob))

	cfg := Config{AllowedEditorProtocols: []string{"txmt"}}
	for _, o := range opts {
		o(&cfg)
	}
	ed := editor.New(s, nil, nil, nil)
	app := policy.NewApplication("maniphest", map[policy.Capability]string{
		policy.DefaultViewCapability: policy.Users,
		policy.DefaultEditCapability: policy.Users,
	})
	srv := NewServer(s, ed, app, nil, cfg, nil)

	return &testEnv{srv: srv, store: s, alice: alice, bob: bob}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(ViewerHeader, user)
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) createTask(t *testing.T, user, body string) models.TaskSummary {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/tasks", user, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	return task
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", policy.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("task %w: T1", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: no title", editor.ErrValidation), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestListTasks_Empty(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var tasks []models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Empty(t, tasks)
}

func TestTaskCRUD_API(t *testing.T) {
	env := setupTestServer(t)

	// Create
	created := env.createTask(t, "bob", `{"title":"Fix login","description":"It **breaks**","priority":"high","owner":"alice"}`)
	assert.Equal(t, "T1", created.Monogram)
	assert.Equal(t, "Fix login", created.Title)
	assert.Equal(t, "Fix login", created.OriginalTitle)
	assert.Equal(t, 80, created.Priority)
	assert.Equal(t, "High", created.PriorityName)
	assert.Equal(t, env.alice.PHID, created.OwnerPHID)
	assert.Equal(t, env.bob.PHID, created.AuthorPHID)
	assert.False(t, created.Closed)

	// Get
	w := env.do(t, "GET", "/api/v1/tasks/T1", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)

	// Update
	w = env.do(t, "PATCH", "/api/v1/tasks/1", "bob", `{"title":"Fix login page","status":"resolved","comment":"done"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Fix login page", updated.Title)
	assert.Equal(t, "Fix login", updated.OriginalTitle)
	assert.True(t, updated.Closed)

	// Transactions
	w = env.do(t, "GET", "/api/v1/tasks/1/transactions", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var xactions []transactionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &xactions))
	types := make([]string, 0, len(xactions))
	for _, x := range xactions {
		types = append(types, x.Type)
	}
	assert.Contains(t, types, models.TransactionCreate)
	assert.Contains(t, types, models.TransactionTitle)
	assert.Contains(t, types, models.TransactionStatus)
	assert.Contains(t, types, models.TransactionComment)

	// List filtered by status
	w = env.do(t, "GET", "/api/v1/tasks?status=open", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var open []models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &open))
	assert.Empty(t, open)

	// Destroy: only administrators
	w = env.do(t, "DELETE", "/api/v1/tasks/1", "bob", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "DELETE", "/api/v1/tasks/1", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var destroyed map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &destroyed))
	assert.NotEmpty(t, destroyed["destroyed"])

	w = env.do(t, "GET", "/api/v1/tasks/1", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTask_Errors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"anonymous", "", `{"title":"x"}`, http.StatusForbidden},
		{"unknown user", "mallory", `{"title":"x"}`, http.StatusForbidden},
		{"invalid JSON", "bob", `{`, http.StatusBadRequest},
		{"no title", "bob", `{"description":"x"}`, http.StatusBadRequest},
		{"unknown priority", "bob", `{"title":"x","priority":"whenever"}`, http.StatusBadRequest},
		{"unknown owner", "bob", `{"title":"x","owner":"nobody"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/tasks", tt.user, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestTaskPolicy_API(t *testing.T) {
	env := setupTestServer(t)

	// Only alice may see or edit; bob owns it, so he still can.
	env.createTask(t, "alice", fmt.Sprintf(`{"title":"secret","view_policy":%q,"edit_policy":%q}`, env.alice.PHID, env.alice.PHID))
	env.createTask(t, "alice", fmt.Sprintf(`{"title":"owned","view_policy":%q,"edit_policy":%q,"owner":"bob"}`, env.alice.PHID, env.alice.PHID))
	env.createTask(t, "alice", `{"title":"public","view_policy":"public"}`)

	w := env.do(t, "GET", "/api/v1/tasks", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var visible []models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &visible))
	titles := make([]string, 0, len(visible))
	for _, v := range visible {
		titles = append(titles, v.Title)
	}
	assert.ElementsMatch(t, []string{"owned", "public"}, titles)

	w = env.do(t, "GET", "/api/v1/tasks", "", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &visible))
	require.Len(t, visible, 1)
	assert.Equal(t, "public", visible[0].Title)

	assert.Equal(t, http.StatusForbidden, env.do(t, "GET", "/api/v1/tasks/1", "bob", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, "PATCH", "/api/v1/tasks/2", "bob", `{"priority":"low"}`).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, "PATCH", "/api/v1/tasks/3", "", `{"priority":"low"}`).Code)
}

func TestGetTask_BadID(t *testing.T) {
	env := setupTestServer(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/tasks/abc", "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/tasks/99", "", "").Code)
}

func TestEnrichTask_API(t *testing.T) {
	env := setupTestServer(t)
	env.createTask(t, "bob", `{"title":"Add dark mode"}`)

	w := env.do(t, "POST", "/api/v1/tasks/1/enrich", "bob", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	fake := &fakeEnricher{result: &llm.EnrichedTask{Description: "Support a dark theme.", Priority: "low"}}
	env.srv.enricher = fake

	w = env.do(t, "POST", "/api/v1/tasks/1/enrich", "bob", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var task models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, "Support a dark theme.", task.Description)
	assert.Equal(t, 25, task.Priority)
	assert.Equal(t, 1, fake.calls)

	fake.err = errors.New("rate limited")
	w = env.do(t, "POST", "/api/v1/tasks/1/enrich", "bob", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "rate limited")
}

func TestUsers_API(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/v1/users", "bob", `{"username":"carol"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "POST", "/api/v1/users", "alice", `{"username":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/users", "alice", `{"username":"carol","real_name":"Carol"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/v1/users", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var users []models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 3)
}

func importTestDiff(t *testing.T, env *testEnv, query string) diffView {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/diffs"+query, "bob", testDiff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d diffView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	return d
}

func TestDiffs_API(t *testing.T) {
	env := setupTestServer(t)

	d := importTestDiff(t, env, "?branch=main&description=rename")
	require.Len(t, d.Changesets, 2)
	assert.Equal(t, "added.txt", d.Changesets[0].Filename)
	assert.Equal(t, "add", d.Changesets[0].ChangeType)
	assert.Equal(t, "main.go", d.Changesets[1].Filename)
	assert.Equal(t, 1, d.Changesets[1].AddLines)
	assert.Equal(t, 1, d.Changesets[1].DelLines)

	w := env.do(t, "GET", fmt.Sprintf("/api/v1/diffs/%d", d.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/diffs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var diffs []models.Diff
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diffs))
	assert.Len(t, diffs, 1)

	assert.Equal(t, http.StatusForbidden, env.do(t, "POST", "/api/v1/diffs", "", testDiff).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/v1/diffs", "bob", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/v1/diffs?repository=NOPE", "bob", testDiff).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/diffs/42", "", "").Code)
}

func TestDiffPage(t *testing.T) {
	env := setupTestServer(t, func(c *Config) { c.InlineComments = true })
	repo := &models.Repository{Callsign: "FRG", Name: "forge", VCS: models.VCSGit, Tracked: true, DefaultBranch: "main"}
	require.NoError(t, env.store.CreateRepository(context.Background(), repo))
	d := importTestDiff(t, env, "?repository=FRG&branch=main")

	w := env.do(t, "GET", fmt.Sprintf("/differential/diff/%d/", d.ID), "bob", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	html := w.Body.String()
	assert.Contains(t, html, `id="differential-review-stage"`)
	assert.Equal(t, 2, strings.Count(html, `data-sigil="differential-changeset"`))
	assert.Contains(t, html, "Loading...")
	assert.Contains(t, html, `href="/res/differential-changeset-view.css"`)
	assert.Contains(t, html, "differential-edit-inline-comments")
	assert.Contains(t, html, "diffusionURI")
	assert.NotContains(t, html, "differential-changeset-noneditable")

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/differential/diff/99/", "", "").Code)
}

func TestDiffPage_NoInlineComments(t *testing.T) {
	env := setupTestServer(t)
	d := importTestDiff(t, env, "")

	w := env.do(t, "GET", fmt.Sprintf("/differential/diff/%d/", d.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, "differential-changeset-noneditable")
	assert.NotContains(t, html, "differential-edit-inline-comments")
	assert.NotContains(t, html, "diffusionURI")
}

func TestRenderChangeset(t *testing.T) {
	env := setupTestServer(t, func(c *Config) { c.InlineComments = true })
	d := importTestDiff(t, env, "")
	mainID := d.Changesets[1].ID
	addedID := d.Changesets[0].ID

	body := fmt.Sprintf(`{"changeset_id":%d,"is_new_file":true,"line":2,"text":"nice <b>name</b>"}`, mainID)
	w := env.do(t, "POST", inlineCommentURI, "bob", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "GET", fmt.Sprintf("/differential/changeset/?ref=%d&whitespace=show-all", mainID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "differential-diff")
	assert.Contains(t, w.Body.String(), "nice &lt;b&gt;name&lt;/b&gt;")

	w = env.do(t, "GET", fmt.Sprintf("/differential/changeset/?ref=%d&view=new", mainID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "package main\nfunc renamed() {}\n// end\n", w.Body.String())

	w = env.do(t, "GET", fmt.Sprintf("/differential/changeset/?ref=%d&view=old", addedID), "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/differential/changeset/?ref=x", "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/differential/changeset/?ref=999", "", "").Code)
}

func TestInlineComments(t *testing.T) {
	env := setupTestServer(t, func(c *Config) { c.InlineComments = true })
	d := importTestDiff(t, env, "")
	id := d.Changesets[1].ID

	body := fmt.Sprintf(`{"changeset_id":%d,"line":1,"text":"hmm"}`, id)
	assert.Equal(t, http.StatusForbidden, env.do(t, "POST", inlineCommentURI, "", body).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", inlineCommentURI, "bob",
		fmt.Sprintf(`{"changeset_id":%d,"line":0,"text":"hmm"}`, id)).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", inlineCommentURI, "bob",
		`{"changeset_id":999,"line":1,"text":"hmm"}`).Code)

	w := env.do(t, "POST", inlineCommentURI, "bob", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var c models.InlineComment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))

	path := fmt.Sprintf("%s%d", inlineCommentURI, c.ID)
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", path, "alice", "").Code, "only the author may delete")
	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", path, "bob", "").Code)
}

func TestInlineComments_Disabled(t *testing.T) {
	env := setupTestServer(t)
	w := env.do(t, "POST", inlineCommentURI, "bob", `{"changeset_id":1,"line":1,"text":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskPage(t *testing.T) {
	env := setupTestServer(t)
	env.createTask(t, "bob", `{"title":"Render <me>","description":"Some **bold** text<script>alert(1)</script>"}`)

	w := env.do(t, "GET", "/task/T1", "bob", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	html := w.Body.String()
	assert.Contains(t, html, "T1 Render &lt;me&gt;")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.NotContains(t, html, "<script>alert")

	key := models.MarkupFieldDescription
	cached, ok, err := env.store.GetMarkupCache(context.Background(), mustTask(t, env).MarkupFieldKey(key))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, cached, "<strong>bold</strong>")

	assert.Equal(t, http.StatusForbidden, env.do(t, "GET", "/task/1", "", "").Code)
}

func mustTask(t *testing.T, env *testEnv) *models.Task {
	t.Helper()
	task, err := env.store.GetTask(context.Background(), 1)
	require.NoError(t, err)
	return task
}

func TestResources(t *testing.T) {
	env := setupTestServer(t)
	w := env.do(t, "GET", "/res/aphront-tooltip.css", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/res/nope.js", "", "").Code)
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t)
	w := env.do(t, "OPTIONS", "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ViewerHeader)
}

func TestListTasks_ProjectGroupingAndOwnerSubscription(t *testing.T) {
	env := setupTestServer(t)
	env.createTask(t, "alice", `{"title":"web task","owner":"bob","projects":["PHID-PROJ-web"]}`)
	env.createTask(t, "alice", `{"title":"other task"}`)

	w := env.do(t, "GET", "/api/v1/tasks?project=PHID-PROJ-web", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tasks []models.TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "web task", tasks[0].Title)
	assert.Equal(t, "PHID-PROJ-web", tasks[0].GroupByProject)
	assert.Equal(t, []string{env.bob.PHID}, tasks[0].AutoSubscribers)

	w = env.do(t, "GET", "/api/v1/tasks", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	tasks = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Empty(t, task.GroupByProject)
	}
}
