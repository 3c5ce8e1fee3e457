package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/forge/internal/differential"
	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// Server wraps the forge data layer and exposes it as MCP tools. Every tool
// acts as a single configured user.
type Server struct {
	store  store.Store
	editor *editor.Editor
	app    *policy.Application
	actor  *models.User
}

// NewServer creates the MCP server wrapper. actor may be nil, in which case
// tools see only public tasks and can't write.
func NewServer(s store.Store, ed *editor.Editor, app *policy.Application, actor *models.User) *Server {
	return &Server{
		store:  s,
		editor: ed,
		app:    app,
		actor:  actor,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("forge", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.getTaskTool())
	srv.AddTool(s.createTaskTool())
	srv.AddTool(s.updateTaskTool())
	srv.AddTool(s.listDiffsTool())
	srv.AddTool(s.getDiffTool())
	srv.AddTool(s.rawFileTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// forge_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_list_tasks",
		mcp.WithDescription("List tasks visible to the configured user, highest priority first. Returns a JSON array of tasks with monogram (T<id>), title, status, priority, owner and subscribers."),
		mcp.WithString("status", mcp.Description("Comma-separated statuses: open, resolved, wontfix, invalid, duplicate, spite")),
		mcp.WithString("owner", mcp.Description("Owner username")),
		mcp.WithString("limit", mcp.Description("Maximum number of tasks (default 100)")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := s.taskQuery()
	q.Order = store.OrderPriority
	q.Limit = 100

	for _, st := range strings.Split(request.GetString("status", ""), ",") {
		if st = strings.TrimSpace(st); st != "" {
			q.Statuses = append(q.Statuses, models.TaskStatus(st))
		}
	}
	if owner := request.GetString("owner", ""); owner != "" {
		u, err := s.store.GetUserByUsername(ctx, owner)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", owner)), nil
		}
		q.OwnerPHIDs = []string{u.PHID}
	}
	if limit := request.GetString("limit", ""); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid limit: %s", limit)), nil
		}
		q.Limit = n
	}

	tasks, err := s.store.QueryTasks(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	visible := policy.Filter(policy.Viewer(s.actor), tasks, policy.CanView)

	out := make([]models.TaskSummary, 0, len(visible))
	for _, t := range visible {
		out = append(out, t.Summary(s.editor.Catalog()))
	}
	return jsonResult(out, "tasks")
}

// forge_get_task
func (s *Server) getTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_get_task",
		mcp.WithDescription("Get one task with its full description and transaction history."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task ID or monogram, e.g. T12")),
	)
	return tool, s.handleGetTask
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task"), nil
	}
	task, err := s.findTask(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	xactions, err := s.store.ListTaskTransactions(ctx, task.PHID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load history: %v", err)), nil
	}

	type historyOut struct {
		Type     string `json:"type"`
		Author   string `json:"author_phid"`
		OldValue string `json:"old_value,omitempty"`
		NewValue string `json:"new_value,omitempty"`
		Comment  string `json:"comment,omitempty"`
		Date     string `json:"date"`
	}
	history := make([]historyOut, 0, len(xactions))
	for _, x := range xactions {
		history = append(history, historyOut{
			Type:     x.TransactionType,
			Author:   x.AuthorPHID,
			OldValue: x.OldValue,
			NewValue: x.NewValue,
			Comment:  x.Comment,
			Date:     x.DateCreated.Format(time.RFC3339),
		})
	}

	return jsonResult(map[string]any{
		"task":    task.Summary(s.editor.Catalog()),
		"history": history,
	}, "task")
}

// forge_create_task
func (s *Server) createTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_create_task",
		mcp.WithDescription("Create a task as the configured user. Returns the created task as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description (markdown)")),
		mcp.WithString("priority", mcp.Description("Priority keyword: unbreak, triage, high, normal, low, wish (default: triage)")),
		mcp.WithString("owner", mcp.Description("Owner username")),
	)
	return tool, s.handleCreateTask
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	xs := []editor.Transaction{editor.SetTitle(title)}
	if desc := request.GetString("description", ""); desc != "" {
		xs = append(xs, editor.SetDescription(desc))
	}
	more, errResult := s.commonTransactions(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	xs = append(xs, more...)

	task, _, err := s.editor.Create(ctx, s.actor, s.app, xs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	return jsonResult(task.Summary(s.editor.Catalog()), "task")
}

// forge_update_task
func (s *Server) updateTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_update_task",
		mcp.WithDescription("Update a task. Provide the task and at least one field to change. Returns the updated task as JSON."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task ID or monogram, e.g. T12")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status: open, resolved, wontfix, invalid, duplicate, spite")),
		mcp.WithString("priority", mcp.Description("New priority keyword")),
		mcp.WithString("owner", mcp.Description("New owner username")),
		mcp.WithString("comment", mcp.Description("Comment to add")),
	)
	return tool, s.handleUpdateTask
}

func (s *Server) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task"), nil
	}
	task, err := s.findTask(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var xs []editor.Transaction
	if title := request.GetString("title", ""); title != "" {
		xs = append(xs, editor.SetTitle(title))
	}
	if desc := request.GetString("description", ""); desc != "" {
		xs = append(xs, editor.SetDescription(desc))
	}
	if status := request.GetString("status", ""); status != "" {
		xs = append(xs, editor.SetStatus(models.TaskStatus(status)))
	}
	more, errResult := s.commonTransactions(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	xs = append(xs, more...)
	if comment := request.GetString("comment", ""); comment != "" {
		xs = append(xs, editor.AddComment(comment))
	}

	if len(xs) == 0 {
		return mcp.NewToolResultError("no fields provided to update; specify at least one of: title, description, status, priority, owner, comment"), nil
	}

	if _, err := s.editor.Apply(ctx, s.actor, task, xs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	return jsonResult(task.Summary(s.editor.Catalog()), "task")
}

// commonTransactions reads the priority and owner arguments shared by create
// and update.
func (s *Server) commonTransactions(ctx context.Context, request mcp.CallToolRequest) ([]editor.Transaction, *mcp.CallToolResult) {
	var xs []editor.Transaction
	if word := request.GetString("priority", ""); word != "" {
		p, ok := s.editor.Catalog().PriorityByKeyword(word)
		if !ok {
			return nil, mcp.NewToolResultError(fmt.Sprintf("unknown priority %q; use one of: %s",
				word, strings.Join(s.editor.Catalog().PriorityKeywords(), ", ")))
		}
		xs = append(xs, editor.SetPriority(p))
	}
	if owner := request.GetString("owner", ""); owner != "" {
		u, err := s.store.GetUserByUsername(ctx, owner)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("user not found: %s", owner))
		}
		xs = append(xs, editor.SetOwner(u.PHID))
	}
	return xs, nil
}

// ---------------------------------------------------------------------------
// Diffs
// ---------------------------------------------------------------------------

// forge_list_diffs
func (s *Server) listDiffsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_list_diffs",
		mcp.WithDescription("List recently imported diffs, newest first."),
		mcp.WithString("limit", mcp.Description("Maximum number of diffs (default 20)")),
	)
	return tool, s.handleListDiffs
}

func (s *Server) handleListDiffs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if v := request.GetString("limit", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid limit: %s", v)), nil
		}
		limit = n
	}
	diffs, err := s.store.ListDiffs(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list diffs: %v", err)), nil
	}

	type diffOut struct {
		ID          int64  `json:"id"`
		Branch      string `json:"branch,omitempty"`
		Description string `json:"description,omitempty"`
		Author      string `json:"author_phid"`
		CreatedAt   string `json:"created_at"`
	}
	out := make([]diffOut, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, diffOut{
			ID:          d.ID,
			Branch:      d.Branch,
			Description: d.Description,
			Author:      d.AuthorPHID,
			CreatedAt:   d.DateCreated.Format(time.RFC3339),
		})
	}
	return jsonResult(out, "diffs")
}

// forge_get_diff
func (s *Server) getDiffTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_get_diff",
		mcp.WithDescription("Get a diff's changed files: path, change type (add, change, delete, move here, ...) and line counts."),
		mcp.WithString("diff", mcp.Required(), mcp.Description("Diff ID")),
	)
	return tool, s.handleGetDiff
}

func (s *Server) handleGetDiff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("diff")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: diff"), nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid diff id: %s", ref)), nil
	}
	d, err := s.store.GetDiff(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diff not found: %s", ref)), nil
	}
	changesets, err := s.store.ListChangesets(ctx, d.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load changesets: %v", err)), nil
	}

	type fileOut struct {
		Changeset  int64  `json:"changeset"`
		Path       string `json:"path"`
		ChangeType string `json:"change_type"`
		Added      int    `json:"added"`
		Removed    int    `json:"removed"`
	}
	files := make([]fileOut, 0, len(changesets))
	for _, c := range changesets {
		files = append(files, fileOut{
			Changeset:  c.ID,
			Path:       c.DisplayFilename(),
			ChangeType: c.ChangeType.String(),
			Added:      c.AddLines,
			Removed:    c.DelLines,
		})
	}
	return jsonResult(map[string]any{
		"id":          d.ID,
		"branch":      d.Branch,
		"description": d.Description,
		"files":       files,
	}, "diff")
}

// forge_raw_file
func (s *Server) rawFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("forge_raw_file",
		mcp.WithDescription("Return the text of one side of a changed file, reconstructed from the diff hunks. Lines outside the hunks are not included."),
		mcp.WithString("changeset", mcp.Required(), mcp.Description("Changeset ID from forge_get_diff")),
		mcp.WithString("side", mcp.Description("old or new (default: new)")),
	)
	return tool, s.handleRawFile
}

func (s *Server) handleRawFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("changeset")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: changeset"), nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid changeset id: %s", ref)), nil
	}
	cs, err := s.store.GetChangeset(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("changeset not found: %s", ref)), nil
	}
	side := differential.Side(request.GetString("side", string(differential.SideRight)))
	text, err := differential.RawFile(cs, side)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) taskQuery() store.TaskQuery {
	return store.TaskQuery{
		NeedSubscribers:  true,
		NeedProjects:     true,
		CustomFieldSpecs: s.editor.CustomFieldSpecs(),
	}
}

// findTask resolves "T12" or "12" to a task the actor can see.
func (s *Server) findTask(ctx context.Context, ref string) (*models.Task, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(ref), "T"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid task: %s", ref)
	}
	q := s.taskQuery()
	q.IDs = []int64{id}
	tasks, err := s.store.QueryTasks(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %v", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task not found: %s", ref)
	}
	if err := policy.Require(s.actor, tasks[0], policy.CanView); err != nil {
		return nil, fmt.Errorf("task not found: %s", ref)
	}
	return tasks[0], nil
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
