package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/joescharf/forge/internal/destruction"
	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/output"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

var (
	taskTitle      string
	taskDesc       string
	taskStatus     string
	taskPriority   string
	taskOwner      string
	taskComment    string
	taskViewPolicy string
	taskEditPolicy string
	taskSubscribe  []string
	taskProjects   []string
	taskProject    string
	taskDependsOn  []string
	taskFields     []string
	taskOrder      string
	taskLimit      int
	taskOpen       bool
	taskJSON       bool
	taskCloseAs    string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long:  "Create, edit and query tasks. Every change is recorded as a transaction.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun()
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks you can see",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show a task and its history",
	Long:  "Show a task. <task> is a monogram like T12 or a bare ID.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskShowRun(args[0])
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task>",
	Short: "Edit a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskUpdateRun(args[0])
	},
}

var taskCloseCmd = &cobra.Command{
	Use:   "close <task>",
	Short: "Close a task",
	Long:  "Close a task with a closed status (default: resolved).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskCloseRun(args[0])
	},
}

var taskDestroyCmd = &cobra.Command{
	Use:   "destroy <task>",
	Short: "Permanently destroy a task and everything attached to it",
	Long: `Permanently destroy a task with its transactions, edges and custom field
values. Only administrators can destroy tasks. This cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskDestroyRun(args[0])
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description (markdown)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Priority keyword (default from config)")
	taskAddCmd.Flags().StringVar(&taskOwner, "owner", "", "Owner username")
	taskAddCmd.Flags().StringVar(&taskViewPolicy, "view-policy", "", "View policy (default from config)")
	taskAddCmd.Flags().StringVar(&taskEditPolicy, "edit-policy", "", "Edit policy (default from config)")
	taskAddCmd.Flags().StringSliceVar(&taskSubscribe, "subscribe", nil, "Subscriber usernames")
	taskAddCmd.Flags().StringSliceVar(&taskProjects, "project", nil, "Project PHIDs")
	taskAddCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "Tasks this task depends on (T12,T13)")
	taskAddCmd.Flags().StringArrayVar(&taskFields, "field", nil, "Custom field value as key=value (repeatable)")
	_ = taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (comma-separated)")
	taskListCmd.Flags().StringVar(&taskOwner, "owner", "", "Filter by owner username")
	taskListCmd.Flags().StringVar(&taskProject, "project", "", "Only show tasks in this project PHID")
	taskListCmd.Flags().BoolVar(&taskOpen, "open", false, "Only show tasks with an open status")
	taskListCmd.Flags().StringVar(&taskOrder, "order", store.OrderPriority, "Order: priority, created, updated, title")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 100, "Maximum number of tasks")
	taskListCmd.Flags().BoolVar(&taskJSON, "json", false, "Print JSON instead of a table")

	taskShowCmd.Flags().BoolVar(&taskJSON, "json", false, "Print JSON")

	taskUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "New title")
	taskUpdateCmd.Flags().StringVar(&taskDesc, "desc", "", "New description")
	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskUpdateCmd.Flags().StringVar(&taskPriority, "priority", "", "New priority keyword")
	taskUpdateCmd.Flags().StringVar(&taskOwner, "owner", "", "New owner username, or \"none\" to unassign")
	taskUpdateCmd.Flags().StringVar(&taskViewPolicy, "view-policy", "", "New view policy")
	taskUpdateCmd.Flags().StringVar(&taskEditPolicy, "edit-policy", "", "New edit policy")
	taskUpdateCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "Replace the tasks this task depends on (T12,T13, or \"none\")")
	taskUpdateCmd.Flags().StringArrayVar(&taskFields, "field", nil, "Custom field value as key=value (repeatable)")
	taskUpdateCmd.Flags().StringVar(&taskComment, "comment", "", "Comment to add")

	taskCloseCmd.Flags().StringVar(&taskCloseAs, "status", string(models.TaskStatusResolved), "Closed status")
	taskCloseCmd.Flags().StringVar(&taskComment, "comment", "", "Comment to add")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskCloseCmd)
	taskCmd.AddCommand(taskDestroyCmd)
	rootCmd.AddCommand(taskCmd)
}

// taskSession bundles what every task command needs.
type taskSession struct {
	store  store.Store
	editor *editor.Editor
	actor  *models.User
}

func openTaskSession() (*taskSession, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	ed, err := newEditor(s)
	if err != nil {
		return nil, err
	}
	actor, err := currentUser(s)
	if err != nil {
		return nil, err
	}
	return &taskSession{store: s, editor: ed, actor: actor}, nil
}

func (ts *taskSession) query() store.TaskQuery {
	return store.TaskQuery{
		NeedSubscribers:  true,
		NeedProjects:     true,
		CustomFieldSpecs: ts.editor.CustomFieldSpecs(),
	}
}

// find resolves a task reference the actor can see.
func (ts *taskSession) find(ctx context.Context, ref string) (*models.Task, error) {
	return ts.findAs(ctx, ref, ts.actor)
}

func (ts *taskSession) findAs(ctx context.Context, ref string, viewer policy.Viewer) (*models.Task, error) {
	id, err := parseTaskRef(ref)
	if err != nil {
		return nil, err
	}
	q := ts.query()
	q.IDs = []int64{id}
	tasks, err := ts.store.QueryTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 || policy.Require(viewer, tasks[0], policy.CanView) != nil {
		return nil, fmt.Errorf("task not found: %s", ref)
	}
	return tasks[0], nil
}

// dependencyPHIDs resolves --depends-on references; "none" clears the set.
func (ts *taskSession) dependencyPHIDs(ctx context.Context, refs []string) ([]string, error) {
	if len(refs) == 1 && refs[0] == "none" {
		return []string{}, nil
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		dep, err := ts.find(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, dep.PHID)
	}
	return out, nil
}

// monograms maps task PHIDs to monograms in ID order, skipping tasks the
// actor can't see.
func (ts *taskSession) monograms(ctx context.Context, phids []string) []string {
	var visible []*models.Task
	for _, p := range phids {
		t, err := ts.store.GetTaskByPHID(ctx, p)
		if err != nil || policy.Require(ts.actor, t, policy.CanView) != nil {
			continue
		}
		visible = append(visible, t)
	}
	slices.SortFunc(visible, func(a, b *models.Task) int { return cmp.Compare(a.ID, b.ID) })
	var out []string
	for _, t := range visible {
		out = append(out, t.Monogram())
	}
	return out
}

// userPHID resolves a username to a PHID.
func (ts *taskSession) userPHID(ctx context.Context, username string) (string, error) {
	u, err := ts.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("unknown user: %s", username)
	}
	if err != nil {
		return "", err
	}
	return u.PHID, nil
}

// userName maps a PHID back to a username for display.
func (ts *taskSession) userName(ctx context.Context, phid string) string {
	if phid == "" {
		return ""
	}
	u, err := ts.store.GetUser(ctx, phid)
	if err != nil {
		return phid
	}
	return u.Username
}

// parseTaskRef accepts "T12" or "12".
func parseTaskRef(ref string) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(ref), "T")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task reference: %q (expected T123 or 123)", ref)
	}
	return id, nil
}

// parseFieldFlags turns key=value flags into custom field transactions.
func parseFieldFlags(values []string) ([]editor.Transaction, error) {
	var xs []editor.Transaction
	for _, kv := range values {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q (expected key=value)", kv)
		}
		xs = append(xs, editor.SetCustomField(key, value))
	}
	return xs, nil
}

func taskAddRun() error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	xs := []editor.Transaction{editor.SetTitle(taskTitle)}
	if taskDesc != "" {
		xs = append(xs, editor.SetDescription(taskDesc))
	}
	if taskPriority != "" {
		p, ok := catalog.PriorityByKeyword(taskPriority)
		if !ok {
			return fmt.Errorf("unknown priority %q (one of %s)", taskPriority, strings.Join(catalog.PriorityKeywords(), ", "))
		}
		xs = append(xs, editor.SetPriority(p))
	}
	if taskOwner != "" {
		owner, err := ts.userPHID(ctx, taskOwner)
		if err != nil {
			return err
		}
		xs = append(xs, editor.SetOwner(owner))
	}
	if taskViewPolicy != "" {
		xs = append(xs, editor.SetViewPolicy(taskViewPolicy))
	}
	if taskEditPolicy != "" {
		xs = append(xs, editor.SetEditPolicy(taskEditPolicy))
	}
	if len(taskSubscribe) > 0 {
		subs := make([]string, 0, len(taskSubscribe))
		for _, name := range taskSubscribe {
			p, err := ts.userPHID(ctx, name)
			if err != nil {
				return err
			}
			subs = append(subs, p)
		}
		xs = append(xs, editor.SetSubscribers(subs))
	}
	if len(taskProjects) > 0 {
		xs = append(xs, editor.SetProjects(taskProjects))
	}
	if len(taskDependsOn) > 0 {
		deps, err := ts.dependencyPHIDs(ctx, taskDependsOn)
		if err != nil {
			return err
		}
		xs = append(xs, editor.SetDependsOn(deps))
	}
	fieldXs, err := parseFieldFlags(taskFields)
	if err != nil {
		return err
	}
	xs = append(xs, fieldXs...)

	if dryRun {
		ui.DryRunMsg("Would create task %q as %s", taskTitle, ts.actor.Username)
		return nil
	}

	task, _, err := ts.editor.Create(ctx, ts.actor, taskApplication(), xs)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	ui.Success("Created %s: %s", output.Cyan(task.Monogram()), task.Title)
	return nil
}

func taskListRun() error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	q := ts.query()
	q.Order = taskOrder
	q.Limit = taskLimit
	if taskStatus != "" {
		for _, st := range strings.Split(taskStatus, ",") {
			q.Statuses = append(q.Statuses, models.TaskStatus(strings.TrimSpace(st)))
		}
	}
	if taskOpen && len(q.Statuses) == 0 {
		for _, spec := range catalog.Statuses {
			if !spec.Closed {
				q.Statuses = append(q.Statuses, spec.Key)
			}
		}
	}
	if taskOwner != "" {
		owner, err := ts.userPHID(ctx, taskOwner)
		if err != nil {
			return err
		}
		q.OwnerPHIDs = []string{owner}
	}
	q.ProjectPHID = taskProject

	tasks, err := ts.store.QueryTasks(ctx, q)
	if err != nil {
		return err
	}
	tasks = policy.Filter(policy.Viewer(ts.actor), tasks, policy.CanView)

	if taskJSON {
		summaries := make([]models.TaskSummary, 0, len(tasks))
		for _, t := range tasks {
			summaries = append(summaries, t.Summary(catalog))
		}
		return printJSON(summaries)
	}

	if len(tasks) == 0 {
		ui.Info("No tasks found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Owner"})
	for _, t := range tasks {
		_ = table.Append([]string{
			t.Monogram(),
			t.Title,
			statusLabel(catalog, t),
			priorityLabel(catalog, t.Priority),
			ts.userName(ctx, t.OwnerPHID),
		})
	}
	_ = table.Render()
	return nil
}

func statusLabel(catalog *models.TaskCatalog, t *models.Task) string {
	name := string(t.Status)
	if spec, ok := catalog.Status(t.Status); ok {
		name = spec.Name
	}
	return output.StatusColor(name, t.IsClosed(catalog))
}

func priorityLabel(catalog *models.TaskCatalog, value int) string {
	spec, ok := catalog.Priority(value)
	if !ok {
		return catalog.PriorityName(value)
	}
	return output.PriorityColor(spec.Name, spec.Color)
}

func printJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func taskShowRun(ref string) error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	task, err := ts.find(ctx, ref)
	if err != nil {
		return err
	}
	history, err := ts.store.ListTaskTransactions(ctx, task.PHID)
	if err != nil {
		return err
	}
	dependsOn, err := task.LoadDependsOnTaskPHIDs(ctx, ts.store)
	if err != nil {
		return err
	}
	blocks, err := task.LoadDependedOnByTaskPHIDs(ctx, ts.store)
	if err != nil {
		return err
	}
	dependsOn, blocks = ts.monograms(ctx, dependsOn), ts.monograms(ctx, blocks)

	if taskJSON {
		return printJSON(map[string]any{
			"task":       task.Summary(catalog),
			"depends_on": dependsOn,
			"blocks":     blocks,
			"history":    history,
		})
	}

	summary := task.Summary(catalog)
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(task.Monogram()), task.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", statusLabel(catalog, task))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", priorityLabel(catalog, task.Priority))
	fmt.Fprintf(ui.Out, "  Author:     %s\n", ts.userName(ctx, task.AuthorPHID))
	if task.OwnerPHID != "" {
		fmt.Fprintf(ui.Out, "  Owner:      %s\n", ts.userName(ctx, task.OwnerPHID))
	}
	fmt.Fprintf(ui.Out, "  Policies:   view %s, edit %s\n", task.ViewPolicy, task.EditPolicy)
	if len(summary.Subscribers)+len(summary.AutoSubscribers) > 0 {
		names := make([]string, 0, len(summary.Subscribers)+len(summary.AutoSubscribers))
		for _, p := range summary.Subscribers {
			names = append(names, ts.userName(ctx, p))
		}
		for _, p := range summary.AutoSubscribers {
			names = append(names, ts.userName(ctx, p)+" (owner)")
		}
		fmt.Fprintf(ui.Out, "  Subscribers: %s\n", strings.Join(names, ", "))
	}
	if len(summary.Projects) > 0 {
		fmt.Fprintf(ui.Out, "  Projects:   %s\n", strings.Join(summary.Projects, ", "))
	}
	if len(dependsOn) > 0 {
		fmt.Fprintf(ui.Out, "  Depends on: %s\n", strings.Join(dependsOn, ", "))
	}
	if len(blocks) > 0 {
		fmt.Fprintf(ui.Out, "  Blocks:     %s\n", strings.Join(blocks, ", "))
	}
	for typ, phids := range summary.Attached {
		fmt.Fprintf(ui.Out, "  Attached %s: %s\n", typ, strings.Join(phids, ", "))
	}
	for key, value := range summary.Fields {
		fmt.Fprintf(ui.Out, "  %-11s %s\n", key+":", value)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", task.DateCreated.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Modified:   %s\n", task.DateModified.Format(time.RFC3339))

	if strings.TrimSpace(task.Description) != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, renderMarkdown(task.Description))
	}

	if len(history) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "History:")
		for _, x := range history {
			line := fmt.Sprintf("  %s  %-10s %s", x.DateCreated.Format("2006-01-02 15:04"), ts.userName(ctx, x.AuthorPHID), x.TransactionType)
			if x.MetaKey != "" {
				line += " " + x.MetaKey
			}
			if x.Comment != "" {
				line += ": " + x.Comment
			}
			fmt.Fprintln(ui.Out, line)
		}
	}
	return nil
}

// renderMarkdown renders text for the terminal, falling back to the raw text.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func taskUpdateRun(ref string) error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	task, err := ts.find(ctx, ref)
	if err != nil {
		return err
	}

	var xs []editor.Transaction
	if taskTitle != "" {
		xs = append(xs, editor.SetTitle(taskTitle))
	}
	if taskDesc != "" {
		xs = append(xs, editor.SetDescription(taskDesc))
	}
	if taskStatus != "" {
		xs = append(xs, editor.SetStatus(models.TaskStatus(taskStatus)))
	}
	if taskPriority != "" {
		p, ok := catalog.PriorityByKeyword(taskPriority)
		if !ok {
			return fmt.Errorf("unknown priority %q (one of %s)", taskPriority, strings.Join(catalog.PriorityKeywords(), ", "))
		}
		xs = append(xs, editor.SetPriority(p))
	}
	switch taskOwner {
	case "":
	case "none":
		xs = append(xs, editor.SetOwner(""))
	default:
		owner, err := ts.userPHID(ctx, taskOwner)
		if err != nil {
			return err
		}
		xs = append(xs, editor.SetOwner(owner))
	}
	if taskViewPolicy != "" {
		xs = append(xs, editor.SetViewPolicy(taskViewPolicy))
	}
	if taskEditPolicy != "" {
		xs = append(xs, editor.SetEditPolicy(taskEditPolicy))
	}
	if len(taskDependsOn) > 0 {
		deps, err := ts.dependencyPHIDs(ctx, taskDependsOn)
		if err != nil {
			return err
		}
		xs = append(xs, editor.SetDependsOn(deps))
	}
	fieldXs, err := parseFieldFlags(taskFields)
	if err != nil {
		return err
	}
	xs = append(xs, fieldXs...)
	if taskComment != "" {
		xs = append(xs, editor.AddComment(taskComment))
	}

	if len(xs) == 0 {
		return fmt.Errorf("no updates specified (use --title, --desc, --status, --priority, --owner, --depends-on, --field or --comment)")
	}

	if dryRun {
		ui.DryRunMsg("Would apply %d change(s) to %s", len(xs), task.Monogram())
		return nil
	}

	applied, err := ts.editor.Apply(ctx, ts.actor, task, xs)
	if err != nil {
		return fmt.Errorf("update %s: %w", task.Monogram(), err)
	}
	if len(applied) == 0 {
		ui.Info("%s unchanged", task.Monogram())
		return nil
	}
	ui.Success("Updated %s (%d change(s))", output.Cyan(task.Monogram()), len(applied))
	return nil
}

func taskCloseRun(ref string) error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	status := models.TaskStatus(taskCloseAs)
	if !catalog.IsClosedStatus(status) {
		return fmt.Errorf("%q is not a closed status", taskCloseAs)
	}

	task, err := ts.find(ctx, ref)
	if err != nil {
		return err
	}
	if task.IsClosed(catalog) {
		ui.Info("%s is already closed", task.Monogram())
		return nil
	}

	xs := []editor.Transaction{editor.SetStatus(status)}
	if taskComment != "" {
		xs = append(xs, editor.AddComment(taskComment))
	}

	if dryRun {
		ui.DryRunMsg("Would close %s as %s", task.Monogram(), status)
		return nil
	}

	if _, err := ts.editor.Apply(ctx, ts.actor, task, xs); err != nil {
		return fmt.Errorf("close %s: %w", task.Monogram(), err)
	}
	ui.Success("Closed %s: %s", output.Cyan(task.Monogram()), task.Title)
	return nil
}

func taskDestroyRun(ref string) error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if !ts.actor.IsAdministrator() {
		return fmt.Errorf("only administrators can destroy tasks")
	}
	// Administrators can destroy tasks whose view policy excludes them.
	task, err := ts.findAs(ctx, ref, policy.Omnipotent())
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would destroy %s: %s", task.Monogram(), task.Title)
		return nil
	}

	engine := destruction.NewEngine(ts.store, logger, destruction.DefaultExtensions()...)
	destroyed, err := engine.DestroyTask(ctx, task)
	if err != nil {
		return fmt.Errorf("destroy %s: %w", task.Monogram(), err)
	}
	ui.Success("Destroyed %s (%d object(s))", output.Cyan(task.Monogram()), len(destroyed))
	for _, p := range destroyed {
		ui.VerboseLog("%s", p)
	}
	return nil
}

// readInput reads a file argument, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
