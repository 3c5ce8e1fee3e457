package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/phid"
)

const taskColumns = `t.id, t.phid, t.author_phid, t.owner_phid, t.status, t.priority, t.subpriority,
	t.title, t.original_title, t.description, t.original_email_source, t.mail_key,
	t.view_policy, t.edit_policy, t.attached, t.owner_ordering, t.date_created, t.date_modified`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var (
		owner, emailSource, ordering sql.NullString
		status, attached             string
		created, modified            int64
	)
	err := row.Scan(&t.ID, &t.PHID, &t.AuthorPHID, &owner, &status, &t.Priority, &t.Subpriority,
		&t.Title, &t.OriginalTitle, &t.Description, &emailSource, &t.MailKey,
		&t.ViewPolicy, &t.EditPolicy, &attached, &ordering, &created, &modified)
	if err != nil {
		return nil, err
	}
	t.OwnerPHID = owner.String
	t.OriginalEmailSource = emailSource.String
	t.OwnerOrdering = ordering.String
	t.Status = models.TaskStatus(status)
	t.DateCreated = fromEpoch(created)
	t.DateModified = fromEpoch(modified)
	if err := json.Unmarshal([]byte(attached), &t.Attached); err != nil {
		return nil, fmt.Errorf("decode attached for task %d: %w", t.ID, err)
	}
	if t.Attached == nil {
		t.Attached = map[string]map[string]any{}
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r reader) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	tasks, err := r.QueryTasks(ctx, TaskQuery{IDs: []int64{id}, NeedProjects: true, NeedSubscribers: true})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %w: T%d", ErrNotFound, id)
	}
	return tasks[0], nil
}

func (r reader) GetTaskByPHID(ctx context.Context, p string) (*models.Task, error) {
	tasks, err := r.QueryTasks(ctx, TaskQuery{PHIDs: []string{p}, NeedProjects: true, NeedSubscribers: true})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %w: %s", ErrNotFound, p)
	}
	return tasks[0], nil
}

// QueryTasks loads tasks matching q and attaches the requested relations.
func (r reader) QueryTasks(ctx context.Context, q TaskQuery) ([]*models.Task, error) {
	var (
		joins    []string
		joinArgs []any
		where    []string
		args     []any
	)

	if q.ProjectPHID != "" {
		joins = append(joins, "JOIN edges ep ON ep.src_phid = t.phid AND ep.edge_type = ? AND ep.dst_phid = ?")
		joinArgs = append(joinArgs, models.EdgeTaskHasProject, q.ProjectPHID)
	}
	if q.SubscriberPHID != "" {
		joins = append(joins, "JOIN edges es ON es.src_phid = t.phid AND es.edge_type = ? AND es.dst_phid = ?")
		joinArgs = append(joinArgs, models.EdgeTaskHasSubscriber, q.SubscriberPHID)
	}

	if len(q.IDs) > 0 {
		where = append(where, "t.id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if len(q.PHIDs) > 0 {
		where = append(where, "t.phid IN ("+placeholders(len(q.PHIDs))+")")
		for _, p := range q.PHIDs {
			args = append(args, p)
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "t.status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	if len(q.OwnerPHIDs) > 0 {
		where = append(where, "t.owner_phid IN ("+placeholders(len(q.OwnerPHIDs))+")")
		for _, p := range q.OwnerPHIDs {
			args = append(args, p)
		}
	}
	if q.Unowned {
		where = append(where, "t.owner_phid IS NULL")
	}
	if len(q.AuthorPHIDs) > 0 {
		where = append(where, "t.author_phid IN ("+placeholders(len(q.AuthorPHIDs))+")")
		for _, p := range q.AuthorPHIDs {
			args = append(args, p)
		}
	}
	args = append(joinArgs, args...)

	query := "SELECT " + taskColumns + " FROM tasks t"
	if len(joins) > 0 {
		query += " " + strings.Join(joins, " ")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	switch q.Order {
	case OrderCreated:
		query += " ORDER BY t.id DESC"
	case OrderUpdated:
		query += " ORDER BY t.date_modified DESC, t.id DESC"
	case OrderTitle:
		query += " ORDER BY t.title, t.id"
	default:
		// Exact reverse of models.SortTasksByPriority, so the most urgent
		// tier comes first.
		query += " ORDER BY t.priority DESC, t.subpriority ASC, t.id DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	for _, t := range tasks {
		if q.NeedProjects {
			projects, err := r.LoadDestinationPHIDs(ctx, t.PHID, models.EdgeTaskHasProject)
			if err != nil {
				return nil, err
			}
			t.AttachProjectPHIDs(projects)
		}
		if q.ProjectPHID != "" {
			t.AttachGroupByProjectPHID(q.ProjectPHID)
		}
		if q.NeedSubscribers {
			subs, err := r.LoadDestinationPHIDs(ctx, t.PHID, models.EdgeTaskHasSubscriber)
			if err != nil {
				return nil, err
			}
			t.AttachSubscriberPHIDs(subs)
		}
		if len(q.CustomFieldSpecs) > 0 {
			fields, err := r.LoadCustomFields(ctx, t.PHID, q.CustomFieldSpecs)
			if err != nil {
				return nil, err
			}
			t.AttachCustomFields(fields)
		}
	}
	return tasks, nil
}

// SaveTask inserts a new task or updates an existing one. New tasks get a
// PHID; every save makes sure the mail key exists.
func (t *sqliteTx) SaveTask(ctx context.Context, task *models.Task) error {
	if task.PHID == "" {
		task.PHID = task.GeneratePHID()
	}
	if err := task.EnsureMailKey(); err != nil {
		return err
	}
	if task.Attached == nil {
		task.Attached = map[string]map[string]any{}
	}
	attached, err := json.Marshal(task.Attached)
	if err != nil {
		return fmt.Errorf("encode attached: %w", err)
	}

	ts := now()
	task.DateModified = ts

	if task.ID == 0 {
		task.DateCreated = ts
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO tasks (phid, author_phid, owner_phid, status, priority, subpriority, title, original_title,
				description, original_email_source, mail_key, view_policy, edit_policy, attached, owner_ordering,
				date_created, date_modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.PHID, task.AuthorPHID, nullString(task.OwnerPHID), string(task.Status), task.Priority, task.Subpriority,
			task.Title, task.OriginalTitle, task.Description, nullString(task.OriginalEmailSource), task.MailKey,
			task.ViewPolicy, task.EditPolicy, string(attached), nullString(task.OwnerOrdering),
			epoch(task.DateCreated), epoch(task.DateModified),
		)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		task.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	}

	result, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET owner_phid=?, status=?, priority=?, subpriority=?, title=?, description=?,
			original_email_source=?, mail_key=?, view_policy=?, edit_policy=?, attached=?, owner_ordering=?, date_modified=?
		WHERE id=?`,
		nullString(task.OwnerPHID), string(task.Status), task.Priority, task.Subpriority, task.Title, task.Description,
		nullString(task.OriginalEmailSource), task.MailKey, task.ViewPolicy, task.EditPolicy, string(attached),
		nullString(task.OwnerOrdering), epoch(task.DateModified), task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %w: T%d", ErrNotFound, task.ID)
	}
	return nil
}

func (t *sqliteTx) DeleteTask(ctx context.Context, p string) error {
	result, err := t.tx.ExecContext(ctx, "DELETE FROM tasks WHERE phid = ?", p)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %w: %s", ErrNotFound, p)
	}
	return nil
}

// --- Edges ---

func (r reader) LoadDestinationPHIDs(ctx context.Context, src, edgeType string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT dst_phid FROM edges WHERE src_phid = ? AND edge_type = ? ORDER BY seq`, src, edgeType)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, dst)
	}
	return out, rows.Err()
}

// AddEdge writes an edge and, for edge types with an inverse, the reverse
// edge. Adding an existing edge is a no-op.
func (t *sqliteTx) AddEdge(ctx context.Context, src, edgeType, dst string) error {
	if err := t.insertEdge(ctx, src, edgeType, dst); err != nil {
		return err
	}
	if inv, ok := models.InverseEdge(edgeType); ok {
		return t.insertEdge(ctx, dst, inv, src)
	}
	return nil
}

func (t *sqliteTx) insertEdge(ctx context.Context, src, edgeType, dst string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO edges (src_phid, edge_type, dst_phid, seq, date_created)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM edges WHERE src_phid = ? AND edge_type = ?), ?)
		ON CONFLICT(src_phid, edge_type, dst_phid) DO NOTHING`,
		src, edgeType, dst, src, edgeType, epoch(now()),
	)
	if err != nil {
		return fmt.Errorf("add edge: %w", err)
	}
	return nil
}

func (t *sqliteTx) RemoveEdge(ctx context.Context, src, edgeType, dst string) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM edges WHERE src_phid = ? AND edge_type = ? AND dst_phid = ?`, src, edgeType, dst); err != nil {
		return fmt.Errorf("remove edge: %w", err)
	}
	if inv, ok := models.InverseEdge(edgeType); ok {
		if _, err := t.tx.ExecContext(ctx,
			`DELETE FROM edges WHERE src_phid = ? AND edge_type = ? AND dst_phid = ?`, dst, inv, src); err != nil {
			return fmt.Errorf("remove inverse edge: %w", err)
		}
	}
	return nil
}

// DeleteEdgesForObject removes every edge touching p in either direction.
func (t *sqliteTx) DeleteEdgesForObject(ctx context.Context, p string) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE src_phid = ? OR dst_phid = ?`, p, p)
	if err != nil {
		return 0, fmt.Errorf("delete edges: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// --- Transactions ---

func (r reader) ListTaskTransactions(ctx context.Context, objectPHID string) ([]*models.TaskTransaction, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, phid, author_phid, object_phid, transaction_type, meta_key, old_value, new_value, comment, date_created
		FROM task_transactions WHERE object_phid = ? ORDER BY id`, objectPHID)
	if err != nil {
		return nil, fmt.Errorf("list task transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.TaskTransaction
	for rows.Next() {
		x := &models.TaskTransaction{}
		var created int64
		if err := rows.Scan(&x.ID, &x.PHID, &x.AuthorPHID, &x.ObjectPHID, &x.TransactionType, &x.MetaKey,
			&x.OldValue, &x.NewValue, &x.Comment, &created); err != nil {
			return nil, fmt.Errorf("scan task transaction: %w", err)
		}
		x.DateCreated = fromEpoch(created)
		out = append(out, x)
	}
	return out, rows.Err()
}

func (t *sqliteTx) CreateTaskTransaction(ctx context.Context, x *models.TaskTransaction) error {
	if x.PHID == "" {
		x.PHID = phid.New(phid.TypeTransaction)
	}
	x.DateCreated = now()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO task_transactions (phid, author_phid, object_phid, transaction_type, meta_key, old_value, new_value, comment, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		x.PHID, x.AuthorPHID, x.ObjectPHID, x.TransactionType, x.MetaKey, x.OldValue, x.NewValue, x.Comment, epoch(x.DateCreated),
	)
	if err != nil {
		return fmt.Errorf("create task transaction: %w", err)
	}
	x.ID, _ = res.LastInsertId()
	return nil
}

func (t *sqliteTx) DeleteTaskTransaction(ctx context.Context, p string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM task_transactions WHERE phid = ?`, p)
	if err != nil {
		return fmt.Errorf("delete task transaction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("transaction %w: %s", ErrNotFound, p)
	}
	return nil
}

// --- Custom fields ---

func (r reader) LoadCustomFields(ctx context.Context, objectPHID string, specs []models.CustomFieldSpec) (*models.CustomFieldAttachment, error) {
	a := &models.CustomFieldAttachment{Specs: specs, Values: map[string]string{}}
	rows, err := r.q.QueryContext(ctx,
		`SELECT field_key, field_value FROM custom_field_storage WHERE object_phid = ?`, objectPHID)
	if err != nil {
		return nil, fmt.Errorf("load custom fields: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan custom field: %w", err)
		}
		if _, ok := a.Spec(k); ok {
			a.Values[k] = v
		}
	}
	return a, rows.Err()
}

func (t *sqliteTx) SetCustomFieldValue(ctx context.Context, objectPHID, key, value string) error {
	if value == "" {
		_, err := t.tx.ExecContext(ctx,
			`DELETE FROM custom_field_storage WHERE object_phid = ? AND field_key = ?`, objectPHID, key)
		if err != nil {
			return fmt.Errorf("clear custom field %s: %w", key, err)
		}
		return nil
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO custom_field_storage (object_phid, field_key, field_value) VALUES (?, ?, ?)
		ON CONFLICT(object_phid, field_key) DO UPDATE SET field_value = excluded.field_value`,
		objectPHID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set custom field %s: %w", key, err)
	}
	return nil
}

func (t *sqliteTx) DeleteCustomFieldValues(ctx context.Context, objectPHID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM custom_field_storage WHERE object_phid = ?`, objectPHID); err != nil {
		return fmt.Errorf("delete custom fields: %w", err)
	}
	return nil
}
