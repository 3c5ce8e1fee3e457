package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// taskInput is the body of task create and update requests. Absent fields
// are left unchanged.
type taskInput struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Status      *string           `json:"status"`
	Priority    *string           `json:"priority"`
	Subpriority *float64          `json:"subpriority"`
	Owner       *string           `json:"owner"`
	ViewPolicy  *string           `json:"view_policy"`
	EditPolicy  *string           `json:"edit_policy"`
	Subscribers *[]string         `json:"subscribers"`
	Projects    *[]string         `json:"projects"`
	Fields      map[string]string `json:"fields"`
	Comment     string            `json:"comment"`
}

// transactions converts the input into editor transactions. Owner and
// subscribers may be given as usernames or PHIDs; priority is a catalog
// keyword.
func (s *Server) transactions(ctx context.Context, in taskInput) ([]editor.Transaction, error) {
	var xs []editor.Transaction
	if in.Title != nil {
		xs = append(xs, editor.SetTitle(*in.Title))
	}
	if in.Description != nil {
		xs = append(xs, editor.SetDescription(*in.Description))
	}
	if in.Status != nil {
		xs = append(xs, editor.SetStatus(models.TaskStatus(*in.Status)))
	}
	if in.Priority != nil {
		p, ok := s.editor.Catalog().PriorityByKeyword(*in.Priority)
		if !ok {
			return nil, fmt.Errorf("%w: unknown priority %q", editor.ErrValidation, *in.Priority)
		}
		xs = append(xs, editor.SetPriority(p))
	}
	if in.Subpriority != nil {
		xs = append(xs, editor.SetSubpriority(*in.Subpriority))
	}
	if in.Owner != nil {
		owner, err := s.resolveUserPHID(ctx, *in.Owner)
		if err != nil {
			return nil, err
		}
		xs = append(xs, editor.SetOwner(owner))
	}
	if in.ViewPolicy != nil {
		xs = append(xs, editor.SetViewPolicy(*in.ViewPolicy))
	}
	if in.EditPolicy != nil {
		xs = append(xs, editor.SetEditPolicy(*in.EditPolicy))
	}
	if in.Subscribers != nil {
		subs := make([]string, 0, len(*in.Subscribers))
		for _, name := range *in.Subscribers {
			p, err := s.resolveUserPHID(ctx, name)
			if err != nil {
				return nil, err
			}
			subs = append(subs, p)
		}
		xs = append(xs, editor.SetSubscribers(subs))
	}
	if in.Projects != nil {
		xs = append(xs, editor.SetProjects(*in.Projects))
	}
	for key, value := range in.Fields {
		xs = append(xs, editor.SetCustomField(key, value))
	}
	if in.Comment != "" {
		xs = append(xs, editor.AddComment(in.Comment))
	}
	return xs, nil
}

// resolveUserPHID accepts a username or a user PHID. The empty string
// passes through and clears the value.
func (s *Server) resolveUserPHID(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	var (
		u   *models.User
		err error
	)
	if strings.HasPrefix(ref, "PHID-") {
		u, err = s.store.GetUser(ctx, ref)
	} else {
		u, err = s.store.GetUserByUsername(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown user %q", editor.ErrValidation, ref)
	}
	if err != nil {
		return "", err
	}
	return u.PHID, nil
}

func (s *Server) taskQuery() store.TaskQuery {
	return store.TaskQuery{
		NeedSubscribers:  true,
		NeedProjects:     true,
		CustomFieldSpecs: s.editor.CustomFieldSpecs(),
	}
}

// loadTask loads a task with its relations attached and checks that viewer
// can see it.
func (s *Server) loadTask(ctx context.Context, viewer *models.User, id int64) (*models.Task, error) {
	q := s.taskQuery()
	q.IDs = []int64{id}
	tasks, err := s.store.QueryTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %w: T%d", store.ErrNotFound, id)
	}
	if err := policy.Require(viewer, tasks[0], policy.CanView); err != nil {
		return nil, err
	}
	return tasks[0], nil
}

func (s *Server) summaries(tasks []*models.Task) []models.TaskSummary {
	out := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Summary(s.editor.Catalog()))
	}
	return out
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := s.taskQuery()
	params := r.URL.Query()
	for _, st := range strings.Split(params.Get("status"), ",") {
		if st = strings.TrimSpace(st); st != "" {
			q.Statuses = append(q.Statuses, models.TaskStatus(st))
		}
	}
	if owner := params.Get("owner"); owner != "" {
		p, err := s.resolveUserPHID(r.Context(), owner)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		q.OwnerPHIDs = []string{p}
	}
	q.ProjectPHID = params.Get("project")
	q.Order = params.Get("order")
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}

	tasks, err := s.store.QueryTasks(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	visible := policy.Filter(policy.Viewer(viewer), tasks, policy.CanView)
	writeJSON(w, http.StatusOK, s.summaries(visible))
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var in taskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	xs, err := s.transactions(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	task, _, err := s.editor.Create(r.Context(), viewer, s.app, xs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task.Summary(s.editor.Catalog()))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task.Summary(s.editor.Catalog()))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var in taskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	xs, err := s.transactions(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.editor.Apply(r.Context(), viewer, task, xs); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task.Summary(s.editor.Catalog()))
}

// destroyTask permanently removes a task. Only administrators may do this.
func (s *Server) destroyTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !viewer.IsAdministrator() {
		writeError(w, http.StatusForbidden, "only administrators can destroy tasks")
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	destroyed, err := s.destroyer.DestroyTask(r.Context(), task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destroyed": destroyed})
}

type transactionView struct {
	PHID        string `json:"phid"`
	AuthorPHID  string `json:"author_phid"`
	Type        string `json:"type"`
	MetaKey     string `json:"meta_key,omitempty"`
	OldValue    string `json:"old_value"`
	NewValue    string `json:"new_value"`
	Comment     string `json:"comment,omitempty"`
	DateCreated int64  `json:"date_created"`
}

func (s *Server) listTaskTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	xactions, err := s.store.ListTaskTransactions(r.Context(), task.PHID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]transactionView, 0, len(xactions))
	for _, x := range xactions {
		out = append(out, transactionView{
			PHID:        x.PHID,
			AuthorPHID:  x.AuthorPHID,
			Type:        x.TransactionType,
			MetaKey:     x.MetaKey,
			OldValue:    x.OldValue,
			NewValue:    x.NewValue,
			Comment:     x.Comment,
			DateCreated: x.DateCreated.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enrichTask(w http.ResponseWriter, r *http.Request) {
	if s.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := policy.Require(viewer, task, policy.CanEdit); err != nil {
		s.fail(w, r, err)
		return
	}

	catalog := s.editor.Catalog()
	enriched, err := s.enricher.EnrichTask(r.Context(), task.Title, task.Description, catalog.PriorityKeywords())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("LLM enrichment failed: %v", err))
		return
	}

	var xs []editor.Transaction
	if enriched.Description != "" {
		xs = append(xs, editor.SetDescription(enriched.Description))
	}
	if p, ok := catalog.PriorityByKeyword(enriched.Priority); ok {
		xs = append(xs, editor.SetPriority(p))
	} else if enriched.Priority != "" {
		s.logger.Warn("enrichment suggested unknown priority", zap.String("priority", enriched.Priority))
	}

	if _, err := s.editor.Apply(r.Context(), viewer, task, xs); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task.Summary(catalog))
}
