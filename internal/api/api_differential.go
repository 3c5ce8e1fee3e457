package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/joescharf/forge/internal/differential"
	"github.com/joescharf/forge/internal/javelin"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/store"
	"github.com/joescharf/forge/internal/ui"
)

const (
	inlineCommentURI = "/differential/comment/inline/"
	// autoloadLimit is the largest diff whose files all load immediately.
	autoloadLimit = 100
	maxDiffBytes  = 16 << 20
)

type changesetView struct {
	ID         int64    `json:"id"`
	Filename   string   `json:"filename"`
	OldFile    string   `json:"old_file,omitempty"`
	AwayPaths  []string `json:"away_paths,omitempty"`
	ChangeType string   `json:"change_type"`
	AddLines   int      `json:"add_lines"`
	DelLines   int      `json:"del_lines"`
}

type diffView struct {
	*models.Diff
	Changesets []changesetView `json:"changesets"`
}

func changesetViews(changesets []*models.Changeset) []changesetView {
	out := make([]changesetView, 0, len(changesets))
	for _, c := range changesets {
		out = append(out, changesetView{
			ID:         c.ID,
			Filename:   c.Filename,
			OldFile:    c.OldFile,
			AwayPaths:  c.AwayPaths,
			ChangeType: c.ChangeType.String(),
			AddLines:   c.AddLines,
			DelLines:   c.DelLines,
		})
	}
	return out
}

func (s *Server) listDiffs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	diffs, err := s.store.ListDiffs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}

// importDiff stores the unified diff in the request body. The repository
// query parameter is a callsign.
func (s *Server) importDiff(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDiffBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	params := r.URL.Query()
	opts := differential.ImportOptions{
		SourceControlPath: params.Get("path"),
		Branch:            params.Get("branch"),
		BaseRevision:      params.Get("base"),
		Description:       params.Get("description"),
	}
	if callsign := params.Get("repository"); callsign != "" {
		repo, err := s.store.GetRepositoryByCallsign(r.Context(), callsign)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		opts.RepositoryPHID = repo.PHID
	}

	d, changesets, err := s.importer.Import(r.Context(), viewer, raw, opts)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// Parse failures are the client's problem.
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, diffView{Diff: d, Changesets: changesetViews(changesets)})
}

func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.store.GetDiff(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changesets, err := s.store.ListChangesets(r.Context(), d.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diffView{Diff: d, Changesets: changesetViews(changesets)})
}

// diffPage renders the changeset list for a diff. File bodies are fetched
// afterwards from the changeset endpoint.
func (s *Server) diffPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	ctx := r.Context()

	d, err := s.store.GetDiff(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	changesets, err := s.store.ListChangesets(ctx, d.ID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	view := differential.NewChangesetListView(changesets)
	view.Title = fmt.Sprintf("Diff %d", d.ID)
	view.Diff = d
	view.Branch = d.Branch
	view.Viewer = viewer
	view.Whitespace = differential.NormalizeWhitespaceMode(r.URL.Query().Get("whitespace"))
	view.StandaloneURI = differential.DefaultRenderURI
	view.LeftRawFileURI = differential.DefaultRenderURI + "?view=" + string(differential.SideLeft)
	view.RightRawFileURI = differential.DefaultRenderURI + "?view=" + string(differential.SideRight)
	view.AllowedEditorProtocols = s.cfg.AllowedEditorProtocols
	if s.cfg.InlineComments {
		view.InlineURI = inlineCommentURI
	}
	if len(changesets) <= autoloadLimit {
		for _, c := range changesets {
			view.Visible[c.ID] = true
		}
	}
	if d.RepositoryPHID != "" {
		repo, err := s.store.GetRepository(ctx, d.RepositoryPHID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		view.Repository = repo
	}

	page := javelin.NewPage()
	body := view.Render(page)
	s.writePage(w, r, view.Title, body, page)
}

// renderChangeset returns one changeset's body, or a raw side of the file
// when view is "old" or "new".
func (s *Server) renderChangeset(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	id, err := strconv.ParseInt(params.Get("ref"), 10, 64)
	if err != nil {
		http.Error(w, "invalid ref", http.StatusBadRequest)
		return
	}
	cs, err := s.store.GetChangeset(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	if side := params.Get("view"); side != "" {
		text, err := differential.RawFile(cs, differential.Side(side))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)
		return
	}

	comments, err := s.store.ListInlineComments(r.Context(), cs.ID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	renderer := &differential.ChangesetRenderer{
		Whitespace: differential.NormalizeWhitespaceMode(params.Get("whitespace")),
		Comments:   comments,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, string(renderer.Render(cs)))
}

type inlineCommentInput struct {
	ChangesetID int64  `json:"changeset_id"`
	IsNewFile   bool   `json:"is_new_file"`
	Line        int    `json:"line"`
	Length      int    `json:"length"`
	Text        string `json:"text"`
}

func (s *Server) createInlineComment(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.InlineComments {
		writeError(w, http.StatusNotFound, "inline comments are disabled")
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if viewer.ViewerPHID() == "" {
		writeError(w, http.StatusForbidden, "sign in to comment")
		return
	}

	var in inlineCommentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c := &models.InlineComment{
		ChangesetID: in.ChangesetID,
		AuthorPHID:  viewer.PHID,
		IsNewFile:   in.IsNewFile,
		LineNumber:  in.Line,
		LineLength:  in.Length,
		Content:     in.Text,
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetChangeset(r.Context(), c.ChangesetID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.CreateInlineComment(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteInlineComment(w http.ResponseWriter, r *http.Request) {
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
	if err := s.store.DeleteInlineComment(r.Context(), id, viewer.ViewerPHID()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskPage renders a task with its description markup.
func (s *Server) taskPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	viewer, err := s.viewer(r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	task, err := s.loadTask(r.Context(), viewer, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	description, err := s.markup.Render(r.Context(), task, models.MarkupFieldDescription)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summary := task.Summary(s.editor.Catalog())
	title := task.Monogram() + " " + task.Title
	body := javelin.Tag("div", javelin.Attrs{"class": "phui-object-box"},
		javelin.Tag("div", javelin.Attrs{"class": "phui-header-shell"},
			javelin.Tag("h1", javelin.Attrs{"class": "phui-header-view"}, title),
		),
		javelin.Tag("div", javelin.Attrs{"class": "phui-property-list"},
			javelin.Tag("span", javelin.Attrs{"class": "task-status"}, summary.StatusName),
			" ",
			javelin.Tag("span", javelin.Attrs{"class": "task-priority"}, summary.PriorityName),
		),
		javelin.Tag("div", javelin.Attrs{"class": "phabricator-remarkup"}, description),
	)
	s.writePage(w, r, title, body, javelin.NewPage())
}

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, title string, body template.HTML, page *javelin.Page) {
	out, err := ui.RenderPage(title, body, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(out)
}

func (s *Server) resources() http.Handler {
	h, err := ui.Handler()
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		})
	}
	return h
}
