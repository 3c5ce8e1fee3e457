// Package differential renders code review diffs: the per-file changeset
// list, the deferred changeset bodies and raw file views, and the import of
// unified diffs into changesets.
package differential

import (
	"html/template"
	"net/url"
	"strconv"
	"strings"

	"github.com/joescharf/forge/internal/javelin"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
)

// ErrDiffusionSetup is returned when a repository browse link can't be
// built. The list view swallows it and omits the link.
var ErrDiffusionSetup = models.ErrDiffusionSetup

// DefaultRenderURI is where clients fetch rendered changeset bodies.
const DefaultRenderURI = "/differential/changeset/"

// EditorConfigureURI is offered when a viewer has no editor pattern.
const EditorConfigureURI = "/settings/panel/display/"

// ReviewStageID is the DOM id of the element that holds every changeset.
const ReviewStageID = "differential-review-stage"

// ChangesetListView renders a list of changesets as collapsible files with
// a "View Options" dropdown each. Maps are keyed by changeset ID.
type ChangesetListView struct {
	Changesets []*models.Changeset
	// Visible changesets load immediately; others show a "Load File" link.
	Visible map[int64]bool
	// References are the tokens sent to RenderURI. A missing entry falls
	// back to the changeset's own rendering reference.
	References    map[int64]string
	SymbolIndexes map[int64]any
	// VsMap maps a changeset to the changeset it's compared against.
	VsMap map[int64]int64

	Whitespace      string
	RenderURI       string
	StandaloneURI   string
	LeftRawFileURI  string
	RightRawFileURI string
	// InlineURI enables inline comment editing when set.
	InlineURI string

	Repository *models.Repository
	Branch     string
	Diff       *models.Diff
	Viewer     *models.User
	Title      string

	AllowedEditorProtocols []string
}

// NewChangesetListView returns a view with the default render URI.
func NewChangesetListView(changesets []*models.Changeset) *ChangesetListView {
	return &ChangesetListView{
		Changesets:    changesets,
		Visible:       map[int64]bool{},
		References:    map[int64]string{},
		SymbolIndexes: map[int64]any{},
		VsMap:         map[int64]int64{},
		RenderURI:     DefaultRenderURI,
	}
}

// dropdownLabels are the strings the dropdown menu behavior displays.
var dropdownLabels = map[string]string{
	"Open in Editor":             "Open in Editor",
	"Show Entire File":           "Show Entire File",
	"Entire File Shown":          "Entire File Shown",
	"Can't Toggle Unloaded File": "Can't Toggle Unloaded File",
	"Expand File":                "Expand File",
	"Collapse File":              "Collapse File",
	"Browse in Diffusion":        "Browse in Diffusion",
	"View Standalone":            "View Standalone",
	"Show Raw File (Left)":       "Show Raw File (Left)",
	"Show Raw File (Right)":      "Show Raw File (Right)",
	"Configure Editor":           "Configure Editor",
	"Load Changes":               "Load Changes",
	"View Side-by-Side":          "View Side-by-Side",
	"View Unified":               "View Unified (Barely Works!)",
	"Change Text Encoding...":    "Change Text Encoding...",
	"Highlight As...":            "Highlight As...",
}

// Render registers the view's behaviors and resources on page and returns
// the object box holding every changeset.
func (v *ChangesetListView) Render(page *javelin.Page) template.HTML {
	page.RequireResource("differential-changeset-view-css")

	page.InitBehavior("differential-toggle-files", map[string]any{
		"pht": map[string]string{
			"undo":      "Undo",
			"collapsed": "This file content has been collapsed.",
		},
	})
	page.InitBehavior("differential-dropdown-menus", map[string]any{
		"pht": dropdownLabels,
	})

	renderURI := v.RenderURI
	if renderURI == "" {
		renderURI = DefaultRenderURI
	}

	output := make([]template.HTML, 0, len(v.Changesets))
	ids := make([]string, 0, len(v.Changesets))
	for _, cs := range v.Changesets {
		ref, ok := v.References[cs.ID]
		if !ok {
			ref = cs.RenderingReference()
		}

		detail := &DetailView{
			ID:           "diff-" + cs.AnchorName(),
			Changeset:    cs,
			SymbolIndex:  v.SymbolIndexes[cs.ID],
			VsChangeset:  v.VsMap[cs.ID],
			Editable:     v.InlineURI != "",
			RenderingRef: ref,
			Autoload:     v.Visible[cs.ID],
			RenderURI:    renderURI,
			Whitespace:   v.Whitespace,
		}
		detail.Buttons = append(detail.Buttons, v.renderViewOptions(detail, ref, cs))

		var load any = "Loading..."
		if !detail.Autoload {
			load = javelin.Tag("a",
				javelin.Attrs{
					"class":       "button grey",
					"href":        "#" + detail.ID,
					"sigil":       "differential-load",
					"meta":        map[string]any{"id": detail.ID, "kill": true},
					"mustcapture": true,
				},
				"Load File",
			)
		}
		detail.Body = javelin.Tag("div", javelin.Attrs{"class": "differential-loading"}, load)

		output = append(output, detail.Render())
		ids = append(ids, detail.ID)
	}

	page.RequireResource("aphront-tooltip-css")

	page.InitBehavior("differential-populate", map[string]any{
		"changesetViewIDs": ids,
	})
	page.InitBehavior("differential-show-more", map[string]any{
		"uri":        renderURI,
		"whitespace": v.Whitespace,
	})
	page.InitBehavior("differential-comment-jump", nil)

	if v.InlineURI != "" {
		page.InitBehavior("differential-edit-inline-comments", map[string]any{
			"uri":            v.InlineURI,
			"undo_templates": UndoTemplates(),
			"stage":          ReviewStageID,
		})
	}

	content := javelin.Tag("div",
		javelin.Attrs{"class": "differential-review-stage", "id": ReviewStageID},
		output,
	)
	return objectBox(v.Title, content)
}

// ViewOptionsMeta builds the metadata for one changeset's dropdown.
func (v *ChangesetListView) ViewOptionsMeta(containerID, ref string, cs *models.Changeset) map[string]any {
	meta := map[string]any{}
	params := url.Values{"ref": {ref}, "whitespace": {v.Whitespace}}

	if v.StandaloneURI != "" {
		meta["standaloneURI"] = mergeQuery(v.StandaloneURI, params)
	}

	repo := v.Repository
	if repo != nil {
		if uri, err := v.browseURI(repo, cs); err == nil {
			meta["diffusionURI"] = uri
		}
	}

	if v.LeftRawFileURI != "" && cs.ChangeType != models.ChangeTypeAdd {
		meta["leftURI"] = mergeQuery(v.LeftRawFileURI, params)
	}
	if v.RightRawFileURI != "" &&
		cs.ChangeType != models.ChangeTypeDelete &&
		cs.ChangeType != models.ChangeTypeMultiCopy {
		meta["rightURI"] = mergeQuery(v.RightRawFileURI, params)
	}

	if v.Viewer != nil && repo != nil {
		path := strings.TrimLeft(cs.AbsoluteRepositoryPath(repo, v.Diff), "/")
		link := v.Viewer.LoadEditorLink(path, cs.FirstLine(), repo.Callsign, v.AllowedEditorProtocols)
		if link != "" {
			meta["editor"] = link
		} else {
			meta["editorConfigure"] = EditorConfigureURI
		}
	}

	meta["containerID"] = containerID
	return meta
}

// browseURI returns the repository browse link. The only failure is
// ErrDiffusionSetup, which callers swallow.
func (v *ChangesetListView) browseURI(repo *models.Repository, cs *models.Changeset) (string, error) {
	line := 0
	if raw, ok := cs.Metadata["line:first"]; ok {
		line, _ = strconv.Atoi(raw)
	}
	var viewer policy.Viewer
	if v.Viewer != nil {
		viewer = v.Viewer
	}
	return repo.DiffusionBrowseURIForPath(viewer, cs.AbsoluteRepositoryPath(repo, v.Diff), line, v.Branch)
}

func (v *ChangesetListView) renderViewOptions(detail *DetailView, ref string, cs *models.Changeset) template.HTML {
	return javelin.Tag("a",
		javelin.Attrs{
			"class":  "button grey small dropdown",
			"meta":   v.ViewOptionsMeta(detail.ID, ref, cs),
			"href":   "#",
			"target": "_blank",
			"sigil":  "differential-view-options",
		},
		"View Options",
		javelin.Tag("span", javelin.Attrs{"class": "caret"}),
	)
}

// UndoTemplates returns the left and right table rows shown after an
// inline comment edit is discarded.
func UndoTemplates() map[string]string {
	link := javelin.Tag("a",
		javelin.Attrs{"href": "#", "sigil": "differential-inline-comment-undo"},
		"Undo",
	)
	div := javelin.Tag("div",
		javelin.Attrs{"class": "differential-inline-undo"},
		"Changes discarded. ", link,
	)

	row := func(cells ...template.HTML) string {
		return string(javelin.Tag("table", nil, javelin.Tag("tr", nil, cells)))
	}
	return map[string]string{
		"l": row(
			javelin.Tag("th", nil),
			javelin.Tag("td", nil, div),
			javelin.Tag("th", nil),
			javelin.Tag("td", javelin.Attrs{"colspan": 3}),
		),
		"r": row(
			javelin.Tag("th", nil),
			javelin.Tag("td", nil),
			javelin.Tag("th", nil),
			javelin.Tag("td", javelin.Attrs{"colspan": 3}, div),
		),
	}
}

func objectBox(title string, content template.HTML) template.HTML {
	header := javelin.Tag("div", javelin.Attrs{"class": "phui-header-shell"},
		javelin.Tag("h1", javelin.Attrs{"class": "phui-header-view"}, title),
	)
	return javelin.Tag("div", javelin.Attrs{"class": "phui-object-box"}, header, content)
}

// mergeQuery adds params to base. Parameters already on base win.
func mergeQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vals := range params {
		if _, ok := q[k]; ok {
			continue
		}
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String()
}
