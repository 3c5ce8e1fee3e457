package differential

import (
	"html/template"

	"github.com/joescharf/forge/internal/javelin"
	"github.com/joescharf/forge/internal/models"
)

// DetailView is the collapsible per-file container the list view emits.
// Its body is filled in by the client once the changeset is loaded.
type DetailView struct {
	ID           string
	Changeset    *models.Changeset
	Buttons      []template.HTML
	SymbolIndex  any
	VsChangeset  int64
	Editable     bool
	RenderingRef string
	Autoload     bool
	RenderURI    string
	Whitespace   string
	Body         template.HTML
}

// Class returns the CSS classes for the container.
func (d *DetailView) Class() string {
	if d.Editable {
		return "differential-changeset"
	}
	return "differential-changeset differential-changeset-noneditable"
}

// Meta is the data-meta payload the changeset behaviors read.
func (d *DetailView) Meta() map[string]any {
	left := d.VsChangeset
	if left == 0 {
		left = d.Changeset.ID
	}
	meta := map[string]any{
		"left":       left,
		"right":      d.Changeset.ID,
		"renderURI":  d.RenderURI,
		"whitespace": d.Whitespace,
		"ref":        d.RenderingRef,
		"autoload":   d.Autoload,
	}
	if d.SymbolIndex != nil {
		meta["symbolIndex"] = d.SymbolIndex
	}
	return meta
}

// Render renders the container.
func (d *DetailView) Render() template.HTML {
	cs := d.Changeset
	return javelin.Tag("div",
		javelin.Attrs{
			"id":    d.ID,
			"class": d.Class(),
			"sigil": "differential-changeset",
			"meta":  d.Meta(),
		},
		javelin.Tag("a", javelin.Attrs{"name": cs.AnchorName(), "class": "phabricator-anchor-view"}),
		javelin.Tag("div", javelin.Attrs{"class": "differential-changeset-buttons"}, d.Buttons),
		javelin.Tag("h1", javelin.Attrs{"class": "differential-file-icon-header"},
			javelin.Tag("span", javelin.Attrs{"class": "differential-file-icon " + fileIconClass(cs)}),
			cs.DisplayFilename(),
		),
		javelin.Tag("div", javelin.Attrs{"style": "clear: both"}),
		d.Body,
	)
}

func fileIconClass(cs *models.Changeset) string {
	switch cs.FileType {
	case models.FileTypeImage:
		return "icon-image"
	case models.FileTypeBinary:
		return "icon-binary"
	case models.FileTypeDirectory:
		return "icon-directory"
	case models.FileTypeSymlink:
		return "icon-symlink"
	}
	return "icon-text"
}
