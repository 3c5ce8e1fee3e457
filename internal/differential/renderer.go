package differential

import (
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/joescharf/forge/internal/javelin"
	"github.com/joescharf/forge/internal/models"
)

// Whitespace modes accepted by the changeset renderer.
const (
	WhitespaceIgnoreMost     = "ignore-most"
	WhitespaceIgnoreTrailing = "ignore-trailing"
	WhitespaceShowAll        = "show-all"
	WhitespaceIgnoreAll      = "ignore-all"
)

// NormalizeWhitespaceMode maps unknown or empty modes to ignore-most.
func NormalizeWhitespaceMode(mode string) string {
	switch mode {
	case WhitespaceIgnoreTrailing, WhitespaceShowAll, WhitespaceIgnoreAll:
		return mode
	}
	return WhitespaceIgnoreMost
}

// Side selects the old or new version of a file.
type Side string

const (
	SideLeft  Side = "old"
	SideRight Side = "new"
)

type rowKind int

const (
	rowContext rowKind = iota
	rowChange
	rowAdd
	rowDelete
)

// Row is one side-by-side line pair. A zero line number means the side is
// empty.
type Row struct {
	kind    rowKind
	OldLine int
	NewLine int
	OldText string
	NewText string
}

// changed reports whether the row differs between sides.
func (r Row) changed() bool { return r.kind != rowContext }

// HunkRows turns a hunk into side-by-side rows. Removed lines are paired
// with the added lines that follow them. Under whitespace-ignoring modes a
// pair that only differs in whitespace becomes context.
func HunkRows(h *models.Hunk, mode string) []Row {
	mode = NormalizeWhitespaceMode(mode)
	oldN, newN := h.OldOffset, h.NewOffset
	var rows []Row
	var dels, adds []string

	flush := func() {
		n := max(len(dels), len(adds))
		for i := 0; i < n; i++ {
			var r Row
			switch {
			case i < len(dels) && i < len(adds):
				r = Row{kind: rowChange, OldLine: oldN, NewLine: newN, OldText: dels[i], NewText: adds[i]}
				if normalizeLine(dels[i], mode) == normalizeLine(adds[i], mode) {
					r.kind = rowContext
				}
				oldN++
				newN++
			case i < len(dels):
				r = Row{kind: rowDelete, OldLine: oldN, OldText: dels[i]}
				oldN++
			default:
				r = Row{kind: rowAdd, NewLine: newN, NewText: adds[i]}
				newN++
			}
			rows = append(rows, r)
		}
		dels, adds = nil, nil
	}

	for _, line := range corpusLines(h.Corpus) {
		if line == "" {
			line = " "
		}
		text := line[1:]
		switch line[0] {
		case '-':
			if len(adds) > 0 {
				flush()
			}
			dels = append(dels, text)
		case '+':
			adds = append(adds, text)
		case '\\':
			// "\ No newline at end of file"
		default:
			flush()
			rows = append(rows, Row{kind: rowContext, OldLine: oldN, NewLine: newN, OldText: text, NewText: text})
			oldN++
			newN++
		}
	}
	flush()
	return rows
}

func corpusLines(corpus string) []string {
	corpus = strings.TrimSuffix(corpus, "\n")
	if corpus == "" {
		return nil
	}
	return strings.Split(corpus, "\n")
}

func normalizeLine(s, mode string) string {
	switch mode {
	case WhitespaceShowAll:
		return s
	case WhitespaceIgnoreTrailing:
		return strings.TrimRightFunc(s, unicode.IsSpace)
	case WhitespaceIgnoreAll:
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
	}
	// ignore-most: trailing whitespace and changes in interior runs.
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	indent := len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
	return s[:indent] + strings.Join(strings.Fields(s[indent:]), " ")
}

// ChangesetRenderer renders a changeset body as a side-by-side table.
type ChangesetRenderer struct {
	Whitespace string
	Comments   []*models.InlineComment
}

// Render renders every hunk of cs. Binary and image files get a notice
// instead of a table.
func (r *ChangesetRenderer) Render(cs *models.Changeset) template.HTML {
	switch cs.FileType {
	case models.FileTypeBinary, models.FileTypeImage:
		return javelin.Tag("div", javelin.Attrs{"class": "differential-meta-notice"},
			"This is a binary file.")
	}
	if len(cs.Hunks) == 0 {
		return javelin.Tag("div", javelin.Attrs{"class": "differential-meta-notice"},
			emptyNotice(cs))
	}

	oldComments, newComments := r.commentsByLine()
	var body []template.HTML
	for _, h := range cs.Hunks {
		body = append(body, javelin.Tag("tr", javelin.Attrs{"class": "differential-hunk-header"},
			javelin.Tag("th", nil),
			javelin.Tag("td", javelin.Attrs{"colspan": 5},
				fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldOffset, h.OldLen, h.NewOffset, h.NewLen)),
		))
		for _, row := range HunkRows(h, r.Whitespace) {
			body = append(body, renderRow(row))
			for _, c := range oldComments[row.OldLine] {
				body = append(body, renderInline(c, false))
			}
			for _, c := range newComments[row.NewLine] {
				body = append(body, renderInline(c, true))
			}
		}
	}
	return javelin.Tag("table",
		javelin.Attrs{"class": "differential-diff remarkup-code PhabricatorMonospaced"},
		body,
	)
}

func (r *ChangesetRenderer) commentsByLine() (map[int][]*models.InlineComment, map[int][]*models.InlineComment) {
	oldSide := map[int][]*models.InlineComment{}
	newSide := map[int][]*models.InlineComment{}
	for _, c := range r.Comments {
		if c.IsNewFile {
			newSide[c.LineNumber] = append(newSide[c.LineNumber], c)
		} else {
			oldSide[c.LineNumber] = append(oldSide[c.LineNumber], c)
		}
	}
	return oldSide, newSide
}

func emptyNotice(cs *models.Changeset) string {
	switch cs.ChangeType {
	case models.ChangeTypeMoveAway:
		return "This file was moved to " + strings.Join(cs.AwayPaths, ", ") + "."
	case models.ChangeTypeCopyAway:
		return "This file was copied to " + strings.Join(cs.AwayPaths, ", ") + "."
	case models.ChangeTypeMultiCopy:
		return "This file was deleted after being copied to " + strings.Join(cs.AwayPaths, ", ") + "."
	case models.ChangeTypeMoveHere:
		return "This file was moved from " + cs.OldFile + " without changes."
	case models.ChangeTypeCopyHere:
		return "This file was copied from " + cs.OldFile + " without changes."
	case models.ChangeTypeAdd:
		return "This file is empty."
	case models.ChangeTypeDelete:
		return "This empty file was deleted."
	}
	return "This file has no content changes."
}

func lineNumber(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func renderRow(row Row) template.HTML {
	var oldClass, newClass string
	var oldText, newText any = row.OldText, row.NewText
	switch row.kind {
	case rowChange:
		oldClass, newClass = "old", "new"
		oldText, newText = intraline(row.OldText, row.NewText)
	case rowDelete:
		oldClass, newClass = "old", "old-full"
	case rowAdd:
		oldClass, newClass = "new-full", "new"
	}
	return javelin.Tag("tr", nil,
		javelin.Tag("th", nil, lineNumber(row.OldLine)),
		javelin.Tag("td", javelin.Attrs{"class": oldClass}, oldText),
		javelin.Tag("th", nil, lineNumber(row.NewLine)),
		javelin.Tag("td", javelin.Attrs{"class": newClass, "colspan": 3}, newText),
	)
}

var dmp = diffmatchpatch.New()

// intraline highlights the spans that differ within a changed line pair.
func intraline(oldText, newText string) (template.HTML, template.HTML) {
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldText, newText, false))
	var left, right []any
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			left = append(left, d.Text)
			right = append(right, d.Text)
		case diffmatchpatch.DiffDelete:
			left = append(left, javelin.Tag("span", javelin.Attrs{"class": "bright"}, d.Text))
		case diffmatchpatch.DiffInsert:
			right = append(right, javelin.Tag("span", javelin.Attrs{"class": "bright"}, d.Text))
		}
	}
	return fragment(left), fragment(right)
}

func fragment(parts []any) template.HTML {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case template.HTML:
			b.WriteString(string(v))
		case string:
			b.WriteString(template.HTMLEscapeString(v))
		}
	}
	return template.HTML(b.String())
}

// renderInline lays a comment out in the same cells as the undo templates.
func renderInline(c *models.InlineComment, right bool) template.HTML {
	comment := javelin.Tag("div",
		javelin.Attrs{
			"class": "differential-inline-comment",
			"sigil": "differential-inline-comment",
			"meta": map[string]any{
				"id":     c.ID,
				"number": c.LineNumber,
				"length": c.LineLength,
				"isNew":  c.IsNewFile,
			},
		},
		c.Content,
	)
	var left, rightCell template.HTML
	if right {
		rightCell = comment
	} else {
		left = comment
	}
	return javelin.Tag("tr", javelin.Attrs{"class": "inline"},
		javelin.Tag("th", nil),
		javelin.Tag("td", nil, left),
		javelin.Tag("th", nil),
		javelin.Tag("td", javelin.Attrs{"colspan": 3}, rightCell),
	)
}

// RawFile reconstructs one side of the file from the hunks. Lines outside
// the hunks aren't stored, so gaps are left out.
func RawFile(cs *models.Changeset, side Side) (string, error) {
	switch side {
	case SideLeft:
		if cs.ChangeType == models.ChangeTypeAdd {
			return "", fmt.Errorf("changeset %d has no old file", cs.ID)
		}
	case SideRight:
		if cs.ChangeType == models.ChangeTypeDelete || cs.ChangeType == models.ChangeTypeMultiCopy {
			return "", fmt.Errorf("changeset %d has no new file", cs.ID)
		}
	default:
		return "", fmt.Errorf("unknown side %q", side)
	}

	var b strings.Builder
	for _, h := range cs.Hunks {
		for _, line := range corpusLines(h.Corpus) {
			if line == "" {
				line = " "
			}
			switch line[0] {
			case ' ':
			case '-':
				if side != SideLeft {
					continue
				}
			case '+':
				if side != SideRight {
					continue
				}
			default:
				continue
			}
			b.WriteString(line[1:])
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
