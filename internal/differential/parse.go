package differential

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/joescharf/forge/internal/models"
)

// ErrEmptyDiff is returned when a diff has no file changes.
var ErrEmptyDiff = errors.New("diff contains no changes")

const devNull = "/dev/null"

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".ico": true, ".bmp": true, ".svg": true,
}

// ParseDiff converts a unified or git diff into changesets sorted by
// filename. Paths moved or copied away get their own changeset, or have
// AwayPaths recorded on the changeset that already modifies them.
func ParseDiff(raw []byte) ([]*models.Changeset, error) {
	fds, err := diff.ParseMultiFileDiff(raw)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	if len(fds) == 0 {
		return nil, ErrEmptyDiff
	}

	var out []*models.Changeset
	byPath := map[string]*models.Changeset{}
	for _, fd := range fds {
		cs := changesetFromFileDiff(fd)
		if _, dup := byPath[cs.Filename]; dup {
			return nil, fmt.Errorf("parse diff: %s appears more than once", cs.Filename)
		}
		byPath[cs.Filename] = cs
		out = append(out, cs)
	}

	out = append(out, awayChangesets(out, byPath)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

type awayPath struct {
	dest string
	move bool
}

// awayChangesets records the far side of moves and copies. A source moved
// once becomes move-away, copied only becomes copy-away, and anything else
// (moved and copied, or moved twice) becomes multicopy.
func awayChangesets(changesets []*models.Changeset, byPath map[string]*models.Changeset) []*models.Changeset {
	sources := map[string][]awayPath{}
	var order []string
	for _, cs := range changesets {
		if cs.ChangeType != models.ChangeTypeMoveHere && cs.ChangeType != models.ChangeTypeCopyHere {
			continue
		}
		if _, seen := sources[cs.OldFile]; !seen {
			order = append(order, cs.OldFile)
		}
		sources[cs.OldFile] = append(sources[cs.OldFile], awayPath{
			dest: cs.Filename,
			move: cs.ChangeType == models.ChangeTypeMoveHere,
		})
	}

	var extra []*models.Changeset
	for _, src := range order {
		aways := sources[src]
		dests := make([]string, 0, len(aways))
		moves := 0
		for _, a := range aways {
			dests = append(dests, a.dest)
			if a.move {
				moves++
			}
		}
		sort.Strings(dests)

		if existing, ok := byPath[src]; ok {
			existing.AwayPaths = dests
			continue
		}

		ct := models.ChangeTypeMultiCopy
		switch {
		case moves == 0:
			ct = models.ChangeTypeCopyAway
		case moves == 1 && len(aways) == 1:
			ct = models.ChangeTypeMoveAway
		}
		first := byPath[aways[0].dest]
		extra = append(extra, &models.Changeset{
			Filename:   src,
			AwayPaths:  dests,
			ChangeType: ct,
			FileType:   first.FileType,
			Metadata:   map[string]string{},
		})
	}
	return extra
}

func changesetFromFileDiff(fd *diff.FileDiff) *models.Changeset {
	git := len(fd.Extended) > 0 && strings.HasPrefix(fd.Extended[0], "diff --git ")
	oldName := cleanName(fd.OrigName, "a/", git)
	newName := cleanName(fd.NewName, "b/", git)

	cs := &models.Changeset{
		Filename:   newName,
		ChangeType: models.ChangeTypeChange,
		FileType:   models.FileTypeText,
		Metadata:   map[string]string{},
	}

	renameFrom := extendedValue(fd.Extended, "rename from ")
	copyFrom := extendedValue(fd.Extended, "copy from ")
	switch {
	case oldName == devNull || extendedValue(fd.Extended, "new file mode ") != "":
		cs.ChangeType = models.ChangeTypeAdd
	case newName == devNull || extendedValue(fd.Extended, "deleted file mode ") != "":
		cs.ChangeType = models.ChangeTypeDelete
		cs.Filename = oldName
	case renameFrom != "":
		cs.ChangeType = models.ChangeTypeMoveHere
		cs.OldFile = renameFrom
	case copyFrom != "":
		cs.ChangeType = models.ChangeTypeCopyHere
		cs.OldFile = copyFrom
	}

	switch {
	case isBinary(fd.Extended) && imageExtensions[strings.ToLower(path.Ext(cs.Filename))]:
		cs.FileType = models.FileTypeImage
	case isBinary(fd.Extended):
		cs.FileType = models.FileTypeBinary
	case isSymlink(fd.Extended):
		cs.FileType = models.FileTypeSymlink
	}

	for i, h := range fd.Hunks {
		body := string(h.Body)
		for _, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				cs.AddLines++
			case strings.HasPrefix(line, "-"):
				cs.DelLines++
			}
		}
		cs.Hunks = append(cs.Hunks, &models.Hunk{
			OldOffset: int(h.OrigStartLine),
			OldLen:    int(h.OrigLines),
			NewOffset: int(h.NewStartLine),
			NewLen:    int(h.NewLines),
			Corpus:    body,
		})
		if i == 0 {
			cs.Metadata["line:first"] = strconv.Itoa(firstChangedLine(h))
		}
	}
	return cs
}

// firstChangedLine returns the new-file line of the first added or removed
// line in the hunk.
func firstChangedLine(h *diff.Hunk) int {
	n := int(h.NewStartLine)
	if n < 1 {
		n = 1
	}
	for _, line := range bytes.Split(h.Body, []byte("\n")) {
		if len(line) > 0 && (line[0] == '+' || line[0] == '-') {
			return n
		}
		n++
	}
	return int(h.NewStartLine)
}

func cleanName(name, prefix string, git bool) string {
	if name == devNull {
		return name
	}
	if git {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

func extendedValue(lines []string, prefix string) string {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(l, prefix))
		}
	}
	return ""
}

func isBinary(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "Binary files ") || l == "GIT binary patch" {
			return true
		}
	}
	return false
}

func isSymlink(lines []string) bool {
	for _, l := range lines {
		if strings.HasSuffix(l, " mode 120000") {
			return true
		}
	}
	return false
}
