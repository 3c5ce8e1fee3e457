package models

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ChangeType describes what happened to a path in a diff.
type ChangeType int

const (
	ChangeTypeAdd       ChangeType = 1
	ChangeTypeChange    ChangeType = 2
	ChangeTypeDelete    ChangeType = 3
	ChangeTypeMoveAway  ChangeType = 4
	ChangeTypeCopyAway  ChangeType = 5
	ChangeTypeMoveHere  ChangeType = 6
	ChangeTypeCopyHere  ChangeType = 7
	ChangeTypeMultiCopy ChangeType = 8
	ChangeTypeMessage   ChangeType = 9
	ChangeTypeChild     ChangeType = 10
)

var changeTypeNames = map[ChangeType]string{
	ChangeTypeAdd:       "add",
	ChangeTypeChange:    "change",
	ChangeTypeDelete:    "delete",
	ChangeTypeMoveAway:  "move-away",
	ChangeTypeCopyAway:  "copy-away",
	ChangeTypeMoveHere:  "move-here",
	ChangeTypeCopyHere:  "copy-here",
	ChangeTypeMultiCopy: "multicopy",
	ChangeTypeMessage:   "message",
	ChangeTypeChild:     "child",
}

func (c ChangeType) String() string {
	if s, ok := changeTypeNames[c]; ok {
		return s
	}
	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// IsDeleteLike reports whether the path no longer exists on the right side.
func (c ChangeType) IsDeleteLike() bool {
	return c == ChangeTypeDelete || c == ChangeTypeMoveAway || c == ChangeTypeMultiCopy
}

// FileType describes the kind of file a changeset touches.
type FileType int

const (
	FileTypeText      FileType = 1
	FileTypeImage     FileType = 2
	FileTypeBinary    FileType = 3
	FileTypeDirectory FileType = 4
	FileTypeSymlink   FileType = 5
)

// Diff is one uploaded set of changes.
type Diff struct {
	ID                int64
	PHID              string
	RepositoryPHID    string
	AuthorPHID        string
	SourceControlPath string
	Branch            string
	BaseRevision      string
	Description       string
	DateCreated       time.Time
}

// Hunk is a contiguous region of change. Corpus holds the hunk body with
// one-character " ", "+", "-" line prefixes.
type Hunk struct {
	ID        int64
	OldOffset int
	OldLen    int
	NewOffset int
	NewLen    int
	Corpus    string
}

// Changeset is the change to one path within a diff.
type Changeset struct {
	ID         int64
	DiffID     int64
	Filename   string
	OldFile    string
	AwayPaths  []string
	ChangeType ChangeType
	FileType   FileType
	Metadata   map[string]string
	AddLines   int
	DelLines   int
	Hunks      []*Hunk
}

// AnchorName is a stable DOM-safe token derived from the filename.
func (c *Changeset) AnchorName() string {
	sum := md5.Sum([]byte(c.Filename))
	return hex.EncodeToString(sum[:])
}

// DisplayFilename shows moves and copies as "old -> new".
func (c *Changeset) DisplayFilename() string {
	switch c.ChangeType {
	case ChangeTypeMoveHere, ChangeTypeCopyHere:
		if c.OldFile != "" {
			return c.OldFile + " -> " + c.Filename
		}
	}
	return c.Filename
}

// RenderingReference is the opaque token the client sends back to fetch
// this changeset's rendered body.
func (c *Changeset) RenderingReference() string {
	return strconv.FormatInt(c.ID, 10)
}

// FirstLine returns the first changed line recorded during import, or 1.
func (c *Changeset) FirstLine() int {
	if v, ok := c.Metadata["line:first"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// AbsoluteRepositoryPath joins the diff's source control path with the
// filename. For Subversion repositories the remote URI path is stripped.
func (c *Changeset) AbsoluteRepositoryPath(repo *Repository, diff *Diff) string {
	base := "/"
	if diff != nil && diff.SourceControlPath != "" {
		base = uriPath(diff.SourceControlPath)
	}

	path := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(c.Filename, "/")

	if repo != nil && repo.VCS == VCSSubversion {
		prefix := uriPath(repo.RemoteURI)
		path = strings.TrimPrefix(path, prefix)
		path = "/" + strings.TrimLeft(path, "/")
	}
	return path
}

func uriPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
