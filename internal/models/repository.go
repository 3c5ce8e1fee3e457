package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joescharf/forge/internal/policy"
)

// Version control systems.
const (
	VCSGit        = "git"
	VCSMercurial  = "hg"
	VCSSubversion = "svn"
)

// ErrDiffusionSetup means a repository browse URI can't be built, usually
// because the repository isn't tracked or is missing its callsign.
var ErrDiffusionSetup = errors.New("repository browse setup")

// Repository is a code repository that diffs can be attached to.
type Repository struct {
	ID            int64
	PHID          string
	Callsign      string
	Name          string
	VCS           string
	RemoteURI     string
	DefaultBranch string
	Tracked       bool
	DateCreated   time.Time
}

// ValidVCS reports whether vcs is a supported version control system.
func ValidVCS(vcs string) bool {
	switch vcs {
	case VCSGit, VCSMercurial, VCSSubversion:
		return true
	}
	return false
}

// DiffusionBrowseURIForPath returns the browse URI for path at line on
// branch. An empty branch uses the repository default.
func (r *Repository) DiffusionBrowseURIForPath(viewer policy.Viewer, path string, line int, branch string) (string, error) {
	if !r.Tracked {
		return "", fmt.Errorf("%w: repository %s is not tracked", ErrDiffusionSetup, r.Name)
	}
	if r.Callsign == "" {
		return "", fmt.Errorf("%w: repository %s has no callsign", ErrDiffusionSetup, r.Name)
	}
	if viewer == nil {
		return "", fmt.Errorf("%w: no viewer", ErrDiffusionSetup)
	}

	if branch == "" {
		branch = r.DefaultBranch
	}
	if branch == "" && r.VCS != VCSSubversion {
		return "", fmt.Errorf("%w: repository %s has no default branch", ErrDiffusionSetup, r.Name)
	}

	var b strings.Builder
	b.WriteString("/diffusion/")
	b.WriteString(url.PathEscape(r.Callsign))
	b.WriteString("/browse/")
	if r.VCS != VCSSubversion {
		b.WriteString(url.PathEscape(branch))
		b.WriteString("/")
	}
	b.WriteString(escapeURI(strings.TrimLeft(path, "/")))
	if line > 0 {
		fmt.Fprintf(&b, "$%d", line)
	}
	return b.String(), nil
}
