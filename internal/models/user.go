package models

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// EditorProtocolHelpURI is returned by LoadEditorLink when the configured
// pattern uses a protocol that isn't allowed.
const EditorProtocolHelpURI = "/help/editorprotocol/"

// User is an account that can act on tasks and review diffs.
type User struct {
	ID       int64
	PHID     string
	Username string
	RealName string
	Admin    bool
	Disabled bool
	// EditorPattern is a URI template for opening files in a local editor,
	// e.g. "txmt://open/?url=file:///src/%r/%f&line=%l".
	EditorPattern string
	DateCreated   time.Time
	DateModified  time.Time
}

// ViewerPHID returns the PHID used for policy checks. Disabled and nil users
// act as anonymous viewers.
func (u *User) ViewerPHID() string {
	if u == nil || u.Disabled {
		return ""
	}
	return u.PHID
}

// IsAdministrator reports whether the user is an enabled administrator.
func (u *User) IsAdministrator() bool {
	return u != nil && !u.Disabled && u.Admin
}

// LoadEditorLink expands the user's editor pattern for a file. It returns ""
// when the user has no pattern, and EditorProtocolHelpURI when the expanded
// URI's scheme is not in allowedProtocols.
func (u *User) LoadEditorLink(path string, line int, callsign string, allowedProtocols []string) string {
	if u == nil || u.EditorPattern == "" {
		return ""
	}

	r := strings.NewReplacer(
		"%%", "%",
		"%f", escapeURI(path),
		"%l", escapeURI(strconv.Itoa(line)),
		"%r", escapeURI(callsign),
	)
	link := r.Replace(u.EditorPattern)

	parsed, err := url.Parse(link)
	if err != nil || parsed.Scheme == "" {
		return EditorProtocolHelpURI
	}
	for _, p := range allowedProtocols {
		if strings.EqualFold(p, parsed.Scheme) {
			return link
		}
	}
	return EditorProtocolHelpURI
}

// escapeURI percent-encodes s but keeps "/" readable.
func escapeURI(s string) string {
	e := url.PathEscape(s)
	return strings.ReplaceAll(e, "%2F", "/")
}
