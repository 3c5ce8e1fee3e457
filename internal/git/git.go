// Package git reads diffs and branch metadata from local working copies so
// they can be imported without piping through `git diff` by hand.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// WorkingCopy describes the checkout a diff is taken from.
type WorkingCopy struct {
	Root      string
	Branch    string
	Head      string
	RemoteURL string
}

// Client defines the git operations used by diff import.
type Client interface {
	Inspect(path string) (*WorkingCopy, error)
	Diff(path, base string) ([]byte, error)
	MergeBase(path, a, b string) (string, error)
}

// RealClient implements Client using the git binary.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitOutput(path string, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

func gitCmd(path string, args ...string) (string, error) {
	out, err := gitOutput(path, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Inspect resolves the repository root, branch, HEAD commit and origin URL
// of the checkout containing path.
func (c *RealClient) Inspect(path string) (*WorkingCopy, error) {
	root, err := gitCmd(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	wc := &WorkingCopy{Root: root}
	if wc.Branch, err = gitCmd(root, "rev-parse", "--abbrev-ref", "HEAD"); err != nil {
		return nil, err
	}
	if wc.Branch == "HEAD" {
		wc.Branch = ""
	}
	// An unborn branch has no HEAD commit yet.
	wc.Head, _ = gitCmd(root, "rev-parse", "HEAD")
	// No remote is not an error.
	wc.RemoteURL, _ = gitCmd(root, "remote", "get-url", "origin")
	return wc, nil
}

// Diff returns the git diff of the working tree, staged changes included,
// against base. An empty base means HEAD.
func (c *RealClient) Diff(path, base string) ([]byte, error) {
	if base == "" {
		base = "HEAD"
	}
	return gitOutput(path, "diff", "--no-color", "--no-ext-diff", "-M", base, "--")
}

// MergeBase returns the best common ancestor of a and b.
func (c *RealClient) MergeBase(path, a, b string) (string, error) {
	return gitCmd(path, "merge-base", a, b)
}

// NormalizeRemote reduces a remote URL to host/path form so SSH and HTTPS
// remotes of the same repository compare equal.
func NormalizeRemote(remoteURL string) string {
	s := strings.TrimSpace(remoteURL)
	if s == "" {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")

	// scp-like syntax: git@github.com:owner/repo
	if !strings.Contains(s, "://") {
		if at := strings.Index(s, "@"); at >= 0 {
			s = s[at+1:]
		}
		return strings.ToLower(strings.Replace(s, ":", "/", 1))
	}

	s = s[strings.Index(s, "://")+3:]
	if at := strings.Index(s, "@"); at >= 0 && at < strings.Index(s+"/", "/") {
		s = s[at+1:]
	}
	host, rest, _ := strings.Cut(s, "/")
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(host + "/" + rest)
}
