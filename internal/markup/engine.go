// Package markup renders user-authored text to sanitized HTML and caches the
// result per object field.
package markup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Engine turns markup source into HTML.
type Engine interface {
	Render(text string) (template.HTML, error)
}

type goldmarkEngine struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewEngine returns a GitHub-flavored markdown engine whose output is
// sanitized with a user-generated-content policy.
func NewEngine() Engine {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	return &goldmarkEngine{md: md, policy: bluemonday.UGCPolicy()}
}

func (e *goldmarkEngine) Render(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("convert markup: %w", err)
	}
	return template.HTML(e.policy.SanitizeBytes(buf.Bytes())), nil
}

var taskEngine = sync.OnceValue(NewEngine)

// TaskEngine returns the shared engine used for task descriptions.
func TaskEngine() Engine { return taskEngine() }

// Digest returns a stable content hash of text for use in cache keys.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
