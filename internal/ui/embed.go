package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/joescharf/forge/internal/javelin"
)

//go:embed static
var staticFS embed.FS

//go:embed templates/page.html
var pageTemplate string

var page = template.Must(template.New("page").Parse(pageTemplate))

// resources maps the names pages require to files under static/.
var resources = map[string]string{
	"differential-changeset-view-css": "differential-changeset-view.css",
	"aphront-tooltip-css":             "aphront-tooltip.css",
	"forge-behaviors-js":              "forge-behaviors.js",
}

// StaticFS returns the embedded static/ filesystem with the prefix stripped.
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}

// ResourceURI returns the URI a required resource is served from, or false
// if the resource is unknown.
func ResourceURI(name string) (string, bool) {
	file, ok := resources[name]
	if !ok {
		return "", false
	}
	return "/res/" + file, true
}

// Handler serves the embedded resources under /res/. Missing files return 404.
func Handler() (http.Handler, error) {
	sub, err := StaticFS()
	if err != nil {
		return nil, err
	}

	fileServer := http.StripPrefix("/res/", http.FileServerFS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(path.Clean(r.URL.Path), "/res/")
		if p == "" || p == "." || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if _, err := fs.Stat(sub, p); err != nil {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}

type pageData struct {
	Title       string
	Stylesheets []string
	Body        template.HTML
	Tail        template.HTML
}

// RenderPage wraps body in the page shell, linking every stylesheet p
// requires and emitting its behavior init block.
func RenderPage(title string, body template.HTML, p *javelin.Page) ([]byte, error) {
	tail, err := p.RenderTail()
	if err != nil {
		return nil, err
	}
	data := pageData{Title: title, Body: body, Tail: tail}
	for _, name := range p.Resources() {
		uri, ok := ResourceURI(name)
		if !ok {
			return nil, fmt.Errorf("unknown resource %q", name)
		}
		if strings.HasSuffix(uri, ".css") {
			data.Stylesheets = append(data.Stylesheets, uri)
		}
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}
