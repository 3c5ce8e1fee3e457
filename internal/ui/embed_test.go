package ui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/forge/internal/javelin"
)

func TestHandler(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	tests := []struct {
		path string
		code int
	}{
		{"/res/differential-changeset-view.css", http.StatusOK},
		{"/res/aphront-tooltip.css", http.StatusOK},
		{"/res/forge-behaviors.js", http.StatusOK},
		{"/res/missing.css", http.StatusNotFound},
		{"/res/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestResourceURI(t *testing.T) {
	uri, ok := ResourceURI("differential-changeset-view-css")
	assert.True(t, ok)
	assert.Equal(t, "/res/differential-changeset-view.css", uri)

	_, ok = ResourceURI("nope")
	assert.False(t, ok)
}

func TestRenderPage(t *testing.T) {
	p := javelin.NewPage()
	p.RequireResource("differential-changeset-view-css")
	p.RequireResource("aphront-tooltip-css")
	p.InitBehavior("differential-populate", map[string]any{"changesetViewIDs": []string{"diff-a"}})

	out, err := RenderPage("D1 <diff>", "<div id=\"body\"></div>", p)
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>D1 &lt;diff&gt;</title>")
	assert.Contains(t, html, `href="/res/differential-changeset-view.css"`)
	assert.Contains(t, html, `href="/res/aphront-tooltip.css"`)
	assert.Contains(t, html, `<div id="body"></div>`)
	assert.Contains(t, html, `data-javelin="init"`)
	assert.Contains(t, html, "differential-populate")
}

func TestRenderPage_UnknownResource(t *testing.T) {
	p := javelin.NewPage()
	p.RequireResource("does-not-exist")
	_, err := RenderPage("x", "", p)
	assert.Error(t, err)
}
