package markup

import (
	"context"
	"errors"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	data   map[string]string
	gets   int
	puts   int
	getErr error
}

func (c *memCache) GetMarkupCache(_ context.Context, key string) (string, bool, error) {
	c.gets++
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) PutMarkupCache(_ context.Context, key, data string) error {
	c.puts++
	c.data[key] = data
	return nil
}

type doc struct {
	id   int
	text string
}

func (d *doc) MarkupFieldKey(field string) string                      { return field + ":" + Digest(d.text) }
func (d *doc) MarkupText(string) string                                { return d.text }
func (d *doc) NewMarkupEngine(string) Engine                           { return TaskEngine() }
func (d *doc) ShouldUseMarkupCache(string) bool                        { return d.id != 0 }
func (d *doc) DidMarkupText(_ string, out template.HTML) template.HTML { return out }

func TestEngine_RendersAndSanitizes(t *testing.T) {
	out, err := NewEngine().Render("**bold** <script>alert(1)</script>\n\n- item")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<strong>bold</strong>")
	assert.Contains(t, string(out), "<li>item</li>")
	assert.NotContains(t, string(out), "<script>")
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest("abc"), Digest("abc"))
	assert.NotEqual(t, Digest("abc"), Digest("abd"))
	assert.Len(t, Digest(""), 64)
}

func TestRenderer_UsesCacheForPersistedObjects(t *testing.T) {
	cache := &memCache{data: map[string]string{}}
	r := NewRenderer(cache, nil)
	d := &doc{id: 7, text: "hello"}

	first, err := r.Render(context.Background(), d, "desc")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.puts)

	cache.data[d.MarkupFieldKey("desc")] = "<p>cached</p>"
	second, err := r.Render(context.Background(), d, "desc")
	require.NoError(t, err)
	assert.Equal(t, template.HTML("<p>cached</p>"), second)
	assert.NotEqual(t, first, second)
}

func TestRenderer_SkipsCacheForUnsavedObjects(t *testing.T) {
	cache := &memCache{data: map[string]string{}}
	r := NewRenderer(cache, nil)

	out, err := r.Render(context.Background(), &doc{text: "hi"}, "desc")
	require.NoError(t, err)
	assert.Contains(t, string(out), "hi")
	assert.Equal(t, 0, cache.gets)
	assert.Equal(t, 0, cache.puts)
}

func TestRenderer_CacheReadErrorFallsBackToRender(t *testing.T) {
	cache := &memCache{data: map[string]string{}, getErr: errors.New("disk on fire")}
	r := NewRenderer(cache, nil)

	out, err := r.Render(context.Background(), &doc{id: 1, text: "*x*"}, "desc")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<em>x</em>")
}
