package markup

import (
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
)

// Object is a record with one or more markup fields.
type Object interface {
	MarkupFieldKey(field string) string
	MarkupText(field string) string
	NewMarkupEngine(field string) Engine
	DidMarkupText(field string, output template.HTML) template.HTML
	ShouldUseMarkupCache(field string) bool
}

// Cache stores rendered markup by key.
type Cache interface {
	GetMarkupCache(ctx context.Context, key string) (string, bool, error)
	PutMarkupCache(ctx context.Context, key, data string) error
}

// Renderer renders object fields, consulting the cache when the object
// allows it.
type Renderer struct {
	cache  Cache
	logger *zap.Logger
}

// NewRenderer creates a Renderer. cache may be nil to disable caching.
func NewRenderer(cache Cache, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cache: cache, logger: logger}
}

// Render returns the HTML for obj's field.
func (r *Renderer) Render(ctx context.Context, obj Object, field string) (template.HTML, error) {
	useCache := r.cache != nil && obj.ShouldUseMarkupCache(field)

	var key string
	if useCache {
		key = obj.MarkupFieldKey(field)
		cached, ok, err := r.cache.GetMarkupCache(ctx, key)
		if err != nil {
			r.logger.Warn("markup cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return template.HTML(cached), nil
		}
	}

	out, err := obj.NewMarkupEngine(field).Render(obj.MarkupText(field))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", field, err)
	}
	out = obj.DidMarkupText(field, out)

	if useCache {
		if err := r.cache.PutMarkupCache(ctx, key, string(out)); err != nil {
			r.logger.Warn("markup cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}
