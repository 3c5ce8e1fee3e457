// Package javelin collects the client-side behaviors and resources a page
// needs, and builds HTML tags that carry behavior hooks as data
// attributes. Behaviors are declarative: a name plus a JSON config, emitted
// once at the end of the page.
package javelin

import (
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"slices"
	"sort"
	"strings"
)

// Page accumulates behavior registrations for one response.
type Page struct {
	behaviorOrder []string
	behaviors     map[string][]any
	resources     []string
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{behaviors: map[string][]any{}}
}

// InitBehavior registers a behavior with config. A behavior registered
// more than once receives every config, in order.
func (p *Page) InitBehavior(name string, config any) {
	if config == nil {
		config = map[string]any{}
	}
	if _, ok := p.behaviors[name]; !ok {
		p.behaviorOrder = append(p.behaviorOrder, name)
	}
	p.behaviors[name] = append(p.behaviors[name], config)
}

// RequireResource marks a static resource as needed. Duplicates are ignored.
func (p *Page) RequireResource(name string) {
	if !slices.Contains(p.resources, name) {
		p.resources = append(p.resources, name)
	}
}

// Behaviors returns the registered behavior names in registration order.
func (p *Page) Behaviors() []string {
	return slices.Clone(p.behaviorOrder)
}

// BehaviorConfigs returns every config registered for name.
func (p *Page) BehaviorConfigs(name string) []any {
	return p.behaviors[name]
}

// Resources returns the required resources in order.
func (p *Page) Resources() []string {
	return slices.Clone(p.resources)
}

// initPayload is the JSON emitted by RenderTail.
type initPayload struct {
	Resources []string         `json:"resources"`
	Behaviors map[string][]any `json:"behaviors"`
	Order     []string         `json:"order"`
}

// RenderTail renders the script block that boots the registered behaviors.
func (p *Page) RenderTail() (template.HTML, error) {
	payload := initPayload{
		Resources: p.resources,
		Behaviors: p.behaviors,
		Order:     p.behaviorOrder,
	}
	if payload.Resources == nil {
		payload.Resources = []string{}
	}
	// json.Marshal escapes <, > and & so the payload can't close the tag.
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode behaviors: %w", err)
	}
	return template.HTML(`<script type="application/json" data-javelin="init">` + string(data) + `</script>`), nil
}

// Attrs are tag attributes. The keys "sigil", "meta" and "mustcapture" are
// emitted as data-sigil, data-meta (JSON) and data-mustcapture. Nil, false
// and empty-string values are omitted.
type Attrs map[string]any

// Tag renders an element. Content may be string (escaped), template.HTML
// (trusted), or slices of either. Void elements ignore content.
func Tag(name string, attrs Attrs, content ...any) template.HTML {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(name)
	if err := writeAttrs(&b, attrs); err != nil {
		// Unencodable metadata is a programming error; render it visibly.
		b.WriteString(` data-meta-error="`)
		b.WriteString(html.EscapeString(err.Error()))
		b.WriteString(`"`)
	}
	if isVoid(name) {
		b.WriteString(" />")
		return template.HTML(b.String())
	}
	b.WriteString(">")
	for _, c := range content {
		writeContent(&b, c)
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
	return template.HTML(b.String())
}

func writeAttrs(b *strings.Builder, attrs Attrs) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var metaErr error
	for _, k := range keys {
		v := attrs[k]
		name := k
		var value string
		switch k {
		case "sigil":
			name = "data-sigil"
		case "mustcapture":
			name = "data-mustcapture"
		case "meta":
			name = "data-meta"
			if v == nil {
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				metaErr = err
				continue
			}
			value = string(data)
		}
		if k != "meta" {
			switch tv := v.(type) {
			case nil:
				continue
			case bool:
				if !tv {
					continue
				}
				value = "1"
			case string:
				if tv == "" {
					continue
				}
				value = tv
			default:
				value = fmt.Sprint(tv)
			}
		}
		b.WriteString(" ")
		b.WriteString(name)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(value))
		b.WriteString(`"`)
	}
	return metaErr
}

func writeContent(b *strings.Builder, c any) {
	switch v := c.(type) {
	case nil:
	case template.HTML:
		b.WriteString(string(v))
	case string:
		b.WriteString(html.EscapeString(v))
	case []template.HTML:
		for _, x := range v {
			b.WriteString(string(x))
		}
	case []any:
		for _, x := range v {
			writeContent(b, x)
		}
	case fmt.Stringer:
		b.WriteString(html.EscapeString(v.String()))
	default:
		b.WriteString(html.EscapeString(fmt.Sprint(v)))
	}
}

func isVoid(name string) bool {
	switch name {
	case "br", "hr", "img", "input", "meta", "link", "col":
		return true
	}
	return false
}
