// Package templates keeps the operator's message and prompt templates in
// memory, in sync with the store.
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"botdash/internal/model"
)

// ErrEmpty is returned when a template has no name or no content.
var ErrEmpty = errors.New("template name and content are required")

// ErrUnknown is returned for an ID the catalog does not hold.
var ErrUnknown = errors.New("unknown template")

// Store is the subset of storage.Storage the catalog needs.
type Store interface {
	CreateTemplate(ctx context.Context, t *model.Template) error
	ListTemplates(ctx context.Context, kind model.TemplateKind) ([]model.Template, error)
	UpdateTemplate(ctx context.Context, t *model.Template) error
	SetTemplateActive(ctx context.Context, id string, active bool) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Catalog holds the templates of one kind, newest first.
type Catalog struct {
	store Store
	kind  model.TemplateKind

	mu    sync.Mutex
	items []model.Template
}

// New creates an empty catalog for kind. Call Load to fill it.
func New(store Store, kind model.TemplateKind) *Catalog {
	return &Catalog{store: store, kind: kind}
}

// Kind returns the template kind the catalog holds.
func (c *Catalog) Kind() model.TemplateKind {
	return c.kind
}

// Load replaces the catalog with the stored templates.
func (c *Catalog) Load(ctx context.Context) error {
	items, err := c.store.ListTemplates(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("load %s templates: %w", c.kind, err)
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Items returns a copy of the templates, newest first.
func (c *Catalog) Items() []model.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Template, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns the template with the given ID.
func (c *Catalog) Get(id string) (model.Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		return c.items[i], true
	}
	return model.Template{}, false
}

// Add stores a new inactive template and puts it at the front.
func (c *Catalog) Add(ctx context.Context, name, content string) (model.Template, error) {
	name, content = strings.TrimSpace(name), strings.TrimSpace(content)
	if name == "" || content == "" {
		return model.Template{}, ErrEmpty
	}

	t := model.Template{Kind: c.kind, Name: name, Content: content}
	if err := c.store.CreateTemplate(ctx, &t); err != nil {
		return model.Template{}, fmt.Errorf("add template: %w", err)
	}

	c.mu.Lock()
	c.items = append([]model.Template{t}, c.items...)
	c.mu.Unlock()
	return t, nil
}

// Edit changes the name and content of a template.
func (c *Catalog) Edit(ctx context.Context, id, name, content string) (model.Template, error) {
	name, content = strings.TrimSpace(name), strings.TrimSpace(content)
	if name == "" || content == "" {
		return model.Template{}, ErrEmpty
	}

	t, ok := c.Get(id)
	if !ok {
		return model.Template{}, fmt.Errorf("edit template %s: %w", id, ErrUnknown)
	}
	t.Name, t.Content = name, content
	if err := c.store.UpdateTemplate(ctx, &t); err != nil {
		return model.Template{}, fmt.Errorf("edit template: %w", err)
	}

	c.mu.Lock()
	if i := c.index(id); i >= 0 {
		c.items[i] = t
	}
	c.mu.Unlock()
	return t, nil
}

// Delete removes a template.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	c.mu.Lock()
	if i := c.index(id); i >= 0 {
		c.items = append(c.items[:i:i], c.items[i+1:]...)
	}
	c.mu.Unlock()
	return nil
}

// SetActive switches a template on or off. The local copy changes first and
// is reverted if the store rejects the change.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) error {
	c.mu.Lock()
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("toggle template %s: %w", id, ErrUnknown)
	}
	prev := c.items[i].IsActive
	c.items[i].IsActive = active
	c.mu.Unlock()

	err := c.store.SetTemplateActive(ctx, id, active)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if i := c.index(id); i >= 0 && c.items[i].IsActive == active {
		c.items[i].IsActive = prev
	}
	c.mu.Unlock()
	return fmt.Errorf("toggle template: %w", err)
}

func (c *Catalog) index(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}
