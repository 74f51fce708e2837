// Package cache holds compiled renderers keyed by logical template name.
//
// The cache is unbounded and write-once per name: the first Set for a name
// establishes its entry and every later Set for that name is a no-op. There
// is no eviction and no invalidation.
package cache

import (
	"context"
	"sort"

	gocache "github.com/patrickmn/go-cache"

	binderrors "github.com/conneroisu/tmplbind/internal/errors"
)

// Kind tags the renderer held by an Entry.
type Kind int

const (
	// KindRaw entries map a data context to markup.
	KindRaw Kind = iota
	// KindScoped entries write into their bound regions themselves and
	// never hand out markup.
	KindScoped
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindScoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// RawRenderer renders data into markup.
type RawRenderer func(data any) (string, error)

// ScopedRenderer renders data into the bound regions matching selector and
// returns how many regions it wrote.
type ScopedRenderer func(ctx context.Context, data any, selector string) (int, error)

// Entry is one cached renderer.
type Entry struct {
	Kind   Kind
	Raw    RawRenderer
	Scoped ScopedRenderer
}

// Raw wraps fn as a raw entry.
func Raw(fn RawRenderer) Entry {
	return Entry{Kind: KindRaw, Raw: fn}
}

// Scoped wraps fn as a scoped entry.
func Scoped(fn ScopedRenderer) Entry {
	return Entry{Kind: KindScoped, Scoped: fn}
}

// Valid reports whether the entry carries the renderer its kind requires.
func (e Entry) Valid() bool {
	switch e.Kind {
	case KindRaw:
		return e.Raw != nil
	case KindScoped:
		return e.Scoped != nil
	default:
		return false
	}
}

// Cache is the template cache. It is safe for concurrent use.
type Cache struct {
	items *gocache.Cache
}

// New creates an empty cache.
func New() *Cache {
	// no expiration and no janitor goroutine: entries live as long as the cache
	return &Cache{items: gocache.New(gocache.NoExpiration, 0)}
}

// Has reports whether name has an entry.
func (c *Cache) Has(name string) bool {
	_, found := c.items.Get(name)
	return found
}

// Get returns the entry for name or a TemplateNotFound error.
func (c *Cache) Get(name string) (Entry, error) {
	v, found := c.items.Get(name)
	if !found {
		return Entry{}, binderrors.NewTemplateNotFound(name)
	}
	entry, ok := v.(Entry)
	if !ok {
		return Entry{}, binderrors.NewTemplateNotFound(name)
	}
	return entry, nil
}

// Set stores entry under name if name has no entry yet. It reports whether
// this call established the entry. Invalid entries are never stored.
func (c *Cache) Set(name string, entry Entry) bool {
	if !entry.Valid() {
		return false
	}
	return c.items.Add(name, entry, gocache.NoExpiration) == nil
}

// Names returns the cached names in sorted order.
func (c *Cache) Names() []string {
	items := c.items.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}
