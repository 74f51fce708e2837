// Package document is the DOM capability tmplbind binds templates into.
//
// A Document wraps a parsed HTML tree. Callers locate marked elements with
// Marked, filter them with a compiled selector and replace their contents
// with SetInnerHTML. All access goes through the document's lock so scans,
// renders and serialisation can run from different goroutines.
package document

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	binderrors "github.com/conneroisu/tmplbind/internal/errors"
)

// AllSelector matches every region.
const AllSelector = "*"

// ErrDetached is returned when a region no longer belongs to its document,
// usually because an ancestor's contents were replaced.
var ErrDetached = errors.New("region detached from document")

// Region is an opaque handle to one element of a Document. Two handles are
// equal when they refer to the same element.
type Region struct {
	node *html.Node
}

// Attr returns the value of the named attribute on the region's element.
func (r Region) Attr(name string) (string, bool) {
	if r.node == nil {
		return "", false
	}
	for _, a := range r.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// IsZero reports whether r refers to no element.
func (r Region) IsZero() bool {
	return r.node == nil
}

// String describes the element as tag#id.class for logs and listings.
func (r Region) String() string {
	if r.node == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(r.node.Data)
	if id, ok := r.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	if class, ok := r.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			b.WriteString("." + c)
		}
	}
	return b.String()
}

// Matcher reports whether a region satisfies a selector.
type Matcher interface {
	Match(r Region) bool
}

type selMatcher struct {
	sel cascadia.Matcher
}

func (m selMatcher) Match(r Region) bool {
	return r.node != nil && m.sel.Match(r.node)
}

type allMatcher struct{}

func (allMatcher) Match(r Region) bool { return r.node != nil }

// CompileSelector compiles a CSS selector. "*" and "" match every region.
func CompileSelector(selector string) (Matcher, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == AllSelector {
		return allMatcher{}, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, binderrors.NewInvalidSelector(selector, err)
	}
	return selMatcher{sel: sel}, nil
}

// Filter returns the regions that match m, preserving order.
func Filter(regions []Region, m Matcher) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if m.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Document is a parsed HTML document.
type Document struct {
	doc *goquery.Document
	mu  sync.RWMutex
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseString parses an HTML document held in a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Marked returns every element carrying attr, in document order.
func (d *Document) Marked(attr string) []Region {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sel := d.doc.Find("[" + attr + "]")
	regions := make([]Region, 0, sel.Length())
	for _, n := range sel.Nodes {
		regions = append(regions, Region{node: n})
	}
	return regions
}

// Contains reports whether r belongs to this document.
func (d *Document) Contains(r Region) bool {
	if r.node == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.containsLocked(r)
}

func (d *Document) containsLocked(r Region) bool {
	root := d.doc.Get(0)
	for n := r.node; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

// SetInnerHTML replaces the children of r with markup. It returns
// ErrDetached when r is no longer part of the document.
func (d *Document) SetInnerHTML(r Region, markup string) error {
	if r.node == nil {
		return fmt.Errorf("set inner html: empty region")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.containsLocked(r) {
		return ErrDetached
	}
	d.doc.FindNodes(r.node).SetHtml(markup)
	return nil
}

// InnerHTML returns the serialised children of r.
func (d *Document) InnerHTML(r Region) (string, error) {
	if r.node == nil {
		return "", fmt.Errorf("inner html: empty region")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.doc.FindNodes(r.node).Html()
}

// HTML serialises the whole document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.doc.Html()
}
