// Package loader fetches template resources and turns them into renderers.
//
// A resource's extension selects how it is handled. Template sources are
// fetched and compiled; script resources are fetched and run, and the
// script is trusted to register its own renderer. Extensions with no
// handler are rejected with an UnsupportedExtension error rather than
// skipped.
package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/tmplbind/internal/cache"
	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/naming"
)

// Kind is how a resource is handled.
type Kind int

const (
	KindUnsupported Kind = iota
	KindTemplate
	KindScript
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindTemplate:
		return "template"
	case KindScript:
		return "script"
	default:
		return "unsupported"
	}
}

// Outcome is the result of one successful load. Entry is always valid:
// a raw entry for compiled sources, or whatever the script registered when
// Script is set.
type Outcome struct {
	Name   string
	URI    string
	Entry  cache.Entry
	Script bool
}

// Loader fetches and compiles or runs template resources.
type Loader struct {
	fetcher   Fetcher
	compilers map[string]Compiler
	scripts   map[string]bool
	runner    ScriptRunner
}

// Option configures a Loader.
type Option func(*Loader)

// WithCompiler handles ext by compiling with c.
func WithCompiler(ext string, c Compiler) Option {
	return func(l *Loader) {
		ext = normaliseExt(ext)
		delete(l.scripts, ext)
		l.compilers[ext] = c
	}
}

// WithScriptExt handles ext by running the script runner.
func WithScriptExt(ext string) Option {
	return func(l *Loader) {
		ext = normaliseExt(ext)
		delete(l.compilers, ext)
		l.scripts[ext] = true
	}
}

// WithScriptRunner replaces the script runner.
func WithScriptRunner(r ScriptRunner) Option {
	return func(l *Loader) {
		l.runner = r
	}
}

// WithoutExt removes any handler for ext.
func WithoutExt(ext string) Option {
	return func(l *Loader) {
		ext = normaliseExt(ext)
		delete(l.compilers, ext)
		delete(l.scripts, ext)
	}
}

// New returns a loader fetching with f. By default .handlebars and .hbs
// compile as handlebars, .pongo2 and .django as pongo2, .tmpl and .gohtml
// as html/template, and .js runs through a PrecompiledRunner.
func New(f Fetcher, opts ...Option) *Loader {
	hbs := NewHandlebarsCompiler(nil)
	l := &Loader{
		fetcher: f,
		compilers: map[string]Compiler{
			".handlebars": hbs,
			".hbs":        hbs,
			".pongo2":     Pongo2Compiler{},
			".django":     Pongo2Compiler{},
			".tmpl":       GoTemplateCompiler{},
			".gohtml":     GoTemplateCompiler{},
		},
		scripts: map[string]bool{".js": true},
		runner:  NewPrecompiledRunner(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// KindOf reports how uri would be handled.
func (l *Loader) KindOf(uri string) Kind {
	ext := normaliseExt(naming.Ext(uri))
	if _, ok := l.compilers[ext]; ok {
		return KindTemplate
	}
	if l.scripts[ext] {
		return KindScript
	}
	return KindUnsupported
}

// Extensions returns every handled extension, sorted.
func (l *Loader) Extensions() []string {
	exts := make([]string, 0, len(l.compilers)+len(l.scripts))
	for ext := range l.compilers {
		exts = append(exts, ext)
	}
	for ext := range l.scripts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Runner returns the script runner.
func (l *Loader) Runner() ScriptRunner {
	return l.runner
}

// Load fetches uri for name and returns its renderer. Template sources are
// compiled; scripts are run and must register name. Nothing is written to
// the cache. Every failure is a LoadFailure, except an unhandled extension
// which is UnsupportedExtension.
func (l *Loader) Load(ctx context.Context, name, uri string) (Outcome, error) {
	ext := normaliseExt(naming.Ext(uri))
	kind := l.KindOf(uri)
	if kind == KindUnsupported {
		return Outcome{}, binderrors.NewUnsupportedExtension(name, uri, ext)
	}

	body, err := l.fetcher.Fetch(ctx, uri)
	if err != nil {
		return Outcome{}, binderrors.NewLoadFailure(name, uri, fmt.Errorf("fetch: %w", err))
	}

	if kind == KindScript {
		if l.runner == nil {
			return Outcome{}, binderrors.NewLoadFailure(name, uri, fmt.Errorf("no script runner"))
		}
		entry, err := l.runner.Run(ctx, name, body)
		if err != nil {
			return Outcome{}, binderrors.NewLoadFailure(name, uri, fmt.Errorf("run script: %w", err))
		}
		if !entry.Valid() {
			return Outcome{}, binderrors.NewLoadFailure(name, uri, fmt.Errorf("script did not register %s", name))
		}
		return Outcome{Name: name, URI: uri, Entry: entry, Script: true}, nil
	}

	raw, err := l.compilers[ext].Compile(name, body)
	if err != nil {
		return Outcome{}, binderrors.NewLoadFailure(name, uri, err)
	}
	return Outcome{Name: name, URI: uri, Entry: cache.Raw(raw)}, nil
}

func normaliseExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
