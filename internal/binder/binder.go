// Package binder composes a template cache, binding registry, loader, scan
// orchestrator and render dispatcher into one scope over one document.
package binder

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/conneroisu/tmplbind/internal/binding"
	"github.com/conneroisu/tmplbind/internal/cache"
	"github.com/conneroisu/tmplbind/internal/config"
	"github.com/conneroisu/tmplbind/internal/document"
	"github.com/conneroisu/tmplbind/internal/loader"
	"github.com/conneroisu/tmplbind/internal/logging"
	"github.com/conneroisu/tmplbind/internal/renderer"
	"github.com/conneroisu/tmplbind/internal/scanner"
	"github.com/conneroisu/tmplbind/internal/tracing"
)

// Binder is one binding scope: a document together with the templates and
// bindings discovered in it.
type Binder struct {
	config     *config.Config
	doc        *document.Document
	cache      *cache.Cache
	registry   *binding.Registry
	loader     *loader.Loader
	scanner    *scanner.Scanner
	dispatcher *renderer.Dispatcher
	logger     logging.Logger
}

type options struct {
	logger        logging.Logger
	tracer        *tracing.Provider
	fetcher       loader.Fetcher
	fs            afero.Fs
	loaderOptions []loader.Option
}

// Option configures a Binder.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracing provider.
func WithTracer(p *tracing.Provider) Option {
	return func(o *options) { o.tracer = p }
}

// WithFetcher replaces the default fetcher.
func WithFetcher(f loader.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithFs sets the filesystem used for non-HTTP URIs.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithLoaderOptions passes options through to the loader.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(o *options) { o.loaderOptions = append(o.loaderOptions, opts...) }
}

// New creates a Binder over doc configured by cfg. A nil cfg uses
// config.Default.
func New(cfg *config.Config, doc *document.Document, opts ...Option) (*Binder, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if doc == nil {
		return nil, fmt.Errorf("binder: nil document")
	}

	o := &options{
		logger: logging.NewNopLogger(),
		tracer: tracing.Noop(),
		fs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}

	sanitize, err := renderer.ParseSanitize(cfg.Render.Sanitize)
	if err != nil {
		return nil, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = &loader.SchemeFetcher{
			HTTP: loader.NewHTTPFetcher(cfg.Loader.Timeout),
			File: loader.NewFSFetcher(o.fs, cfg.Loader.BaseDir),
		}
	}

	b := &Binder{
		config:   cfg,
		doc:      doc,
		cache:    cache.New(),
		registry: binding.NewRegistry(),
		loader:   loader.New(fetcher, o.loaderOptions...),
		logger:   o.logger,
	}

	b.dispatcher = renderer.New(b.cache, b.registry, doc,
		renderer.WithSanitize(sanitize),
		renderer.WithLogger(o.logger),
		renderer.WithTracer(o.tracer),
	)

	b.scanner = scanner.New(b.cache, b.registry, b.loader, scanner.Config{
		Attribute:     cfg.Binding.Attribute,
		Mode:          parseMode(cfg.Binding.Mode),
		Policy:        parsePolicy(cfg.Binding.Rescan),
		LoadTimeout:   cfg.Loader.Timeout,
		MaxConcurrent: cfg.Loader.MaxConcurrent,
	},
		scanner.WithLogger(o.logger),
		scanner.WithTracer(o.tracer),
		scanner.WithScoper(b.dispatcher.Scope),
	)

	return b, nil
}

func parseMode(s string) scanner.Mode {
	if s == "push" {
		return scanner.ModePush
	}
	return scanner.ModePull
}

func parsePolicy(s string) scanner.RescanPolicy {
	if s == "replace" {
		return scanner.RescanReplace
	}
	return scanner.RescanAccumulate
}

// Scan scans the document with the configured prefix.
func (b *Binder) Scan(ctx context.Context) (*scanner.Result, error) {
	return b.scanner.Scan(ctx, b.doc, b.config.Binding.Prefix)
}

// ScanWithPrefix scans the document with an explicit prefix.
func (b *Binder) ScanWithPrefix(ctx context.Context, prefix string) (*scanner.Result, error) {
	return b.scanner.Scan(ctx, b.doc, prefix)
}

// Rescan scans the document again, replacing existing bindings when clear
// is set.
func (b *Binder) Rescan(ctx context.Context, clear bool) (*scanner.Result, error) {
	return b.scanner.Rescan(ctx, b.doc, b.config.Binding.Prefix, clear)
}

// ScanAsync scans in the background and calls onComplete once.
func (b *Binder) ScanAsync(ctx context.Context, onComplete func(*scanner.Result, error)) {
	b.scanner.ScanAsync(ctx, b.doc, b.config.Binding.Prefix, onComplete)
}

// OnLoadFailure registers a callback for failed loads.
func (b *Binder) OnLoadFailure(fn func(name string, err error)) {
	b.scanner.OnLoadFailure(fn)
}

// Render returns the markup for name.
func (b *Binder) Render(ctx context.Context, name string, data any) (string, error) {
	return b.dispatcher.Render(ctx, name, data)
}

// RenderInto writes name's markup into its regions matching selector.
func (b *Binder) RenderInto(ctx context.Context, name string, data any, selector string) (int, error) {
	return b.dispatcher.RenderInto(ctx, name, data, selector)
}

// Dispatch returns markup without a selector and writes with one.
func (b *Binder) Dispatch(ctx context.Context, name string, data any, selector string) (string, error) {
	return b.dispatcher.Dispatch(ctx, name, data, selector)
}

// Binding summarises one bound name.
type Binding struct {
	Name    string   `json:"name" yaml:"name"`
	Regions int      `json:"regions" yaml:"regions"`
	Cached  bool     `json:"cached" yaml:"cached"`
	Kind    string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Targets []string `json:"targets" yaml:"targets"`
}

// Bindings lists every bound name in first-seen order, followed by cached
// names with no bound regions in name order.
func (b *Binder) Bindings() []Binding {
	var out []Binding
	seen := make(map[string]bool)

	for _, name := range b.registry.Names() {
		seen[name] = true
		out = append(out, b.describe(name))
	}

	var unbound []string
	for _, name := range b.cache.Names() {
		if !seen[name] {
			unbound = append(unbound, name)
		}
	}
	sort.Strings(unbound)
	for _, name := range unbound {
		out = append(out, b.describe(name))
	}
	return out
}

func (b *Binder) describe(name string) Binding {
	regions := b.registry.RegionsFor(name)
	info := Binding{
		Name:    name,
		Regions: len(regions),
		Targets: make([]string, 0, len(regions)),
	}
	for _, r := range regions {
		info.Targets = append(info.Targets, r.String())
	}
	if entry, err := b.cache.Get(name); err == nil {
		info.Cached = true
		info.Kind = entry.Kind.String()
	}
	return info
}

// Document returns the bound document.
func (b *Binder) Document() *document.Document { return b.doc }

// Cache returns the template cache.
func (b *Binder) Cache() *cache.Cache { return b.cache }

// Registry returns the binding registry.
func (b *Binder) Registry() *binding.Registry { return b.registry }

// Loader returns the template loader.
func (b *Binder) Loader() *loader.Loader { return b.loader }

// Dispatcher returns the render dispatcher.
func (b *Binder) Dispatcher() *renderer.Dispatcher { return b.dispatcher }

// Config returns the configuration the binder was built with.
func (b *Binder) Config() *config.Config { return b.config }
