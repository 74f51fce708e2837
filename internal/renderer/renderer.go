// Package renderer dispatches renders of cached templates and writes their
// markup into bound regions.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/conneroisu/tmplbind/internal/binding"
	"github.com/conneroisu/tmplbind/internal/cache"
	"github.com/conneroisu/tmplbind/internal/document"
	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/logging"
	"github.com/conneroisu/tmplbind/internal/tracing"
)

// Sanitize names a sanitisation policy applied to markup before it is
// written into regions.
type Sanitize string

const (
	SanitizeNone   Sanitize = "none"
	SanitizeUGC    Sanitize = "ugc"
	SanitizeStrict Sanitize = "strict"
)

// ParseSanitize parses a sanitisation policy name. The empty string is none.
func ParseSanitize(s string) (Sanitize, error) {
	switch Sanitize(s) {
	case "", SanitizeNone:
		return SanitizeNone, nil
	case SanitizeUGC:
		return SanitizeUGC, nil
	case SanitizeStrict:
		return SanitizeStrict, nil
	default:
		return "", fmt.Errorf("unknown sanitize policy %q", s)
	}
}

func (s Sanitize) policy() *bluemonday.Policy {
	switch s {
	case SanitizeUGC:
		return bluemonday.UGCPolicy()
	case SanitizeStrict:
		return bluemonday.StrictPolicy()
	default:
		return nil
	}
}

// Target is the document regions are written into. SetInnerHTML returns
// document.ErrDetached for regions no longer in the document.
type Target interface {
	SetInnerHTML(r document.Region, markup string) error
}

// RenderEvent reports one region write.
type RenderEvent struct {
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	Selector  string    `json:"selector"`
	Markup    string    `json:"markup"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher renders cached templates by name.
type Dispatcher struct {
	cache    *cache.Cache
	registry *binding.Registry
	target   Target
	sanitize Sanitize
	policy   *bluemonday.Policy
	logger   logging.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	rendering map[string]bool

	watchMu  sync.RWMutex
	watchers []chan RenderEvent
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSanitize sets the sanitisation policy.
func WithSanitize(s Sanitize) Option {
	return func(d *Dispatcher) {
		d.sanitize = s
		d.policy = s.policy()
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l.WithComponent("renderer")
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(p *tracing.Provider) Option {
	return func(d *Dispatcher) {
		d.tracer = p.Tracer()
	}
}

// New creates a Dispatcher writing into target.
func New(c *cache.Cache, r *binding.Registry, target Target, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:     c,
		registry:  r,
		target:    target,
		sanitize:  SanitizeNone,
		logger:    logging.NewNopLogger(),
		tracer:    noop.NewTracerProvider().Tracer("noop"),
		rendering: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Render returns the markup for name. Names bound to scoped renderers cannot
// hand out markup and fail with NotMarkupRenderer.
func (d *Dispatcher) Render(ctx context.Context, name string, data any) (out string, err error) {
	entry, err := d.cache.Get(name)
	if err != nil {
		return "", err
	}
	if entry.Kind == cache.KindScoped {
		return "", binderrors.NewNotMarkupRenderer(name)
	}

	if err := d.enter(name); err != nil {
		return "", err
	}
	defer d.leave(name)

	_, span := d.tracer.Start(ctx, "render", trace.WithAttributes(
		attribute.String("template.name", name),
	))
	defer func() { tracing.End(span, err) }()

	out, err = entry.Raw(data)
	if err != nil {
		return "", binderrors.NewRenderError(name, err)
	}
	return out, nil
}

// RenderInto renders name and writes the markup into every region bound to
// name that matches selector, in binding order. It returns the number of
// regions written. An empty selector or "*" selects every region.
func (d *Dispatcher) RenderInto(ctx context.Context, name string, data any, selector string) (n int, err error) {
	entry, err := d.cache.Get(name)
	if err != nil {
		return 0, err
	}
	m, err := document.CompileSelector(selector)
	if err != nil {
		return 0, err
	}

	if err := d.enter(name); err != nil {
		return 0, err
	}
	defer d.leave(name)

	ctx, span := d.tracer.Start(ctx, "render", trace.WithAttributes(
		attribute.String("template.name", name),
		attribute.String("render.selector", selector),
		attribute.String("render.kind", entry.Kind.String()),
	))
	defer func() {
		span.SetAttributes(attribute.Int("render.regions", n))
		tracing.End(span, err)
	}()

	if entry.Kind == cache.KindScoped {
		n, err = entry.Scoped(ctx, data, selector)
		if err != nil {
			return n, binderrors.NewRenderError(name, err)
		}
		return n, nil
	}

	markup, err := entry.Raw(data)
	if err != nil {
		return 0, binderrors.NewRenderError(name, err)
	}
	return d.write(ctx, name, markup, selector, m)
}

// Dispatch is the single render entry point. Without a selector it returns
// markup; with one it writes into the selected regions and returns "".
// Scoped entries always write, into every region when selector is empty.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, data any, selector string) (string, error) {
	entry, err := d.cache.Get(name)
	if err != nil {
		return "", err
	}
	if selector == "" && entry.Kind == cache.KindRaw {
		return d.Render(ctx, name, data)
	}
	_, err = d.RenderInto(ctx, name, data, selector)
	return "", err
}

// Scope wraps raw in a scoped renderer for name that writes into name's
// regions through this dispatcher.
func (d *Dispatcher) Scope(name string, raw cache.RawRenderer) cache.ScopedRenderer {
	return func(ctx context.Context, data any, selector string) (int, error) {
		m, err := document.CompileSelector(selector)
		if err != nil {
			return 0, err
		}
		markup, err := raw(data)
		if err != nil {
			return 0, err
		}
		return d.write(ctx, name, markup, selector, m)
	}
}

func (d *Dispatcher) write(ctx context.Context, name, markup, selector string, m document.Matcher) (int, error) {
	if selector == "" {
		selector = document.AllSelector
	}
	if d.policy != nil {
		markup = d.policy.Sanitize(markup)
	}

	regions := document.Filter(d.registry.RegionsFor(name), m)
	written := 0
	for _, region := range regions {
		err := d.target.SetInnerHTML(region, markup)
		if errors.Is(err, document.ErrDetached) {
			d.logger.Debug(ctx, "Skipping detached region", "name", name, "region", region.String())
			continue
		}
		if err != nil {
			return written, binderrors.NewRenderError(name, err)
		}
		written++
		d.notify(RenderEvent{
			Name:      name,
			Region:    region.String(),
			Selector:  selector,
			Markup:    markup,
			Timestamp: time.Now(),
		})
	}

	d.logger.Debug(ctx, "Rendered into regions", "name", name, "selector", selector, "regions", written)
	return written, nil
}

func (d *Dispatcher) enter(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rendering[name] {
		return binderrors.NewReentrantRender(name)
	}
	d.rendering[name] = true
	return nil
}

func (d *Dispatcher) leave(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rendering, name)
}

// Watch returns a channel receiving every region write.
func (d *Dispatcher) Watch() <-chan RenderEvent {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	ch := make(chan RenderEvent, 100)
	d.watchers = append(d.watchers, ch)
	return ch
}

// UnWatch removes and closes a channel returned by Watch.
func (d *Dispatcher) UnWatch(ch <-chan RenderEvent) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	for i, watcher := range d.watchers {
		if watcher == ch {
			close(watcher)
			d.watchers = append(d.watchers[:i], d.watchers[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) notify(event RenderEvent) {
	d.watchMu.RLock()
	defer d.watchMu.RUnlock()

	for _, ch := range d.watchers {
		select {
		case ch <- event:
		default:
			// Channel is full, skip
		}
	}
}
