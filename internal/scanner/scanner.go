// Package scanner walks the marked regions of a document, records their
// bindings and loads every template the cache is missing.
//
// One Scan:
//   - finds every element carrying the binding attribute,
//   - resolves each element's URI (prefix + attribute value) to a logical
//     name and records the element under that name,
//   - collects one load candidate per name the cache lacks, the first URI
//     seen for a name winning,
//   - runs the loads on a bounded pool and waits for all of them.
//
// Scan returns once every load has finished. Failures are reported per name
// in the Result instead of leaving the scan pending.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/conneroisu/tmplbind/internal/binding"
	"github.com/conneroisu/tmplbind/internal/cache"
	"github.com/conneroisu/tmplbind/internal/document"
	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/loader"
	"github.com/conneroisu/tmplbind/internal/logging"
	"github.com/conneroisu/tmplbind/internal/naming"
	"github.com/conneroisu/tmplbind/internal/tracing"
)

// DefaultAttribute marks bound elements.
const DefaultAttribute = "data-template"

// Mode selects what a completed template load installs in the cache.
type Mode int

const (
	// ModePull installs raw renderers; callers get markup back or ask the
	// dispatcher to write it.
	ModePull Mode = iota
	// ModePush installs scoped renderers that write into their bound
	// regions and never return markup.
	ModePush
)

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == ModePush {
		return "push"
	}
	return "pull"
}

// RescanPolicy decides what happens to existing bindings when a scan sees
// a name again.
type RescanPolicy int

const (
	// RescanAccumulate appends, so a second scan of the same document binds
	// every element twice and a render writes it twice.
	RescanAccumulate RescanPolicy = iota
	// RescanReplace clears a name's regions the first time the scan sees
	// the name. Names the scan does not see keep their regions.
	RescanReplace
)

// String returns the string representation of the policy
func (p RescanPolicy) String() string {
	if p == RescanReplace {
		return "replace"
	}
	return "accumulate"
}

// Source is what a scan reads marked regions from.
type Source interface {
	Marked(attr string) []document.Region
}

// Scoper turns a raw renderer into a scoped one bound to name. The
// dispatcher provides it for push mode.
type Scoper func(name string, raw cache.RawRenderer) cache.ScopedRenderer

// Config configures a Scanner.
type Config struct {
	Attribute     string
	Mode          Mode
	Policy        RescanPolicy
	LoadTimeout   time.Duration
	MaxConcurrent int
}

// Scanner is the scan and load orchestrator for one cache and registry.
type Scanner struct {
	cache    *cache.Cache
	registry *binding.Registry
	loader   *loader.Loader
	logger   logging.Logger
	tracer   trace.Tracer
	scoper   Scoper
	config   Config

	mu        sync.RWMutex
	onFailure []func(name string, err error)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l.WithComponent("scanner")
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(p *tracing.Provider) Option {
	return func(s *Scanner) {
		s.tracer = p.Tracer()
	}
}

// WithScoper sets the scoped renderer factory used in push mode.
func WithScoper(fn Scoper) Option {
	return func(s *Scanner) {
		s.scoper = fn
	}
}

// New creates a Scanner.
func New(c *cache.Cache, r *binding.Registry, l *loader.Loader, cfg Config, opts ...Option) *Scanner {
	if cfg.Attribute == "" {
		cfg.Attribute = DefaultAttribute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	s := &Scanner{
		cache:    c,
		registry: r,
		loader:   l,
		logger:   logging.NewNopLogger(),
		tracer:   noop.NewTracerProvider().Tracer("noop"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnLoadFailure registers fn to be called once per failed load, before the
// scan that issued the load returns.
func (s *Scanner) OnLoadFailure(fn func(name string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = append(s.onFailure, fn)
}

// Result reports one scan.
type Result struct {
	ID     string
	Prefix string
	// Bound is the number of regions bound to each name seen by the scan,
	// counted after the scan.
	Bound map[string]int
	// Cached names were already in the cache and needed no load.
	Cached []string
	// Loaded names were fetched and are now renderable.
	Loaded []string
	// Failed names could not be fetched, compiled or run.
	Failed map[string]error
	// Unsupported names have a URI no loader handles.
	Unsupported map[string]error
	// Degenerate lists URIs without an extension.
	Degenerate []string
	Duration   time.Duration
}

// OK reports whether every missing template was loaded.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && len(r.Unsupported) == 0
}

// Err joins every failure, ordered by name.
func (r *Result) Err() error {
	var errs []error
	for _, name := range sortedKeys(r.Failed) {
		errs = append(errs, r.Failed[name])
	}
	for _, name := range sortedKeys(r.Unsupported) {
		errs = append(errs, r.Unsupported[name])
	}
	return errors.Join(errs...)
}

// Summary is the serialisable form of a Result, with errors as strings.
type Summary struct {
	ID          string            `json:"id" yaml:"id"`
	Prefix      string            `json:"prefix" yaml:"prefix"`
	Bound       map[string]int    `json:"bound" yaml:"bound"`
	Cached      []string          `json:"cached" yaml:"cached"`
	Loaded      []string          `json:"loaded" yaml:"loaded"`
	Failed      map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Unsupported map[string]string `json:"unsupported,omitempty" yaml:"unsupported,omitempty"`
	Degenerate  []string          `json:"degenerate,omitempty" yaml:"degenerate,omitempty"`
	DurationMs  int64             `json:"duration_ms" yaml:"duration_ms"`
}

// Summary returns r with its errors flattened to strings.
func (r *Result) Summary() Summary {
	return Summary{
		ID:          r.ID,
		Prefix:      r.Prefix,
		Bound:       r.Bound,
		Cached:      r.Cached,
		Loaded:      r.Loaded,
		Failed:      errorStrings(r.Failed),
		Unsupported: errorStrings(r.Unsupported),
		Degenerate:  r.Degenerate,
		DurationMs:  r.Duration.Milliseconds(),
	}
}

// MarshalJSON encodes the Summary.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Summary())
}

// MarshalYAML encodes the Summary.
func (r *Result) MarshalYAML() (interface{}, error) {
	return r.Summary(), nil
}

func errorStrings(m map[string]error) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, err := range m {
		out[k] = err.Error()
	}
	return out
}

// FailedNames returns the names whose load failed, sorted.
func (r *Result) FailedNames() []string {
	return sortedKeys(r.Failed)
}

type candidate struct {
	name string
	uri  string
}

type outcome struct {
	name string
	err  error
}

// Scan scans src with the configured re-scan policy.
func (s *Scanner) Scan(ctx context.Context, src Source, prefix string) (*Result, error) {
	return s.scan(ctx, src, prefix, s.config.Policy)
}

// Rescan scans src, replacing the regions of every name it sees when clear
// is set and appending to them otherwise.
func (s *Scanner) Rescan(ctx context.Context, src Source, prefix string, clear bool) (*Result, error) {
	policy := RescanAccumulate
	if clear {
		policy = RescanReplace
	}
	return s.scan(ctx, src, prefix, policy)
}

// ScanAsync runs Scan in a new goroutine and calls onComplete exactly once
// with its outcome.
func (s *Scanner) ScanAsync(ctx context.Context, src Source, prefix string, onComplete func(*Result, error)) {
	go func() {
		result, err := s.Scan(ctx, src, prefix)
		if onComplete != nil {
			onComplete(result, err)
		}
	}()
}

func (s *Scanner) scan(ctx context.Context, src Source, prefix string, policy RescanPolicy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{
		ID:          uuid.NewString(),
		Prefix:      prefix,
		Bound:       make(map[string]int),
		Failed:      make(map[string]error),
		Unsupported: make(map[string]error),
	}
	logger := s.logger.With("scan_id", result.ID)
	perf := logging.StartOperation(logger, "scan")

	ctx, span := s.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.String("scan.id", result.ID),
		attribute.String("scan.prefix", prefix),
		attribute.String("scan.policy", policy.String()),
	))
	defer span.End()

	attr := s.config.Attribute
	regions := src.Marked(attr)

	var candidates []candidate
	seen := make(map[string]bool)
	cleared := make(map[string]bool)
	cached := make(map[string]bool)
	degenerate := make(map[string]bool)

	for _, region := range regions {
		value, _ := region.Attr(attr)
		uri := prefix + value
		name := naming.Resolve(uri)

		if policy == RescanReplace && !cleared[name] {
			s.registry.Reset(name)
			cleared[name] = true
		}
		s.registry.Record(name, region)
		result.Bound[name] = 0

		if naming.IsDegenerate(uri) && !degenerate[uri] {
			degenerate[uri] = true
			result.Degenerate = append(result.Degenerate, uri)
			logger.Warn(ctx, binderrors.NewDegenerateName(name, uri), "Template URI has no extension",
				"name", name, "uri", uri, "region", region.String())
		}

		if seen[name] {
			continue
		}
		seen[name] = true

		if s.cache.Has(name) {
			cached[name] = true
			continue
		}

		if s.loader.KindOf(uri) == loader.KindUnsupported {
			err := binderrors.NewUnsupportedExtension(name, uri, naming.Ext(uri))
			result.Unsupported[name] = err
			logger.Warn(ctx, err, "No loader for template URI", "name", name, "uri", uri)
			continue
		}

		candidates = append(candidates, candidate{name: name, uri: uri})
	}

	for _, o := range s.loadAll(ctx, logger, candidates) {
		if o.err != nil {
			result.Failed[o.name] = o.err
			s.notifyFailure(o.name, o.err)
			continue
		}
		result.Loaded = append(result.Loaded, o.name)
	}

	for name := range result.Bound {
		result.Bound[name] = s.registry.Len(name)
	}
	result.Cached = sortedKeys(cached)
	sort.Strings(result.Loaded)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("scan.regions", len(regions)),
		attribute.Int("scan.loaded", len(result.Loaded)),
		attribute.Int("scan.failed", len(result.Failed)),
	)
	perf.End(ctx,
		"regions", len(regions),
		"names", len(result.Bound),
		"loaded", len(result.Loaded),
		"failed", len(result.Failed),
	)
	if !result.OK() {
		logger.Warn(ctx, result.Err(), "Scan finished with failures", "failed", result.FailedNames())
	}

	return result, nil
}

// loadAll issues one load per candidate and waits for all of them.
func (s *Scanner) loadAll(ctx context.Context, logger logging.Logger, candidates []candidate) []outcome {
	if len(candidates) == 0 {
		return nil
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(s.config.MaxConcurrent)
	for _, c := range candidates {
		c := c
		p.Go(func() outcome {
			return outcome{name: c.name, err: s.load(ctx, logger, c)}
		})
	}
	return p.Wait()
}

func (s *Scanner) load(ctx context.Context, logger logging.Logger, c candidate) (err error) {
	ctx, span := s.tracer.Start(ctx, "load", trace.WithAttributes(
		attribute.String("template.name", c.name),
		attribute.String("template.uri", c.uri),
	))
	defer func() { tracing.End(span, err) }()

	if s.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.LoadTimeout)
		defer cancel()
	}

	out, err := s.loader.Load(ctx, c.name, c.uri)
	if err != nil {
		logger.Error(ctx, err, "Template load failed", "name", c.name, "uri", c.uri)
		return err
	}

	if !s.cache.Set(c.name, s.entryFor(c.name, out.Entry)) {
		logger.Debug(ctx, "Template already cached by another load", "name", c.name)
	}
	logger.Debug(ctx, "Template loaded", "name", c.name, "uri", c.uri, "script", out.Script)
	return nil
}

// entryFor wraps raw entries in push mode. Scoped entries pass through.
func (s *Scanner) entryFor(name string, entry cache.Entry) cache.Entry {
	if entry.Kind == cache.KindRaw && s.config.Mode == ModePush && s.scoper != nil {
		return cache.Scoped(s.scoper(name, entry.Raw))
	}
	return entry
}

func (s *Scanner) notifyFailure(name string, err error) {
	s.mu.RLock()
	callbacks := make([]func(string, error), len(s.onFailure))
	copy(callbacks, s.onFailure)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(name, err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
