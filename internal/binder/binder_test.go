package binder

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tmplbind/internal/config"
	"github.com/conneroisu/tmplbind/internal/document"
	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/loader"
)

const page = `<html><body>
<section id="hero" class="active" data-template="a/widget.handlebars"></section>
<section id="side" data-template="a/widget.handlebars"></section>
<footer data-template="b/other.js"></footer>
</body></html>`

const widgetSource = `<h1>{{title}}</h1>`

func newBinder(t *testing.T, files map[string]string, mutate func(*config.Config), opts ...Option) *Binder {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0644))
	}

	doc, err := document.ParseString(page)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Binding.Prefix = "/tpl/"
	if mutate != nil {
		mutate(cfg)
	}

	b, err := New(cfg, doc, append([]Option{WithFs(fs)}, opts...)...)
	require.NoError(t, err)
	return b
}

func TestBinder_PrefixScenario(t *testing.T) {
	runner := loader.NewPrecompiledRunner()
	require.NoError(t, runner.RegisterRaw("other", func(data any) (string, error) {
		return "<small>footer</small>", nil
	}))

	b := newBinder(t, map[string]string{
		"/tpl/a/widget.handlebars": widgetSource,
		"/tpl/b/other.js":          `templates["other"] = function() {};`,
	}, nil, WithLoaderOptions(loader.WithScriptRunner(runner)))

	result, err := b.Scan(context.Background())
	require.NoError(t, err)

	assert.True(t, result.OK(), "%v", result.Err())
	assert.Equal(t, []string{"other", "widget"}, result.Loaded)
	assert.Equal(t, 2, b.Registry().Len("widget"))
	assert.Equal(t, 1, b.Registry().Len("other"))

	data := map[string]any{"title": "Hi"}
	raw, err := loader.NewHandlebarsCompiler(nil).Compile("widget", []byte(widgetSource))
	require.NoError(t, err)
	want, err := raw(data)
	require.NoError(t, err)

	got, err := b.Render(context.Background(), "widget", data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	n, err := b.RenderInto(context.Background(), "widget", data, ".active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	html, err := b.Document().HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `<section id="hero" class="active" data-template="a/widget.handlebars"><h1>Hi</h1></section>`)
	assert.Contains(t, html, `<section id="side" data-template="a/widget.handlebars"></section>`)
}

func TestBinder_FailingScriptFetch(t *testing.T) {
	b := newBinder(t, map[string]string{
		"/tpl/a/widget.handlebars": widgetSource,
	}, nil)

	var failures []string
	b.OnLoadFailure(func(name string, err error) { failures = append(failures, name) })

	result, err := b.Scan(context.Background())
	require.NoError(t, err)

	require.Contains(t, result.Failed, "other")
	assert.True(t, binderrors.IsLoadFailure(result.Failed["other"]))
	assert.Equal(t, []string{"other"}, failures)
	assert.Equal(t, []string{"widget"}, result.Loaded)

	_, err = b.Render(context.Background(), "other", nil)
	assert.True(t, binderrors.IsTemplateNotFound(err))
}

func TestBinder_PushMode(t *testing.T) {
	b := newBinder(t, map[string]string{
		"/tpl/a/widget.handlebars": widgetSource,
	}, func(c *config.Config) { c.Binding.Mode = "push" })

	_, err := b.Scan(context.Background())
	require.NoError(t, err)

	_, err = b.Render(context.Background(), "widget", nil)
	assert.ErrorIs(t, err, binderrors.ErrNotMarkupRenderer)

	out, err := b.Dispatch(context.Background(), "widget", map[string]any{"title": "All"}, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	html, err := b.Document().HTML()
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(html, "<h1>All</h1>"))
}

func TestBinder_PushModeScripts(t *testing.T) {
	runner := loader.NewPrecompiledRunner()
	require.NoError(t, runner.RegisterRaw("other", func(data any) (string, error) {
		return "<small>footer</small>", nil
	}))

	b := newBinder(t, map[string]string{
		"/tpl/a/widget.handlebars": widgetSource,
		"/tpl/b/other.js":          `templates["other"] = function() {};`,
	}, func(c *config.Config) { c.Binding.Mode = "push" }, WithLoaderOptions(loader.WithScriptRunner(runner)))

	result, err := b.Scan(context.Background())
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Err())

	require.Len(t, b.Bindings(), 2)
	for _, binding := range b.Bindings() {
		assert.Equal(t, "scoped", binding.Kind, binding.Name)
	}

	_, err = b.Render(context.Background(), "other", nil)
	assert.ErrorIs(t, err, binderrors.ErrNotMarkupRenderer)

	out, err := b.Dispatch(context.Background(), "other", nil, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	html, err := b.Document().HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `<footer data-template="b/other.js"><small>footer</small></footer>`)
}

func TestBinder_RescanPolicies(t *testing.T) {
	files := map[string]string{"/tpl/a/widget.handlebars": widgetSource}

	accumulate := newBinder(t, files, nil)
	for i := 0; i < 2; i++ {
		_, err := accumulate.Scan(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 4, accumulate.Registry().Len("widget"))

	replace := newBinder(t, files, func(c *config.Config) { c.Binding.Rescan = "replace" })
	for i := 0; i < 2; i++ {
		_, err := replace.Scan(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, replace.Registry().Len("widget"))

	_, err := accumulate.Rescan(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, accumulate.Registry().Len("widget"))
}

func TestBinder_Bindings(t *testing.T) {
	b := newBinder(t, map[string]string{
		"/tpl/a/widget.handlebars": widgetSource,
	}, nil)
	_, err := b.Scan(context.Background())
	require.NoError(t, err)

	bindings := b.Bindings()
	require.Len(t, bindings, 2)

	assert.Equal(t, Binding{
		Name:    "widget",
		Regions: 2,
		Cached:  true,
		Kind:    "raw",
		Targets: []string{"section#hero.active", "section#side"},
	}, bindings[0])
	assert.Equal(t, Binding{
		Name:    "other",
		Regions: 1,
		Targets: []string{"footer"},
	}, bindings[1])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	doc, err := document.ParseString(page)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Render.Sanitize = "loose"
	_, err = New(cfg, doc)
	assert.Error(t, err)

	b, err := New(nil, doc)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), b.Config())
}
