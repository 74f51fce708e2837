package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tmplbind/internal/cache"
	binderrors "github.com/conneroisu/tmplbind/internal/errors"
	"github.com/conneroisu/tmplbind/internal/testutils"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tpl/a/widget.handlebars":
			_, _ = w.Write([]byte("<h1>{{title}}</h1>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)

	body, err := f.Fetch(context.Background(), srv.URL+"/tpl/a/widget.handlebars")
	require.NoError(t, err)
	assert.Equal(t, "<h1>{{title}}</h1>", string(body))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.hbs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPFetcher(0).Fetch(ctx, srv.URL+"/slow.hbs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFSFetcher(t *testing.T) {
	fs := testutils.CreateMemFs(t, map[string]string{"/site/tpl/a/widget.hbs": "hi"})

	f := NewFSFetcher(fs, "/site")
	body, err := f.Fetch(context.Background(), "/tpl/a/widget.hbs")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	body, err = f.Fetch(context.Background(), "file:///tpl/a/widget.hbs")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	_, err = f.Fetch(context.Background(), "/tpl/missing.hbs")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "/tpl")
	assert.Error(t, err)
}

func TestSchemeFetcher(t *testing.T) {
	var got []string
	record := func(prefix string) Fetcher {
		return FetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
			got = append(got, prefix+uri)
			return nil, nil
		})
	}
	f := &SchemeFetcher{HTTP: record("http:"), File: record("file:")}

	_, _ = f.Fetch(context.Background(), "https://cdn.example.com/a.hbs")
	_, _ = f.Fetch(context.Background(), "HTTP://cdn.example.com/b.hbs")
	_, _ = f.Fetch(context.Background(), "/tpl/c.hbs")

	assert.Equal(t, []string{
		"http:https://cdn.example.com/a.hbs",
		"http:HTTP://cdn.example.com/b.hbs",
		"file:/tpl/c.hbs",
	}, got)

	_, err := (&SchemeFetcher{}).Fetch(context.Background(), "/x.hbs")
	assert.Error(t, err)

	got = nil
	_, err = f.Fetch(context.Background(), "/tpl/../../etc/c.hbs")
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "ftp://cdn.example.com/d.hbs")
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestCompilers(t *testing.T) {
	data := map[string]any{"title": "hello world"}

	tests := []struct {
		name     string
		compiler Compiler
		src      string
		want     string
	}{
		{"handlebars", NewHandlebarsCompiler(nil), "<h1>{{title}}</h1>", "<h1>hello world</h1>"},
		{"handlebars titleCase helper", NewHandlebarsCompiler(nil), "{{titleCase title}}", "Hello World"},
		{"handlebars upperCase helper", NewHandlebarsCompiler(nil), "{{upperCase title}}", "HELLO WORLD"},
		{"handlebars lowerCase helper", NewHandlebarsCompiler(nil), "{{lowerCase (upperCase title)}}", "hello world"},
		{"pongo2", Pongo2Compiler{}, "<h1>{{ title }}</h1>", "<h1>hello world</h1>"},
		{"go template", GoTemplateCompiler{}, "<h1>{{.title}}</h1>", "<h1>hello world</h1>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			render, err := tt.compiler.Compile("widget", []byte(tt.src))
			require.NoError(t, err)
			out, err := render(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestHandlebars_FieldsNamedLikeCaseHelpers(t *testing.T) {
	render, err := NewHandlebarsCompiler(nil).Compile("widget", []byte("<h1>{{title}}</h1><p>{{upper}}/{{lower}}</p>"))
	require.NoError(t, err)

	out, err := render(map[string]any{"title": "Hi", "upper": "A", "lower": "b"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1><p>A/b</p>", out)
}

func TestHandlebars_ExtraHelpers(t *testing.T) {
	c := NewHandlebarsCompiler(map[string]interface{}{
		"shout": func(s string) string { return s + "!" },
	})
	render, err := c.Compile("widget", []byte("{{shout title}} {{titleCase title}}"))
	require.NoError(t, err)

	out, err := render(map[string]any{"title": "hey you"})
	require.NoError(t, err)
	assert.Equal(t, "hey you! Hey You", out)
}

func TestCompilers_SyntaxErrors(t *testing.T) {
	_, err := NewHandlebarsCompiler(nil).Compile("bad", []byte("{{#if}}"))
	assert.Error(t, err)

	_, err = Pongo2Compiler{}.Compile("bad", []byte("{% if %}"))
	assert.Error(t, err)

	_, err = GoTemplateCompiler{}.Compile("bad", []byte("{{.x"))
	assert.Error(t, err)
}

func TestPongo2_StructContext(t *testing.T) {
	render, err := Pongo2Compiler{}.Compile("card", []byte("{{ Title }}/{{ data }}"))
	require.NoError(t, err)

	out, err := render(struct{ Title string }{Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, "T/", out)

	out, err = render("scalar")
	require.NoError(t, err)
	assert.Equal(t, "/scalar", out)
}

func TestDeclares(t *testing.T) {
	assert.True(t, Declares([]byte(`Handlebars.templates["other"] = Handlebars.template({})`), "other"))
	assert.True(t, Declares([]byte(`templates['other']=fn`), "other"))
	assert.True(t, Declares([]byte(`Handlebars.templates.other = fn`), "other"))
	assert.False(t, Declares([]byte(`templates["another"] = fn`), "other"))
	assert.False(t, Declares([]byte(`console.log("other")`), "other"))
	assert.True(t, Declares([]byte(`templates["card.min"] = fn`), "card.min"))
}

func TestPrecompiledRunner(t *testing.T) {
	runner := NewPrecompiledRunner()
	require.NoError(t, runner.RegisterRaw("other", func(any) (string, error) { return "<p>other</p>", nil }))
	assert.Error(t, runner.Register("broken", cache.Entry{}))

	ctx := context.Background()

	for _, script := range []string{"   ", `templates["nope"] = x`} {
		_, err := runner.Run(ctx, "other", []byte(script))
		assert.Error(t, err)
	}
	_, err := runner.Run(ctx, "missing", []byte(`templates["missing"] = x`))
	assert.Error(t, err)

	entry, err := runner.Run(ctx, "other", []byte(`Handlebars.templates["other"] = x`))
	require.NoError(t, err)
	assert.Equal(t, cache.KindRaw, entry.Kind)
	markup, err := entry.Raw(nil)
	require.NoError(t, err)
	assert.Equal(t, "<p>other</p>", markup)
}

func TestLoader_KindOf(t *testing.T) {
	l := New(nil)

	assert.Equal(t, KindTemplate, l.KindOf("/tpl/a/widget.handlebars"))
	assert.Equal(t, KindTemplate, l.KindOf("widget.HBS"))
	assert.Equal(t, KindTemplate, l.KindOf("card.pongo2"))
	assert.Equal(t, KindTemplate, l.KindOf("card.gohtml"))
	assert.Equal(t, KindScript, l.KindOf("b/other.js"))
	assert.Equal(t, KindUnsupported, l.KindOf("b/other.txt"))
	assert.Equal(t, KindUnsupported, l.KindOf("b/plain"))

	custom := New(nil, WithoutExt(".js"), WithScriptExt("mjs"), WithCompiler("mustache", NewHandlebarsCompiler(nil)))
	assert.Equal(t, KindUnsupported, custom.KindOf("a.js"))
	assert.Equal(t, KindScript, custom.KindOf("a.mjs"))
	assert.Equal(t, KindTemplate, custom.KindOf("a.mustache"))
	assert.Contains(t, custom.Extensions(), ".mustache")
	assert.Equal(t, "script", KindScript.String())
}

func TestLoader_Load(t *testing.T) {
	fs := testutils.CreateMemFs(t, map[string]string{
		"/tpl/a/widget.handlebars": "<h1>{{title}}</h1>",
		"/tpl/b/other.js":          `Handlebars.templates["other"] = Handlebars.template({});`,
		"/tpl/b/silent.js":         `console.log("nothing")`,
		"/tpl/a/broken.hbs":        "{{#each}}",
	})
	runner := NewPrecompiledRunner()
	require.NoError(t, runner.RegisterRaw("other", func(any) (string, error) { return "other", nil }))

	l := New(NewFSFetcher(fs, ""), WithScriptRunner(runner))
	ctx := context.Background()

	t.Run("template source", func(t *testing.T) {
		out, err := l.Load(ctx, "widget", "/tpl/a/widget.handlebars")
		require.NoError(t, err)
		require.Equal(t, cache.KindRaw, out.Entry.Kind)
		assert.False(t, out.Script)
		markup, err := out.Entry.Raw(map[string]any{"title": "Hi"})
		require.NoError(t, err)
		assert.Equal(t, "<h1>Hi</h1>", markup)
	})

	t.Run("script", func(t *testing.T) {
		out, err := l.Load(ctx, "other", "/tpl/b/other.js")
		require.NoError(t, err)
		assert.True(t, out.Script)
		require.True(t, out.Entry.Valid())
		markup, err := out.Entry.Raw(nil)
		require.NoError(t, err)
		assert.Equal(t, "other", markup)
	})

	t.Run("script that registers nothing", func(t *testing.T) {
		_, err := l.Load(ctx, "silent", "/tpl/b/silent.js")
		require.Error(t, err)
		assert.True(t, binderrors.IsLoadFailure(err))
	})

	t.Run("missing resource", func(t *testing.T) {
		_, err := l.Load(ctx, "gone", "/tpl/gone.hbs")
		require.Error(t, err)
		assert.True(t, binderrors.IsLoadFailure(err))
		assert.Equal(t, "gone", binderrors.NameOf(err))
	})

	t.Run("compile error", func(t *testing.T) {
		_, err := l.Load(ctx, "broken", "/tpl/a/broken.hbs")
		require.Error(t, err)
		assert.True(t, binderrors.IsLoadFailure(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := l.Load(ctx, "notes", "/tpl/notes.txt")
		require.Error(t, err)
		assert.True(t, binderrors.IsUnsupportedExtension(err))
	})
}

func TestHandlebars_EscapesValues(t *testing.T) {
	render, err := NewHandlebarsCompiler(nil).Compile("widget", []byte("<p>{{body}}</p><div>{{{body}}}</div>"))
	require.NoError(t, err)

	out, err := render(map[string]any{"body": "<b>x</b>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;x&lt;/b&gt;</p><div><b>x</b></div>", out)
}
