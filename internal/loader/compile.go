package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/flosch/pongo2/v6"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/tmplbind/internal/cache"
)

// Compiler turns template source into a renderer.
type Compiler interface {
	Compile(name string, src []byte) (cache.RawRenderer, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(name string, src []byte) (cache.RawRenderer, error)

// Compile calls f.
func (f CompilerFunc) Compile(name string, src []byte) (cache.RawRenderer, error) {
	return f(name, src)
}

// defaultHelpers are available to every handlebars template. Raymond
// resolves a helper before a data field of the same name, so the helper
// names must not read like field names.
func defaultHelpers() map[string]interface{} {
	title := cases.Title(language.English)
	return map[string]interface{}{
		"titleCase": func(s string) string { return title.String(s) },
		"upperCase": func(s string) string { return strings.ToUpper(s) },
		"lowerCase": func(s string) string { return strings.ToLower(s) },
	}
}

// HandlebarsCompiler compiles handlebars sources.
type HandlebarsCompiler struct {
	Helpers map[string]interface{}
}

// NewHandlebarsCompiler returns a compiler with the default helpers plus
// extra. Extra helpers override defaults of the same name.
func NewHandlebarsCompiler(extra map[string]interface{}) *HandlebarsCompiler {
	helpers := defaultHelpers()
	for k, v := range extra {
		helpers[k] = v
	}
	return &HandlebarsCompiler{Helpers: helpers}
}

// Compile parses src and returns a renderer executing it.
func (c *HandlebarsCompiler) Compile(name string, src []byte) (cache.RawRenderer, error) {
	tpl, err := raymond.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("compile handlebars %s: %w", name, err)
	}
	if len(c.Helpers) > 0 {
		tpl.RegisterHelpers(c.Helpers)
	}
	return func(data any) (string, error) {
		return tpl.Exec(data)
	}, nil
}

// Pongo2Compiler compiles Django-style sources.
type Pongo2Compiler struct{}

// Compile parses src and returns a renderer executing it.
func (Pongo2Compiler) Compile(name string, src []byte) (cache.RawRenderer, error) {
	tpl, err := pongo2.FromBytes(src)
	if err != nil {
		return nil, fmt.Errorf("compile pongo2 %s: %w", name, err)
	}
	return func(data any) (string, error) {
		return tpl.Execute(toContext(data))
	}, nil
}

// GoTemplateCompiler compiles html/template sources.
type GoTemplateCompiler struct {
	Funcs template.FuncMap
}

// Compile parses src and returns a renderer executing it.
func (c GoTemplateCompiler) Compile(name string, src []byte) (cache.RawRenderer, error) {
	tpl := template.New(name)
	if len(c.Funcs) > 0 {
		tpl = tpl.Funcs(c.Funcs)
	}
	tpl, err := tpl.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("compile go template %s: %w", name, err)
	}
	return func(data any) (string, error) {
		var buf bytes.Buffer
		if err := tpl.Execute(&buf, data); err != nil {
			return "", err
		}
		return buf.String(), nil
	}, nil
}

// toContext converts arbitrary data into the map pongo2 expects. Non-map
// values are round-tripped through JSON; values that are not objects end up
// under "data".
func toContext(data any) pongo2.Context {
	switch v := data.(type) {
	case nil:
		return pongo2.Context{}
	case pongo2.Context:
		return v
	case map[string]any:
		return pongo2.Context(v)
	}

	raw, err := json.Marshal(data)
	if err == nil {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil && m != nil {
			return pongo2.Context(m)
		}
	}
	return pongo2.Context{"data": data}
}
