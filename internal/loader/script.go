package loader

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/conneroisu/tmplbind/internal/cache"
)

// ScriptRunner executes a script resource and returns the renderer the
// script registers under name. The caller installs it.
type ScriptRunner interface {
	Run(ctx context.Context, name string, script []byte) (cache.Entry, error)
}

// PrecompiledRunner stands in for script execution with renderers compiled
// into the binary. Running a script yields the precompiled renderer the
// script declares, so a page can reference "widget.js" and get the Go-side
// "widget" renderer once the script has been fetched.
//
// A script declares a name by assigning to templates["name"] or
// templates.name, as precompiled handlebars bundles do.
type PrecompiledRunner struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
}

// NewPrecompiledRunner returns an empty runner.
func NewPrecompiledRunner() *PrecompiledRunner {
	return &PrecompiledRunner{entries: make(map[string]cache.Entry)}
}

// Register makes entry available to scripts declaring name. Later
// registrations replace earlier ones.
func (p *PrecompiledRunner) Register(name string, entry cache.Entry) error {
	if !entry.Valid() {
		return fmt.Errorf("precompiled %s: entry has no renderer", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[name] = entry
	return nil
}

// RegisterRaw is Register for a raw renderer.
func (p *PrecompiledRunner) RegisterRaw(name string, fn cache.RawRenderer) error {
	return p.Register(name, cache.Raw(fn))
}

// Run returns the precompiled renderer for name if script declares it.
func (p *PrecompiledRunner) Run(ctx context.Context, name string, script []byte) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}
	if len(bytes.TrimSpace(script)) == 0 {
		return cache.Entry{}, fmt.Errorf("script for %s is empty", name)
	}
	if !Declares(script, name) {
		return cache.Entry{}, fmt.Errorf("script does not register %s", name)
	}

	p.mu.RLock()
	entry, ok := p.entries[name]
	p.mu.RUnlock()
	if !ok {
		return cache.Entry{}, fmt.Errorf("no precompiled renderer for %s", name)
	}
	return entry, nil
}

// Declares reports whether script assigns a template called name.
func Declares(script []byte, name string) bool {
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`templates\s*\[\s*['"]` + q + `['"]\s*\]\s*=|templates\.` + q + `\s*=`)
	return re.Match(script)
}
