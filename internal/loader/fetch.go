package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/tmplbind/internal/validation"
)

// maxResourceSize caps how much of a template resource is read.
const maxResourceSize = 8 << 20

// Fetcher retrieves a resource by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// HTTPFetcher fetches http and https URIs.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher whose client times out after timeout. A
// zero timeout leaves cancellation to the caller's context.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch issues a GET for uri. Any non-2xx status is a failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxResourceSize {
		return nil, fmt.Errorf("resource exceeds %d bytes", maxResourceSize)
	}
	return body, nil
}

// FSFetcher reads resources from a filesystem. Leading "file://" is
// stripped from URIs.
type FSFetcher struct {
	Fs afero.Fs
}

// NewFSFetcher returns a fetcher over fs. When baseDir is set, URIs are
// resolved under it and cannot escape it.
func NewFSFetcher(fs afero.Fs, baseDir string) *FSFetcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if baseDir != "" {
		fs = afero.NewBasePathFs(fs, baseDir)
	}
	return &FSFetcher{Fs: fs}
}

// Fetch reads the file named by uri.
func (f *FSFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(uri, "file://")
	info, err := f.Fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxResourceSize {
		return nil, fmt.Errorf("resource exceeds %d bytes", maxResourceSize)
	}
	return afero.ReadFile(f.Fs, path)
}

// SchemeFetcher sends http and https URIs to HTTP and everything else to
// File.
type SchemeFetcher struct {
	HTTP Fetcher
	File Fetcher
}

// Fetch validates uri and dispatches on its scheme.
func (f *SchemeFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := validation.ValidateURI(uri); err != nil {
		return nil, fmt.Errorf("rejected %s: %w", uri, err)
	}

	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if f.HTTP == nil {
			return nil, fmt.Errorf("no http fetcher configured for %s", uri)
		}
		return f.HTTP.Fetch(ctx, uri)
	}
	if f.File == nil {
		return nil, fmt.Errorf("no file fetcher configured for %s", uri)
	}
	return f.File.Fetch(ctx, uri)
}
