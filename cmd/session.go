package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/tmplbind/internal/binder"
	"github.com/conneroisu/tmplbind/internal/config"
	"github.com/conneroisu/tmplbind/internal/document"
	"github.com/conneroisu/tmplbind/internal/logging"
	"github.com/conneroisu/tmplbind/internal/tracing"
)

// session holds what every document command needs: configuration, a
// logger, a tracer and a binder over the document.
type session struct {
	config *config.Config
	logger logging.Logger
	tracer *tracing.Provider
	path   string
}

// newSession loads configuration and sets up logging and tracing for the
// document at path. Loader paths resolve against the document's directory
// unless loader.base_dir is set.
func newSession(path string) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if cfg.Loader.BaseDir == "" {
		cfg.Loader.BaseDir = filepath.Dir(absPath)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: "tmplbind",
	})

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	return &session{config: cfg, logger: logger, tracer: tracer, path: absPath}, nil
}

// open parses the document and builds a fresh binder over it.
func (s *session) open() (*binder.Binder, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := document.Parse(f)
	if err != nil {
		return nil, err
	}

	return binder.New(s.config, doc,
		binder.WithLogger(s.logger),
		binder.WithTracer(s.tracer),
	)
}

// openAndScan opens the document and scans it once.
func (s *session) openAndScan(ctx context.Context) (*binder.Binder, error) {
	b, err := s.open()
	if err != nil {
		return nil, err
	}
	result, err := b.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		s.logger.Warn(ctx, result.Err(), "Some templates could not be loaded")
	}
	return b, nil
}

// Close flushes pending spans.
func (s *session) Close(ctx context.Context) {
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, err, "Tracer shutdown failed")
	}
}
