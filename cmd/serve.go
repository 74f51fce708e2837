package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tmplbind/internal/server"
	"github.com/conneroisu/tmplbind/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve <document>",
	Short: "Serve a document with live re-rendering",
	Long: `Scan a document and serve it over HTTP. Rendering a template through
POST /render/{name} pushes a reload to every connected browser. With --watch
the document and template directories are watched and the document is
re-bound whenever a file changes.

Examples:
  tmplbind serve index.html
  tmplbind serve index.html --port 3000 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

var serveWatch bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Re-bind the document when files change")

	bindPFlags(serveCmd, map[string]string{
		"port": "server.port",
		"host": "server.host",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	b, err := s.openAndScan(ctx)
	if err != nil {
		return err
	}

	srv := server.New(s.config, b, s.logger)

	if serveWatch {
		fw, err := watcher.NewFileWatcher(s.config.Watch.Debounce, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}

		for _, dir := range watchRoots(s.path, s.config.Loader.BaseDir) {
			if err := fw.AddRecursive(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
		}

		exts := append(b.Loader().Extensions(), ".html", ".htm")
		fw.AddFilter(watcher.ExtFilter(exts...))
		fw.AddFilter(watcher.NoHiddenFilter)
		fw.AddFilter(watcher.NoEditorTempFilter)

		// The cache is write-once, so a change re-binds a fresh document
		fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
			s.logger.Info(ctx, "Files changed, re-binding", "count", len(events))
			fresh, err := s.openAndScan(ctx)
			if err != nil {
				return err
			}
			srv.SetBinder(fresh)
			return nil
		})

		if err := fw.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		defer fw.Stop()
	}

	return srv.Start(ctx)
}

// watchRoots returns the directories holding the document and the
// templates, without duplicates.
func watchRoots(documentPath, baseDir string) []string {
	docDir := filepath.Dir(documentPath)
	if baseDir == "" {
		return []string{docDir}
	}
	base, err := filepath.Abs(baseDir)
	if err != nil || base == docDir {
		return []string{docDir}
	}
	return []string{docDir, base}
}
