// Package testutils holds fixtures shared by package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tmplbind/internal/config"
)

// CreateTempProject writes files, keyed by slash-separated relative path,
// into a fresh temporary directory and returns it.
func CreateTempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

// CreateMemFs returns an in-memory filesystem holding files.
func CreateMemFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return fs
}

// CreateTestConfig returns the default configuration with templates loaded
// from baseDir under prefix.
func CreateTestConfig(baseDir, prefix string) *config.Config {
	cfg := config.Default()
	cfg.Loader.BaseDir = baseDir
	cfg.Binding.Prefix = prefix
	cfg.Log.Level = "error"
	return cfg
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// WaitForFileChange waits for the file at path to be modified after since.
func WaitForFileChange(t *testing.T, path string, since time.Time, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		info, err := os.Stat(path)
		return err == nil && info.ModTime().After(since)
	})
}
