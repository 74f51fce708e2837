package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempProject(t *testing.T) {
	dir := CreateTempProject(t, map[string]string{
		"index.html":       "<p></p>",
		"tpl/a/widget.hbs": "{{x}}",
	})

	content, err := os.ReadFile(filepath.Join(dir, "tpl", "a", "widget.hbs"))
	require.NoError(t, err)
	assert.Equal(t, "{{x}}", string(content))
	assert.FileExists(t, filepath.Join(dir, "index.html"))
}

func TestCreateMemFs(t *testing.T) {
	fs := CreateMemFs(t, map[string]string{"/tpl/widget.hbs": "hi"})

	content, err := afero.ReadFile(fs, "/tpl/widget.hbs")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestCreateTestConfig(t *testing.T) {
	cfg := CreateTestConfig("/site", "/tpl/")
	assert.Equal(t, "/site", cfg.Loader.BaseDir)
	assert.Equal(t, "/tpl/", cfg.Binding.Prefix)
	assert.Equal(t, "data-template", cfg.Binding.Attribute)
}

func TestWaitForFileChange(t *testing.T) {
	dir := CreateTempProject(t, map[string]string{"a.hbs": "one"})
	path := filepath.Join(dir, "a.hbs")
	since := time.Now().Add(-time.Second)

	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))
	WaitForFileChange(t, path, since, time.Second)
}
