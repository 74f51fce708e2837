package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError string
		check       func(t *testing.T, c *Config)
	}{
		{
			name:  "defaults",
			setup: func(v *viper.Viper) {},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, Default(), c)
			},
		},
		{
			name:  "unset port takes the default",
			setup: func(v *viper.Viper) { v.Set("server.host", "0.0.0.0") },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 8080, c.Server.Port)
				assert.Equal(t, "0.0.0.0", c.Server.Host)
			},
		},
		{
			name:  "explicit port zero is kept",
			setup: func(v *viper.Viper) { v.Set("server.port", 0) },
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 0, c.Server.Port)
			},
		},
		{
			name: "custom binding",
			setup: func(v *viper.Viper) {
				v.Set("binding.attribute", "data-tpl")
				v.Set("binding.prefix", "/tpl/")
				v.Set("binding.mode", "push")
				v.Set("binding.rescan", "replace")
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, BindingConfig{Attribute: "data-tpl", Prefix: "/tpl/", Mode: "push", Rescan: "replace"}, c.Binding)
			},
		},
		{
			name: "durations from strings",
			setup: func(v *viper.Viper) {
				v.Set("loader.timeout", "2s")
				v.Set("watch.debounce", "50ms")
				v.Set("loader.max_concurrent", 3)
			},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 2*time.Second, c.Loader.Timeout)
				assert.Equal(t, 50*time.Millisecond, c.Watch.Debounce)
				assert.Equal(t, 3, c.Loader.MaxConcurrent)
			},
		},
		{
			name: "tracing section",
			setup: func(v *viper.Viper) {
				v.Set("tracing.enabled", true)
				v.Set("tracing.exporter", "otlp")
				v.Set("tracing.otlp_endpoint", "collector:4317")
			},
			check: func(t *testing.T, c *Config) {
				assert.True(t, c.Tracing.Enabled)
				assert.Equal(t, "otlp", c.Tracing.Exporter)
				assert.Equal(t, "collector:4317", c.Tracing.OTLPEndpoint)
				assert.Equal(t, "tmplbind", c.Tracing.ServiceName)
			},
		},
		{
			name:        "invalid mode",
			setup:       func(v *viper.Viper) { v.Set("binding.mode", "eager") },
			expectError: "binding config",
		},
		{
			name:        "invalid rescan policy",
			setup:       func(v *viper.Viper) { v.Set("binding.rescan", "merge") },
			expectError: "rescan",
		},
		{
			name:        "invalid attribute",
			setup:       func(v *viper.Viper) { v.Set("binding.attribute", "data template") },
			expectError: "attribute",
		},
		{
			name:        "invalid sanitize",
			setup:       func(v *viper.Viper) { v.Set("render.sanitize", "loose") },
			expectError: "render config",
		},
		{
			name:        "port out of range",
			setup:       func(v *viper.Viper) { v.Set("server.port", 70000) },
			expectError: "port 70000",
		},
		{
			name:        "dangerous host",
			setup:       func(v *viper.Viper) { v.Set("server.host", "localhost;rm") },
			expectError: "dangerous character",
		},
		{
			name:        "base dir traversal",
			setup:       func(v *viper.Viper) { v.Set("loader.base_dir", "../outside") },
			expectError: "path traversal",
		},
		{
			name:        "unknown exporter",
			setup:       func(v *viper.Viper) { v.Set("tracing.exporter", "zipkin") },
			expectError: "tracing config",
		},
		{
			name:        "unparsable port",
			setup:       func(v *viper.Viper) { v.Set("server.port", "invalid_port") },
			expectError: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			config, err := LoadFrom(v)
			if tt.expectError != "" || tt.check == nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}

			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestLoad_GlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("server.port", 9090)

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Server.Port)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.BindEnv("binding.prefix"))
	t.Setenv("TMPLBIND_BINDING_PREFIX", "/env/")

	config, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "/env/", config.Binding.Prefix)
}

func TestSetDefaults_EnablesEnvironment(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	t.Setenv("TMPLBIND_LOADER_TIMEOUT", "750ms")
	t.Setenv("TMPLBIND_SERVER_PORT", "9191")

	config, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, config.Loader.Timeout)
	assert.Equal(t, 9191, config.Server.Port)
	assert.Equal(t, "data-template", config.Binding.Attribute)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName+".yml")
	want := Default()
	want.Binding.Prefix = "/tpl/"
	want.Loader.Timeout = 3 * time.Second

	require.NoError(t, WriteFile(want, path, false))
	assert.Error(t, WriteFile(want, path, false), "existing file is kept")
	require.NoError(t, WriteFile(want, path, true))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	got, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
