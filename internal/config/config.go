// Package config provides configuration management for tmplbind using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration supports YAML files (.tmplbind.yml), environment
// variable overrides with the TMPLBIND_ prefix, and validation. It covers
// the binding attribute and re-scan policy, template loading, render
// sanitisation, the live server, file watching, tracing and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tmplbind/internal/tracing"
)

// FileName is the default configuration file name, without extension.
const FileName = ".tmplbind"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TMPLBIND"

type Config struct {
	Binding BindingConfig  `yaml:"binding" mapstructure:"binding"`
	Loader  LoaderConfig   `yaml:"loader" mapstructure:"loader"`
	Render  RenderConfig   `yaml:"render" mapstructure:"render"`
	Server  ServerConfig   `yaml:"server" mapstructure:"server"`
	Watch   WatchConfig    `yaml:"watch" mapstructure:"watch"`
	Log     LogConfig      `yaml:"log" mapstructure:"log"`
	Tracing tracing.Config `yaml:"tracing" mapstructure:"tracing"`
}

type BindingConfig struct {
	Attribute string `yaml:"attribute" mapstructure:"attribute"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Mode      string `yaml:"mode" mapstructure:"mode"`
	Rescan    string `yaml:"rescan" mapstructure:"rescan"`
}

type LoaderConfig struct {
	BaseDir       string        `yaml:"base_dir" mapstructure:"base_dir"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

type RenderConfig struct {
	Sanitize string `yaml:"sanitize" mapstructure:"sanitize"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// CSP sends a nonce-based Content-Security-Policy with the document.
	CSP bool `yaml:"csp" mapstructure:"csp"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Binding: BindingConfig{
			Attribute: "data-template",
			Mode:      "pull",
			Rescan:    "accumulate",
		},
		Loader: LoaderConfig{
			Timeout:       10 * time.Second,
			MaxConcurrent: 8,
		},
		Render: RenderConfig{Sanitize: "none"},
		Server: ServerConfig{Host: "localhost", Port: 8080},
		Watch:  WatchConfig{Debounce: 300 * time.Millisecond},
		Log:    LogConfig{Level: "info", Format: "text"},
		Tracing: tracing.DefaultConfig(),
	}
}

// SetDefaults registers every key with its default so that environment
// overrides apply to keys no flag or file mentions.
func SetDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("binding.attribute", def.Binding.Attribute)
	v.SetDefault("binding.prefix", def.Binding.Prefix)
	v.SetDefault("binding.mode", def.Binding.Mode)
	v.SetDefault("binding.rescan", def.Binding.Rescan)
	v.SetDefault("loader.base_dir", def.Loader.BaseDir)
	v.SetDefault("loader.timeout", def.Loader.Timeout)
	v.SetDefault("loader.max_concurrent", def.Loader.MaxConcurrent)
	v.SetDefault("render.sanitize", def.Render.Sanitize)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.csp", def.Server.CSP)
	v.SetDefault("watch.debounce", def.Watch.Debounce)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.exporter", def.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", def.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)
}

// Load reads the configuration held by the global viper instance, fills in
// defaults for anything unset and validates the result.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance. Defaults are registered
// on v first, so a key that is never set takes its default while an
// explicit zero, such as port 0 for an ephemeral port, is kept.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	def := Default()

	if config.Binding.Attribute == "" {
		config.Binding.Attribute = def.Binding.Attribute
	}
	if config.Binding.Mode == "" {
		config.Binding.Mode = def.Binding.Mode
	}
	if config.Binding.Rescan == "" {
		config.Binding.Rescan = def.Binding.Rescan
	}

	if config.Loader.Timeout == 0 {
		config.Loader.Timeout = def.Loader.Timeout
	}
	if config.Loader.MaxConcurrent == 0 {
		config.Loader.MaxConcurrent = def.Loader.MaxConcurrent
	}

	if config.Render.Sanitize == "" {
		config.Render.Sanitize = def.Render.Sanitize
	}

	if config.Server.Host == "" {
		config.Server.Host = def.Server.Host
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = def.Watch.Debounce
	}

	if config.Log.Level == "" {
		config.Log.Level = def.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = def.Log.Format
	}

	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = def.Tracing.Exporter
	}
	if config.Tracing.OTLPEndpoint == "" {
		config.Tracing.OTLPEndpoint = def.Tracing.OTLPEndpoint
	}
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateBindingConfig(&config.Binding); err != nil {
		return fmt.Errorf("binding config: %w", err)
	}

	if err := validateLoaderConfig(&config.Loader); err != nil {
		return fmt.Errorf("loader config: %w", err)
	}

	if err := oneOf("sanitize", config.Render.Sanitize, "none", "ugc", "strict"); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: debounce must not be negative")
	}

	if err := oneOf("level", strings.ToLower(config.Log.Level), "debug", "info", "warn", "warning", "error"); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := oneOf("format", config.Log.Format, "text", "json"); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := oneOf("exporter", config.Tracing.Exporter, "none", "stdout", "otlp"); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}

	return nil
}

// validateBindingConfig validates binding configuration values
func validateBindingConfig(config *BindingConfig) error {
	if strings.ContainsAny(config.Attribute, " \t\n\"'=<>[]") {
		return fmt.Errorf("attribute %q is not a valid attribute name", config.Attribute)
	}
	if err := oneOf("mode", config.Mode, "pull", "push"); err != nil {
		return err
	}
	return oneOf("rescan", config.Rescan, "accumulate", "replace")
}

// validateLoaderConfig validates loader configuration values
func validateLoaderConfig(config *LoaderConfig) error {
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if config.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative")
	}

	if config.BaseDir != "" {
		cleanPath := filepath.Clean(config.BaseDir)

		// Reject path traversal attempts
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("base_dir contains path traversal: %s", config.BaseDir)
		}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q must be one of %s", field, value, strings.Join(allowed, ", "))
}

// WriteFile writes config as YAML to filename. An existing file is not
// overwritten unless force is set.
func WriteFile(config *Config, filename string, force bool) error {
	if !force {
		if _, err := os.Stat(filename); err == nil {
			return fmt.Errorf("%s already exists", filename)
		}
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# tmplbind configuration\n"
	if err := os.WriteFile(filename, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
