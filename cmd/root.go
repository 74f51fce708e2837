// Package cmd provides the command-line interface for tmplbind with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	The CLI supports configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --prefix, --port, etc.) - highest priority
//	2. TMPLBIND_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (TMPLBIND_BINDING_PREFIX, etc.)
//	4. Configuration files (.tmplbind.yml) - lowest priority
//
// Environment Variables:
//
//	TMPLBIND_CONFIG_FILE: Path to custom configuration file
//	TMPLBIND_BINDING_PREFIX: URI prefix prepended to every binding
//	TMPLBIND_LOADER_TIMEOUT: Per-template load timeout
//	And more following the TMPLBIND_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tmplbind/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tmplbind",
	Short: "Bind HTML regions to external templates and render them on demand",
	Long: `tmplbind binds elements of an HTML document marked with a template
attribute to externally stored templates, loads and caches each template once
by name, and renders bound regions on demand, optionally only the regions
matching a CSS selector.

Supported templates:
  .handlebars .hbs    Handlebars
  .pongo2 .django     Django-style (pongo2)
  .tmpl .gohtml       Go html/template
  .js                 Precompiled template bundles

Quick Start:
  tmplbind init                                  Write a default .tmplbind.yml
  tmplbind scan index.html                       Scan and load templates
  tmplbind bindings index.html                   List bound names
  tmplbind render index.html widget --data '{}'  Render one template
  tmplbind serve index.html --watch              Live server`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .tmplbind.yml, can also use TMPLBIND_CONFIG_FILE env var)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("prefix", "", "URI prefix prepended to every template attribute")
	flags.String("attribute", "data-template", "attribute marking bound elements")
	flags.String("mode", "pull", "render mode (pull, push)")
	flags.String("rescan", "accumulate", "re-scan policy (accumulate, replace)")
	flags.String("sanitize", "none", "sanitise rendered markup (none, ugc, strict)")

	bindPFlags(rootCmd, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"prefix":     "binding.prefix",
		"attribute":  "binding.attribute",
		"mode":       "binding.mode",
		"rescan":     "binding.rescan",
		"sanitize":   "render.sanitize",
	})
}

// bindPFlags binds persistent and local flags to viper keys.
func bindPFlags(cmd *cobra.Command, bindings map[string]string) {
	for flagName, key := range bindings {
		flag := cmd.PersistentFlags().Lookup(flagName)
		if flag == nil {
			flag = cmd.Flags().Lookup(flagName)
		}
		if flag != nil {
			_ = viper.BindPFlag(key, flag)
		}
	}
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. TMPLBIND_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .tmplbind.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	config.SetDefaults(viper.GetViper())

	// TMPLBIND_LOADER_TIMEOUT, TMPLBIND_SERVER_PORT, ...
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file falls back to defaults
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
