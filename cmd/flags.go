package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Render flags
	Data     string `flag:"data,d" desc:"Render data (JSON or @file.json)" default:""`
	DataFile string `flag:"data-file" desc:"Render data file (JSON)" default:""`
	Selector string `flag:"selector,s" desc:"CSS selector of the regions to write" default:""`

	// Output flags
	OutputFormat string `flag:"output,o" desc:"Output format (table|json|yaml)" default:"table"`
	Quiet        bool   `flag:"quiet,q" desc:"Suppress output" default:"false"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "render":
			addRenderFlags(cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addRenderFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.Data, "data", "d", "", "Render data (JSON or @file.json)")
	cmd.Flags().StringVar(&flags.DataFile, "data-file", "", "Render data file (JSON)")
	cmd.Flags().StringVarP(&flags.Selector, "selector", "s", "", "CSS selector of the regions to write (* for all)")
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress output")

	AddFlagValidation(cmd, "output", func(format string) error {
		return validateChoice("output format", format, outputFormats)
	})
}

// ParseData parses render data with support for file references. Any JSON
// value is accepted; no data is an empty object.
func (f *StandardFlags) ParseData() (interface{}, error) {
	var data interface{}

	source, raw := "data", f.Data
	switch {
	case f.DataFile != "":
		source, raw = f.DataFile, "@"+f.DataFile
		fallthrough
	case strings.HasPrefix(raw, "@"):
		filename := strings.TrimPrefix(raw, "@")
		content, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read data file %s: %w", filename, err)
		}
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("invalid JSON in data file %s: %w", filename, err)
		}
		return data, nil
	case raw != "":
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("invalid JSON in %s: %w", source, err)
		}
		return data, nil
	}

	return map[string]interface{}{}, nil
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	if f.Data != "" && f.DataFile != "" {
		return fmt.Errorf("cannot specify both --data and --data-file")
	}
	if f.OutputFormat != "" {
		if err := validateChoice("output format", f.OutputFormat, outputFormats); err != nil {
			return err
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

func validateChoice(what, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q, must be one of: %s", what, value, strings.Join(allowed, ", "))
}
