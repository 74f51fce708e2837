package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <document>",
	Short: "Scan a document and load every bound template",
	Long: `Scan an HTML document for elements carrying the template attribute,
resolve each element to a template name, and load every template once.

The report lists the regions bound per name and which templates were
loaded, already cached, failed, or have no loader for their extension.

Examples:
  tmplbind scan index.html                 # Table report
  tmplbind scan index.html --prefix /tpl/  # Prepend a URI prefix
  tmplbind scan index.html -o json         # JSON report
  tmplbind scan index.html --strict        # Exit non-zero on any failure`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var (
	scanFlags  *StandardFlags
	scanStrict bool
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanFlags = AddStandardFlags(scanCmd, "output")
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "Fail when any template could not be loaded")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := scanFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	s, err := newSession(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer s.Close(ctx)

	b, err := s.open()
	if err != nil {
		return err
	}

	result, err := b.Scan(ctx)
	if err != nil {
		return err
	}

	if !scanFlags.Quiet {
		summary := result.Summary()
		err := writeOutput(cmd.OutOrStdout(), scanFlags.OutputFormat, result, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "NAME\tREGIONS\tSTATUS")
			names := make([]string, 0, len(summary.Bound))
			for name := range summary.Bound {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, summary.Bound[name], scanStatus(summary.Loaded, summary.Cached, summary.Failed, summary.Unsupported, name))
			}
		})
		if err != nil {
			return err
		}
	}

	if scanStrict && !result.OK() {
		return fmt.Errorf("scan failed for %s", strings.Join(append(result.FailedNames(), keys(result.Unsupported)...), ", "))
	}
	return nil
}

func scanStatus(loaded, cached []string, failed, unsupported map[string]string, name string) string {
	if msg, ok := failed[name]; ok {
		return "failed: " + msg
	}
	if msg, ok := unsupported[name]; ok {
		return "unsupported: " + msg
	}
	for _, n := range loaded {
		if n == name {
			return "loaded"
		}
	}
	for _, n := range cached {
		if n == name {
			return "cached"
		}
	}
	return "unknown"
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
