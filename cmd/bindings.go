package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var bindingsCmd = &cobra.Command{
	Use:     "bindings <document>",
	Aliases: []string{"ls"},
	Short:   "List bound template names",
	Long: `Scan a document and list every bound template name with the number
of regions bound to it, whether its template is cached, and the bound
elements.

Examples:
  tmplbind bindings index.html         # Table
  tmplbind bindings index.html -o yaml # YAML`,
	Args: cobra.ExactArgs(1),
	RunE: runBindings,
}

var bindingsFlags *StandardFlags

func init() {
	rootCmd.AddCommand(bindingsCmd)

	bindingsFlags = AddStandardFlags(bindingsCmd, "output")
}

func runBindings(cmd *cobra.Command, args []string) error {
	if err := bindingsFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	s, err := newSession(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer s.Close(ctx)

	b, err := s.openAndScan(ctx)
	if err != nil {
		return err
	}

	bindings := b.Bindings()
	if len(bindings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No bindings found.")
		return nil
	}

	return writeOutput(cmd.OutOrStdout(), bindingsFlags.OutputFormat, bindings, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "NAME\tREGIONS\tCACHED\tKIND\tTARGETS")
		for _, bd := range bindings {
			kind := bd.Kind
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", bd.Name, bd.Regions, bd.Cached, kind, strings.Join(bd.Targets, " "))
		}
	})
}
