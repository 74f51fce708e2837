package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tmplbind/internal/cache"
)

var renderCmd = &cobra.Command{
	Use:   "render <document> <name>",
	Short: "Render a bound template",
	Long: `Scan a document, then render the named template with the given data.

Without --selector the rendered markup is printed. With --selector the markup
is written into the bound regions matching the selector ("*" for all) and
the updated document is printed, or written to --out.

Examples:
  tmplbind render index.html widget --data '{"title":"Hi"}'
  tmplbind render index.html widget --data @data.json --selector .active
  tmplbind render index.html widget -s '*' --out rendered.html`,
	Args: cobra.ExactArgs(2),
	RunE: runRender,
}

var (
	renderFlags *StandardFlags
	renderOut   string
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderFlags = AddStandardFlags(renderCmd, "render")
	renderCmd.Flags().StringVar(&renderOut, "out", "", "Write the updated document to this file")
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := renderFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	data, err := renderFlags.ParseData()
	if err != nil {
		return err
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

	name := args[1]
	entry, err := b.Cache().Get(name)
	if err != nil {
		return err
	}

	if renderFlags.Selector == "" && entry.Kind == cache.KindRaw {
		markup, err := b.Render(ctx, name, data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), markup)
		return nil
	}

	n, err := b.RenderInto(ctx, name, data, renderFlags.Selector)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "Rendered into regions", "name", name, "regions", n)

	html, err := b.Document().HTML()
	if err != nil {
		return err
	}
	if renderOut != "" {
		return os.WriteFile(renderOut, []byte(html), 0644)
	}
	fmt.Fprintln(cmd.OutOrStdout(), html)
	return nil
}
