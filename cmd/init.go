package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tmplbind/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a .tmplbind.yml holding every setting at its default value.

Examples:
  tmplbind init          # Create .tmplbind.yml
  tmplbind init --force  # Overwrite an existing file`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initForce bool
	initPath  string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	initCmd.Flags().StringVar(&initPath, "path", config.FileName+".yml", "Configuration file to write")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteFile(config.Default(), initPath, initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initPath)
	return nil
}
