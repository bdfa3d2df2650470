package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"levelcube/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		output    string
		printOnly bool
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.Marshal(config.Default())
			if err != nil {
				return err
			}
			if printOnly {
				_, err := cmd.OutOrStdout().Write(b)
				return err
			}
			return writeConfigFile(output, b, yes)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "levelcube.yaml", "destination path")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print to stdout instead of writing a file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "overwrite an existing file")
	return cmd
}

func writeConfigFile(path string, b []byte, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --yes to overwrite)", path)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", path)
	return nil
}
