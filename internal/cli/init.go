package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvgribko/jobsched/internal/config"
	"github.com/kvgribko/jobsched/internal/tui"
)

func newInitCmd() *cobra.Command {
	var (
		force       bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample config file",
		Long: `Init writes a sample config with a small job pipeline to path
(default .jobsched/config.yaml). The format follows the extension.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectPath()
			if len(args) == 1 {
				path = args[0]
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			cfg := config.SampleConfig()
			if interactive {
				if err := tui.NewSettingsForm(cfg).Run(); err != nil {
					return err
				}
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Edit scheduler, logging and storage settings in a form first")
	return cmd
}
