package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCmd(global *globalOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and print the jobs in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			log, closeLog, err := global.logger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			p, err := buildPlan(cfg, &log, nil)
			if err != nil {
				return err
			}
			if _, err := p.submitNew(); err != nil {
				return err
			}
			order, err := p.sched.Validate()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d jobs OK\n", len(order))
			for i, id := range order {
				job, _ := p.sched.Job(id)
				line := fmt.Sprintf("%3d. %s", i+1, id)
				if deps := job.DependsOn(); len(deps) > 0 {
					line += " <- " + strings.Join(deps, ", ")
				}
				if start, ok := job.StartTime(); ok {
					line += " @ " + start.String()
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.jobsched/config.yaml merged with .jobsched/config.yaml)")
	return cmd
}
