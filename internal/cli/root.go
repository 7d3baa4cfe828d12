// Package cli implements the jobsched command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kvgribko/jobsched/internal/config"
	"github.com/kvgribko/jobsched/internal/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	logFile   string
	logOut    io.Writer // overrides stderr, used by tests
}

// logger builds the process logger. Flags given on the command line win over
// the logging section of cfg.
func (o *globalOptions) logger(cmd *cobra.Command, cfg *config.Config) (zerolog.Logger, func(), error) {
	level, format := o.logLevel, o.logFormat
	if cfg != nil {
		if !cmd.Flags().Changed("log-level") && cfg.Logging.Level != "" {
			level = cfg.Logging.Level
		}
		if !cmd.Flags().Changed("log-format") && cfg.Logging.Format != "" {
			format = cfg.Logging.Format
		}
	}

	w := o.logOut
	closeFn := func() {}
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	log, err := logging.NewLogger(level, format, w)
	if err != nil {
		closeFn()
		return zerolog.Logger{}, nil, err
	}
	return log, closeFn, nil
}

// NewRootCmd creates the root cobra command for the jobsched CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "jobsched",
		Short: "jobsched runs dependent jobs under a cooperative scheduler",
		Long: `jobsched admits jobs declared in a config file into a bounded running set,
steps them cooperatively, retries failed attempts and honours start times and
dependencies. Scheduler state can be saved to a file or SQLite and resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", logging.FormatConsole, "Log format (console, text, json)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Append logs to this file instead of stderr")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newStateCmd(),
		newInitCmd(),
	)
	return root
}

// loadConfig reads path, or the conventional global and project files when
// path is empty, and validates the result.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
