package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kvgribko/jobsched/internal/events"
	"github.com/kvgribko/jobsched/internal/persistence"
	"github.com/kvgribko/jobsched/internal/runner"
	"github.com/kvgribko/jobsched/internal/tui"
)

// ErrJobsFailed is returned by run when at least one job failed.
var ErrJobsFailed = errors.New("some jobs failed")

type runOptions struct {
	configPath string
	storage    storageFlags
	resume     bool
	useTUI     bool
	maxTicks   int
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs declared in a config file",
		Long: `Run submits every job of the config to a scheduler and ticks it until all
jobs completed or failed. With --resume the scheduler is first restored from
the snapshot store; config jobs missing from the snapshot are added.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: ~/.jobsched/config.yaml merged with .jobsched/config.yaml)")
	opts.storage.register(cmd)
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Restore the scheduler from the snapshot store before running")
	cmd.Flags().BoolVar(&opts.useTUI, "tui", false, "Show the terminal UI")
	cmd.Flags().IntVar(&opts.maxTicks, "max-ticks", 0, "Stop after this many ticks (0 = no limit)")

	return cmd
}

func runJobs(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// The TUI owns the terminal, so logs only go to --log-file.
	if opts.useTUI && global.logFile == "" && global.logOut == nil {
		global.logOut = io.Discard
	}
	log, closeLog, err := global.logger(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	bus := events.NewEventBus()
	p, err := buildPlan(cfg, &log, bus)
	if err != nil {
		return err
	}

	st, err := opts.storage.open(ctx, cfg)
	if err != nil && !errors.Is(err, errNoStorage) {
		return err
	}
	defer st.Close()

	rcfg := runner.Config{
		TickInterval:  cfg.Scheduler.TickInterval.Std(),
		MaxTicks:      opts.maxTicks,
		AutosaveEvery: cfg.Storage.AutosaveEvery,
		Bus:           bus,
		Logger:        &log,
	}
	if st != nil {
		rcfg.Store = st.store
		if st.db != nil {
			rcfg.Recorder = st.db
		}
	}
	r := runner.New(rcfg, p.sched)

	if opts.resume {
		if st == nil {
			return fmt.Errorf("--resume: %w", errNoStorage)
		}
		err := r.Resume(ctx)
		switch {
		case errors.Is(err, persistence.ErrSnapshotNotFound):
			log.Info().Str("store", st.where).Msg("no snapshot to resume, starting fresh")
		case err != nil:
			return fmt.Errorf("resuming from %s: %w", st.where, err)
		}
	}
	if _, err := p.submitNew(); err != nil {
		return err
	}
	if _, err := p.sched.Validate(); err != nil {
		return err
	}

	// Kill child processes of exec tasks on interrupt.
	stopKill := context.AfterFunc(ctx, func() {
		if err := p.factory.Processes.KillAll(); err != nil {
			log.Warn().Err(err).Msg("failed to kill subprocesses")
		}
	})
	defer stopKill()

	var res runner.Result
	if opts.useTUI {
		res, err = runWithTUI(ctx, r, bus)
	} else {
		res, err = r.Run(ctx)
	}

	printSummary(out, p, res)
	if err != nil {
		return err
	}
	if res.Counts.Failed > 0 {
		return ErrJobsFailed
	}
	return nil
}

// runWithTUI runs r while the TUI renders its events. Quitting the TUI
// cancels the run.
func runWithTUI(ctx context.Context, r *runner.Runner, bus *events.EventBus) (runner.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(bus, "jobsched")
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(os.Stderr))

	type outcome struct {
		res runner.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(ctx)
		done <- outcome{res, err}
	}()

	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return runner.Result{}, fmt.Errorf("terminal UI: %w", err)
	}
	cancel()
	o := <-done
	return o.res, o.err
}

func printSummary(w io.Writer, p *plan, res runner.Result) {
	fmt.Fprintf(w, "%d ticks: %d completed, %d failed, %d unfinished\n",
		res.Ticks, res.Counts.Completed, res.Counts.Failed, res.Counts.Pending+res.Counts.Running)
	for _, id := range p.sched.Failed() {
		job, _ := p.sched.Job(id)
		fmt.Fprintf(w, "  failed %s: %v\n", id, job.LastError())
	}
}

