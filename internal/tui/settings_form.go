package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/kvgribko/jobsched/internal/config"
)

// SettingsForm edits the scheduler, logging and storage sections of a config.
type SettingsForm struct {
	form *huh.Form
	cfg  *config.Config

	// Form field bindings (strings for huh)
	maxConcurrent  string
	tickInterval   string
	mode           string
	failDependents bool
	logLevel       string
	logFormat      string
	driver         string
	path           string
	snapshot       string
}

// NewSettingsForm creates a form pre-filled from cfg. Run or Apply write the
// answers back into cfg.
func NewSettingsForm(cfg *config.Config) *SettingsForm {
	f := &SettingsForm{
		cfg:            cfg,
		maxConcurrent:  strconv.Itoa(cfg.Scheduler.MaxConcurrent),
		tickInterval:   cfg.Scheduler.TickInterval.String(),
		mode:           cfg.Scheduler.Mode,
		failDependents: cfg.Scheduler.FailDependents,
		logLevel:       cfg.Logging.Level,
		logFormat:      cfg.Logging.Format,
		driver:         cfg.Storage.Driver,
		path:           cfg.Storage.Path,
		snapshot:       cfg.Storage.Snapshot,
	}
	f.buildForm()
	return f
}

func (f *SettingsForm) buildForm() {
	f.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("maxConcurrent").
				Title("Max concurrent jobs").
				Value(&f.maxConcurrent).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("tickInterval").
				Title("Tick interval").
				Value(&f.tickInterval).
				Placeholder("100ms").
				Validate(validateDuration),

			huh.NewSelect[string]().
				Key("mode").
				Title("Attempt mode").
				Options(
					huh.NewOption("Whole attempt per tick", "whole"),
					huh.NewOption("One step per tick", "stepwise"),
				).
				Value(&f.mode),

			huh.NewConfirm().
				Key("failDependents").
				Title("Fail jobs whose dependency failed?").
				Value(&f.failDependents),
		).Title("Scheduler"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&f.logLevel),

			huh.NewSelect[string]().
				Key("logFormat").
				Title("Log format").
				Options(huh.NewOptions("console", "text", "json")...).
				Value(&f.logFormat),
		).Title("Logging"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("driver").
				Title("Snapshot storage").
				Options(
					huh.NewOption("None", config.DriverNone),
					huh.NewOption("State file (JSON or YAML)", config.DriverFile),
					huh.NewOption("SQLite database", config.DriverSQLite),
				).
				Value(&f.driver),

			huh.NewInput().
				Key("path").
				Title("State file or database path").
				Value(&f.path).
				Placeholder(".jobsched/state.json"),

			huh.NewInput().
				Key("snapshot").
				Title("Snapshot name (SQLite only)").
				Value(&f.snapshot).
				Placeholder("default"),
		).Title("Storage"),
	)
}

// Run shows the form in the terminal and applies the answers.
func (f *SettingsForm) Run() error {
	if err := f.form.Run(); err != nil {
		return err
	}
	return f.Apply()
}

// Apply copies the form values into the config and validates the result.
func (f *SettingsForm) Apply() error {
	n, err := strconv.Atoi(f.maxConcurrent)
	if err != nil {
		return fmt.Errorf("max concurrent: %w", err)
	}
	tick, err := time.ParseDuration(f.tickInterval)
	if err != nil {
		return fmt.Errorf("tick interval: %w", err)
	}

	f.cfg.Scheduler.MaxConcurrent = n
	f.cfg.Scheduler.TickInterval = config.Duration(tick)
	f.cfg.Scheduler.Mode = f.mode
	f.cfg.Scheduler.FailDependents = f.failDependents
	f.cfg.Logging.Level = f.logLevel
	f.cfg.Logging.Format = f.logFormat
	f.cfg.Storage.Driver = f.driver
	f.cfg.Storage.Path = f.path
	f.cfg.Storage.Snapshot = f.snapshot
	if f.driver == config.DriverNone {
		f.cfg.Storage.Path = ""
	}

	return f.cfg.Validate()
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("enter a whole number of at least 1")
	}
	return nil
}

func validateDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("enter a duration such as 250ms or 1s")
	}
	return nil
}
