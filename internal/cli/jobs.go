package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kvgribko/jobsched/internal/config"
	"github.com/kvgribko/jobsched/internal/events"
	"github.com/kvgribko/jobsched/internal/scheduler"
	"github.com/kvgribko/jobsched/internal/tasks"
)

// plan is a scheduler built from a config together with the jobs it declares.
type plan struct {
	sched   *scheduler.Scheduler
	jobs    []*scheduler.Job
	factory *tasks.Factory
}

// buildPlan turns the job declarations of cfg into tasks and jobs. Each job
// gets its own task named after the job, so a restored snapshot can find it.
// Jobs are not submitted.
func buildPlan(cfg *config.Config, log *zerolog.Logger, bus *events.EventBus) (*plan, error) {
	factory := tasks.NewFactory(log)

	decls := make([]tasks.Declaration, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		decls = append(decls, tasks.Declaration{Name: j.ID, Kind: j.Task.Kind, Args: j.Task.Args})
	}
	reg, err := factory.BuildRegistry(decls)
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Debug().Strs("tasks", reg.Names()).Msg("task registry built")
	}

	mode, err := scheduler.ParseAttemptMode(cfg.Scheduler.Mode)
	if err != nil {
		return nil, err
	}
	schedCfg := scheduler.Config{
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
		Mode:           mode,
		FailDependents: cfg.Scheduler.FailDependents,
		Logger:         log,
		Registry:       reg,
	}
	if bus != nil {
		schedCfg.Publisher = bus
	}

	p := &plan{sched: scheduler.New(schedCfg), factory: factory}
	for _, jc := range cfg.Jobs {
		task, _ := reg.Lookup(jc.ID)
		job, err := newJob(jc, task)
		if err != nil {
			return nil, err
		}
		p.jobs = append(p.jobs, job)
	}
	return p, nil
}

func newJob(jc config.JobConfig, task scheduler.Task) (*scheduler.Job, error) {
	opts := []scheduler.Option{
		scheduler.WithDurationLimit(jc.DurationLimit.Std()),
		scheduler.WithMaxRestarts(jc.MaxRestarts),
	}
	if len(jc.DependsOn) > 0 {
		opts = append(opts, scheduler.WithDependencies(jc.DependsOn...))
	}
	if jc.StartTime != "" {
		start, err := scheduler.ParseTimeOfDay(jc.StartTime)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jc.ID, err)
		}
		opts = append(opts, scheduler.WithStartTime(start))
	}
	return scheduler.NewJob(jc.ID, task, opts...)
}

// submitNew submits the jobs the scheduler does not know yet and returns how
// many were submitted.
func (p *plan) submitNew() (int, error) {
	n := 0
	for _, job := range p.jobs {
		if _, known := p.sched.Job(job.ID()); known {
			continue
		}
		if err := p.sched.Submit(job); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
