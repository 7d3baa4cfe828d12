// Package tasks provides the built-in task kinds that configuration files
// can declare: mkdir, read_file, http_get, exec, sleep and fail.
package tasks

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kvgribko/jobsched/internal/logging"
	"github.com/kvgribko/jobsched/internal/scheduler"
)

// Task kinds.
const (
	KindMkdir    = "mkdir"
	KindReadFile = "read_file"
	KindHTTPGet  = "http_get"
	KindExec     = "exec"
	KindSleep    = "sleep"
	KindFail     = "fail"
)

type builder func(f *Factory, name string, args Args) (scheduler.Task, error)

var builders = map[string]builder{
	KindMkdir:    buildMkdir,
	KindReadFile: buildReadFile,
	KindHTTPGet:  buildHTTPGet,
	KindExec:     buildExec,
	KindSleep:    buildSleep,
	KindFail:     buildFail,
}

// Kinds returns the supported task kinds in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(builders))
	for k := range builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Factory builds tasks from declarations. The zero value is not usable; use
// NewFactory.
type Factory struct {
	// Dir is the working directory for relative paths and commands.
	Dir       string
	Client    *http.Client
	Breakers  *BreakerRegistry
	Processes *ProcessManager
	logger    zerolog.Logger
}

// NewFactory creates a factory with a default HTTP client, breaker registry
// and process manager. A nil logger disables task logging.
func NewFactory(logger *zerolog.Logger) *Factory {
	l := logging.Component(logger, "tasks")
	return &Factory{
		Client:    &http.Client{},
		Breakers:  NewBreakerRegistry(l),
		Processes: NewProcessManager(),
		logger:    l,
	}
}

// Build returns a task named name of the given kind.
func (f *Factory) Build(name, kind string, args map[string]any) (scheduler.Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name cannot be empty")
	}
	b, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	t, err := b(f, name, Args(args))
	if err != nil {
		return nil, fmt.Errorf("task %s (%s): %w", name, kind, err)
	}
	return t, nil
}

// Declaration names a task and its kind, as read from a config file.
type Declaration struct {
	Name string
	Kind string
	Args map[string]any
}

// BuildRegistry builds every declaration and registers the results.
func (f *Factory) BuildRegistry(decls []Declaration) (*scheduler.Registry, error) {
	reg, err := scheduler.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, d := range decls {
		t, err := f.Build(d.Name, d.Kind, d.Args)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
