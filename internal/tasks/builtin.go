package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kvgribko/jobsched/internal/scheduler"
)

// resolve makes a relative path relative to the factory directory.
func (f *Factory) resolve(path string) string {
	if filepath.IsAbs(path) || f.Dir == "" {
		return path
	}
	return filepath.Join(f.Dir, path)
}

func buildMkdir(f *Factory, name string, args Args) (scheduler.Task, error) {
	path, err := args.Str("path", true)
	if err != nil {
		return nil, err
	}
	return scheduler.FuncTask(name, func(ctx context.Context) error {
		if err := os.MkdirAll(f.resolve(path), 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", path, err)
		}
		return nil
	}), nil
}

func buildReadFile(f *Factory, name string, args Args) (scheduler.Task, error) {
	path, err := args.Str("path", true)
	if err != nil {
		return nil, err
	}
	return scheduler.FuncTask(name, func(ctx context.Context) error {
		data, err := os.ReadFile(f.resolve(path))
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		f.logger.Info().
			Str("task", name).
			Str("path", path).
			Str("size", humanize.Bytes(uint64(len(data)))).
			Msg("file read")
		return nil
	}), nil
}

// ErrHTTPStatus is returned by http_get tasks for non-2xx responses.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

func buildHTTPGet(f *Factory, name string, args Args) (scheduler.Task, error) {
	rawURL, err := args.Str("url", true)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("argument \"url\": %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("argument \"url\": unsupported scheme %q", u.Scheme)
	}
	timeout, err := args.Duration("timeout", 0)
	if err != nil {
		return nil, err
	}

	return scheduler.FuncTask(name, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cb := f.Breakers.Get(u.Host)
		result, err := cb.Execute(func() (interface{}, error) {
			return f.get(ctx, rawURL)
		})
		if err != nil {
			return fmt.Errorf("GET %s: %w", rawURL, err)
		}

		f.logger.Info().
			Str("task", name).
			Str("url", rawURL).
			Str("size", humanize.Bytes(uint64(result.(int64)))).
			Msg("fetched")
		return nil
	}), nil
}

// get fetches rawURL and returns the number of body bytes read.
func (f *Factory) get(ctx context.Context, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return n, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	if err != nil {
		return n, fmt.Errorf("reading body: %w", err)
	}
	return n, nil
}

func buildExec(f *Factory, name string, args Args) (scheduler.Task, error) {
	command, err := args.Str("command", true)
	if err != nil {
		return nil, err
	}
	cmdArgs, err := args.Strings("args")
	if err != nil {
		return nil, err
	}
	dir, err := args.Str("dir", false)
	if err != nil {
		return nil, err
	}

	return scheduler.FuncTask(name, func(ctx context.Context) error {
		workdir := f.Dir
		if dir != "" {
			workdir = f.resolve(dir)
		}
		stdout, _, err := f.Processes.Run(ctx, workdir, command, cmdArgs...)
		if err != nil {
			return err
		}
		f.logger.Debug().
			Str("task", name).
			Str("command", command).
			Str("output", humanize.Bytes(uint64(len(stdout)))).
			Msg("command finished")
		return nil
	}), nil
}

func buildSleep(f *Factory, name string, args Args) (scheduler.Task, error) {
	total, err := args.Duration("duration", time.Second)
	if err != nil {
		return nil, err
	}
	steps, err := args.Int("steps", 1)
	if err != nil {
		return nil, err
	}
	if total < 0 {
		return nil, fmt.Errorf("argument \"duration\" cannot be negative")
	}
	if steps < 1 {
		return nil, fmt.Errorf("argument \"steps\" must be at least 1")
	}

	each := total / time.Duration(steps)
	return scheduler.NewTask(name, func() scheduler.Execution {
		done := 0
		return scheduler.StepFunc(func(ctx context.Context) (bool, error) {
			timer := time.NewTimer(each)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-timer.C:
			}
			done++
			return done >= steps, nil
		})
	}), nil
}

func buildFail(f *Factory, name string, args Args) (scheduler.Task, error) {
	msg, err := args.Str("message", false)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		msg = "task failed"
	}
	return scheduler.FuncTask(name, func(ctx context.Context) error {
		return errors.New(msg)
	}), nil
}
