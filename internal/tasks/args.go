package tasks

import (
	"fmt"
	"math"
	"time"
)

// Args are the decoded arguments of a task declaration. Values come from JSON
// or YAML so numbers may be float64 or int.
type Args map[string]any

func (a Args) Str(key string, required bool) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", key, v)
	}
	if required && s == "" {
		return "", fmt.Errorf("argument %q cannot be empty", key)
	}
	return s, nil
}

func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %q: %v is not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q: want integer, got %T", key, v)
	}
}

// Duration accepts a Go duration string or a number of seconds.
func (a Args) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("argument %q: want duration, got %T", key, v)
	}
}

func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q[%d]: want string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q: want list of strings, got %T", key, v)
	}
}
