package scheduler

import "fmt"

// Status represents the current lifecycle state of a job.
type Status int

const (
	StatusPending                Status = iota // Submitted, never driven
	StatusWaitingForTime                       // Start time-of-day not reached yet
	StatusWaitingForDependencies               // Some dependency is not completed
	StatusRunning                              // Inside the attempt loop
	StatusCompleted                            // Finished successfully
	StatusFailed                               // Finished with error
)

var statusNames = [...]string{
	StatusPending:                "pending",
	StatusWaitingForTime:         "waiting_for_time",
	StatusWaitingForDependencies: "waiting_for_dependencies",
	StatusRunning:                "running",
	StatusCompleted:              "completed",
	StatusFailed:                 "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Waiting reports whether the job is blocked on one of its gates.
func (s Status) Waiting() bool {
	return s == StatusWaitingForTime || s == StatusWaitingForDependencies
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid job status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
