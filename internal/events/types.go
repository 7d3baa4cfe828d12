package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	JobID() string
}

// Topic constants
const (
	TopicJob       = "job"
	TopicScheduler = "scheduler"
)

// Event type constants
const (
	EventTypeJobAdmitted     = "job.admitted"
	EventTypeJobWaiting      = "job.waiting"
	EventTypeAttemptStarted  = "job.attempt.started"
	EventTypeAttemptFailed   = "job.attempt.failed"
	EventTypeJobCompleted    = "job.completed"
	EventTypeJobFailed       = "job.failed"
	EventTypeSchedulerTicked = "scheduler.ticked"
)

// JobAdmittedEvent is published when a job moves from pending to running.
type JobAdmittedEvent struct {
	ID        string
	Task      string
	Timestamp time.Time
}

func (e JobAdmittedEvent) EventType() string { return EventTypeJobAdmitted }
func (e JobAdmittedEvent) JobID() string     { return e.ID }

// JobWaitingEvent is published when a job starts waiting on a gate.
// Reason is the waiting status name ("waiting_for_time" or "waiting_for_dependencies").
type JobWaitingEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e JobWaitingEvent) EventType() string { return EventTypeJobWaiting }
func (e JobWaitingEvent) JobID() string     { return e.ID }

// AttemptStartedEvent is published when a fresh execution of a job's task begins.
type AttemptStartedEvent struct {
	ID        string
	Attempt   int // 1-based
	Timestamp time.Time
}

func (e AttemptStartedEvent) EventType() string { return EventTypeAttemptStarted }
func (e AttemptStartedEvent) JobID() string     { return e.ID }

// AttemptFailedEvent is published when a single attempt ends in failure.
type AttemptFailedEvent struct {
	ID        string
	Attempt   int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e AttemptFailedEvent) EventType() string { return EventTypeAttemptFailed }
func (e AttemptFailedEvent) JobID() string     { return e.ID }

// JobCompletedEvent is published when a job reaches the completed collection.
type JobCompletedEvent struct {
	ID        string
	Attempts  int
	Timestamp time.Time
}

func (e JobCompletedEvent) EventType() string { return EventTypeJobCompleted }
func (e JobCompletedEvent) JobID() string     { return e.ID }

// JobFailedEvent is published when a job reaches the failed collection.
type JobFailedEvent struct {
	ID        string
	Attempts  int
	Err       error
	Timestamp time.Time
}

func (e JobFailedEvent) EventType() string { return EventTypeJobFailed }
func (e JobFailedEvent) JobID() string     { return e.ID }

// ProgressEvent is published once at the end of every scheduler tick.
type ProgressEvent struct {
	Tick      int
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeSchedulerTicked }
func (e ProgressEvent) JobID() string     { return "" }
