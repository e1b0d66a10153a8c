package sched

import (
	"errors"
	"fmt"
)

// ErrScheduleBusy is returned when a caller gives up waiting for a
// project's schedule lock.
var ErrScheduleBusy = errors.New("schedule run already in progress for project")

// CyclicDependencyError reports a dependency that closes a cycle. The run
// writes nothing when this is returned.
type CyclicDependencyError struct {
	DependencyID string
}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected via dependency %s", e.DependencyID)
}

// OrphanDependencyError reports a dependency referencing a task that does
// not exist in the project.
type OrphanDependencyError struct {
	DependencyID string
	TaskID       string
}

func (e OrphanDependencyError) Error() string {
	return fmt.Sprintf("dependency %s references missing task %s", e.DependencyID, e.TaskID)
}

// InvalidDurationError reports a task whose source data implies a negative
// duration. The scheduler fails fast rather than clamping.
type InvalidDurationError struct {
	TaskID   string
	Duration int
}

func (e InvalidDurationError) Error() string {
	return fmt.Sprintf("task %s has invalid duration %d", e.TaskID, e.Duration)
}

// NegativeFloatError reports a task whose late start precedes its early
// start, which indicates inconsistent constraints in the source data.
type NegativeFloatError struct {
	TaskID string
	Float  int
}

func (e NegativeFloatError) Error() string {
	return fmt.Sprintf("task %s has negative total float %d", e.TaskID, e.Float)
}
