package resources

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrMissingProcessCount is returned when num_PEs is not defined for a task.
	ErrMissingProcessCount = errors.New("process count (num_PEs) is not defined")

	// ErrMissingWalltime is returned when walltime is not defined for a task.
	ErrMissingWalltime = errors.New("walltime is not defined")

	// ErrThreadingPolicyConflict is returned for contradictory threading flags.
	ErrThreadingPolicyConflict = errors.New("conflicting threading options")

	// ErrInvalidField is returned when a resource field has the wrong type or range.
	ErrInvalidField = errors.New("invalid resource field")

	// ErrUndefinedResources is returned when an enumerated task has no resource definition.
	ErrUndefinedResources = errors.New("resource definitions are undefined")

	// ErrInfeasibleRequest is returned when no placement can be computed at all.
	ErrInfeasibleRequest = errors.New("infeasible resource request")
)

// TaskError ties a resolution failure to the task it belongs to.
type TaskError struct {
	Task string
	Err  error
}

// Error implements error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

// Unwrap implements error unwrapping
func (e *TaskError) Unwrap() error {
	return e.Err
}

func taskError(task string, err error) error {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) && te.Task == task {
		return err
	}
	return &TaskError{Task: task, Err: err}
}

// listFormat renders aggregated errors one per line.
func listFormat(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(errs))
	for _, err := range errs {
		msg += "\n  * " + err.Error()
	}
	return msg
}

// flatten returns nil, the single error, or the whole list.
func flatten(result *multierror.Error) error {
	if result == nil || len(result.Errors) == 0 {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	result.ErrorFormat = listFormat
	return result
}
