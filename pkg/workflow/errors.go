package workflow

import "errors"

var (
	// ErrStepNotFound is returned when resume_from_step names no step of the workflow.
	ErrStepNotFound = errors.New("step not found in workflow")

	// ErrMaxDepthExceeded is returned when sub-workflows nest deeper than allowed.
	ErrMaxDepthExceeded = errors.New("maximum sub-workflow depth exceeded")

	// ErrCycleDetected is returned when a workflow invokes itself through its sub-workflows.
	ErrCycleDetected = errors.New("sub-workflow cycle detected")

	// ErrWrongOrg is returned when a sub-workflow belongs to another organization.
	ErrWrongOrg = errors.New("workflow belongs to another organization")
)
