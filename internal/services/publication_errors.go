package services

import "errors"

// Terminal publication failures. A task that hits one of these can never
// succeed on retry, so the worker reports them as non-retryable.
var (
	// ErrTargetGone marks a task whose edition or build disappeared or
	// was deprecated after the task was enqueued.
	ErrTargetGone = errors.New("publication target gone")

	// ErrSlugTaken marks a rename whose destination slug was claimed by
	// another edition between the request and the task run.
	ErrSlugTaken = errors.New("edition slug already taken")
)
