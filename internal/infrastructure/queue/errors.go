package queue

import "errors"

var (
	// ErrQueueNotRunning is returned when enqueueing into a stopped queue
	ErrQueueNotRunning = errors.New("queue is not running")

	// ErrQueueFull is returned when the in-memory buffer is saturated
	ErrQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when the queue configuration is invalid
	ErrInvalidConfig = errors.New("invalid queue configuration")

	// ErrUnknownJobType is returned for job types no executor handles
	ErrUnknownJobType = errors.New("unknown job type")
)
