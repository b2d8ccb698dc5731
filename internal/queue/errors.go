package queue

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once a
	// closed queue is drained.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned by a bounded queue that cannot take another item
	ErrQueueFull = errors.New("queue is full")

	// ErrItemNotFound is returned when a dead-letter id is unknown
	ErrItemNotFound = errors.New("dead letter item not found")

	// ErrMaxRetriesExceeded wraps the last error of a batch that was moved to the DLQ
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	ErrUnknownBackend = errors.New("unknown queue backend")
)
