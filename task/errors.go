package task

import "errors"

var (
	// ErrTooManyFiles is returned when a task's fixed-size file table is full.
	ErrTooManyFiles = errors.New("task: too many open files")
	// ErrBadFD is returned for a file descriptor outside the open range
	// or one of the two reserved descriptors.
	ErrBadFD = errors.New("task: bad file descriptor")
)
