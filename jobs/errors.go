package jobs

import (
	"fmt"

	"vod-archiver/segments"
)

// RetryLaterError stops the current attempt; the scheduler runs the job
// again once the retry delay has passed.
type RetryLaterError struct {
	Reason string
}

func (e *RetryLaterError) Error() string {
	return "retry later: " + e.Reason
}

func RetryLater(format string, args ...any) error {
	return &RetryLaterError{Reason: fmt.Sprintf(format, args...)}
}

// DeadError marks a job that can never succeed, e.g. the remote video was deleted.
type DeadError struct {
	Reason string
}

func (e *DeadError) Error() string {
	return "dead: " + e.Reason
}

func Dead(format string, args ...any) error {
	return &DeadError{Reason: fmt.Sprintf(format, args...)}
}

// TransientNetworkError is retried inside the segment downloader and only
// escapes a job when its context ends.
type TransientNetworkError = segments.TransientError
