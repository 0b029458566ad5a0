package pipeline

import "errors"

var (
	// ErrDecode is returned when a payload is not valid JSON or lacks a
	// required field. The message is dropped.
	ErrDecode = errors.New("pipeline: decode failed")

	// ErrQueueFull is returned by Dispatch when the device's worker queue
	// has no room. The message is dropped.
	ErrQueueFull = errors.New("pipeline: queue full")

	// ErrDispatcherStopped is returned by Dispatch after Stop.
	ErrDispatcherStopped = errors.New("pipeline: dispatcher stopped")

	// ErrDrainTimeout is returned by Stop when queued work did not finish
	// in time. In-flight handlers are cancelled.
	ErrDrainTimeout = errors.New("pipeline: drain timeout")
)
