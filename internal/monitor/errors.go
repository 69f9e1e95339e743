package monitor

import "errors"

var (
	// ErrConfig is returned by New when the model cannot be monitored: the
	// pre- and post-state signal sets differ, delta is invalid, or a
	// continuous pre-state is not a single affine leaf.
	ErrConfig = errors.New("monitor: configuration error")

	// ErrModelLookup is returned by New when a path condition has no entry in
	// the condition table.
	ErrModelLookup = errors.New("monitor: condition lookup failed")

	// ErrMissingSignal is returned by Evaluate when the transition lacks a
	// monitored continuous signal.
	ErrMissingSignal = errors.New("monitor: missing signal")

	// ErrInvalidObservation is returned by Evaluate for NaN or infinite
	// measurements.
	ErrInvalidObservation = errors.New("monitor: invalid observation")
)
