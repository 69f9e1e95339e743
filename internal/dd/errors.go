package dd

import "errors"

var (
	// ErrUnknownCondition is returned when a condition id has no table entry.
	ErrUnknownCondition = errors.New("dd: unknown condition")

	// ErrNilNode is returned when a signal maps to a nil diagram.
	ErrNilNode = errors.New("dd: nil diagram")

	// ErrInvalidCondition is returned for internal nodes branching on id 0.
	ErrInvalidCondition = errors.New("dd: invalid condition id")
)
