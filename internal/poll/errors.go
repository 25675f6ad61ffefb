package poll

import "errors"

// All store errors are recoverable, local conditions. Callers match with
// errors.Is and usually drop the offending action.
var (
	// ErrCapacityExceeded is returned when the roster is at MaxStudents.
	ErrCapacityExceeded = errors.New("maximum number of students reached")

	// ErrUnknownStudent is returned when a connection id has no roster entry.
	ErrUnknownStudent = errors.New("student not found")

	// ErrNoActiveQuestion is returned when an answer arrives with no question set.
	ErrNoActiveQuestion = errors.New("no active question")

	// ErrAlreadyAnswered is returned when a student re-answers and late
	// submissions are disabled.
	ErrAlreadyAnswered = errors.New("student has already answered")

	// ErrNotFound is returned when removing a student that does not exist.
	ErrNotFound = errors.New("not found")
)
