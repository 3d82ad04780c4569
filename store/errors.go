package store

import "errors"

var (
	// ErrJobNotFound is returned when no job exists for a key.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a mutation targets a job that
	// already reached a terminal status.
	ErrJobTerminal = errors.New("job is terminal")
)
