package mpm

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrConfiguration indicates invalid construction parameters.
	ErrConfiguration = errors.New("mpm: invalid configuration")

	// ErrShapeMismatch indicates per-particle arrays whose length does not
	// match the particle count.
	ErrShapeMismatch = errors.New("mpm: shape mismatch")

	// ErrDomain indicates a grid cell queried outside the grid extent.
	ErrDomain = errors.New("mpm: cell outside grid domain")

	// ErrDiverged indicates a step produced a non-finite position, a
	// non-positive deformation gradient determinant, or left the grid.
	ErrDiverged = errors.New("mpm: simulation diverged")
)

// DomainError reports the offending cell of a boundary query.
type DomainError struct {
	Cell       [3]int
	Resolution int
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v: cell %v not in [0,%d)^3", ErrDomain, e.Cell, e.Resolution)
}

func (e *DomainError) Unwrap() error {
	return ErrDomain
}

// DivergedError wraps ErrDiverged with the step and particle that failed.
type DivergedError struct {
	Step     int
	Particle int
	Reason   string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("%v: step %d particle %d: %s", ErrDiverged, e.Step, e.Particle, e.Reason)
}

func (e *DivergedError) Unwrap() error {
	return ErrDiverged
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func shapeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}
