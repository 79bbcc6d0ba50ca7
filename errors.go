package patann

import (
	"errors"
	"fmt"

	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/builder"
	"github.com/mesibo/patann/internal/fs"
	"github.com/mesibo/patann/internal/pattern"
	"github.com/mesibo/patann/internal/persist"
	"github.com/mesibo/patann/internal/store"
	"github.com/mesibo/patann/internal/vlog"
)

var (
	// ErrDimensionMismatch is returned when a vector length differs from the
	// index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNotFound is returned for unknown vector ids.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a vector id is indexed twice or a
	// restore target already holds an index.
	ErrAlreadyExists = errors.New("already exists")
	// ErrIndexNotReady is returned when a query cannot be served yet.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrIndexNotConfigured is returned when a session is created on an
	// index that is destroyed or incompletely configured.
	ErrIndexNotConfigured = errors.New("index not configured")
	// ErrTimeout is returned when waiting for readiness exceeds its bound.
	ErrTimeout = errors.New("timeout")
	// ErrStorageFailure wraps on-disk I/O errors.
	ErrStorageFailure = errors.New("storage failure")
	// ErrInvalidConfiguration is returned for out-of-range parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIndexDestroyed is returned by calls on a destroyed index or on
	// sessions of a destroyed index.
	ErrIndexDestroyed = errors.New("index destroyed")
	// ErrSessionClosed is returned by calls on a destroyed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBusy is returned when a session already has a query in
	// flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrNoListener is returned by QueryAsync on a session without a
	// listener.
	ErrNoListener = errors.New("no query listener")
)

// DimensionMismatchError reports the expected and actual vector length.
// It matches ErrDimensionMismatch with errors.Is.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

func checkDim(expected, actual int) error {
	if expected != actual {
		return &DimensionMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// translateError maps errors of the internal packages onto the public
// sentinels, keeping the original in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrStorageFailure),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrIndexDestroyed):
		return err

	case errors.Is(err, store.ErrDimensionMismatch),
		errors.Is(err, pattern.ErrDimensionMismatch),
		errors.Is(err, vlog.ErrDimension),
		errors.Is(err, distance.ErrDimensionMismatch):
		return fmt.Errorf("%w: %w", ErrDimensionMismatch, err)

	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, pattern.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)

	case errors.Is(err, builder.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)

	case errors.Is(err, builder.ErrClosed),
		errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%w: %w", ErrIndexDestroyed, err)

	case errors.Is(err, distance.ErrUnknownMetric),
		errors.Is(err, persist.ErrInvalidName),
		errors.Is(err, persist.ErrUnknownCompression):
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)

	case errors.Is(err, store.ErrStorage),
		errors.Is(err, vlog.ErrCorrupt),
		errors.Is(err, persist.ErrCorrupt),
		errors.Is(err, fs.ErrInjected):
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return err
}
