package odm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvariant marks a programming error in model usage. It is never
	// retried.
	ErrInvariant = errors.New("thinkagain: invariant violation")

	// ErrModelExists is returned when a model name is registered twice.
	ErrModelExists = errors.New("thinkagain: model already exists")

	// ErrFieldInUse is returned when a join field is already used by another
	// join of the same model.
	ErrFieldInUse = errors.New("thinkagain: field already used by another relation")

	// ErrReservedField is returned when a join field name is reserved.
	ErrReservedField = errors.New("thinkagain: reserved field name")

	// ErrUnknownHook is returned when registering an unsupported hook.
	ErrUnknownHook = errors.New("thinkagain: unknown hook")

	// ErrUnknownEvent is returned when listening for an event a feed does not
	// emit.
	ErrUnknownEvent = errors.New("thinkagain: unknown event")

	// ErrFeedMode is returned when a feed is consumed in a second mode.
	ErrFeedMode = errors.New("thinkagain: feed already consumed in another mode")

	// ErrFeedBound is returned when binding a feed to a document that already
	// has an active one.
	ErrFeedBound = errors.New("thinkagain: document already bound to a feed")
)

// ValidationError is returned when a document fails its model's schema.
type ValidationError struct {
	Model      string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("thinkagain: document failed validation for model %s: %s",
		e.Model, strings.Join(e.Violations, "; "))
}

// DocumentNotFoundError is returned when a point lookup finds nothing.
type DocumentNotFoundError struct {
	Model string
	Key   any
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("thinkagain: document %v not found in %s", e.Key, e.Model)
}

// InvalidWriteError is returned when the engine refuses rows of a write.
type InvalidWriteError struct {
	Model  string
	Errors int
	First  string

	// Cause is the validation failure that triggered a revert, if any.
	Cause error

	// RevertErr is set when reverting a post-validated write failed too.
	RevertErr error
}

func (e *InvalidWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "thinkagain: invalid write on %s", e.Model)
	if e.Errors > 0 {
		fmt.Fprintf(&b, " (%d errors, first: %s)", e.Errors, e.First)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.RevertErr != nil {
		fmt.Fprintf(&b, "; revert also failed: %v", e.RevertErr)
	}
	return b.String()
}

func (e *InvalidWriteError) Unwrap() []error {
	var errs []error
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.RevertErr != nil {
		errs = append(errs, e.RevertErr)
	}
	return errs
}

// SetupError records a failed table, index or link table provisioning step.
// It is sticky: every later operation on the model returns it.
type SetupError struct {
	Model string
	Task  string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("thinkagain: setup of %s failed (%s): %v", e.Model, e.Task, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
