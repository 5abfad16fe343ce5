package referral

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrCodeExhausted = errors.New("could not allocate a unique referral code")

// ValidationError reports a request the engine refuses to run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StoreError wraps an I/O failure from the user directory or stats store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// PropagationError lists the ancestors whose recompute failed during a single
// upline propagation. The remaining ancestors were still attempted.
type PropagationError struct {
	UserID string
	Failed map[string]error
}

func (e *PropagationError) Error() string {
	ids := e.FailedIDs()
	return fmt.Sprintf("propagation for %s: %d ancestor(s) failed: %s", e.UserID, len(ids), strings.Join(ids, ", "))
}

// FailedIDs returns the failed ancestor IDs in sorted order.
func (e *PropagationError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *PropagationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
