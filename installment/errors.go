/*
errors.go - Centralized error types for the installment engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - input rejected before any store write
  2. Store write errors - a batch insert failed; carries the failing step
  3. Partial submission errors - a later batch failed after earlier
     batches committed; carries what was already written

PARTIAL FAILURES:
  The three batches of a submission (sale, references, installments) are
  independent writes. Nothing is compensated when a later one fails:
  PartialSubmissionError reports the orphaned sale and reference ids so
  the caller can clean up or retry.

SEE ALSO:
  - allocation.go: Produces these errors
  - api/handlers.go: Maps them onto HTTP status codes
*/
package installment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrStoreWrite is matched by every *StoreWriteError.
	ErrStoreWrite = errors.New("store write failed")

	// ErrPartialSubmission is matched by every *PartialSubmissionError.
	ErrPartialSubmission = errors.New("partial submission")

	// ErrNegativeAmount is returned when splitting a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidSchedule is returned for a non-positive duration or a
	// withdrawal day outside 1..31.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrSaleNotFound is returned by readers when a sale id is unknown.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrDuplicateCode is returned by stores when a reference code is taken.
	ErrDuplicateCode = errors.New("duplicate reference code")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Step identifies one of the three store writes of a submission.
type Step string

const (
	StepSale         Step = "sale"
	StepReferences   Step = "references"
	StepInstallments Step = "installments"
)

// ValidationError reports a missing or out-of-domain input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StoreWriteError reports a failed batch insert.
type StoreWriteError struct {
	Step Step
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed at %s step: %v", e.Step, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

func (e *StoreWriteError) Is(target error) bool { return target == ErrStoreWrite }

// PartialSubmissionError reports a write failure after the sale (and
// possibly its references) were already committed.
type PartialSubmissionError struct {
	Step         Step
	SaleID       SaleID
	ReferenceIDs []ReferenceID
	Err          error
}

func (e *PartialSubmissionError) Error() string {
	return fmt.Sprintf("partial submission: sale %d committed, %s step failed: %v",
		e.SaleID, e.Step, e.Err)
}

func (e *PartialSubmissionError) Unwrap() error { return e.Err }

func (e *PartialSubmissionError) Is(target error) bool { return target == ErrPartialSubmission }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsPartial returns true if the error left committed rows behind.
func IsPartial(err error) bool {
	return errors.Is(err, ErrPartialSubmission)
}

// FailedStep returns the step a store error originated from, if any.
func FailedStep(err error) (Step, bool) {
	var partial *PartialSubmissionError
	if errors.As(err, &partial) {
		return partial.Step, true
	}
	var write *StoreWriteError
	if errors.As(err, &write) {
		return write.Step, true
	}
	return "", false
}
