/*
errors.go - Centralized error types for the allocation core

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels and errors.As against the structured types.

ERROR CATEGORIES:
  1. Validation - payload breaks a record invariant (400)
  2. Conflict   - employee overlap, carries the conflicting record (409)
  3. Transfer   - the atomic truncate+create failed, nothing applied
  4. Not found  - unknown allocation or directory entry (404)

SEE ALSO:
  - validate.go: Produces ValidationError
  - conflict.go: Produces ConflictError
  - service.go:  Produces TransferError
  - api/handlers.go: Maps these to HTTP responses
*/
package allocation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced allocation doesn't exist.
	ErrNotFound = errors.New("allocation not found")

	// ErrValidation is the parent of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when an active employee allocation would overlap
	// another active allocation of the same employee.
	ErrConflict = errors.New("employee allocation conflict")

	// ErrTransferFailed is the parent of every TransferError.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrUnknownReference is returned when a foreign key points nowhere.
	ErrUnknownReference = errors.New("unknown reference")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictDetails describes the allocation that blocks a write.
type ConflictDetails struct {
	ID           ID
	WorkSiteID   string
	WorkSiteName string
	Start        Date
	End          *Date
}

// ConflictError is the employee-overlap rejection. Field is always "employee".
type ConflictError struct {
	Field       string
	EmployeeID  string
	Conflicting ConflictDetails
}

func (e *ConflictError) Error() string {
	site := e.Conflicting.WorkSiteName
	if site == "" {
		site = e.Conflicting.WorkSiteID
	}
	return fmt.Sprintf("employee %s is already allocated to %s during %s (allocation %s)",
		e.EmployeeID, site, Span{Start: e.Conflicting.Start, End: e.Conflicting.End}, e.Conflicting.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransferError wraps whatever made a transfer fail. It deliberately does not
// unwrap to ErrConflict even when the cause is a fresh conflict: callers must
// restart from the original action, not retry the stale snapshot.
type TransferError struct {
	ConflictingID ID
	Reason        string
	Cause         error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("transfer from allocation %s failed: %s", e.ConflictingID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error { return ErrTransferFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnknownReference)
}

// AsConflict is errors.As for the conflict type.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
